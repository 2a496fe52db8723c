package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/winstay/settlement/internal/models"
	"github.com/winstay/settlement/internal/queue"
)

// HandleDealJob advances a paid deal towards a confirmed reservation. The
// handler is status-check-first: every run asks the provider for the current
// reservation state before deciding whether a create attempt is needed, so a
// reservation created by a crashed run is picked up instead of duplicated.
// Transient failures are not counted against a retry budget; the job simply
// reschedules itself on the payment-age cadence.
func (s *Service) HandleDealJob(ctx context.Context, job *queue.Job) error {
	var data watchData
	if err := job.Bind(&data); err != nil {
		return fmt.Errorf("decode deal job: %w", err)
	}

	deal, err := s.deals.GetDeal(ctx, data.OfferID)
	if err != nil {
		if isNotFound(err) {
			s.log.Warn("deal job for unknown deal, dropping", zap.String("offer", data.OfferID))
			return nil
		}
		return fmt.Errorf("load deal %s: %w", data.OfferID, err)
	}
	if deal.Status.Terminal() {
		s.log.Info("deal already settled",
			zap.String("offer", deal.OfferID),
			zap.String("status", string(deal.Status)))
		return nil
	}
	if deal.Offer.Expired(time.Now()) {
		s.log.Info("deal offer expired before reservation, dropping",
			zap.String("offer", deal.OfferID))
		return nil
	}

	done, err := s.settleDeal(ctx, deal, data.Passengers)
	if err != nil {
		s.log.Warn("deal attempt failed",
			zap.String("offer", deal.OfferID),
			zap.Error(err))
	}
	if done {
		return nil
	}
	job.Reschedule(RetryDelay(time.Since(job.EnqueuedAt)))
	return nil
}

// settleDeal performs one reservation attempt. It returns done=true when the
// deal reached a terminal state and no further runs are needed.
func (s *Service) settleDeal(ctx context.Context, deal *models.Deal, passengers map[string]models.Passenger) (bool, error) {
	res, err := s.provider.GetReservationStatus(ctx, deal.OfferID)
	switch {
	case err == nil:
		return s.applyReservation(ctx, deal, res)
	case errors.Is(err, ErrOrderNotFound):
		return s.book(ctx, deal, passengers)
	default:
		return false, fmt.Errorf("reservation status: %w", err)
	}
}

func (s *Service) applyReservation(ctx context.Context, deal *models.Deal, res *Reservation) (bool, error) {
	switch res.Status {
	case ReservationConfirmed:
		return true, s.markBooked(ctx, deal, res)
	case ReservationCreationFailed:
		if err := s.deals.UpdateDealStatus(ctx, deal.OfferID, models.DealCreationFailed, "provider reported creation failure"); err != nil {
			return false, fmt.Errorf("record creation failure: %w", err)
		}
		s.log.Error("reservation creation failed at provider",
			zap.String("offer", deal.OfferID),
			zap.String("order", res.OrderID))
		return true, nil
	case ReservationCancelled:
		if err := s.deals.UpdateDealStatus(ctx, deal.OfferID, models.DealCancelled, "reservation cancelled at provider"); err != nil {
			return false, fmt.Errorf("record cancellation: %w", err)
		}
		s.log.Warn("reservation cancelled at provider", zap.String("offer", deal.OfferID))
		return true, nil
	default:
		// In-flight at the provider. Keep checking.
		s.log.Info("reservation still pending at provider",
			zap.String("offer", deal.OfferID),
			zap.String("provider_status", res.Status))
		return false, nil
	}
}

// book creates the guarantee and the reservation. Failures leave the deal in
// a non-terminal paymentError state so the next run retries from the status
// check.
func (s *Service) book(ctx context.Context, deal *models.Deal, passengers map[string]models.Passenger) (bool, error) {
	if err := s.deals.UpdateDealStatus(ctx, deal.OfferID, models.DealPending, ""); err != nil {
		return false, fmt.Errorf("mark deal pending: %w", err)
	}

	guaranteeID, err := s.provider.CreateGuarantee(ctx, deal.Offer.Price.Amount, deal.Offer.Price.Currency)
	if err != nil {
		if uerr := s.deals.UpdateDealStatus(ctx, deal.OfferID, models.DealPaymentError, err.Error()); uerr != nil {
			s.log.Error("failed to record guarantee error", zap.String("offer", deal.OfferID), zap.Error(uerr))
		}
		return false, fmt.Errorf("create guarantee: %w", err)
	}

	res, err := s.provider.CreateReservation(ctx, deal.OfferID, guaranteeID, passengers)
	if err != nil {
		if uerr := s.deals.UpdateDealStatus(ctx, deal.OfferID, models.DealPaymentError, err.Error()); uerr != nil {
			s.log.Error("failed to record reservation error", zap.String("offer", deal.OfferID), zap.Error(uerr))
		}
		return false, fmt.Errorf("create reservation: %w", err)
	}

	return s.applyReservation(ctx, deal, res)
}

func (s *Service) markBooked(ctx context.Context, deal *models.Deal, res *Reservation) error {
	email := deal.ContactEmail
	if err := s.deals.UpdateDealBooking(ctx, deal.OfferID, res.OrderID, res.SupplierReservationID, email); err != nil {
		return fmt.Errorf("record booking: %w", err)
	}
	s.log.Info("reservation confirmed",
		zap.String("offer", deal.OfferID),
		zap.String("order", res.OrderID),
		zap.String("supplier_reservation", res.SupplierReservationID))

	if email == "" {
		return nil
	}
	err := s.mailer.Send(ctx, s.cfg.Mail.BookingTemplateID, email, "", map[string]any{
		"offerId":               deal.OfferID,
		"orderId":               res.OrderID,
		"supplierReservationId": res.SupplierReservationID,
		"hotelName":             deal.Offer.Accommodation.Name,
		"arrival":               deal.Offer.Arrival,
		"departure":             deal.Offer.Departure,
	})
	if err != nil {
		// The reservation stands either way.
		s.log.Warn("confirmation email failed",
			zap.String("offer", deal.OfferID),
			zap.Error(err))
	}
	return nil
}
