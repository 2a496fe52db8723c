package group

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/winstay/settlement/internal/config"
	"github.com/winstay/settlement/internal/escrow"
	"github.com/winstay/settlement/internal/models"
	"github.com/winstay/settlement/internal/queue"
	"github.com/winstay/settlement/internal/ticket"
)

// errAwaitingDeposit fails the attempt so the job backs off and re-checks;
// it carries no operator-visible problem.
var errAwaitingDeposit = errors.New("group: deposit not yet paid")

// pipelineData is the job payload. The ticket ref lives here between the
// create and the persist stage so a crash in between does not open a second
// ticket.
type pipelineData struct {
	RequestID string `json:"requestId"`
	TicketID  string `json:"ticketId,omitempty"`
	TicketKey string `json:"ticketKey,omitempty"`
}

// HandlePipeline advances a group request as far as it can in one attempt.
// Every stage transition is persisted before the next stage runs, so a
// retried attempt resumes where the previous one stopped.
func (s *Service) HandlePipeline(ctx context.Context, job *queue.Job) error {
	var data pipelineData
	if err := job.Bind(&data); err != nil {
		return fmt.Errorf("decode group job: %w", err)
	}

	req, err := s.requests.GetGroupRequest(ctx, data.RequestID)
	if err != nil {
		return fmt.Errorf("load group request %s: %w", data.RequestID, err)
	}

	for req.Status != models.GroupComplete {
		next, err := s.advance(ctx, job, &data, req)
		if err != nil {
			return err
		}
		req.Status = next
	}
	s.log.Info("group request complete", zap.String("request", req.RequestID))
	return nil
}

func (s *Service) advance(ctx context.Context, job *queue.Job, data *pipelineData, req *models.GroupRequest) (models.GroupStatus, error) {
	switch req.Status {
	case models.GroupPending, models.GroupDealError:
		return s.awaitDeposit(ctx, req)

	case models.GroupDepositPaid:
		if err := s.requests.UpdateGroupStatus(ctx, req.RequestID, models.GroupStored); err != nil {
			return "", fmt.Errorf("store group request: %w", err)
		}
		return models.GroupStored, nil

	case models.GroupStored:
		// A ref already on the payload means a previous attempt opened the
		// ticket but died before the status persist; reuse it.
		if data.TicketID == "" {
			ref, err := s.openTicket(ctx, req)
			if err != nil {
				return "", fmt.Errorf("create fulfillment ticket: %w", err)
			}
			data.TicketID, data.TicketKey = ref.ID, ref.Key
			if err := job.Update(ctx, data); err != nil {
				return "", fmt.Errorf("persist ticket ref on job: %w", err)
			}
		}
		if err := s.requests.UpdateGroupStatus(ctx, req.RequestID, models.GroupTicketCreated); err != nil {
			return "", fmt.Errorf("mark ticket created: %w", err)
		}
		return models.GroupTicketCreated, nil

	case models.GroupTicketCreated:
		if err := s.requests.UpdateGroupTicket(ctx, req.RequestID, models.GroupTicketStored, data.TicketKey); err != nil {
			return "", fmt.Errorf("persist ticket ref: %w", err)
		}
		req.TicketRef = data.TicketKey
		return models.GroupTicketStored, nil

	case models.GroupTicketStored:
		if err := s.sendConfirmation(ctx, req); err != nil {
			return "", fmt.Errorf("send group confirmation: %w", err)
		}
		if err := s.requests.UpdateGroupStatus(ctx, req.RequestID, models.GroupEmailSent); err != nil {
			return "", fmt.Errorf("mark email sent: %w", err)
		}
		return models.GroupEmailSent, nil

	case models.GroupEmailSent:
		if err := s.requests.UpdateGroupStatus(ctx, req.RequestID, models.GroupComplete); err != nil {
			return "", fmt.Errorf("mark complete: %w", err)
		}
		return models.GroupComplete, nil

	default:
		return "", fmt.Errorf("group: request %s in unknown status %q", req.RequestID, req.Status)
	}
}

// awaitDeposit scans every configured network for the request's escrow. An
// invalid payment is persisted as dealError with the reason before the
// attempt fails, so the record is never silently lost; a later attempt
// re-validates, which recovers payments that were topped up in the meantime.
func (s *Service) awaitDeposit(ctx context.Context, req *models.GroupRequest) (models.GroupStatus, error) {
	serviceID := common.HexToHash(req.ServiceID)
	var firstErr error
	for i := range s.cfg.Networks {
		network := s.cfg.Networks[i]
		rec, err := s.reader.ReadEscrow(ctx, network, serviceID)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("read escrow on %s: %w", network.Name, err)
			}
			continue
		}
		if rec.State != escrow.StatePaid {
			continue
		}
		return s.settleDeposit(ctx, req, &network, rec)
	}
	if firstErr != nil {
		return "", firstErr
	}
	return "", errAwaitingDeposit
}

func (s *Service) settleDeposit(ctx context.Context, req *models.GroupRequest, network *config.Network, rec escrow.Record) (models.GroupStatus, error) {
	owners, err := s.reader.ResolveOwners(ctx, *network, rec.Customer)
	if err != nil {
		return "", fmt.Errorf("resolve owners on %s: %w", network.Name, err)
	}
	addresses := make([]string, 0, len(owners))
	for _, owner := range owners {
		addresses = append(addresses, owner.Hex())
	}

	var quote *escrow.Price
	if req.Deposit.USD != "" {
		quote = &escrow.Price{Amount: req.Deposit.USD, Currency: "USD"}
	}
	currency, err := escrow.Validate(rec, network.Assets, req.Deposit.OfferCurrency, quote)
	if err != nil {
		var ve *escrow.ValidationError
		if errors.As(err, &ve) {
			if uerr := s.requests.UpdateGroupBlockchainInfo(ctx, req.RequestID, models.GroupDealError, network, &rec, addresses, "", ve.Error()); uerr != nil {
				return "", fmt.Errorf("persist deal error: %w", uerr)
			}
			req.Status = models.GroupDealError
			s.log.Warn("group deposit invalid",
				zap.String("request", req.RequestID),
				zap.String("network", network.Name),
				zap.String("reason", string(ve.Reason)),
			)
			return "", err
		}
		return "", err
	}

	if err := s.requests.UpdateGroupBlockchainInfo(ctx, req.RequestID, models.GroupDepositPaid, network, &rec, addresses, currency, ""); err != nil {
		return "", fmt.Errorf("persist deposit: %w", err)
	}
	req.Network = network
	req.Escrow = &rec
	req.UserAddresses = addresses
	req.PaymentCurrency = currency
	s.log.Info("group deposit received",
		zap.String("request", req.RequestID),
		zap.String("network", network.Name),
		zap.String("currency", currency),
	)
	return models.GroupDepositPaid, nil
}

func (s *Service) openTicket(ctx context.Context, req *models.GroupRequest) (ticket.Ref, error) {
	hotel := req.Rooms[0].Offer.Accommodation
	rooms := make([]map[string]any, 0, len(req.Rooms))
	for _, room := range req.Rooms {
		rooms = append(rooms, map[string]any{
			"offerId":  room.Offer.ID,
			"quantity": room.Quantity,
			"price":    room.Offer.Price,
		})
	}
	networkName := ""
	if req.Network != nil {
		networkName = req.Network.Name
	}
	return s.tickets.CreateTicket(ctx, ticket.Issue{
		Summary: fmt.Sprintf("Group booking %s at %s", req.RequestID, hotel.Name),
		Description: fmt.Sprintf("Deposit %s %s received for %d rooms, %d guests. Contact %s %s <%s>.",
			req.Deposit.OfferCurrency.Amount, req.Deposit.OfferCurrency.Currency,
			len(req.Rooms), req.GuestCount,
			req.Contact.FirstName, req.Contact.LastName, req.Contact.Email),
		Fields: map[string]any{
			"requestId": req.RequestID,
			"serviceId": req.ServiceID,
			"hotelId":   hotel.HotelID,
			"network":   networkName,
			"arrival":   req.Rooms[0].Offer.Arrival,
			"departure": req.Rooms[0].Offer.Departure,
			"rooms":     rooms,
		},
	})
}

func (s *Service) sendConfirmation(ctx context.Context, req *models.GroupRequest) error {
	name := fmt.Sprintf("%s %s", req.Contact.FirstName, req.Contact.LastName)
	return s.mailer.Send(ctx, s.cfg.Mail.GroupTemplateID, req.Contact.Email, name, map[string]any{
		"requestId": req.RequestID,
		"hotelName": req.Rooms[0].Offer.Accommodation.Name,
		"deposit":   req.Deposit.OfferCurrency.Amount,
		"currency":  req.Deposit.OfferCurrency.Currency,
		"ticketRef": req.TicketRef,
		"arrival":   req.Rooms[0].Offer.Arrival,
		"departure": req.Rooms[0].Offer.Departure,
	})
}

// HandleExhausted runs when a pipeline job burns its whole attempt budget.
// A request still pending simply never got paid; one stuck after a deal
// error needs an operator.
func (s *Service) HandleExhausted(ctx context.Context, job *queue.Job) {
	var data pipelineData
	if err := job.Bind(&data); err != nil {
		s.log.Error("exhausted group job with undecodable payload", zap.Error(err))
		return
	}
	req, err := s.requests.GetGroupRequest(ctx, data.RequestID)
	if err != nil {
		s.log.Error("exhausted group job for unloadable request",
			zap.String("request", data.RequestID), zap.Error(err))
		return
	}
	switch req.Status {
	case models.GroupPending:
		s.log.Info("group request expired without payment",
			zap.String("request", req.RequestID))
	case models.GroupDealError:
		s.log.Error("group request abandoned after invalid deposit, operator attention required",
			zap.String("request", req.RequestID),
			zap.String("error", req.ErrorMessage),
		)
	default:
		s.log.Error("group pipeline stalled mid-stage",
			zap.String("request", req.RequestID),
			zap.String("status", string(req.Status)),
		)
	}
}
