// Package booking watches offers for escrow payment and drives the hotel
// reservation that a confirmed payment entitles the customer to.
package booking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/winstay/settlement/internal/config"
	"github.com/winstay/settlement/internal/escrow"
	"github.com/winstay/settlement/internal/models"
	"github.com/winstay/settlement/internal/queue"
	"github.com/winstay/settlement/internal/repository"
)

// Queue names. The keep-alive queue guarantees a poller is registered for
// every watched offer; the deal queue drives reservation retries.
const (
	QueueKeepAlive = "contract"
	QueueDeal      = "deal"
)

const keepAliveInterval = time.Minute

// ErrOfferExpired stops any further polling or booking for an offer.
var ErrOfferExpired = errors.New("booking: offer expired")

// EscrowReader reads settlement contract state on one network.
type EscrowReader interface {
	ReadEscrow(ctx context.Context, network config.Network, serviceID common.Hash) (escrow.Record, error)
	ResolveOwners(ctx context.Context, network config.Network, customer common.Address) ([]common.Address, error)
}

type OfferStore interface {
	GetOffer(ctx context.Context, id string) (*models.Offer, error)
}

type DealStore interface {
	CreateDeal(ctx context.Context, deal *models.Deal) error
	GetDeal(ctx context.Context, offerID string) (*models.Deal, error)
	UpdateDealStatus(ctx context.Context, offerID string, status models.DealStatus, message string) error
	UpdateDealBooking(ctx context.Context, offerID, orderID, supplierReservationID, contactEmail string) error
}

type Provider interface {
	CreateGuarantee(ctx context.Context, amount, currency string) (string, error)
	CreateReservation(ctx context.Context, offerID, guaranteeID string, passengers map[string]models.Passenger) (*Reservation, error)
	GetReservationStatus(ctx context.Context, offerID string) (*Reservation, error)
}

type Mailer interface {
	Send(ctx context.Context, templateID, recipient, recipientName string, data map[string]any) error
}

// Service owns the single-offer pollers and the deal job handlers.
type Service struct {
	cfg      *config.Config
	reader   EscrowReader
	offers   OfferStore
	deals    DealStore
	provider Provider
	mailer   Mailer
	jobs     *queue.Client
	log      *zap.Logger

	pollers *pollerRegistry
}

func NewService(
	cfg *config.Config,
	reader EscrowReader,
	offers OfferStore,
	deals DealStore,
	provider Provider,
	mailer Mailer,
	jobs *queue.Client,
	log *zap.Logger,
) *Service {
	return &Service{
		cfg:      cfg,
		reader:   reader,
		offers:   offers,
		deals:    deals,
		provider: provider,
		mailer:   mailer,
		jobs:     jobs,
		log:      log,
		pollers:  newPollerRegistry(),
	}
}

// watchData is the payload of keep-alive and deal jobs.
type watchData struct {
	OfferID    string                      `json:"offerId"`
	Passengers map[string]models.Passenger `json:"passengers"`
}

// WatchOffer starts payment polling for an offer. It is the entry point the
// booking API calls once guests are attached to an offer; it returns the
// offer's expiration so the caller knows how long the payment window is.
func (s *Service) WatchOffer(ctx context.Context, offerID string, passengers []models.Passenger) (time.Time, error) {
	offer, err := s.offers.GetOffer(ctx, offerID)
	if err != nil {
		return time.Time{}, err
	}
	if offer.Expired(time.Now()) {
		return time.Time{}, ErrOfferExpired
	}

	paxMap := make(map[string]models.Passenger, len(passengers))
	for i, p := range passengers {
		paxMap[fmt.Sprintf("PAX%d", i+1)] = p
	}

	err = s.jobs.Enqueue(ctx, QueueKeepAlive, offerID, watchData{
		OfferID:    offerID,
		Passengers: paxMap,
	}, queue.Options{})
	if err != nil {
		return time.Time{}, fmt.Errorf("register keep-alive for %s: %w", offerID, err)
	}

	s.StartPolling(ctx, offer, paxMap)
	return offer.Expiration, nil
}

// HandleKeepAlive is the keep-alive queue handler. It resurrects the poller
// for its offer if none is running (startup after a crash), reschedules
// itself while the offer is still open, and lets the job drop once the offer
// is settled or expired.
func (s *Service) HandleKeepAlive(ctx context.Context, job *queue.Job) error {
	var data watchData
	if err := job.Bind(&data); err != nil {
		s.log.Error("keep-alive: bad payload", zap.String("key", job.Key), zap.Error(err))
		return nil
	}

	offer, err := s.offers.GetOffer(ctx, data.OfferID)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return err
	}
	if offer.Expired(time.Now()) {
		return nil
	}

	if deal, err := s.deals.GetDeal(ctx, data.OfferID); err == nil {
		// Payment already detected; the deal job owns the rest. A crash
		// between creating the deal and scheduling its job would strand
		// the deal, so re-enqueue here; Enqueue is a no-op when the job
		// already exists.
		if !deal.Status.Terminal() {
			if err := s.jobs.Enqueue(ctx, QueueDeal, data.OfferID, data,
				queue.Options{Delay: RetryDelay(time.Since(deal.CreatedAt))}); err != nil {
				return fmt.Errorf("reschedule booking for %s: %w", data.OfferID, err)
			}
		}
		return nil
	} else if !isNotFound(err) {
		return err
	}

	s.StartPolling(ctx, offer, data.Passengers)
	job.Reschedule(keepAliveInterval)
	return nil
}

// Wait blocks until all pollers have stopped. Used by shutdown and tests.
func (s *Service) Wait() { s.pollers.wait() }

// Watching reports whether a poller is currently registered for the offer.
func (s *Service) Watching(offerID string) bool { return s.pollers.has(offerID) }

// StopPolling cancels the poller for an offer; the cancellation is observed
// at the poller's next tick.
func (s *Service) StopPolling(offerID string) { s.pollers.cancel(offerID) }

func isNotFound(err error) bool {
	return errors.Is(err, repository.ErrNotFound)
}

func contactEmail(passengers map[string]models.Passenger) string {
	keys := make([]string, 0, len(passengers))
	for k := range passengers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if passengers[k].Email != "" {
			return passengers[k].Email
		}
	}
	return ""
}
