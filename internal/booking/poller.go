package booking

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/winstay/settlement/internal/chain"
	"github.com/winstay/settlement/internal/config"
	"github.com/winstay/settlement/internal/escrow"
	"github.com/winstay/settlement/internal/models"
	"github.com/winstay/settlement/internal/queue"
	"github.com/winstay/settlement/internal/repository"
)

// pollerRegistry guarantees at most one active poller per offer id. All
// registration goes through the mutex, so two concurrent WatchOffer calls for
// the same offer can never spawn two pollers.
type pollerRegistry struct {
	mu      sync.Mutex
	active  map[string]*pollerHandle
	running sync.WaitGroup
}

type pollerHandle struct {
	stop    chan struct{}
	stopped bool
}

func newPollerRegistry() *pollerRegistry {
	return &pollerRegistry{active: make(map[string]*pollerHandle)}
}

// register returns the poller's cancel channel, or false if one is already
// running for the offer.
func (r *pollerRegistry) register(offerID string) (chan struct{}, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[offerID]; ok {
		return nil, false
	}
	h := &pollerHandle{stop: make(chan struct{})}
	r.active[offerID] = h
	r.running.Add(1)
	return h.stop, true
}

func (r *pollerRegistry) deregister(offerID string) {
	r.mu.Lock()
	delete(r.active, offerID)
	r.mu.Unlock()
	r.running.Done()
}

// cancel flags the poller to stop; the entry stays registered until the
// poller goroutine observes the flag and exits, so a replacement cannot be
// started while the old one is still winding down.
func (r *pollerRegistry) cancel(offerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.active[offerID]; ok && !h.stopped {
		h.stopped = true
		close(h.stop)
	}
}

func (r *pollerRegistry) has(offerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[offerID]
	return ok
}

func (r *pollerRegistry) wait() { r.running.Wait() }

// StartPolling spawns the payment poller for an offer. A second call for the
// same offer id is a no-op while the first poller is alive.
func (s *Service) StartPolling(ctx context.Context, offer *models.Offer, passengers map[string]models.Passenger) {
	stop, ok := s.pollers.register(offer.ID)
	if !ok {
		return
	}
	s.log.Info("poller started", zap.String("offer", offer.ID))
	go s.runPoller(ctx, offer, passengers, stop)
}

func (s *Service) runPoller(ctx context.Context, offer *models.Offer, passengers map[string]models.Passenger, stop <-chan struct{}) {
	defer func() {
		s.pollers.deregister(offer.ID)
		s.log.Info("poller stopped", zap.String("offer", offer.ID))
	}()

	serviceID := chain.ServiceID(offer.ID)
	ticker := time.NewTicker(s.cfg.PollInterval())
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			// Shutdown: the keep-alive job stays put so the poller
			// resumes on the next start.
			return
		case <-stop:
			return
		case <-ticker.C:
		}

		if offer.Expired(time.Now()) {
			s.releaseKeepAlive(ctx, offer.ID)
			return
		}

		done, err := s.checkNetworks(ctx, offer, passengers, serviceID)
		if err != nil {
			failures++
			s.log.Warn("poller tick failed",
				zap.String("offer", offer.ID),
				zap.Int("consecutive_failures", failures),
				zap.Error(err),
			)
			if failures >= s.cfg.Booking.MaxPollFailures {
				s.log.Error("too many consecutive poller failures, giving up on offer",
					zap.String("offer", offer.ID))
				s.releaseKeepAlive(ctx, offer.ID)
				return
			}
			continue
		}
		failures = 0

		if done {
			s.releaseKeepAlive(ctx, offer.ID)
			return
		}
	}
}

// checkNetworks reads the escrow slot on every configured network. The first
// network reporting a Paid record is authoritative: a subject is assumed to
// be paid on at most one network. Refunded and Uninitialized records both
// mean "not paid yet".
func (s *Service) checkNetworks(ctx context.Context, offer *models.Offer, passengers map[string]models.Passenger, serviceID [32]byte) (bool, error) {
	var firstErr error
	for _, network := range s.cfg.Networks {
		rec, err := s.reader.ReadEscrow(ctx, network, serviceID)
		if err != nil {
			// An RPC failure is not "no payment"; report it so the
			// failure budget sees it, but still check other networks.
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if rec.State != escrow.StatePaid {
			continue
		}
		return s.handlePaid(ctx, offer, passengers, network, rec)
	}
	return false, firstErr
}

// handlePaid persists the detected payment and either schedules the booking
// or records the validation failure. Either way the poller's work is done.
func (s *Service) handlePaid(ctx context.Context, offer *models.Offer, passengers map[string]models.Passenger, network config.Network, rec escrow.Record) (bool, error) {
	owners, err := s.reader.ResolveOwners(ctx, network, rec.Customer)
	if err != nil {
		return false, err
	}
	addresses := make([]string, len(owners))
	for i, o := range owners {
		addresses[i] = o.Hex()
	}

	deal := &models.Deal{
		OfferID:       offer.ID,
		Offer:         *offer,
		Escrow:        rec,
		Network:       network,
		UserAddresses: addresses,
		Status:        models.DealPaid,
		ContactEmail:  contactEmail(passengers),
		CreatedAt:     time.Now(),
	}
	if err := s.deals.CreateDeal(ctx, deal); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			// Another worker already settled this offer.
			return true, nil
		}
		return false, err
	}

	var quote *escrow.Price
	if offer.Quote != nil {
		quote = &escrow.Price{Amount: offer.Quote.SourceAmount, Currency: offer.Quote.SourceCurrency}
	}
	if _, err := escrow.Validate(rec, network.Assets, offer.Price, quote); err != nil {
		var ve *escrow.ValidationError
		if errors.As(err, &ve) {
			// Real payment, wrong content. Persist it for manual
			// reconciliation and stop; a mismatch is never retried.
			if uerr := s.deals.UpdateDealStatus(ctx, offer.ID, models.DealTransactionError, ve.Error()); uerr != nil {
				return false, uerr
			}
			s.log.Error("payment failed validation",
				zap.String("offer", offer.ID),
				zap.String("network", network.Name),
				zap.String("reason", string(ve.Reason)),
				zap.String("detail", ve.Detail),
			)
			return true, nil
		}
		return false, err
	}

	err = s.jobs.Enqueue(ctx, QueueDeal, offer.ID, watchData{
		OfferID:    offer.ID,
		Passengers: passengers,
	}, queue.Options{Delay: RetryDelay(0)})
	if err != nil {
		return false, err
	}

	s.log.Info("payment confirmed, booking scheduled",
		zap.String("offer", offer.ID),
		zap.String("network", network.Name),
		zap.String("customer", rec.Customer.Hex()),
	)
	return true, nil
}

func (s *Service) releaseKeepAlive(ctx context.Context, offerID string) {
	if err := s.jobs.Remove(ctx, QueueKeepAlive, offerID); err != nil && ctx.Err() == nil {
		s.log.Warn("release keep-alive", zap.String("offer", offerID), zap.Error(err))
	}
}
