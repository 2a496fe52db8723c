// Package group settles multi-room booking requests paid with a single
// escrow deposit. A request is validated and priced up front, then a queue
// job carries it through deposit detection, ticketing and notification.
package group

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/winstay/settlement/internal/chain"
	"github.com/winstay/settlement/internal/config"
	"github.com/winstay/settlement/internal/escrow"
	"github.com/winstay/settlement/internal/models"
	"github.com/winstay/settlement/internal/queue"
	"github.com/winstay/settlement/internal/ticket"
)

// QueueGroup carries one pipeline job per group request.
const QueueGroup = "group"

var (
	ErrNoRooms             = errors.New("group: request has no rooms")
	ErrMixedAccommodations = errors.New("group: rooms span multiple accommodations")
	ErrMixedCurrencies     = errors.New("group: rooms priced in multiple currencies")
	ErrOfferExpired        = errors.New("group: request contains an expired offer")
)

type EscrowReader interface {
	ReadEscrow(ctx context.Context, network config.Network, serviceID common.Hash) (escrow.Record, error)
	ResolveOwners(ctx context.Context, network config.Network, customer common.Address) ([]common.Address, error)
}

type RequestStore interface {
	CreateGroupRequest(ctx context.Context, req *models.GroupRequest) error
	GetGroupRequest(ctx context.Context, requestID string) (*models.GroupRequest, error)
	UpdateGroupStatus(ctx context.Context, requestID string, status models.GroupStatus) error
	UpdateGroupBlockchainInfo(ctx context.Context, requestID string, status models.GroupStatus, network *config.Network, rec *escrow.Record, userAddresses []string, paymentCurrency, errorMessage string) error
	UpdateGroupTicket(ctx context.Context, requestID string, status models.GroupStatus, ticketRef string) error
}

type Ticketer interface {
	CreateTicket(ctx context.Context, issue ticket.Issue) (ticket.Ref, error)
}

type Mailer interface {
	Send(ctx context.Context, templateID, recipient, recipientName string, data map[string]any) error
}

type Rater interface {
	Quote(ctx context.Context, amount, from, to string) (string, error)
}

type Service struct {
	cfg      *config.Config
	reader   EscrowReader
	requests RequestStore
	tickets  Ticketer
	mailer   Mailer
	rates    Rater
	jobs     *queue.Client
	log      *zap.Logger
}

func NewService(
	cfg *config.Config,
	reader EscrowReader,
	requests RequestStore,
	tickets Ticketer,
	mailer Mailer,
	rates Rater,
	jobs *queue.Client,
	log *zap.Logger,
) *Service {
	return &Service{
		cfg:      cfg,
		reader:   reader,
		requests: requests,
		tickets:  tickets,
		mailer:   mailer,
		rates:    rates,
		jobs:     jobs,
		log:      log.Named("group"),
	}
}

// CreateRequest validates and prices a group request, persists it and
// enqueues its pipeline job. Rooms must share one accommodation and one
// currency; violations are rejected before any state exists.
func (s *Service) CreateRequest(ctx context.Context, rooms []models.GroupRoom, contact models.Contact, guestCount int) (*models.GroupRequest, error) {
	if len(rooms) == 0 {
		return nil, ErrNoRooms
	}
	now := time.Now()
	hotelID := rooms[0].Offer.Accommodation.HotelID
	currency := rooms[0].Offer.Price.Currency
	for _, room := range rooms {
		if room.Offer.Accommodation.HotelID != hotelID {
			return nil, ErrMixedAccommodations
		}
		if room.Offer.Price.Currency != currency {
			return nil, ErrMixedCurrencies
		}
		if room.Offer.Expired(now) {
			return nil, fmt.Errorf("%w: %s", ErrOfferExpired, room.Offer.ID)
		}
	}

	total, err := sumRooms(rooms)
	if err != nil {
		return nil, err
	}
	pct := big.NewRat(s.cfg.Group.DepositPercentage, 100)
	deposit := new(big.Rat).Mul(total, pct)

	totals := models.Deposits{OfferCurrency: escrow.Price{Amount: total.FloatString(2), Currency: currency}}
	depositTotals := models.Deposits{OfferCurrency: escrow.Price{Amount: deposit.FloatString(2), Currency: currency}}
	s.quoteUSD(ctx, &totals)
	s.quoteUSD(ctx, &depositTotals)

	refs := make([]chain.RoomRef, 0, len(rooms))
	for _, room := range rooms {
		refs = append(refs, chain.RoomRef{OfferID: room.Offer.ID, Quantity: room.Quantity})
	}

	req := &models.GroupRequest{
		RequestID:  uuid.NewString(),
		ServiceID:  chain.GroupServiceID(refs).Hex(),
		Rooms:      rooms,
		Contact:    contact,
		GuestCount: guestCount,
		Totals:     totals,
		Deposit:    depositTotals,
		Status:     models.GroupPending,
		CreatedAt:  now,
	}
	if err := s.requests.CreateGroupRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("persist group request: %w", err)
	}

	err = s.jobs.Enqueue(ctx, QueueGroup, req.RequestID, pipelineData{RequestID: req.RequestID}, queue.Options{
		Delay:       time.Duration(s.cfg.Group.InitialDelaySec) * time.Second,
		Backoff:     time.Duration(s.cfg.Group.BackoffSec) * time.Second,
		MaxAttempts: s.cfg.Group.MaxAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("enqueue group pipeline: %w", err)
	}
	s.log.Info("group request created",
		zap.String("request", req.RequestID),
		zap.String("service_id", req.ServiceID),
		zap.Int("rooms", len(rooms)),
		zap.String("deposit", depositTotals.OfferCurrency.Amount),
		zap.String("currency", currency),
	)
	return req, nil
}

// quoteUSD fills in the USD leg of an amount. A missing rate is not an
// error; the request proceeds with the offer-currency amount alone.
func (s *Service) quoteUSD(ctx context.Context, d *models.Deposits) {
	if d.OfferCurrency.Currency == "USD" {
		d.USD = d.OfferCurrency.Amount
		return
	}
	usd, err := s.rates.Quote(ctx, d.OfferCurrency.Amount, d.OfferCurrency.Currency, "USD")
	if err != nil {
		s.log.Warn("usd quote unavailable",
			zap.String("amount", d.OfferCurrency.Amount),
			zap.String("currency", d.OfferCurrency.Currency),
			zap.Error(err))
		return
	}
	d.USD = usd
}

func sumRooms(rooms []models.GroupRoom) (*big.Rat, error) {
	total := new(big.Rat)
	for _, room := range rooms {
		price, ok := new(big.Rat).SetString(room.Offer.Price.Amount)
		if !ok {
			return nil, fmt.Errorf("group: offer %s has malformed price %q", room.Offer.ID, room.Offer.Price.Amount)
		}
		qty := new(big.Rat).SetInt64(int64(room.Quantity))
		total.Add(total, new(big.Rat).Mul(price, qty))
	}
	return total, nil
}
