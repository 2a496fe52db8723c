package models

import (
	"time"

	"github.com/winstay/settlement/internal/config"
	"github.com/winstay/settlement/internal/escrow"
)

// Offer is a priced room offer, immutable once stored. Expired offers must
// never be paid against.
type Offer struct {
	ID            string        `json:"id"`
	Provider      string        `json:"provider"`
	Price         escrow.Price  `json:"price"`
	Quote         *Quote        `json:"quote,omitempty"`
	Expiration    time.Time     `json:"expiration"`
	Arrival       time.Time     `json:"arrival"`
	Departure     time.Time     `json:"departure"`
	Accommodation Accommodation `json:"accommodation"`
}

func (o *Offer) Expired(now time.Time) bool {
	return !o.Expiration.IsZero() && now.After(o.Expiration)
}

// Quote is an alternate settlement price quoted in a different source
// currency (typically a stablecoin quote for a non-USD offer).
type Quote struct {
	SourceAmount   string `json:"sourceAmount"`
	SourceCurrency string `json:"sourceCurrency"`
}

type Accommodation struct {
	HotelID string `json:"hotelId"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Address string `json:"address"`
}

// Passenger carries the minimum guest detail the provider needs.
type Passenger struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email,omitempty"`
}

type DealStatus string

const (
	DealPaid               DealStatus = "paid"
	DealPending            DealStatus = "pending"
	DealBooked             DealStatus = "booked"
	DealTransactionError   DealStatus = "transactionError"
	DealPaymentError       DealStatus = "paymentError"
	DealCreationFailed     DealStatus = "creationFailed"
	DealCancelled          DealStatus = "cancelled"
)

// Terminal reports whether no further booking attempt may touch the deal.
func (s DealStatus) Terminal() bool {
	switch s {
	case DealBooked, DealTransactionError, DealCreationFailed, DealCancelled:
		return true
	}
	return false
}

// Deal is the persisted record of a detected escrow payment and the booking
// driven by it. Created at most once per offer id; the escrow snapshot is
// written once and never changed afterwards.
type Deal struct {
	OfferID               string         `json:"offerId"`
	Offer                 Offer          `json:"offer"`
	Escrow                escrow.Record  `json:"escrow"`
	Network               config.Network `json:"network"`
	UserAddresses         []string       `json:"userAddresses"`
	Status                DealStatus     `json:"status"`
	Message               string         `json:"message,omitempty"`
	OrderID               string         `json:"orderId,omitempty"`
	SupplierReservationID string         `json:"supplierReservationId,omitempty"`
	ContactEmail          string         `json:"contactEmail,omitempty"`
	RewardOption          string         `json:"rewardOption,omitempty"`
	CreatedAt             time.Time      `json:"createdAt"`
}

type GroupStatus string

const (
	GroupPending       GroupStatus = "pending"
	GroupDealError     GroupStatus = "dealError"
	GroupDepositPaid   GroupStatus = "depositPaid"
	GroupStored        GroupStatus = "stored"
	GroupTicketCreated GroupStatus = "ticketCreated"
	GroupTicketStored  GroupStatus = "ticketStored"
	GroupEmailSent     GroupStatus = "emailSent"
	GroupComplete      GroupStatus = "complete"
)

// GroupRoom pairs one room offer with the number of rooms requested.
type GroupRoom struct {
	Offer    Offer `json:"offer"`
	Quantity int   `json:"quantity"`
}

// Deposits expresses an amount in the offer currency and, when a rate was
// available, in USD. The USD leg is best-effort and may be empty.
type Deposits struct {
	OfferCurrency escrow.Price `json:"offerCurrency"`
	USD           string       `json:"usd,omitempty"`
}

type Contact struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"phone,omitempty"`
}

// GroupRequest aggregates multiple rooms of one accommodation into a single
// booking request settled by one deposit payment. Status advances through
// the pipeline stages strictly in order; each stage is persisted so a
// crashed job resumes where it left off.
type GroupRequest struct {
	RequestID       string          `json:"requestId"`
	ServiceID       string          `json:"serviceId"`
	Rooms           []GroupRoom     `json:"rooms"`
	Contact         Contact         `json:"contact"`
	GuestCount      int             `json:"guestCount"`
	Totals          Deposits        `json:"totals"`
	Deposit         Deposits        `json:"deposit"`
	Status          GroupStatus     `json:"status"`
	Network         *config.Network `json:"network,omitempty"`
	Escrow          *escrow.Record  `json:"escrow,omitempty"`
	UserAddresses   []string        `json:"userAddresses,omitempty"`
	PaymentCurrency string          `json:"paymentCurrency,omitempty"`
	ErrorMessage    string          `json:"errorMessage,omitempty"`
	TicketRef       string          `json:"ticketRef,omitempty"`
	RewardOption    string          `json:"rewardOption,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
}
