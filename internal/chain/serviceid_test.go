package chain

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestServiceID_Deterministic(t *testing.T) {
	a := ServiceID("offer-123")
	b := ServiceID("offer-123")
	if a != b {
		t.Errorf("same subject must derive the same id: %s vs %s", a.Hex(), b.Hex())
	}
	if a == ServiceID("offer-124") {
		t.Error("different subjects must not collide")
	}
	var zero common.Hash
	if a == zero {
		t.Error("service id must not be the zero hash")
	}
}

func TestServiceID_NotVerbatim(t *testing.T) {
	// The subject must be hashed, never embedded raw.
	id := ServiceID("short")
	if string(id.Bytes()[:5]) == "short" {
		t.Error("subject leaked verbatim into the service id")
	}
}

func TestGroupServiceID_OrderIndependent(t *testing.T) {
	a := GroupServiceID([]RoomRef{
		{OfferID: "offer-a", Quantity: 2},
		{OfferID: "offer-b", Quantity: 1},
	})
	b := GroupServiceID([]RoomRef{
		{OfferID: "offer-b", Quantity: 1},
		{OfferID: "offer-a", Quantity: 2},
	})
	if a != b {
		t.Errorf("room order must not change the id: %s vs %s", a.Hex(), b.Hex())
	}
}

func TestGroupServiceID_QuantityMatters(t *testing.T) {
	a := GroupServiceID([]RoomRef{{OfferID: "offer-a", Quantity: 2}})
	b := GroupServiceID([]RoomRef{{OfferID: "offer-a", Quantity: 3}})
	if a == b {
		t.Error("different quantities must derive different ids")
	}
}

func TestGroupServiceID_DistinctFromSingleOffer(t *testing.T) {
	groupID := GroupServiceID([]RoomRef{{OfferID: "offer-a", Quantity: 1}})
	singleID := ServiceID("offer-a")
	if groupID == singleID {
		t.Error("a one-room group must not collide with the plain offer id")
	}
}
