package chain

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Historically the on-chain lookup key was derived in several incompatible
// ways (raw id, hashed id, provider-prefixed id). v1 below is the single
// canonical encoding; bump the version tag if the derivation ever changes so
// old escrows stay locatable.
const serviceIDPrefix = "win:svc:v1:"

// ServiceID derives the deterministic 32-byte key used to look up an escrow
// record for a subject (offer id or group request key). The subject id is
// hashed, never used verbatim, so it cannot collide with unrelated
// identifiers on-chain.
func ServiceID(subject string) common.Hash {
	return crypto.Keccak256Hash([]byte(serviceIDPrefix + subject))
}

// RoomRef identifies one room offer and the number of rooms requested.
type RoomRef struct {
	OfferID  string
	Quantity int
}

// GroupServiceID derives the escrow key for a group booking from its room
// list. The list is sorted first, so replaying the same request in any order
// locates the same escrow payment.
func GroupServiceID(rooms []RoomRef) common.Hash {
	parts := make([]string, len(rooms))
	for i, r := range rooms {
		parts[i] = fmt.Sprintf("%s*%d", r.OfferID, r.Quantity)
	}
	sort.Strings(parts)
	return ServiceID("group:" + strings.Join(parts, "|"))
}
