package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/winstay/settlement/internal/config"
	"github.com/winstay/settlement/internal/escrow"
)

const escrowABIJSON = `[
	{
		"name": "deals",
		"type": "function",
		"stateMutability": "view",
		"inputs": [{"name": "serviceId", "type": "bytes32"}],
		"outputs": [
			{"name": "provider", "type": "address"},
			{"name": "customer", "type": "address"},
			{"name": "asset", "type": "address"},
			{"name": "value", "type": "uint256"},
			{"name": "state", "type": "uint8"}
		]
	}
]`

const ownersABIJSON = `[
	{
		"name": "getOwners",
		"type": "function",
		"stateMutability": "view",
		"inputs": [],
		"outputs": [{"name": "", "type": "address[]"}]
	}
]`

// Reader reads escrow records from the settlement contract of each
// configured network. It is read-only: no keys, no transactions.
type Reader struct {
	log *zap.Logger

	escrowABI abi.ABI
	ownersABI abi.ABI

	mu      sync.Mutex
	clients map[int64]*ethclient.Client
}

func NewReader(log *zap.Logger) (*Reader, error) {
	escrowABI, err := abi.JSON(strings.NewReader(escrowABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse escrow abi: %w", err)
	}
	ownersABI, err := abi.JSON(strings.NewReader(ownersABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse owners abi: %w", err)
	}
	return &Reader{
		log:       log,
		escrowABI: escrowABI,
		ownersABI: ownersABI,
		clients:   make(map[int64]*ethclient.Client),
	}, nil
}

func (r *Reader) client(network config.Network) (*ethclient.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[network.ChainID]; ok {
		return c, nil
	}
	c, err := ethclient.Dial(network.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s rpc: %w", network.Name, err)
	}
	r.clients[network.ChainID] = c
	return c, nil
}

// ReadEscrow returns the escrow record for serviceID on one network. A
// missing payment comes back as the contract's zero record with
// State = UNINITIALIZED; an RPC failure is an error, never "no payment".
func (r *Reader) ReadEscrow(ctx context.Context, network config.Network, serviceID common.Hash) (escrow.Record, error) {
	c, err := r.client(network)
	if err != nil {
		return escrow.Record{}, err
	}

	contract := bind.NewBoundContract(
		common.HexToAddress(network.ContractAddress), r.escrowABI, c, nil, nil)

	var out []interface{}
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &out, "deals", [32]byte(serviceID)); err != nil {
		return escrow.Record{}, fmt.Errorf("read escrow on %s: %w", network.Name, err)
	}

	return escrow.Record{
		Provider: out[0].(common.Address),
		Customer: out[1].(common.Address),
		Asset:    out[2].(common.Address),
		Value:    out[3].(*big.Int),
		State:    escrow.State(out[4].(uint8)),
	}, nil
}

// ResolveOwners fans a customer address out to the set of addresses that paid
// it. A plain externally-owned account resolves to itself; a multisig
// resolves to its owner list via getOwners().
func (r *Reader) ResolveOwners(ctx context.Context, network config.Network, customer common.Address) ([]common.Address, error) {
	c, err := r.client(network)
	if err != nil {
		return nil, err
	}

	code, err := c.CodeAt(ctx, customer, nil)
	if err != nil {
		return nil, fmt.Errorf("code at %s on %s: %w", customer.Hex(), network.Name, err)
	}
	if len(code) == 0 {
		return []common.Address{customer}, nil
	}

	contract := bind.NewBoundContract(customer, r.ownersABI, c, nil, nil)
	var out []interface{}
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &out, "getOwners"); err != nil {
		// Contract account without the multisig interface; treat it as the
		// payer itself rather than failing the whole settlement.
		r.log.Debug("getOwners call failed, using customer address",
			zap.String("customer", customer.Hex()), zap.Error(err))
		return []common.Address{customer}, nil
	}
	owners := out[0].([]common.Address)
	if len(owners) == 0 {
		return []common.Address{customer}, nil
	}
	return owners, nil
}
