package gateway

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrNameRequired          = errors.New("gateway: adapter name required")
	ErrAlreadyRegistered     = errors.New("gateway: adapter already registered")
	ErrUnknownProtocol       = errors.New("gateway: protocol not registered")
	ErrCapabilityUnsupported = errors.New("gateway: capability not supported by adapter")
)

// Op identifies one capability of a lending venue adapter.
type Op uint8

const (
	OpDeposit Op = iota
	OpDepositCollateral
	OpWithdrawCollateral
	OpBorrow
	OpRepay
	OpGetBorrowBalance
	OpGetSupplyBalance
	OpSwap
	OpSwapExactOut
)

var opNames = map[Op]string{
	OpDeposit:            "deposit",
	OpDepositCollateral:  "deposit_collateral",
	OpWithdrawCollateral: "withdraw_collateral",
	OpBorrow:             "borrow",
	OpRepay:              "repay",
	OpGetBorrowBalance:   "get_borrow_balance",
	OpGetSupplyBalance:   "get_supply_balance",
	OpSwap:               "swap",
	OpSwapExactOut:       "swap_exact_out",
}

// Valid reports whether the op is within the supported capability set.
func (o Op) Valid() bool {
	_, ok := opNames[o]
	return ok
}

func (o Op) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return fmt.Sprintf("op(%d)", uint8(o))
}

// Call carries the normalized arguments the router hands to an adapter. The
// context blob is venue-specific and opaque to the router.
type Call struct {
	Token   common.Address
	User    common.Address
	Amount  *big.Int
	Context []byte
}

// Adapter wraps one lending venue behind the uniform capability set. The
// returned amount, when non-nil, becomes a new output slot in the calling run.
// Adapters return ErrCapabilityUnsupported for ops the venue cannot serve.
// Spender is the venue-side address that pulls approved funds.
type Adapter interface {
	Name() string
	Spender() common.Address
	Execute(ctx context.Context, op Op, call Call) (*big.Int, error)
}

// Registry resolves protocol names to adapters. It is populated once at
// configuration time; resolution never falls back or reflects.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry constructs an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register installs an adapter under its reported name. Duplicate or blank
// names are rejected so misconfiguration surfaces at startup rather than at
// dispatch time.
func (r *Registry) Register(adapter Adapter) error {
	if adapter == nil {
		return ErrNameRequired
	}
	name := strings.ToLower(strings.TrimSpace(adapter.Name()))
	if name == "" {
		return ErrNameRequired
	}
	if _, exists := r.adapters[name]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, name)
	}
	r.adapters[name] = adapter
	return nil
}

// Resolve returns the adapter registered under the given protocol name. An
// unknown name is a hard error, never a silent no-op.
func (r *Registry) Resolve(name string) (Adapter, error) {
	if r == nil {
		return nil, ErrUnknownProtocol
	}
	adapter, ok := r.adapters[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProtocol, name)
	}
	return adapter, nil
}

// Names lists the registered protocol names. Intended for diagnostics.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}
