package flashloan

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrNameRequired          = errors.New("flashloan: provider name required")
	ErrAlreadyRegistered     = errors.New("flashloan: provider already registered")
	ErrUnknownProvider       = errors.New("flashloan: provider not registered")
	ErrInvalidAmount         = errors.New("flashloan: amount must be positive")
	ErrNilContinuation       = errors.New("flashloan: continuation required")
	ErrInsufficientLiquidity = errors.New("flashloan: pool liquidity insufficient")
	ErrRepaymentShortfall    = errors.New("flashloan: bracket closed without repayment")
	ErrCreditLineExceeded    = errors.New("flashloan: delegated credit line exceeded")
)

// Continuation is the resumable remainder of a router run. The provider calls
// Resume exactly once while it holds the borrower's interim funds; everything
// the callback body does happens inside the borrower's trust boundary, so the
// provider re-checks repayment after Resume returns regardless of its outcome.
type Continuation interface {
	Resume(ctx context.Context) error
}

// Provider abstracts one flash-liquidity source. Borrow moves the principal to
// the beneficiary, resumes the continuation, and enforces that the pool ends
// the bracket with principal plus premium restored.
type Provider interface {
	Name() string
	// RepayTo reports the address the callback body must push repayment to,
	// and the premium owed on top of the principal.
	RepayTo() common.Address
	Premium(amount *big.Int) *big.Int
	Borrow(ctx context.Context, token common.Address, amount *big.Int, beneficiary common.Address, cont Continuation) error
}

// Registry resolves provider names at dispatch time. Populated once during
// configuration.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry constructs an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register installs a provider under its reported name.
func (r *Registry) Register(p Provider) error {
	if p == nil {
		return ErrNameRequired
	}
	name := strings.ToLower(strings.TrimSpace(p.Name()))
	if name == "" {
		return ErrNameRequired
	}
	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, name)
	}
	r.providers[name] = p
	return nil
}

// Resolve returns the provider registered under name.
func (r *Registry) Resolve(name string) (Provider, error) {
	if r == nil {
		return nil, ErrUnknownProvider
	}
	p, ok := r.providers[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return p, nil
}
