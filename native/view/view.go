package view

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrNameRequired      = errors.New("view: gateway name required")
	ErrAlreadyRegistered = errors.New("view: gateway already registered")
	ErrUnknownProtocol   = errors.New("view: protocol not registered")
	ErrInvalidPosition   = errors.New("view: gateway returned nil or negative position values")
	ErrInvalidPrice      = errors.New("view: gateway returned nil or non-positive price")
	ErrZeroCollateral    = errors.New("view: position has zero collateral, ratio undefined")
)

// UsdDecimals is the fixed-point precision of all normalized USD values and
// prices returned by the view layer.
const UsdDecimals = 8

var basisPoints = big.NewInt(10_000)

// PositionGateway reads one venue's position and price data. The context blob
// is venue-specific (market ids, sub-account handles) and opaque to the
// router. Values come back normalized to 8-decimal fixed-point USD.
type PositionGateway interface {
	Name() string
	PositionValue(ctx context.Context, user common.Address, context []byte) (collateralUsd, debtUsd *big.Int, err error)
	CollateralPrice(ctx context.Context, context []byte) (*big.Int, error)
	DebtPrice(ctx context.Context, context []byte) (*big.Int, error)
}

// Router dispatches read queries to per-protocol position gateways. A missing
// protocol or capability is a hard error: a silent zero would feed corrupt
// values into deleverage math downstream.
type Router struct {
	gateways map[string]PositionGateway
}

// NewRouter constructs an empty view router.
func NewRouter() *Router {
	return &Router{gateways: make(map[string]PositionGateway)}
}

// Register installs a position gateway under its reported name.
func (r *Router) Register(gw PositionGateway) error {
	if gw == nil {
		return ErrNameRequired
	}
	name := strings.ToLower(strings.TrimSpace(gw.Name()))
	if name == "" {
		return ErrNameRequired
	}
	if _, exists := r.gateways[name]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, name)
	}
	r.gateways[name] = gw
	return nil
}

func (r *Router) resolve(protocol string) (PositionGateway, error) {
	if r == nil {
		return nil, ErrUnknownProtocol
	}
	gw, ok := r.gateways[strings.ToLower(strings.TrimSpace(protocol))]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProtocol, protocol)
	}
	return gw, nil
}

// PositionValue returns the user's collateral and debt in 8-decimal USD.
func (r *Router) PositionValue(ctx context.Context, protocol string, user common.Address, context []byte) (*big.Int, *big.Int, error) {
	gw, err := r.resolve(protocol)
	if err != nil {
		return nil, nil, err
	}
	collateral, debt, err := gw.PositionValue(ctx, user, context)
	if err != nil {
		return nil, nil, fmt.Errorf("view: %s position: %w", protocol, err)
	}
	if collateral == nil || debt == nil || collateral.Sign() < 0 || debt.Sign() < 0 {
		return nil, nil, ErrInvalidPosition
	}
	return collateral, debt, nil
}

// CurrentLTV returns debt over collateral in basis points. A zero-collateral
// position makes the ratio undefined and fails loudly.
func (r *Router) CurrentLTV(ctx context.Context, protocol string, user common.Address, context []byte) (uint64, error) {
	collateral, debt, err := r.PositionValue(ctx, protocol, user, context)
	if err != nil {
		return 0, err
	}
	if collateral.Sign() == 0 {
		return 0, ErrZeroCollateral
	}
	ltv := new(big.Int).Mul(debt, basisPoints)
	ltv.Quo(ltv, collateral)
	return ltv.Uint64(), nil
}

// CollateralPrice returns the collateral token price in 8-decimal USD.
func (r *Router) CollateralPrice(ctx context.Context, protocol string, context []byte) (*big.Int, error) {
	gw, err := r.resolve(protocol)
	if err != nil {
		return nil, err
	}
	price, err := gw.CollateralPrice(ctx, context)
	if err != nil {
		return nil, fmt.Errorf("view: %s collateral price: %w", protocol, err)
	}
	if price == nil || price.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	return price, nil
}

// DebtPrice returns the debt token price in 8-decimal USD.
func (r *Router) DebtPrice(ctx context.Context, protocol string, context []byte) (*big.Int, error) {
	gw, err := r.resolve(protocol)
	if err != nil {
		return nil, err
	}
	price, err := gw.DebtPrice(ctx, context)
	if err != nil {
		return nil, fmt.Errorf("view: %s debt price: %w", protocol, err)
	}
	if price == nil || price.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	return price, nil
}
