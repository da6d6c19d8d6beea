package trigger

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"marginflow/native/bank"
	"marginflow/native/view"
)

var (
	ErrInvalidThresholds = errors.New("trigger: require target < trigger < 10000 bps")
	ErrInvalidSlippage   = errors.New("trigger: max slippage must be below 10000 bps")
	ErrZeroChunks        = errors.New("trigger: numChunks must be positive")
	ErrTriggerNotMet     = errors.New("trigger: condition not met")
	ErrNothingToUnwind   = errors.New("trigger: debt already at or below target")
	ErrDecimalsMismatch  = errors.New("trigger: stored decimals disagree with token decimals")
	ErrStaticMalformed   = errors.New("trigger: static data malformed")
)

var basisPoints = big.NewInt(10_000)

// Params is the static configuration of an LTV-deleverage trigger, stored
// ABI-encoded inside the order. Stored decimals are authoritative for amount
// conversion; if they disagree with the ledger's registered token decimals the
// evaluation fails with ErrDecimalsMismatch instead of silently preferring
// either side.
type Params struct {
	ProtocolID         string
	ProtocolContext    []byte
	TriggerLTVBps      uint64
	TargetLTVBps       uint64
	CollateralToken    common.Address
	DebtToken          common.Address
	CollateralDecimals uint8
	DebtDecimals       uint8
	MaxSlippageBps     uint64
	NumChunks          uint64
}

// Validate checks the threshold and chunking invariants.
func (p Params) Validate() error {
	if p.TargetLTVBps >= p.TriggerLTVBps || p.TriggerLTVBps >= 10_000 {
		return ErrInvalidThresholds
	}
	if p.MaxSlippageBps >= 10_000 {
		return ErrInvalidSlippage
	}
	if p.NumChunks == 0 {
		return ErrZeroChunks
	}
	return nil
}

// Engine evaluates deleverage triggers against live positions. It holds no
// state of its own; everything comes from the static params and the view
// layer. The ledger, when configured, supplies actual token decimals for the
// mismatch check.
type Engine struct {
	views  *view.Router
	ledger *bank.Ledger
}

// NewEngine constructs a trigger engine over the given view router. The
// ledger may be nil, in which case the decimals cross-check is skipped.
func NewEngine(views *view.Router, ledger *bank.Ledger) (*Engine, error) {
	if views == nil {
		return nil, errors.New("trigger: view router required")
	}
	return &Engine{views: views, ledger: ledger}, nil
}

func (e *Engine) checkDecimals(p Params) error {
	if e.ledger == nil {
		return nil
	}
	if actual, err := e.ledger.Decimals(p.CollateralToken); err == nil && actual != p.CollateralDecimals {
		return fmt.Errorf("%w: collateral stored %d actual %d", ErrDecimalsMismatch, p.CollateralDecimals, actual)
	}
	if actual, err := e.ledger.Decimals(p.DebtToken); err == nil && actual != p.DebtDecimals {
		return fmt.Errorf("%w: debt stored %d actual %d", ErrDecimalsMismatch, p.DebtDecimals, actual)
	}
	return nil
}

// ShouldExecute reports whether the live LTV has reached the trigger
// threshold. The reason string explains a negative answer.
func (e *Engine) ShouldExecute(ctx context.Context, p Params, owner common.Address) (bool, string, error) {
	if err := p.Validate(); err != nil {
		return false, "", err
	}
	ltv, err := e.views.CurrentLTV(ctx, p.ProtocolID, owner, p.ProtocolContext)
	if err != nil {
		return false, "", err
	}
	if ltv < p.TriggerLTVBps {
		return false, fmt.Sprintf("ltv %d bps below trigger %d bps", ltv, p.TriggerLTVBps), nil
	}
	return true, "", nil
}

// CalculateExecution solves for the per-call sell and minimum-buy amounts.
// The deleverage USD value is the amount that, removed simultaneously from
// both collateral and debt, lands the position exactly on the target ratio:
//
//	deleverageUsd = (debt - collateral*target/10000) * 10000 / (10000 - target)
//
// Integer truncation happens at each division, in that order. When the order
// is chunked, the per-call amounts are the remainder divided by the chunks
// still outstanding.
func (e *Engine) CalculateExecution(ctx context.Context, p Params, owner common.Address, iteration uint64) (*big.Int, *big.Int, error) {
	if err := p.Validate(); err != nil {
		return nil, nil, err
	}
	if err := e.checkDecimals(p); err != nil {
		return nil, nil, err
	}
	collateralUsd, debtUsd, err := e.views.PositionValue(ctx, p.ProtocolID, owner, p.ProtocolContext)
	if err != nil {
		return nil, nil, err
	}
	if collateralUsd.Sign() == 0 {
		return nil, nil, view.ErrZeroCollateral
	}

	targetBps := new(big.Int).SetUint64(p.TargetLTVBps)
	targetDebt := new(big.Int).Mul(collateralUsd, targetBps)
	targetDebt.Quo(targetDebt, basisPoints)
	if debtUsd.Cmp(targetDebt) <= 0 {
		return nil, nil, ErrNothingToUnwind
	}

	deleverageUsd := new(big.Int).Sub(debtUsd, targetDebt)
	deleverageUsd.Mul(deleverageUsd, basisPoints)
	deleverageUsd.Quo(deleverageUsd, new(big.Int).Sub(basisPoints, targetBps))

	collateralPrice, err := e.views.CollateralPrice(ctx, p.ProtocolID, p.ProtocolContext)
	if err != nil {
		return nil, nil, err
	}
	debtPrice, err := e.views.DebtPrice(ctx, p.ProtocolID, p.ProtocolContext)
	if err != nil {
		return nil, nil, err
	}

	sellAmount := usdToToken(deleverageUsd, p.CollateralDecimals, collateralPrice)
	minBuy := usdToToken(deleverageUsd, p.DebtDecimals, debtPrice)
	minBuy.Mul(minBuy, new(big.Int).SetUint64(10_000-p.MaxSlippageBps))
	minBuy.Quo(minBuy, basisPoints)

	if p.NumChunks > 1 {
		remaining := int64(1)
		if iteration < p.NumChunks {
			remaining = int64(p.NumChunks - iteration)
		}
		chunks := big.NewInt(remaining)
		sellAmount.Quo(sellAmount, chunks)
		minBuy.Quo(minBuy, chunks)
	}
	return sellAmount, minBuy, nil
}

// IsComplete reports whether the order has nothing left to do: every chunk
// has executed, or the live LTV has already fallen to the target.
func (e *Engine) IsComplete(ctx context.Context, p Params, owner common.Address, iteration uint64) (bool, error) {
	if err := p.Validate(); err != nil {
		return false, err
	}
	if iteration >= p.NumChunks {
		return true, nil
	}
	ltv, err := e.views.CurrentLTV(ctx, p.ProtocolID, owner, p.ProtocolContext)
	if err != nil {
		return false, err
	}
	return ltv <= p.TargetLTVBps, nil
}

// usdToToken converts an 8-decimal USD value into token units at the given
// 8-decimal price.
func usdToToken(usd *big.Int, decimals uint8, price *big.Int) *big.Int {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	out := new(big.Int).Mul(usd, scale)
	return out.Quo(out, price)
}
