package trigger

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"marginflow/native/bank"
	"marginflow/native/view"
)

var (
	owner      = common.HexToAddress("0x0000000000000000000000000000000000000abc")
	collateral = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	debt       = common.HexToAddress("0x00000000000000000000000000000000000000d1")
)

type stubPosition struct {
	collateralUsd   *big.Int
	debtUsd         *big.Int
	collateralPrice *big.Int
	debtPrice       *big.Int
}

func (s stubPosition) Name() string { return "aavev3" }

func (s stubPosition) PositionValue(context.Context, common.Address, []byte) (*big.Int, *big.Int, error) {
	return s.collateralUsd, s.debtUsd, nil
}

func (s stubPosition) CollateralPrice(context.Context, []byte) (*big.Int, error) {
	return s.collateralPrice, nil
}

func (s stubPosition) DebtPrice(context.Context, []byte) (*big.Int, error) {
	return s.debtPrice, nil
}

func newEngine(t *testing.T, gw view.PositionGateway, ledger *bank.Ledger) *Engine {
	t.Helper()
	views := view.NewRouter()
	if err := views.Register(gw); err != nil {
		t.Fatalf("register gateway: %v", err)
	}
	engine, err := NewEngine(views, ledger)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return engine
}

func debugScenarioParams() Params {
	return Params{
		ProtocolID:         "aavev3",
		TriggerLTVBps:      5000,
		TargetLTVBps:       2800,
		CollateralToken:    collateral,
		DebtToken:          debt,
		CollateralDecimals: 18,
		DebtDecimals:       6,
		MaxSlippageBps:     50,
		NumChunks:          1,
	}
}

// Values drawn from a captured live position: $913.81 collateral against
// $518.00 debt, deleveraging to a 28% target.
func debugScenarioGateway() stubPosition {
	return stubPosition{
		collateralUsd:   big.NewInt(91_381_000_000),
		debtUsd:         big.NewInt(51_800_000_000),
		collateralPrice: big.NewInt(200_000_000_000), // $2000.00
		debtPrice:       big.NewInt(100_000_000),     // $1.00
	}
}

func TestCalculateExecutionMatchesCapturedTrace(t *testing.T) {
	engine := newEngine(t, debugScenarioGateway(), nil)
	sell, minBuy, err := engine.CalculateExecution(context.Background(), debugScenarioParams(), owner, 0)
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	// targetDebt = 91381000000*2800/10000 = 25586680000
	// deleverageUsd = (51800000000-25586680000)*10000/7200 = 36407388888
	// sell = 36407388888 * 1e18 / 2000e8 = 182036944440000000
	expectedSell, _ := new(big.Int).SetString("182036944440000000", 10)
	if sell.Cmp(expectedSell) != 0 {
		t.Fatalf("expected sell %s, got %s", expectedSell, sell)
	}
	// minBuy = trunc(36407388888 * 1e6 / 1e8) = 364073888, less 50 bps
	if minBuy.Cmp(big.NewInt(362_253_518)) != 0 {
		t.Fatalf("expected minBuy 362253518, got %s", minBuy)
	}
}

func TestShouldExecuteThreshold(t *testing.T) {
	engine := newEngine(t, debugScenarioGateway(), nil)
	p := debugScenarioParams()

	// Live LTV is 5668 bps; trigger at 5000 fires.
	ok, _, err := engine.ShouldExecute(context.Background(), p, owner)
	if err != nil {
		t.Fatalf("shouldExecute: %v", err)
	}
	if !ok {
		t.Fatalf("expected trigger to fire at 5668 bps against 5000")
	}

	// Raising the trigger above the live LTV must not fire, including the
	// exact boundary where LTV equals the target.
	p.TriggerLTVBps = 8000
	ok, reason, err := engine.ShouldExecute(context.Background(), p, owner)
	if err != nil {
		t.Fatalf("shouldExecute: %v", err)
	}
	if ok {
		t.Fatalf("expected trigger not to fire below threshold")
	}
	if reason == "" {
		t.Fatalf("expected a reason for the negative answer")
	}
}

func TestCalculateExecutionRejectsHealthyPosition(t *testing.T) {
	gw := debugScenarioGateway()
	gw.debtUsd = big.NewInt(20_000_000_000) // below target debt
	engine := newEngine(t, gw, nil)
	if _, _, err := engine.CalculateExecution(context.Background(), debugScenarioParams(), owner, 0); !errors.Is(err, ErrNothingToUnwind) {
		t.Fatalf("expected ErrNothingToUnwind, got %v", err)
	}
}

func TestCalculateExecutionZeroCollateralFails(t *testing.T) {
	gw := debugScenarioGateway()
	gw.collateralUsd = big.NewInt(0)
	engine := newEngine(t, gw, nil)
	if _, _, err := engine.CalculateExecution(context.Background(), debugScenarioParams(), owner, 0); !errors.Is(err, view.ErrZeroCollateral) {
		t.Fatalf("expected ErrZeroCollateral, got %v", err)
	}
}

func TestChunkingDividesByRemaining(t *testing.T) {
	engine := newEngine(t, debugScenarioGateway(), nil)
	p := debugScenarioParams()
	p.NumChunks = 4

	whole, _, err := engine.CalculateExecution(context.Background(), debugScenarioParams(), owner, 0)
	if err != nil {
		t.Fatalf("calculate whole: %v", err)
	}
	chunked, _, err := engine.CalculateExecution(context.Background(), p, owner, 1)
	if err != nil {
		t.Fatalf("calculate chunked: %v", err)
	}
	// Iteration 1 of 4 leaves 3 chunks outstanding.
	expected := new(big.Int).Quo(whole, big.NewInt(3))
	if chunked.Cmp(expected) != 0 {
		t.Fatalf("expected %s, got %s", expected, chunked)
	}
}

func TestDecimalsMismatchSurfaces(t *testing.T) {
	ledger := bank.NewLedger()
	ledger.RegisterToken(collateral, 8) // stored params say 18
	engine := newEngine(t, debugScenarioGateway(), ledger)
	if _, _, err := engine.CalculateExecution(context.Background(), debugScenarioParams(), owner, 0); !errors.Is(err, ErrDecimalsMismatch) {
		t.Fatalf("expected ErrDecimalsMismatch, got %v", err)
	}
}

func TestIsComplete(t *testing.T) {
	engine := newEngine(t, debugScenarioGateway(), nil)
	p := debugScenarioParams()

	done, err := engine.IsComplete(context.Background(), p, owner, 1)
	if err != nil {
		t.Fatalf("isComplete: %v", err)
	}
	if !done {
		t.Fatalf("expected completion once every chunk has run")
	}

	done, err = engine.IsComplete(context.Background(), p, owner, 0)
	if err != nil {
		t.Fatalf("isComplete: %v", err)
	}
	if done {
		t.Fatalf("expected incomplete while LTV sits above target")
	}
}

func TestParamsRoundTrip(t *testing.T) {
	p := debugScenarioParams()
	p.ProtocolContext = []byte{0x01, 0x02, 0x03}
	blob, err := EncodeParams(p)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeParams(blob)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.ProtocolID != p.ProtocolID || !bytes.Equal(decoded.ProtocolContext, p.ProtocolContext) {
		t.Fatalf("protocol fields mangled: %+v", decoded)
	}
	if decoded.TriggerLTVBps != p.TriggerLTVBps || decoded.TargetLTVBps != p.TargetLTVBps {
		t.Fatalf("thresholds mangled: %+v", decoded)
	}
	if decoded.CollateralToken != p.CollateralToken || decoded.DebtToken != p.DebtToken {
		t.Fatalf("token addresses mangled: %+v", decoded)
	}
	if decoded.CollateralDecimals != p.CollateralDecimals || decoded.DebtDecimals != p.DebtDecimals {
		t.Fatalf("decimals mangled: %+v", decoded)
	}
	if decoded.MaxSlippageBps != p.MaxSlippageBps || decoded.NumChunks != p.NumChunks {
		t.Fatalf("slippage or chunks mangled: %+v", decoded)
	}
}

func TestValidateRejectsBadThresholds(t *testing.T) {
	p := debugScenarioParams()
	p.TargetLTVBps = 6000
	if err := p.Validate(); !errors.Is(err, ErrInvalidThresholds) {
		t.Fatalf("expected ErrInvalidThresholds, got %v", err)
	}
	p = debugScenarioParams()
	p.TriggerLTVBps = 10_000
	if err := p.Validate(); !errors.Is(err, ErrInvalidThresholds) {
		t.Fatalf("expected ErrInvalidThresholds, got %v", err)
	}
	p = debugScenarioParams()
	p.NumChunks = 0
	if err := p.Validate(); !errors.Is(err, ErrZeroChunks) {
		t.Fatalf("expected ErrZeroChunks, got %v", err)
	}
}
