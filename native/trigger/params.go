package trigger

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

func mustType(signature string) abi.Type {
	t, err := abi.NewType(signature, "", nil)
	if err != nil {
		panic(err)
	}
	return t
}

var paramsArguments = abi.Arguments{
	{Name: "protocolId", Type: mustType("string")},
	{Name: "protocolContext", Type: mustType("bytes")},
	{Name: "triggerLtvBps", Type: mustType("uint64")},
	{Name: "targetLtvBps", Type: mustType("uint64")},
	{Name: "collateralToken", Type: mustType("address")},
	{Name: "debtToken", Type: mustType("address")},
	{Name: "collateralDecimals", Type: mustType("uint8")},
	{Name: "debtDecimals", Type: mustType("uint8")},
	{Name: "maxSlippageBps", Type: mustType("uint64")},
	{Name: "numChunks", Type: mustType("uint64")},
}

// EncodeParams serialises trigger params into the static-data blob stored on
// the order.
func EncodeParams(p Params) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	context := p.ProtocolContext
	if context == nil {
		context = []byte{}
	}
	return paramsArguments.Pack(
		p.ProtocolID,
		context,
		p.TriggerLTVBps,
		p.TargetLTVBps,
		p.CollateralToken,
		p.DebtToken,
		p.CollateralDecimals,
		p.DebtDecimals,
		p.MaxSlippageBps,
		p.NumChunks,
	)
}

// DecodeParams parses a static-data blob back into trigger params.
func DecodeParams(data []byte) (Params, error) {
	values, err := paramsArguments.Unpack(data)
	if err != nil {
		return Params{}, fmt.Errorf("%w: %v", ErrStaticMalformed, err)
	}
	p := Params{
		ProtocolID:         values[0].(string),
		ProtocolContext:    values[1].([]byte),
		TriggerLTVBps:      values[2].(uint64),
		TargetLTVBps:       values[3].(uint64),
		CollateralToken:    values[4].(common.Address),
		DebtToken:          values[5].(common.Address),
		CollateralDecimals: values[6].(uint8),
		DebtDecimals:       values[7].(uint8),
		MaxSlippageBps:     values[8].(uint64),
		NumChunks:          values[9].(uint64),
	}
	if err := p.Validate(); err != nil {
		return Params{}, err
	}
	return p, nil
}

// ShouldExecuteStatic is the blob-level entry point used by the order
// manager: it decodes the static data and evaluates the trigger.
func (e *Engine) ShouldExecuteStatic(ctx context.Context, staticData []byte, owner common.Address) (bool, string, error) {
	p, err := DecodeParams(staticData)
	if err != nil {
		return false, "", err
	}
	return e.ShouldExecute(ctx, p, owner)
}

// CalculateExecutionStatic decodes the static data and computes the per-call
// amounts for the given iteration.
func (e *Engine) CalculateExecutionStatic(ctx context.Context, staticData []byte, owner common.Address, iteration uint64) (*big.Int, *big.Int, error) {
	p, err := DecodeParams(staticData)
	if err != nil {
		return nil, nil, err
	}
	return e.CalculateExecution(ctx, p, owner, iteration)
}

// IsCompleteStatic decodes the static data and reports completion.
func (e *Engine) IsCompleteStatic(ctx context.Context, staticData []byte, owner common.Address, iteration uint64) (bool, error) {
	p, err := DecodeParams(staticData)
	if err != nil {
		return false, err
	}
	return e.IsComplete(ctx, p, owner, iteration)
}
