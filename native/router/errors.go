package router

import "errors"

var (
	ErrUnknownOpcode        = errors.New("router: unknown opcode")
	ErrPayloadMalformed     = errors.New("router: instruction payload malformed")
	ErrSlotOutOfRange       = errors.New("router: slot reference outside produced range")
	ErrSlotWidthOverflow    = errors.New("router: slot value exceeds u128 width")
	ErrNegativeAmount       = errors.New("router: amount must be non-negative")
	ErrAmountOverflow       = errors.New("router: amount exceeds 256 bits")
	ErrArithmeticOverflow   = errors.New("router: slot arithmetic overflow")
	ErrArithmeticUnderflow  = errors.New("router: slot arithmetic underflow")
	ErrRatioOutOfRange      = errors.New("router: split ratio exceeds 10000 bps")
	ErrContinuationConsumed = errors.New("router: flash-loan continuation already resumed")
	ErrNotConfigured        = errors.New("router: engine not fully configured")
)
