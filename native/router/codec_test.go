package router

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"marginflow/native/gateway"
)

func TestRouterOpRoundTrip(t *testing.T) {
	op := RouterOp{
		Code:     OpPushToken,
		Token:    common.HexToAddress("0x01"),
		User:     common.HexToAddress("0x02"),
		Amount:   big.NewInt(123456789),
		Input:    SlotRef{Index: 7, Width: WidthU128},
		HasInput: true,
		Target:   "aavev3",
		Left:     SlotRef{Index: 1},
		Right:    SlotRef{Index: 2, Width: WidthU128},
		RatioBps: 2500,
	}
	payload, err := EncodeRouterOp(op)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeRouterOp(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Code != op.Code || decoded.Token != op.Token || decoded.User != op.User {
		t.Fatalf("identity fields mangled: %+v", decoded)
	}
	if decoded.Amount.Cmp(op.Amount) != 0 {
		t.Fatalf("amount mangled: %s", decoded.Amount)
	}
	if decoded.Input != op.Input || !decoded.HasInput {
		t.Fatalf("input ref mangled: %+v", decoded.Input)
	}
	if decoded.Target != op.Target || decoded.Left != op.Left || decoded.Right != op.Right || decoded.RatioBps != op.RatioBps {
		t.Fatalf("op-specific fields mangled: %+v", decoded)
	}
}

func TestLendingInstructionRoundTrip(t *testing.T) {
	in := LendingInstruction{
		Op:       gateway.OpBorrow,
		Token:    common.HexToAddress("0x0a"),
		User:     common.HexToAddress("0x0b"),
		Amount:   big.NewInt(42),
		Context:  []byte{0xde, 0xad},
		Input:    SlotRef{Index: 3, Width: WidthU256},
		HasInput: true,
	}
	payload, err := EncodeLendingInstruction(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeLendingInstruction(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Op != in.Op || decoded.Token != in.Token || decoded.User != in.User {
		t.Fatalf("identity fields mangled: %+v", decoded)
	}
	if decoded.Amount.Cmp(in.Amount) != 0 || !bytes.Equal(decoded.Context, in.Context) {
		t.Fatalf("amount or context mangled")
	}
	if decoded.Input != in.Input || !decoded.HasInput {
		t.Fatalf("input ref mangled")
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := DecodeRouterOp([]byte{0x01, 0x02}); !errors.Is(err, ErrPayloadMalformed) {
		t.Fatalf("expected ErrPayloadMalformed, got %v", err)
	}
	if _, err := DecodeLendingInstruction(nil); !errors.Is(err, ErrPayloadMalformed) {
		t.Fatalf("expected ErrPayloadMalformed, got %v", err)
	}
}

func TestEncodeRejectsInvalidOpcode(t *testing.T) {
	if _, err := EncodeRouterOp(RouterOp{Code: OpCode(99)}); !errors.Is(err, ErrUnknownOpcode) {
		t.Fatalf("expected ErrUnknownOpcode, got %v", err)
	}
	if _, err := EncodeRouterOp(RouterOp{Code: OpToOutput, Amount: big.NewInt(-1)}); !errors.Is(err, ErrNegativeAmount) {
		t.Fatalf("expected ErrNegativeAmount, got %v", err)
	}
}
