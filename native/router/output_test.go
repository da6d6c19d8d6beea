package router

import (
	"errors"
	"math/big"
	"testing"

	"github.com/holiman/uint256"
)

func TestResolveRejectsForwardReference(t *testing.T) {
	buf := NewOutputBuffer()
	buf.Append(uint256.NewInt(10))
	if _, err := buf.Resolve(SlotRef{Index: 1}); !errors.Is(err, ErrSlotOutOfRange) {
		t.Fatalf("expected ErrSlotOutOfRange, got %v", err)
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	buf := NewOutputBuffer()
	buf.Append(uint256.NewInt(777))
	first, err := buf.Resolve(SlotRef{Index: 0})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	// Mutating the returned copy must not affect subsequent resolutions.
	first.SetUint64(1)
	second, err := buf.Resolve(SlotRef{Index: 0})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if second.Uint64() != 777 {
		t.Fatalf("expected stable slot value 777, got %d", second.Uint64())
	}
}

func TestNarrowWidthRejectsWideValue(t *testing.T) {
	wide := new(big.Int).Lsh(big.NewInt(1), 200)
	buf := NewOutputBuffer()
	if _, err := buf.AppendBig(wide); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := buf.Resolve(SlotRef{Index: 0, Width: WidthU128}); !errors.Is(err, ErrSlotWidthOverflow) {
		t.Fatalf("expected ErrSlotWidthOverflow, got %v", err)
	}
	if _, err := buf.Resolve(SlotRef{Index: 0, Width: WidthU256}); err != nil {
		t.Fatalf("wide ref should resolve, got %v", err)
	}
}

func TestAppendBigRejectsNegativeAndOverflow(t *testing.T) {
	buf := NewOutputBuffer()
	if _, err := buf.AppendBig(big.NewInt(-5)); !errors.Is(err, ErrNegativeAmount) {
		t.Fatalf("expected ErrNegativeAmount, got %v", err)
	}
	huge := new(big.Int).Lsh(big.NewInt(1), 257)
	if _, err := buf.AppendBig(huge); !errors.Is(err, ErrAmountOverflow) {
		t.Fatalf("expected ErrAmountOverflow, got %v", err)
	}
}

func TestSeededBuffer(t *testing.T) {
	buf := NewOutputBuffer(uint256.NewInt(11), uint256.NewInt(22))
	if buf.Len() != 2 {
		t.Fatalf("expected 2 seeded slots, got %d", buf.Len())
	}
	values := buf.Values()
	if values[0].Int64() != 11 || values[1].Int64() != 22 {
		t.Fatalf("unexpected seeded values: %v", values)
	}
}
