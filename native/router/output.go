package router

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// OutputBuffer is the append-only arena of values produced during one run.
// Slot indices are positions in append order; a slot becomes visible only to
// instructions executed after the one that produced it. The buffer is owned
// exclusively by its run and discarded when the run ends.
type OutputBuffer struct {
	slots []uint256.Int
}

// NewOutputBuffer constructs a buffer, optionally pre-seeded. The post-hook
// path seeds two slots (actual sell amount and leftover) before its
// instructions execute.
func NewOutputBuffer(seed ...*uint256.Int) *OutputBuffer {
	buf := &OutputBuffer{}
	for _, v := range seed {
		buf.Append(v)
	}
	return buf
}

// Len returns the number of produced slots.
func (b *OutputBuffer) Len() int {
	if b == nil {
		return 0
	}
	return len(b.slots)
}

// Append stores a copy of the value as the next slot and returns its index.
func (b *OutputBuffer) Append(v *uint256.Int) int {
	var slot uint256.Int
	if v != nil {
		slot.Set(v)
	}
	b.slots = append(b.slots, slot)
	return len(b.slots) - 1
}

// AppendBig converts a non-negative big integer into a slot.
func (b *OutputBuffer) AppendBig(v *big.Int) (int, error) {
	if v == nil || v.Sign() < 0 {
		return 0, ErrNegativeAmount
	}
	value, overflow := uint256.FromBig(v)
	if overflow {
		return 0, ErrAmountOverflow
	}
	return b.Append(value), nil
}

// Resolve returns a copy of the referenced slot value. The index must point
// strictly inside the produced range, and a u128-tagged reference rejects
// values wider than 128 bits instead of truncating.
func (b *OutputBuffer) Resolve(ref SlotRef) (*uint256.Int, error) {
	if b == nil || int(ref.Index) >= len(b.slots) {
		return nil, fmt.Errorf("%w: slot %d of %d", ErrSlotOutOfRange, ref.Index, b.Len())
	}
	if !ref.Width.Valid() {
		return nil, fmt.Errorf("%w: width tag %d", ErrPayloadMalformed, ref.Width)
	}
	value := new(uint256.Int).Set(&b.slots[ref.Index])
	if ref.Width == WidthU128 && value.BitLen() > 128 {
		return nil, fmt.Errorf("%w: slot %d", ErrSlotWidthOverflow, ref.Index)
	}
	return value, nil
}

// ResolveBig resolves a slot reference into a big integer.
func (b *OutputBuffer) ResolveBig(ref SlotRef) (*big.Int, error) {
	value, err := b.Resolve(ref)
	if err != nil {
		return nil, err
	}
	return value.ToBig(), nil
}

// Values returns copies of every slot for inspection by the caller.
func (b *OutputBuffer) Values() []*big.Int {
	if b == nil {
		return nil
	}
	out := make([]*big.Int, len(b.slots))
	for i := range b.slots {
		out[i] = b.slots[i].ToBig()
	}
	return out
}
