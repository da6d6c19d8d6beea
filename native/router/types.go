package router

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"marginflow/native/gateway"
)

// BuiltinProtocol is the reserved protocol name selecting the router's own
// op set. Any other name dispatches to a registered gateway adapter.
const BuiltinProtocol = "router"

// Instruction is one step of a run: a protocol name plus the ABI-encoded
// payload that protocol understands.
type Instruction struct {
	ProtocolName string `json:"protocolName"`
	Payload      []byte `json:"payload"`
}

// OpCode tags the built-in router operations.
type OpCode uint8

const (
	OpFlashLoan OpCode = iota
	OpPullToken
	OpPushToken
	OpToOutput
	OpApprove
	OpSplit
	OpAdd
	OpSubtract
)

var opCodeNames = map[OpCode]string{
	OpFlashLoan: "flash_loan",
	OpPullToken: "pull_token",
	OpPushToken: "push_token",
	OpToOutput:  "to_output",
	OpApprove:   "approve",
	OpSplit:     "split",
	OpAdd:       "add",
	OpSubtract:  "subtract",
}

// Valid reports whether the opcode is part of the fixed op set.
func (c OpCode) Valid() bool {
	_, ok := opCodeNames[c]
	return ok
}

func (c OpCode) String() string {
	if name, ok := opCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("opcode(%d)", uint8(c))
}

// SlotWidth constrains how wide a referenced output slot may be. Narrow refs
// exist because several venue payloads truncate amounts to 128 bits.
type SlotWidth uint8

const (
	WidthU256 SlotWidth = iota
	WidthU128
)

// Valid reports whether the width tag is recognised.
func (w SlotWidth) Valid() bool {
	return w == WidthU256 || w == WidthU128
}

// SlotRef points at the output produced by an earlier instruction in the same
// run. It is a lookup key, never an ownership relation; resolution checks that
// the index is inside the produced range.
type SlotRef struct {
	Index uint16    `json:"index"`
	Width SlotWidth `json:"width"`
}

// RouterOp is the decoded form of a built-in instruction payload. Fields
// beyond Code are op-specific; unused ones stay zero.
type RouterOp struct {
	Code   OpCode
	Token  common.Address
	User   common.Address
	Amount *big.Int
	// Input references a prior slot as the amount source for PullToken,
	// PushToken and Approve. When HasInput is false the literal Amount is
	// used instead; the distinction is a run-time tag.
	Input    SlotRef
	HasInput bool
	// Target names the flash-loan provider (FlashLoan) or the protocol whose
	// adapter receives the allowance (Approve).
	Target string
	// Left and Right are the operands of Add and Subtract; Left is also the
	// source slot of Split.
	Left  SlotRef
	Right SlotRef
	// RatioBps partitions the Split source into (value*ratio/10000, rest).
	RatioBps uint64
}

// LendingInstruction is the decoded form of a gateway dispatch payload.
type LendingInstruction struct {
	Op       gateway.Op
	Token    common.Address
	User     common.Address
	Amount   *big.Int
	Context  []byte
	Input    SlotRef
	HasInput bool
}
