package router

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"marginflow/native/gateway"
)

// Payloads are ABI-encoded with a fixed argument layout per instruction
// family, matching the calldata the on-chain interpreter consumes. Unused
// fields are encoded as zero values.

func mustType(signature string) abi.Type {
	t, err := abi.NewType(signature, "", nil)
	if err != nil {
		panic(err)
	}
	return t
}

var (
	uint8Type   = mustType("uint8")
	uint16Type  = mustType("uint16")
	uint64Type  = mustType("uint64")
	uint256Type = mustType("uint256")
	addressType = mustType("address")
	boolType    = mustType("bool")
	stringType  = mustType("string")
	bytesType   = mustType("bytes")
)

var routerOpArguments = abi.Arguments{
	{Name: "code", Type: uint8Type},
	{Name: "token", Type: addressType},
	{Name: "user", Type: addressType},
	{Name: "amount", Type: uint256Type},
	{Name: "hasInput", Type: boolType},
	{Name: "inputIndex", Type: uint16Type},
	{Name: "inputWidth", Type: uint8Type},
	{Name: "target", Type: stringType},
	{Name: "leftIndex", Type: uint16Type},
	{Name: "leftWidth", Type: uint8Type},
	{Name: "rightIndex", Type: uint16Type},
	{Name: "rightWidth", Type: uint8Type},
	{Name: "ratioBps", Type: uint64Type},
}

var lendingArguments = abi.Arguments{
	{Name: "op", Type: uint8Type},
	{Name: "token", Type: addressType},
	{Name: "user", Type: addressType},
	{Name: "amount", Type: uint256Type},
	{Name: "context", Type: bytesType},
	{Name: "hasInput", Type: boolType},
	{Name: "inputIndex", Type: uint16Type},
	{Name: "inputWidth", Type: uint8Type},
}

// EncodeRouterOp serialises a built-in op into an instruction payload.
func EncodeRouterOp(op RouterOp) ([]byte, error) {
	if !op.Code.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownOpcode, op.Code)
	}
	amount := op.Amount
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return nil, ErrNegativeAmount
	}
	return routerOpArguments.Pack(
		uint8(op.Code),
		op.Token,
		op.User,
		amount,
		op.HasInput,
		op.Input.Index,
		uint8(op.Input.Width),
		op.Target,
		op.Left.Index,
		uint8(op.Left.Width),
		op.Right.Index,
		uint8(op.Right.Width),
		op.RatioBps,
	)
}

// DecodeRouterOp parses an instruction payload back into a built-in op.
func DecodeRouterOp(payload []byte) (RouterOp, error) {
	values, err := routerOpArguments.Unpack(payload)
	if err != nil {
		return RouterOp{}, fmt.Errorf("%w: %v", ErrPayloadMalformed, err)
	}
	op := RouterOp{
		Code:     OpCode(values[0].(uint8)),
		Token:    values[1].(common.Address),
		User:     values[2].(common.Address),
		Amount:   values[3].(*big.Int),
		HasInput: values[4].(bool),
		Input:    SlotRef{Index: values[5].(uint16), Width: SlotWidth(values[6].(uint8))},
		Target:   values[7].(string),
		Left:     SlotRef{Index: values[8].(uint16), Width: SlotWidth(values[9].(uint8))},
		Right:    SlotRef{Index: values[10].(uint16), Width: SlotWidth(values[11].(uint8))},
		RatioBps: values[12].(uint64),
	}
	if !op.Code.Valid() {
		return RouterOp{}, fmt.Errorf("%w: %d", ErrUnknownOpcode, op.Code)
	}
	return op, nil
}

// EncodeLendingInstruction serialises a gateway dispatch payload.
func EncodeLendingInstruction(in LendingInstruction) ([]byte, error) {
	if !in.Op.Valid() {
		return nil, fmt.Errorf("%w: lending op %d", ErrPayloadMalformed, in.Op)
	}
	amount := in.Amount
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return nil, ErrNegativeAmount
	}
	context := in.Context
	if context == nil {
		context = []byte{}
	}
	return lendingArguments.Pack(
		uint8(in.Op),
		in.Token,
		in.User,
		amount,
		context,
		in.HasInput,
		in.Input.Index,
		uint8(in.Input.Width),
	)
}

// DecodeLendingInstruction parses a gateway dispatch payload.
func DecodeLendingInstruction(payload []byte) (LendingInstruction, error) {
	values, err := lendingArguments.Unpack(payload)
	if err != nil {
		return LendingInstruction{}, fmt.Errorf("%w: %v", ErrPayloadMalformed, err)
	}
	in := LendingInstruction{
		Op:       gateway.Op(values[0].(uint8)),
		Token:    values[1].(common.Address),
		User:     values[2].(common.Address),
		Amount:   values[3].(*big.Int),
		Context:  values[4].([]byte),
		HasInput: values[5].(bool),
		Input:    SlotRef{Index: values[6].(uint16), Width: SlotWidth(values[7].(uint8))},
	}
	if !in.Op.Valid() {
		return LendingInstruction{}, fmt.Errorf("%w: lending op %d", ErrPayloadMalformed, in.Op)
	}
	return in, nil
}

func mustBuiltin(op RouterOp) Instruction {
	payload, err := EncodeRouterOp(op)
	if err != nil {
		panic(err)
	}
	return Instruction{ProtocolName: BuiltinProtocol, Payload: payload}
}

// NewFlashLoan builds a flash-loan bracket opener against the named provider.
// Every instruction after it in the list becomes the callback body.
func NewFlashLoan(provider string, token common.Address, amount *big.Int) Instruction {
	return mustBuiltin(RouterOp{Code: OpFlashLoan, Target: provider, Token: token, Amount: amount})
}

// NewPullToken moves amount of token from the named party into the router.
func NewPullToken(token, from common.Address, amount *big.Int) Instruction {
	return mustBuiltin(RouterOp{Code: OpPullToken, Token: token, User: from, Amount: amount})
}

// NewPullTokenFromSlot pulls the amount held in a prior output slot.
func NewPullTokenFromSlot(token, from common.Address, ref SlotRef) Instruction {
	return mustBuiltin(RouterOp{Code: OpPullToken, Token: token, User: from, Input: ref, HasInput: true})
}

// NewPushToken moves amount of token from the router to the named party.
func NewPushToken(token, to common.Address, amount *big.Int) Instruction {
	return mustBuiltin(RouterOp{Code: OpPushToken, Token: token, User: to, Amount: amount})
}

// NewPushTokenFromSlot pushes the amount held in a prior output slot.
func NewPushTokenFromSlot(token, to common.Address, ref SlotRef) Instruction {
	return mustBuiltin(RouterOp{Code: OpPushToken, Token: token, User: to, Input: ref, HasInput: true})
}

// NewToOutput materialises a literal amount as a new output slot.
func NewToOutput(amount *big.Int) Instruction {
	return mustBuiltin(RouterOp{Code: OpToOutput, Amount: amount})
}

// NewApprove grants the named protocol's adapter an allowance over router
// funds for the amount held in a prior slot.
func NewApprove(protocol string, token common.Address, ref SlotRef) Instruction {
	return mustBuiltin(RouterOp{Code: OpApprove, Target: protocol, Token: token, Input: ref, HasInput: true})
}

// NewSplit partitions a prior slot into two new slots by a bps ratio.
func NewSplit(source SlotRef, ratioBps uint64) Instruction {
	return mustBuiltin(RouterOp{Code: OpSplit, Left: source, RatioBps: ratioBps})
}

// NewAdd sums two prior slots into a new slot.
func NewAdd(left, right SlotRef) Instruction {
	return mustBuiltin(RouterOp{Code: OpAdd, Left: left, Right: right})
}

// NewSubtract produces left minus right as a new slot.
func NewSubtract(left, right SlotRef) Instruction {
	return mustBuiltin(RouterOp{Code: OpSubtract, Left: left, Right: right})
}

// NewLending wraps a lending instruction for the given protocol.
func NewLending(protocol string, in LendingInstruction) (Instruction, error) {
	payload, err := EncodeLendingInstruction(in)
	if err != nil {
		return Instruction{}, err
	}
	return Instruction{ProtocolName: protocol, Payload: payload}, nil
}
