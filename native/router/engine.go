package router

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"marginflow/native/bank"
	"marginflow/native/flashloan"
	"marginflow/native/gateway"
	"marginflow/observability/metrics"
)

var splitDenominator = uint256.NewInt(10_000)

// Engine executes instruction lists atomically against a shared output
// buffer. Token movements go through the journaled ledger; a failing
// instruction reverts every balance change of the run. The engine itself is
// stateless between runs.
type Engine struct {
	self     common.Address
	ledger   *bank.Ledger
	gateways *gateway.Registry
	flash    *flashloan.Registry
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger installs a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine constructs a router engine. The self address is the identity that
// holds interim custody of funds between pull and push steps.
func NewEngine(self common.Address, ledger *bank.Ledger, gateways *gateway.Registry, flash *flashloan.Registry, opts ...Option) (*Engine, error) {
	if ledger == nil || gateways == nil || flash == nil {
		return nil, ErrNotConfigured
	}
	e := &Engine{
		self:     self,
		ledger:   ledger,
		gateways: gateways,
		flash:    flash,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e, nil
}

// Self returns the router's funds-holding identity.
func (e *Engine) Self() common.Address { return e.self }

// Ledger exposes the funds plane the engine executes against.
func (e *Engine) Ledger() *bank.Ledger { return e.ledger }

// Run executes the instruction list in order. Seed values become the first
// output slots before any instruction executes. On any failure the entire
// run's balance mutations are reverted and the buffer is discarded.
func (e *Engine) Run(ctx context.Context, caller common.Address, instructions []Instruction, seed ...*uint256.Int) (*OutputBuffer, error) {
	if e == nil || e.ledger == nil {
		return nil, ErrNotConfigured
	}
	snapshot := e.ledger.Snapshot()
	buf := NewOutputBuffer(seed...)
	if err := e.exec(ctx, caller, instructions, buf); err != nil {
		e.ledger.RevertTo(snapshot)
		metrics.Orderflow().RouterRunFailed()
		return nil, err
	}
	metrics.Orderflow().RouterRunCompleted(len(instructions))
	return buf, nil
}

// exec runs instructions against the shared buffer. It is re-entered by
// flash-loan continuations with the remaining segment of the original list.
func (e *Engine) exec(ctx context.Context, caller common.Address, instructions []Instruction, buf *OutputBuffer) error {
	for i, instr := range instructions {
		if err := ctx.Err(); err != nil {
			return err
		}
		if instr.ProtocolName == BuiltinProtocol {
			op, err := DecodeRouterOp(instr.Payload)
			if err != nil {
				return fmt.Errorf("instruction %d: %w", i, err)
			}
			if op.Code == OpFlashLoan {
				// The bracket consumes every remaining instruction as the
				// provider callback body; nothing executes after Borrow
				// returns.
				return e.openBracket(ctx, caller, op, instructions[i+1:], buf)
			}
			if err := e.execBuiltin(op, buf); err != nil {
				return fmt.Errorf("instruction %d (%s): %w", i, op.Code, err)
			}
			metrics.Orderflow().InstructionExecuted(op.Code.String())
			continue
		}
		if err := e.dispatch(ctx, instr, buf); err != nil {
			return fmt.Errorf("instruction %d (%s): %w", i, instr.ProtocolName, err)
		}
		metrics.Orderflow().InstructionExecuted(instr.ProtocolName)
	}
	return nil
}

func (e *Engine) openBracket(ctx context.Context, caller common.Address, op RouterOp, remaining []Instruction, buf *OutputBuffer) error {
	provider, err := e.flash.Resolve(op.Target)
	if err != nil {
		return err
	}
	cont := &continuation{engine: e, caller: caller, remaining: remaining, buf: buf}
	e.logger.Debug("opening flash-loan bracket",
		"provider", provider.Name(),
		"token", op.Token.Hex(),
		"amount", op.Amount.String(),
		"body_len", len(remaining))
	metrics.Orderflow().InstructionExecuted(OpFlashLoan.String())
	return provider.Borrow(ctx, op.Token, op.Amount, e.self, cont)
}

// continuation carries the resumable remainder of a run across the provider
// trust boundary. The provider may resume it exactly once.
type continuation struct {
	engine    *Engine
	caller    common.Address
	remaining []Instruction
	buf       *OutputBuffer
	resumed   bool
}

func (c *continuation) Resume(ctx context.Context) error {
	if c.resumed {
		return ErrContinuationConsumed
	}
	c.resumed = true
	return c.engine.exec(ctx, c.caller, c.remaining, c.buf)
}

func (e *Engine) execBuiltin(op RouterOp, buf *OutputBuffer) error {
	switch op.Code {
	case OpPullToken:
		amount, err := e.resolveAmount(op, buf)
		if err != nil {
			return err
		}
		if err := e.ledger.Transfer(op.Token, op.User, e.self, amount); err != nil {
			return err
		}
		_, err = buf.AppendBig(amount)
		return err
	case OpPushToken:
		amount, err := e.resolveAmount(op, buf)
		if err != nil {
			return err
		}
		if err := e.ledger.Transfer(op.Token, e.self, op.User, amount); err != nil {
			return err
		}
		_, err = buf.AppendBig(amount)
		return err
	case OpToOutput:
		_, err := buf.AppendBig(op.Amount)
		return err
	case OpApprove:
		amount, err := e.resolveAmount(op, buf)
		if err != nil {
			return err
		}
		adapter, err := e.gateways.Resolve(op.Target)
		if err != nil {
			return err
		}
		return e.ledger.Approve(op.Token, e.self, adapter.Spender(), amount)
	case OpSplit:
		if op.RatioBps > 10_000 {
			return ErrRatioOutOfRange
		}
		source, err := buf.Resolve(op.Left)
		if err != nil {
			return err
		}
		first := new(uint256.Int).Mul(source, uint256.NewInt(op.RatioBps))
		first.Div(first, splitDenominator)
		second := new(uint256.Int).Sub(source, first)
		buf.Append(first)
		buf.Append(second)
		return nil
	case OpAdd:
		left, err := buf.Resolve(op.Left)
		if err != nil {
			return err
		}
		right, err := buf.Resolve(op.Right)
		if err != nil {
			return err
		}
		sum, overflow := new(uint256.Int).AddOverflow(left, right)
		if overflow {
			return ErrArithmeticOverflow
		}
		buf.Append(sum)
		return nil
	case OpSubtract:
		left, err := buf.Resolve(op.Left)
		if err != nil {
			return err
		}
		right, err := buf.Resolve(op.Right)
		if err != nil {
			return err
		}
		if right.Gt(left) {
			return ErrArithmeticUnderflow
		}
		buf.Append(new(uint256.Int).Sub(left, right))
		return nil
	default:
		return fmt.Errorf("%w: %d", ErrUnknownOpcode, op.Code)
	}
}

func (e *Engine) dispatch(ctx context.Context, instr Instruction, buf *OutputBuffer) error {
	in, err := DecodeLendingInstruction(instr.Payload)
	if err != nil {
		return err
	}
	adapter, err := e.gateways.Resolve(instr.ProtocolName)
	if err != nil {
		return err
	}
	amount := in.Amount
	if in.HasInput {
		amount, err = buf.ResolveBig(in.Input)
		if err != nil {
			return err
		}
	}
	result, err := adapter.Execute(ctx, in.Op, gateway.Call{
		Token:   in.Token,
		User:    in.User,
		Amount:  amount,
		Context: in.Context,
	})
	if err != nil {
		return err
	}
	if result != nil {
		if _, err := buf.AppendBig(result); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) resolveAmount(op RouterOp, buf *OutputBuffer) (*big.Int, error) {
	if op.HasInput {
		return buf.ResolveBig(op.Input)
	}
	if op.Amount == nil || op.Amount.Sign() < 0 {
		return nil, ErrNegativeAmount
	}
	return op.Amount, nil
}
