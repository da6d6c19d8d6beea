package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"marginflow/native/router"
	"marginflow/native/trigger"
	"marginflow/observability/metrics"
	"marginflow/settlement"
)

// TriggerEvaluator answers the three trigger questions against an order's
// static data. Satisfied by trigger.Engine.
type TriggerEvaluator interface {
	ShouldExecuteStatic(ctx context.Context, staticData []byte, owner common.Address) (bool, string, error)
	CalculateExecutionStatic(ctx context.Context, staticData []byte, owner common.Address, iteration uint64) (*big.Int, *big.Int, error)
	IsCompleteStatic(ctx context.Context, staticData []byte, owner common.Address, iteration uint64) (bool, error)
}

const defaultValidity = 5 * time.Minute

// Manager owns the order registry and state machine. Every mutation goes
// through one of its transitions; hooks are gated on the trampoline identity
// and the order's persisted hook cursor so settlement-network retries cannot
// double-run a fund move, even across a process restart.
type Manager struct {
	mu         sync.Mutex
	store      Store
	trigger    TriggerEvaluator
	router     *router.Engine
	domain     settlement.Domain
	trampoline common.Address
	validity   time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithValidity sets the tradeable-order expiry window.
func WithValidity(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.validity = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger installs a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager constructs an order manager. The trampoline address is the only
// identity allowed to invoke hooks.
func NewManager(store Store, trig TriggerEvaluator, engine *router.Engine, domain settlement.Domain, trampoline common.Address, opts ...Option) (*Manager, error) {
	if store == nil || trig == nil || engine == nil {
		return nil, errors.New("orders: store, trigger and router required")
	}
	m := &Manager{
		store:      store,
		trigger:    trig,
		router:     engine,
		domain:     domain,
		trampoline: trampoline,
		validity:   defaultValidity,
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

// Domain returns the settlement domain quotes are signed under.
func (m *Manager) Domain() settlement.Domain { return m.domain }

// CreateOrder registers a new standing order and returns its hash. A second
// creation with the same (user, salt) pair is rejected.
func (m *Manager) CreateOrder(ctx context.Context, params OrderParams) (common.Hash, error) {
	if err := params.Validate(); err != nil {
		return common.Hash{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	hash := HashOrder(params.User, params.Salt)
	if _, err := m.store.Get(hash); err == nil {
		return common.Hash{}, fmt.Errorf("%w: %s", ErrOrderExists, hash.Hex())
	} else if !errors.Is(err, ErrOrderNotFound) {
		return common.Hash{}, err
	}
	order := &Order{
		Params:    params,
		Status:    StatusActive,
		CreatedAt: m.now().UTC(),
	}
	if err := m.store.Put(order); err != nil {
		return common.Hash{}, err
	}
	m.logger.Info("order created",
		"hash", hash.Hex(),
		"user", params.User.Hex(),
		"max_iterations", params.MaxIterations)
	m.refreshActiveGauge()
	return hash, nil
}

// GetOrder loads an order by hash.
func (m *Manager) GetOrder(hash common.Hash) (*Order, error) {
	return m.store.Get(hash)
}

// Cancel moves an active order to Cancelled. Only the order's owner may
// cancel; the transition prevents future hook invocations but cannot unwind
// an in-flight run.
func (m *Manager) Cancel(caller, user common.Address, salt common.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if caller != user {
		return ErrUnauthorizedCaller
	}
	order, err := m.store.Get(HashOrder(user, salt))
	if err != nil {
		return err
	}
	if order.Status != StatusActive {
		return fmt.Errorf("%w: status %s", ErrOrderNotActive, order.Status)
	}
	order.Status = StatusCancelled
	if err := m.store.Put(order); err != nil {
		return err
	}
	m.logger.Info("order cancelled", "hash", order.Hash().Hex())
	m.refreshActiveGauge()
	return nil
}

// GetTradeableOrder derives the current order artifact from a registration
// payload. It is a pure read: repeated polling is side-effect free. The
// artifact carries a bucketed short expiry so identical polls inside one
// window agree on validTo.
func (m *Manager) GetTradeableOrder(ctx context.Context, staticInput []byte) (settlement.Order, error) {
	user, salt, err := DecodeStaticInput(staticInput)
	if err != nil {
		return settlement.Order{}, err
	}
	return m.TradeableOrderBySalt(ctx, user, salt)
}

// TradeableOrderBySalt derives the current order artifact for a (user, salt)
// pair.
func (m *Manager) TradeableOrderBySalt(ctx context.Context, user common.Address, salt common.Hash) (settlement.Order, error) {
	order, err := m.store.Get(HashOrder(user, salt))
	if err != nil {
		metrics.Orderflow().QuoteDerived("error")
		return settlement.Order{}, err
	}
	quote, err := m.deriveQuote(ctx, order)
	if err != nil {
		metrics.Orderflow().QuoteDerived("error")
		return settlement.Order{}, err
	}
	metrics.Orderflow().QuoteDerived("ok")
	return quote, nil
}

func (m *Manager) deriveQuote(ctx context.Context, order *Order) (settlement.Order, error) {
	if order.Status != StatusActive {
		return settlement.Order{}, fmt.Errorf("%w: status %s", ErrOrderNotActive, order.Status)
	}
	params := order.Params
	ok, reason, err := m.trigger.ShouldExecuteStatic(ctx, params.TriggerStaticData, params.User)
	if err != nil {
		return settlement.Order{}, err
	}
	if !ok {
		return settlement.Order{}, fmt.Errorf("orders: %s: %w", reason, trigger.ErrTriggerNotMet)
	}
	sell, minBuy, err := m.trigger.CalculateExecutionStatic(ctx, params.TriggerStaticData, params.User, order.IterationCount)
	if err != nil {
		return settlement.Order{}, err
	}
	kind := settlement.KindSell
	if params.IsKindBuy {
		kind = settlement.KindBuy
	}
	return settlement.Order{
		SellToken:         params.SellToken,
		BuyToken:          params.BuyToken,
		Receiver:          m.router.Self(),
		SellAmount:        sell,
		BuyAmount:         minBuy,
		ValidTo:           m.bucketedValidTo(),
		AppData:           params.AppDataHash,
		FeeAmount:         big.NewInt(0),
		Kind:              kind,
		PartiallyFillable: true,
		SellTokenBalance:  settlement.BalanceERC20,
		BuyTokenBalance:   settlement.BalanceERC20,
	}, nil
}

// bucketedValidTo rounds the expiry up to the next validity boundary so every
// poll within a window derives the identical artifact.
func (m *Manager) bucketedValidTo() uint32 {
	span := int64(m.validity / time.Second)
	if span <= 0 {
		span = int64(defaultValidity / time.Second)
	}
	return uint32((m.now().Unix()/span + 1) * span)
}

// IsValidSignature answers the settlement network's ERC-1271 query. The
// network treats "not valid yet" as a normal polling outcome, so every
// failure mode maps to a verdict value rather than an error.
func (m *Manager) IsValidSignature(ctx context.Context, digest common.Hash, signature []byte) Verdict {
	verdict := m.checkSignature(ctx, digest, signature)
	metrics.Orderflow().SignatureChecked(verdict.String())
	return verdict
}

func (m *Manager) checkSignature(ctx context.Context, digest common.Hash, signature []byte) Verdict {
	presented, user, salt, err := settlement.DecodeSignature(signature)
	if err != nil {
		return VerdictOrderMismatch
	}
	computed, err := settlement.SigningDigest(m.domain, presented)
	if err != nil {
		return VerdictOrderMismatch
	}
	if computed != digest {
		return VerdictHashMismatch
	}
	expected, err := m.TradeableOrderBySalt(ctx, user, salt)
	if err != nil {
		m.logger.Debug("signature check upstream failure", "err", err)
		return VerdictUpstreamFailure
	}
	if !ordersEqual(expected, presented) {
		return VerdictOrderMismatch
	}
	return VerdictOK
}

func ordersEqual(a, b settlement.Order) bool {
	return a.SellToken == b.SellToken &&
		a.BuyToken == b.BuyToken &&
		a.Receiver == b.Receiver &&
		a.SellAmount.Cmp(b.SellAmount) == 0 &&
		a.BuyAmount.Cmp(b.BuyAmount) == 0 &&
		a.ValidTo == b.ValidTo &&
		a.AppData == b.AppData &&
		a.FeeAmount.Cmp(b.FeeAmount) == 0 &&
		a.Kind == b.Kind &&
		a.PartiallyFillable == b.PartiallyFillable &&
		a.SellTokenBalance == b.SellTokenBalance &&
		a.BuyTokenBalance == b.BuyTokenBalance
}

// ExecutePreHookBySalt stages funds for the external fill by running the
// order's pre instructions. It runs at most once per iteration.
func (m *Manager) ExecutePreHookBySalt(ctx context.Context, caller, user common.Address, salt common.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if caller != m.trampoline {
		metrics.Orderflow().HookExecuted("pre", "unauthorized")
		return ErrUnauthorizedCaller
	}
	hash := HashOrder(user, salt)
	order, err := m.store.Get(hash)
	if err != nil {
		return err
	}
	if order.Status != StatusActive {
		return fmt.Errorf("%w: status %s", ErrOrderNotActive, order.Status)
	}
	if order.PreHookCount != order.IterationCount {
		metrics.Orderflow().HookExecuted("pre", "duplicate")
		return fmt.Errorf("%w: iteration %d", ErrIterationProcessed, order.IterationCount)
	}

	params := order.Params
	ok, reason, err := m.trigger.ShouldExecuteStatic(ctx, params.TriggerStaticData, params.User)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("orders: %s: %w", reason, trigger.ErrTriggerNotMet)
	}
	sell, minBuy, err := m.trigger.CalculateExecutionStatic(ctx, params.TriggerStaticData, params.User, order.IterationCount)
	if err != nil {
		return err
	}

	if _, err := m.router.Run(ctx, params.User, params.PreInstructions); err != nil {
		metrics.Orderflow().HookExecuted("pre", "error")
		return fmt.Errorf("orders: pre hook: %w", err)
	}
	order.PreHookCount = order.IterationCount + 1
	order.AuthorizedSell = sell
	order.AuthorizedBuy = minBuy
	if err := m.store.Put(order); err != nil {
		return err
	}
	metrics.Orderflow().HookExecuted("pre", "ok")
	m.logger.Info("pre hook executed",
		"hash", hash.Hex(),
		"iteration", order.IterationCount,
		"authorized_sell", sell.String())
	return nil
}

// ExecutePostHookBySalt settles the external fill: it measures the actual
// sold amount, seeds the two implicit output slots (slot 0 actual, slot 1
// authorized minus actual) and runs the order's post instructions, then
// advances the iteration and completes the order when nothing remains.
func (m *Manager) ExecutePostHookBySalt(ctx context.Context, caller, user common.Address, salt common.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if caller != m.trampoline {
		metrics.Orderflow().HookExecuted("post", "unauthorized")
		return ErrUnauthorizedCaller
	}
	hash := HashOrder(user, salt)
	order, err := m.store.Get(hash)
	if err != nil {
		return err
	}
	if order.Status != StatusActive {
		return fmt.Errorf("%w: status %s", ErrOrderNotActive, order.Status)
	}
	if order.PreHookCount != order.IterationCount+1 {
		metrics.Orderflow().HookExecuted("post", "duplicate")
		if order.PreHookCount == order.IterationCount && order.IterationCount > 0 {
			return fmt.Errorf("%w: iteration %d", ErrIterationProcessed, order.IterationCount-1)
		}
		return fmt.Errorf("%w: iteration %d", ErrHookOutOfSequence, order.IterationCount)
	}
	authorized := order.AuthorizedSell
	minBuy := order.AuthorizedBuy
	if authorized == nil || minBuy == nil {
		return fmt.Errorf("%w: iteration %d", ErrHookOutOfSequence, order.IterationCount)
	}

	params := order.Params
	ledger := m.router.Ledger()

	// The unsold remainder sits at the router's custody address. Whatever is
	// gone was filled.
	leftover := ledger.BalanceOf(params.SellToken, m.router.Self())
	if leftover.Cmp(authorized) > 0 {
		leftover = new(big.Int).Set(authorized)
	}
	actual := new(big.Int).Sub(authorized, leftover)

	// Pro-rate the minimum buy to the actual fill before checking what the
	// swap deposited.
	required := new(big.Int).Mul(minBuy, actual)
	if authorized.Sign() > 0 {
		required.Quo(required, authorized)
	}
	bought := ledger.BalanceOf(params.BuyToken, m.router.Self())
	if bought.Cmp(required) < 0 {
		metrics.Orderflow().HookExecuted("post", "error")
		return fmt.Errorf("%w: got %s, need %s", ErrInsufficientFill, bought, required)
	}

	slot0, overflow := uint256.FromBig(actual)
	if overflow {
		return fmt.Errorf("orders: actual fill overflows u256")
	}
	slot1, overflow := uint256.FromBig(leftover)
	if overflow {
		return fmt.Errorf("orders: leftover overflows u256")
	}
	if _, err := m.router.Run(ctx, params.User, params.PostInstructions, slot0, slot1); err != nil {
		metrics.Orderflow().HookExecuted("post", "error")
		return fmt.Errorf("orders: post hook: %w", err)
	}

	order.IterationCount++
	order.AuthorizedSell = nil
	order.AuthorizedBuy = nil

	done := order.IterationCount >= params.MaxIterations
	if !done {
		complete, err := m.trigger.IsCompleteStatic(ctx, params.TriggerStaticData, params.User, order.IterationCount)
		if err != nil {
			m.logger.Warn("completion check failed, order stays active", "hash", hash.Hex(), "err", err)
		} else {
			done = complete
		}
	}
	if done {
		order.Status = StatusCompleted
	}
	if err := m.store.Put(order); err != nil {
		return err
	}
	metrics.Orderflow().HookExecuted("post", "ok")
	m.logger.Info("post hook executed",
		"hash", hash.Hex(),
		"iteration", order.IterationCount,
		"actual_sold", actual.String(),
		"status", order.Status.String())
	m.refreshActiveGauge()
	return nil
}

func (m *Manager) refreshActiveGauge() {
	all, err := m.store.List()
	if err != nil {
		return
	}
	active := 0
	for _, order := range all {
		if order.Status == StatusActive {
			active++
		}
	}
	metrics.Orderflow().SetActiveOrders(active)
}
