package flashloan

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"marginflow/native/bank"
)

var (
	weth     = common.HexToAddress("0x00000000000000000000000000000000000000e0")
	poolAddr = common.HexToAddress("0x00000000000000000000000000000000000000f0")
	borrower = common.HexToAddress("0x0000000000000000000000000000000000000011")
)

// repayingCont moves principal plus premium back to the pool when resumed.
type repayingCont struct {
	ledger *bank.Ledger
	token  common.Address
	from   common.Address
	to     common.Address
	amount *big.Int
	calls  int
}

func (c *repayingCont) Resume(context.Context) error {
	c.calls++
	return c.ledger.Transfer(c.token, c.from, c.to, c.amount)
}

type idleCont struct{ calls int }

func (c *idleCont) Resume(context.Context) error {
	c.calls++
	return nil
}

func newFundedLedger(t *testing.T, liquidity int64) *bank.Ledger {
	t.Helper()
	ledger := bank.NewLedger()
	if err := ledger.Mint(weth, poolAddr, big.NewInt(liquidity)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	return ledger
}

func TestSharedPoolV2RoundTrip(t *testing.T) {
	ledger := newFundedLedger(t, 1_000_000)
	provider := NewSharedPoolV2("poolv2", poolAddr, ledger, 9)

	principal := big.NewInt(100_000)
	premium := provider.Premium(principal)
	if premium.Cmp(big.NewInt(90)) != 0 {
		t.Fatalf("expected premium 90, got %s", premium)
	}

	// Seed the borrower with enough to cover the premium.
	if err := ledger.Mint(weth, borrower, premium); err != nil {
		t.Fatalf("mint premium: %v", err)
	}
	cont := &repayingCont{
		ledger: ledger,
		token:  weth,
		from:   borrower,
		to:     provider.RepayTo(),
		amount: new(big.Int).Add(principal, premium),
	}
	if err := provider.Borrow(context.Background(), weth, principal, borrower, cont); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if cont.calls != 1 {
		t.Fatalf("expected continuation resumed once, got %d", cont.calls)
	}
	if got := ledger.BalanceOf(weth, poolAddr); got.Cmp(big.NewInt(1_000_090)) != 0 {
		t.Fatalf("expected pool balance grown by premium, got %s", got)
	}
}

func TestSharedPoolV3ShortfallDetected(t *testing.T) {
	ledger := newFundedLedger(t, 500)
	provider := NewSharedPoolV3("poolv3", poolAddr, ledger, 5)

	cont := &idleCont{}
	err := provider.Borrow(context.Background(), weth, big.NewInt(400), borrower, cont)
	if !errors.Is(err, ErrRepaymentShortfall) {
		t.Fatalf("expected ErrRepaymentShortfall, got %v", err)
	}
	if cont.calls != 1 {
		t.Fatalf("expected continuation to run before the repayment check")
	}
}

func TestSharedPoolRejectsOversizedDraw(t *testing.T) {
	ledger := newFundedLedger(t, 100)
	provider := NewSharedPoolV3("poolv3", poolAddr, ledger, 5)
	err := provider.Borrow(context.Background(), weth, big.NewInt(101), borrower, &idleCont{})
	if !errors.Is(err, ErrInsufficientLiquidity) {
		t.Fatalf("expected ErrInsufficientLiquidity, got %v", err)
	}
}

func TestCreditDelegatorEnforcesLine(t *testing.T) {
	ledger := newFundedLedger(t, 10_000)
	provider := NewCreditDelegator("delegated", poolAddr, ledger)

	if err := provider.Borrow(context.Background(), weth, big.NewInt(10), borrower, &idleCont{}); !errors.Is(err, ErrCreditLineExceeded) {
		t.Fatalf("expected ErrCreditLineExceeded without a line, got %v", err)
	}

	provider.DelegateCredit(weth, borrower, big.NewInt(1_000))
	cont := &repayingCont{ledger: ledger, token: weth, from: borrower, to: provider.RepayTo(), amount: big.NewInt(1_000)}
	if err := provider.Borrow(context.Background(), weth, big.NewInt(1_000), borrower, cont); err != nil {
		t.Fatalf("borrow within line: %v", err)
	}
	if provider.Premium(big.NewInt(1_000)).Sign() != 0 {
		t.Fatalf("expected zero premium for delegated credit")
	}
}

func TestVaultProviderZeroFee(t *testing.T) {
	ledger := newFundedLedger(t, 2_000)
	provider := NewVaultProvider("vault", poolAddr, ledger)

	cont := &repayingCont{ledger: ledger, token: weth, from: borrower, to: provider.RepayTo(), amount: big.NewInt(2_000)}
	if err := provider.Borrow(context.Background(), weth, big.NewInt(2_000), borrower, cont); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if got := ledger.BalanceOf(weth, poolAddr); got.Cmp(big.NewInt(2_000)) != 0 {
		t.Fatalf("expected pool made whole, got %s", got)
	}
}

func TestRegistryResolution(t *testing.T) {
	ledger := newFundedLedger(t, 1)
	reg := NewRegistry()
	if err := reg.Register(NewVaultProvider("vault", poolAddr, ledger)); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register(NewVaultProvider("Vault", poolAddr, ledger)); !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}
	if _, err := reg.Resolve("missing"); !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
}
