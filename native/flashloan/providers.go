package flashloan

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"marginflow/native/bank"
)

var basisPoints = big.NewInt(10_000)

// poolState holds the funds-plane wiring shared by every provider flavour.
type poolState struct {
	name   string
	pool   common.Address
	ledger *bank.Ledger
}

func (p poolState) Name() string { return p.name }

func (p poolState) RepayTo() common.Address { return p.pool }

func (p poolState) checkAndLend(token common.Address, amount *big.Int, beneficiary common.Address) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	before := p.ledger.BalanceOf(token, p.pool)
	if before.Cmp(amount) < 0 {
		return nil, ErrInsufficientLiquidity
	}
	if err := p.ledger.Transfer(token, p.pool, beneficiary, amount); err != nil {
		return nil, err
	}
	return before, nil
}

func (p poolState) confirmRepayment(token common.Address, before, premium *big.Int) error {
	owed := new(big.Int).Add(before, premium)
	after := p.ledger.BalanceOf(token, p.pool)
	if after.Cmp(owed) < 0 {
		return fmt.Errorf("%w: provider %s short %s", ErrRepaymentShortfall, p.name, new(big.Int).Sub(owed, after))
	}
	return nil
}

// SharedPoolV2 models the older shared-pool source whose callback re-enters
// with parallel asset/amount/premium arrays even for a single-asset loan.
type SharedPoolV2 struct {
	poolState
	premiumBps uint64
}

// NewSharedPoolV2 constructs the v2 shared-pool provider.
func NewSharedPoolV2(name string, pool common.Address, ledger *bank.Ledger, premiumBps uint64) *SharedPoolV2 {
	return &SharedPoolV2{poolState: poolState{name: name, pool: pool, ledger: ledger}, premiumBps: premiumBps}
}

func (p *SharedPoolV2) Premium(amount *big.Int) *big.Int {
	return bpsShare(amount, p.premiumBps)
}

func (p *SharedPoolV2) Borrow(ctx context.Context, token common.Address, amount *big.Int, beneficiary common.Address, cont Continuation) error {
	if cont == nil {
		return ErrNilContinuation
	}
	before, err := p.checkAndLend(token, amount, beneficiary)
	if err != nil {
		return err
	}
	premium := p.Premium(amount)
	// v2 callback shape: arrays of one.
	executeOperation := func(assets []common.Address, amounts, premiums []*big.Int) error {
		return cont.Resume(ctx)
	}
	if err := executeOperation([]common.Address{token}, []*big.Int{amount}, []*big.Int{premium}); err != nil {
		return err
	}
	return p.confirmRepayment(token, before, premium)
}

// SharedPoolV3 models the newer shared-pool source with a scalar callback.
type SharedPoolV3 struct {
	poolState
	premiumBps uint64
}

// NewSharedPoolV3 constructs the v3 shared-pool provider.
func NewSharedPoolV3(name string, pool common.Address, ledger *bank.Ledger, premiumBps uint64) *SharedPoolV3 {
	return &SharedPoolV3{poolState: poolState{name: name, pool: pool, ledger: ledger}, premiumBps: premiumBps}
}

func (p *SharedPoolV3) Premium(amount *big.Int) *big.Int {
	return bpsShare(amount, p.premiumBps)
}

func (p *SharedPoolV3) Borrow(ctx context.Context, token common.Address, amount *big.Int, beneficiary common.Address, cont Continuation) error {
	if cont == nil {
		return ErrNilContinuation
	}
	before, err := p.checkAndLend(token, amount, beneficiary)
	if err != nil {
		return err
	}
	premium := p.Premium(amount)
	receiveSimpleFlashLoan := func(asset common.Address, amount, premium *big.Int) error {
		return cont.Resume(ctx)
	}
	if err := receiveSimpleFlashLoan(token, amount, premium); err != nil {
		return err
	}
	return p.confirmRepayment(token, before, premium)
}

// CreditDelegator models the credit-delegation source: no premium, but the
// beneficiary must have a pre-registered delegated line covering the draw.
type CreditDelegator struct {
	poolState
	lines map[common.Address]map[common.Address]*big.Int
}

// NewCreditDelegator constructs the credit-delegation provider.
func NewCreditDelegator(name string, pool common.Address, ledger *bank.Ledger) *CreditDelegator {
	return &CreditDelegator{
		poolState: poolState{name: name, pool: pool, ledger: ledger},
		lines:     make(map[common.Address]map[common.Address]*big.Int),
	}
}

// DelegateCredit records the maximum single-bracket draw the borrower may make
// against the pool for the given token.
func (p *CreditDelegator) DelegateCredit(token, borrower common.Address, limit *big.Int) {
	byBorrower, ok := p.lines[token]
	if !ok {
		byBorrower = make(map[common.Address]*big.Int)
		p.lines[token] = byBorrower
	}
	byBorrower[borrower] = new(big.Int).Set(limit)
}

func (p *CreditDelegator) Premium(*big.Int) *big.Int { return big.NewInt(0) }

func (p *CreditDelegator) Borrow(ctx context.Context, token common.Address, amount *big.Int, beneficiary common.Address, cont Continuation) error {
	if cont == nil {
		return ErrNilContinuation
	}
	line := p.lines[token][beneficiary]
	if line == nil || line.Cmp(amount) < 0 {
		return ErrCreditLineExceeded
	}
	before, err := p.checkAndLend(token, amount, beneficiary)
	if err != nil {
		return err
	}
	onDebtDrawn := func(asset, onBehalfOf common.Address, amount *big.Int) error {
		return cont.Resume(ctx)
	}
	if err := onDebtDrawn(token, beneficiary, amount); err != nil {
		return err
	}
	return p.confirmRepayment(token, before, big.NewInt(0))
}

// VaultProvider models the vault source whose callback receives token, amount
// and fee arrays plus opaque user data, and which charges no fee.
type VaultProvider struct {
	poolState
}

// NewVaultProvider constructs the vault-backed provider.
func NewVaultProvider(name string, pool common.Address, ledger *bank.Ledger) *VaultProvider {
	return &VaultProvider{poolState: poolState{name: name, pool: pool, ledger: ledger}}
}

func (p *VaultProvider) Premium(*big.Int) *big.Int { return big.NewInt(0) }

func (p *VaultProvider) Borrow(ctx context.Context, token common.Address, amount *big.Int, beneficiary common.Address, cont Continuation) error {
	if cont == nil {
		return ErrNilContinuation
	}
	before, err := p.checkAndLend(token, amount, beneficiary)
	if err != nil {
		return err
	}
	receiveFlashLoan := func(tokens []common.Address, amounts, feeAmounts []*big.Int, userData []byte) error {
		return cont.Resume(ctx)
	}
	if err := receiveFlashLoan([]common.Address{token}, []*big.Int{amount}, []*big.Int{big.NewInt(0)}, nil); err != nil {
		return err
	}
	return p.confirmRepayment(token, before, big.NewInt(0))
}

func bpsShare(amount *big.Int, bps uint64) *big.Int {
	if amount == nil || amount.Sign() <= 0 || bps == 0 {
		return big.NewInt(0)
	}
	share := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	return share.Quo(share, basisPoints)
}
