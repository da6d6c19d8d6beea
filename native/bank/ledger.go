package bank

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInvalidAmount         = errors.New("bank: amount must be non-negative")
	ErrInsufficientBalance   = errors.New("bank: insufficient balance")
	ErrInsufficientAllowance = errors.New("bank: insufficient allowance")
	ErrUnknownToken          = errors.New("bank: token decimals not registered")
)

type balanceKey struct {
	token  common.Address
	holder common.Address
}

type allowanceKey struct {
	token   common.Address
	owner   common.Address
	spender common.Address
}

type journalEntry struct {
	balance     *balanceKey
	allowance   *allowanceKey
	prior       *big.Int
	priorExists bool
}

// Ledger models ERC20-style balances and allowances for the in-process funds
// plane. Mutations are journaled so a caller can take a snapshot before a
// multi-step run and revert every change if any step fails. The ledger itself
// is not synchronised; each top-level run owns it exclusively for the duration
// of the call.
type Ledger struct {
	balances   map[balanceKey]*big.Int
	allowances map[allowanceKey]*big.Int
	decimals   map[common.Address]uint8
	journal    []journalEntry
}

// NewLedger constructs an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		balances:   make(map[balanceKey]*big.Int),
		allowances: make(map[allowanceKey]*big.Int),
		decimals:   make(map[common.Address]uint8),
	}
}

// RegisterToken records the decimal precision reported by the token itself.
// Trigger parameters carry their own stored decimals; the two are compared at
// quote time and a disagreement is surfaced rather than papered over.
func (l *Ledger) RegisterToken(token common.Address, decimals uint8) {
	if l == nil {
		return
	}
	l.decimals[token] = decimals
}

// Decimals returns the registered precision for a token.
func (l *Ledger) Decimals(token common.Address) (uint8, error) {
	if l == nil {
		return 0, ErrUnknownToken
	}
	d, ok := l.decimals[token]
	if !ok {
		return 0, ErrUnknownToken
	}
	return d, nil
}

// Snapshot marks the current journal position. Changes applied after the
// snapshot can be undone with RevertTo.
func (l *Ledger) Snapshot() int {
	return len(l.journal)
}

// RevertTo unwinds every journaled mutation applied after the given snapshot,
// most recent first.
func (l *Ledger) RevertTo(snapshot int) {
	if l == nil || snapshot < 0 || snapshot > len(l.journal) {
		return
	}
	for i := len(l.journal) - 1; i >= snapshot; i-- {
		entry := l.journal[i]
		switch {
		case entry.balance != nil:
			if entry.priorExists {
				l.balances[*entry.balance] = entry.prior
			} else {
				delete(l.balances, *entry.balance)
			}
		case entry.allowance != nil:
			if entry.priorExists {
				l.allowances[*entry.allowance] = entry.prior
			} else {
				delete(l.allowances, *entry.allowance)
			}
		}
	}
	l.journal = l.journal[:snapshot]
}

func (l *Ledger) setBalance(key balanceKey, value *big.Int) {
	prior, ok := l.balances[key]
	l.journal = append(l.journal, journalEntry{balance: &key, prior: prior, priorExists: ok})
	l.balances[key] = value
}

func (l *Ledger) setAllowance(key allowanceKey, value *big.Int) {
	prior, ok := l.allowances[key]
	l.journal = append(l.journal, journalEntry{allowance: &key, prior: prior, priorExists: ok})
	l.allowances[key] = value
}

// BalanceOf returns a copy of the holder's balance for the token.
func (l *Ledger) BalanceOf(token, holder common.Address) *big.Int {
	if l == nil {
		return big.NewInt(0)
	}
	if bal, ok := l.balances[balanceKey{token: token, holder: holder}]; ok {
		return new(big.Int).Set(bal)
	}
	return big.NewInt(0)
}

// Mint credits freshly created units to the holder. Used by tests and by the
// liquidity seeding of flash-loan providers.
func (l *Ledger) Mint(token, holder common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	key := balanceKey{token: token, holder: holder}
	l.setBalance(key, new(big.Int).Add(l.BalanceOf(token, holder), amount))
	return nil
}

// Transfer moves amount from one holder to another. A zero amount is a no-op
// that still succeeds, matching ERC20 semantics.
func (l *Ledger) Transfer(token, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	fromBal := l.BalanceOf(token, from)
	if fromBal.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	l.setBalance(balanceKey{token: token, holder: from}, new(big.Int).Sub(fromBal, amount))
	l.setBalance(balanceKey{token: token, holder: to}, new(big.Int).Add(l.BalanceOf(token, to), amount))
	return nil
}

// Approve grants the spender an allowance over the owner's balance.
func (l *Ledger) Approve(token, owner, spender common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	l.setAllowance(allowanceKey{token: token, owner: owner, spender: spender}, new(big.Int).Set(amount))
	return nil
}

// Allowance returns a copy of the spender's remaining allowance.
func (l *Ledger) Allowance(token, owner, spender common.Address) *big.Int {
	if l == nil {
		return big.NewInt(0)
	}
	if a, ok := l.allowances[allowanceKey{token: token, owner: owner, spender: spender}]; ok {
		return new(big.Int).Set(a)
	}
	return big.NewInt(0)
}

// TransferFrom spends the spender's allowance to move owner funds, decrementing
// the allowance by the transferred amount.
func (l *Ledger) TransferFrom(token, owner, spender, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	allowance := l.Allowance(token, owner, spender)
	if allowance.Cmp(amount) < 0 {
		return ErrInsufficientAllowance
	}
	if err := l.Transfer(token, owner, to, amount); err != nil {
		return err
	}
	l.setAllowance(allowanceKey{token: token, owner: owner, spender: spender}, new(big.Int).Sub(allowance, amount))
	return nil
}
