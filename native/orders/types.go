package orders

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"marginflow/native/router"
	"marginflow/settlement"
)

var (
	ErrInvalidParams      = errors.New("orders: invalid order params")
	ErrOrderExists        = errors.New("orders: order already exists")
	ErrOrderNotFound      = errors.New("orders: order not found")
	ErrOrderNotActive     = errors.New("orders: order not active")
	ErrUnauthorizedCaller = errors.New("orders: caller not authorized")
	ErrIterationProcessed = errors.New("orders: hook already processed for iteration")
	ErrHookOutOfSequence  = errors.New("orders: post hook requires a completed pre hook")
	ErrInsufficientFill   = errors.New("orders: swap output below required minimum")
	ErrStaticMalformed    = errors.New("orders: static input malformed")
)

// OrderStatus is the lifecycle state of a standing order. Completed and
// Cancelled are absorbing.
type OrderStatus uint8

const (
	StatusNone OrderStatus = iota
	StatusActive
	StatusCompleted
	StatusCancelled
)

func (s OrderStatus) String() string {
	switch s {
	case StatusNone:
		return "none"
	case StatusActive:
		return "active"
	case StatusCompleted:
		return "completed"
	case StatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("orderstatus(%d)", uint8(s))
	}
}

// OrderParams is the immutable definition of a standing order: who owns it,
// how the trigger decides amounts, and the instruction bundles run around the
// external fill.
type OrderParams struct {
	User                   common.Address       `json:"user"`
	Salt                   common.Hash          `json:"salt"`
	TriggerStaticData      []byte               `json:"triggerStaticData"`
	PreInstructions        []router.Instruction `json:"preInstructions"`
	SellToken              common.Address       `json:"sellToken"`
	BuyToken               common.Address       `json:"buyToken"`
	PostInstructions       []router.Instruction `json:"postInstructions"`
	AppDataHash            common.Hash          `json:"appDataHash"`
	MaxIterations          uint64               `json:"maxIterations"`
	SellTokenRefundAddress common.Address       `json:"sellTokenRefundAddress"`
	IsKindBuy              bool                 `json:"isKindBuy"`
}

// Validate checks the fields a standing order cannot function without.
func (p OrderParams) Validate() error {
	if p.User == (common.Address{}) {
		return fmt.Errorf("%w: user required", ErrInvalidParams)
	}
	if p.SellToken == (common.Address{}) || p.BuyToken == (common.Address{}) {
		return fmt.Errorf("%w: sell and buy tokens required", ErrInvalidParams)
	}
	if p.SellToken == p.BuyToken {
		return fmt.Errorf("%w: sell and buy tokens must differ", ErrInvalidParams)
	}
	if p.MaxIterations == 0 {
		return fmt.Errorf("%w: maxIterations must be positive", ErrInvalidParams)
	}
	if len(p.TriggerStaticData) == 0 {
		return fmt.Errorf("%w: trigger static data required", ErrInvalidParams)
	}
	return nil
}

// Order is a standing order record. Params never change after creation; the
// remaining fields advance only through the manager's transitions. The hook
// cursor and the staged amounts persist with the record so a restarted
// process resumes a multi-chunk order exactly where it stopped.
type Order struct {
	Params         OrderParams `json:"params"`
	Status         OrderStatus `json:"status"`
	IterationCount uint64      `json:"iterationCount"`
	// PreHookCount counts completed pre-hook runs. The pre hook for
	// iteration n may run only while the count equals n; the post hook only
	// while it equals n+1.
	PreHookCount   uint64    `json:"preHookCount"`
	AuthorizedSell *big.Int  `json:"authorizedSell,omitempty"`
	AuthorizedBuy  *big.Int  `json:"authorizedBuy,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Hash returns the order's registry key.
func (o *Order) Hash() common.Hash {
	return HashOrder(o.Params.User, o.Params.Salt)
}

// HashOrder derives the unique registry key for a (user, salt) pair.
func HashOrder(user common.Address, salt common.Hash) common.Hash {
	return crypto.Keccak256Hash(user.Bytes(), salt.Bytes())
}

func mustType(signature string) abi.Type {
	t, err := abi.NewType(signature, "", nil)
	if err != nil {
		panic(err)
	}
	return t
}

// staticInputArguments is the registration payload handed to the settlement
// network at creation time and echoed back on every poll.
var staticInputArguments = abi.Arguments{
	{Name: "user", Type: mustType("address")},
	{Name: "salt", Type: mustType("bytes32")},
}

// EncodeStaticInput packs the (user, salt) registration pair.
func EncodeStaticInput(user common.Address, salt common.Hash) ([]byte, error) {
	return staticInputArguments.Pack(user, [32]byte(salt))
}

// DecodeStaticInput unpacks a registration pair.
func DecodeStaticInput(data []byte) (common.Address, common.Hash, error) {
	values, err := staticInputArguments.Unpack(data)
	if err != nil {
		return common.Address{}, common.Hash{}, fmt.Errorf("%w: %v", ErrStaticMalformed, err)
	}
	return values[0].(common.Address), common.Hash(values[1].([32]byte)), nil
}

// Verdict is the typed outcome of a signature check. The settlement network
// expects a value for every outcome, including "not valid yet", so none of
// these abort the call.
type Verdict uint8

const (
	VerdictOK Verdict = iota
	VerdictHashMismatch
	VerdictOrderMismatch
	VerdictUpstreamFailure
)

func (v Verdict) String() string {
	switch v {
	case VerdictOK:
		return "ok"
	case VerdictHashMismatch:
		return "hash_mismatch"
	case VerdictOrderMismatch:
		return "order_mismatch"
	case VerdictUpstreamFailure:
		return "upstream_failure"
	default:
		return fmt.Sprintf("verdict(%d)", uint8(v))
	}
}

// Magic returns the ERC-1271 success value for a positive verdict and the
// zero value otherwise.
func (v Verdict) Magic() [4]byte {
	if v == VerdictOK {
		return settlement.MagicValue
	}
	return [4]byte{}
}
