package settlement

import (
	"bytes"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrNilAmount     = errors.New("settlement: order amounts must be set")
	ErrInvalidKind   = errors.New("settlement: order kind must be sell or buy")
	ErrChainRequired = errors.New("settlement: domain chain id required")
)

// MagicValue is the ERC-1271 success value the settlement contract expects
// from a positive signature check.
var MagicValue = [4]byte{0x16, 0x26, 0xba, 0x7e}

const (
	KindSell = "sell"
	KindBuy  = "buy"

	// BalanceERC20 is the only balance source this integration uses.
	BalanceERC20 = "erc20"
)

// Domain identifies the settlement contract instance whose digests we must
// reproduce bit-for-bit.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

var domainTypeHash = crypto.Keccak256Hash([]byte(
	"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)",
))

// Separator computes the EIP-712 domain separator.
func (d Domain) Separator() (common.Hash, error) {
	if d.ChainID == nil || d.ChainID.Sign() <= 0 {
		return common.Hash{}, ErrChainRequired
	}
	var buf bytes.Buffer
	buf.Write(domainTypeHash.Bytes())
	buf.Write(crypto.Keccak256([]byte(d.Name)))
	buf.Write(crypto.Keccak256([]byte(d.Version)))
	buf.Write(uintWord(d.ChainID))
	buf.Write(addressWord(d.VerifyingContract))
	return crypto.Keccak256Hash(buf.Bytes()), nil
}

// Order is the tradeable artifact the order-matching network discovers,
// prices and settles. It is always derived on demand, never stored.
type Order struct {
	SellToken         common.Address
	BuyToken          common.Address
	Receiver          common.Address
	SellAmount        *big.Int
	BuyAmount         *big.Int
	ValidTo           uint32
	AppData           common.Hash
	FeeAmount         *big.Int
	Kind              string
	PartiallyFillable bool
	SellTokenBalance  string
	BuyTokenBalance   string
}

var orderTypeHash = crypto.Keccak256Hash([]byte(
	"Order(address sellToken,address buyToken,address receiver,uint256 sellAmount,uint256 buyAmount,uint32 validTo,bytes32 appData,uint256 feeAmount,string kind,bool partiallyFillable,string sellTokenBalance,string buyTokenBalance)",
))

// StructHash computes the EIP-712 struct hash of the order. String members
// hash by value; the enum-like fields (kind, balance sources) are strings on
// the wire and hash the same way.
func (o Order) StructHash() (common.Hash, error) {
	if o.SellAmount == nil || o.BuyAmount == nil || o.FeeAmount == nil {
		return common.Hash{}, ErrNilAmount
	}
	if o.Kind != KindSell && o.Kind != KindBuy {
		return common.Hash{}, ErrInvalidKind
	}
	var buf bytes.Buffer
	buf.Write(orderTypeHash.Bytes())
	buf.Write(addressWord(o.SellToken))
	buf.Write(addressWord(o.BuyToken))
	buf.Write(addressWord(o.Receiver))
	buf.Write(uintWord(o.SellAmount))
	buf.Write(uintWord(o.BuyAmount))
	buf.Write(uintWord(new(big.Int).SetUint64(uint64(o.ValidTo))))
	buf.Write(o.AppData.Bytes())
	buf.Write(uintWord(o.FeeAmount))
	buf.Write(crypto.Keccak256([]byte(o.Kind)))
	buf.Write(boolWord(o.PartiallyFillable))
	buf.Write(crypto.Keccak256([]byte(o.SellTokenBalance)))
	buf.Write(crypto.Keccak256([]byte(o.BuyTokenBalance)))
	return crypto.Keccak256Hash(buf.Bytes()), nil
}

// SigningDigest computes the final digest the network signs against:
// keccak256(0x19 0x01 || domainSeparator || structHash).
func SigningDigest(domain Domain, order Order) (common.Hash, error) {
	separator, err := domain.Separator()
	if err != nil {
		return common.Hash{}, err
	}
	structHash, err := order.StructHash()
	if err != nil {
		return common.Hash{}, err
	}
	var buf bytes.Buffer
	buf.Write([]byte{0x19, 0x01})
	buf.Write(separator.Bytes())
	buf.Write(structHash.Bytes())
	return crypto.Keccak256Hash(buf.Bytes()), nil
}

func addressWord(addr common.Address) []byte {
	return common.LeftPadBytes(addr.Bytes(), 32)
}

func uintWord(v *big.Int) []byte {
	word := make([]byte, 32)
	v.FillBytes(word)
	return word
}

func boolWord(v bool) []byte {
	word := make([]byte, 32)
	if v {
		word[31] = 1
	}
	return word
}
