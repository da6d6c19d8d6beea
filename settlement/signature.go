package settlement

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

func mustType(signature string) abi.Type {
	t, err := abi.NewType(signature, "", nil)
	if err != nil {
		panic(err)
	}
	return t
}

// signatureArguments is the layout of the opaque signature blob the settlement
// network presents back to isValidSignature. It carries the full tradeable
// order plus the registration pair that identifies the standing order.
var signatureArguments = abi.Arguments{
	{Name: "sellToken", Type: mustType("address")},
	{Name: "buyToken", Type: mustType("address")},
	{Name: "receiver", Type: mustType("address")},
	{Name: "sellAmount", Type: mustType("uint256")},
	{Name: "buyAmount", Type: mustType("uint256")},
	{Name: "validTo", Type: mustType("uint32")},
	{Name: "appData", Type: mustType("bytes32")},
	{Name: "feeAmount", Type: mustType("uint256")},
	{Name: "isBuy", Type: mustType("bool")},
	{Name: "partiallyFillable", Type: mustType("bool")},
	{Name: "user", Type: mustType("address")},
	{Name: "salt", Type: mustType("bytes32")},
}

// EncodeSignature packs a tradeable order and its registration pair into the
// signature blob format.
func EncodeSignature(order Order, user common.Address, salt common.Hash) ([]byte, error) {
	if order.SellAmount == nil || order.BuyAmount == nil || order.FeeAmount == nil {
		return nil, ErrNilAmount
	}
	if order.Kind != KindSell && order.Kind != KindBuy {
		return nil, ErrInvalidKind
	}
	return signatureArguments.Pack(
		order.SellToken,
		order.BuyToken,
		order.Receiver,
		order.SellAmount,
		order.BuyAmount,
		order.ValidTo,
		[32]byte(order.AppData),
		order.FeeAmount,
		order.Kind == KindBuy,
		order.PartiallyFillable,
		user,
		[32]byte(salt),
	)
}

// DecodeSignature unpacks a signature blob back into the order and its
// registration pair.
func DecodeSignature(blob []byte) (Order, common.Address, common.Hash, error) {
	values, err := signatureArguments.Unpack(blob)
	if err != nil {
		return Order{}, common.Address{}, common.Hash{}, fmt.Errorf("settlement: malformed signature blob: %w", err)
	}
	kind := KindSell
	if values[8].(bool) {
		kind = KindBuy
	}
	order := Order{
		SellToken:         values[0].(common.Address),
		BuyToken:          values[1].(common.Address),
		Receiver:          values[2].(common.Address),
		SellAmount:        values[3].(*big.Int),
		BuyAmount:         values[4].(*big.Int),
		ValidTo:           values[5].(uint32),
		AppData:           common.Hash(values[6].([32]byte)),
		FeeAmount:         values[7].(*big.Int),
		Kind:              kind,
		PartiallyFillable: values[9].(bool),
		SellTokenBalance:  BalanceERC20,
		BuyTokenBalance:   BalanceERC20,
	}
	return order, values[10].(common.Address), common.Hash(values[11].([32]byte)), nil
}
