package settlement

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func sampleDomain() Domain {
	return Domain{
		Name:              "Settlement Protocol",
		Version:           "v2",
		ChainID:           big.NewInt(100),
		VerifyingContract: common.HexToAddress("0x9008D19f58AAbD9eD0D60971565AA8510560ab41"),
	}
}

func sampleOrder() Order {
	return Order{
		SellToken:         common.HexToAddress("0x00000000000000000000000000000000000000e1"),
		BuyToken:          common.HexToAddress("0x00000000000000000000000000000000000000f1"),
		Receiver:          common.HexToAddress("0x0000000000000000000000000000000000000501"),
		SellAmount:        big.NewInt(182_036_944_440_000_000),
		BuyAmount:         big.NewInt(362_253_518),
		ValidTo:           1_748_779_500,
		AppData:           common.HexToHash("0xaa"),
		FeeAmount:         big.NewInt(0),
		Kind:              KindSell,
		PartiallyFillable: true,
		SellTokenBalance:  BalanceERC20,
		BuyTokenBalance:   BalanceERC20,
	}
}

func TestSigningDigestDeterministic(t *testing.T) {
	first, err := SigningDigest(sampleDomain(), sampleOrder())
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	second, err := SigningDigest(sampleDomain(), sampleOrder())
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	if first != second {
		t.Fatalf("digest not deterministic: %s vs %s", first.Hex(), second.Hex())
	}
	if first == (common.Hash{}) {
		t.Fatalf("digest is zero")
	}
}

func TestDigestSensitivity(t *testing.T) {
	base, err := SigningDigest(sampleDomain(), sampleOrder())
	if err != nil {
		t.Fatalf("digest: %v", err)
	}

	order := sampleOrder()
	order.SellAmount = big.NewInt(1)
	changed, err := SigningDigest(sampleDomain(), order)
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	if changed == base {
		t.Fatalf("amount change did not move the digest")
	}

	order = sampleOrder()
	order.Kind = KindBuy
	changed, err = SigningDigest(sampleDomain(), order)
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	if changed == base {
		t.Fatalf("kind change did not move the digest")
	}

	domain := sampleDomain()
	domain.ChainID = big.NewInt(1)
	changed, err = SigningDigest(domain, sampleOrder())
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	if changed == base {
		t.Fatalf("chain change did not move the digest")
	}
}

func TestStructHashValidation(t *testing.T) {
	order := sampleOrder()
	order.SellAmount = nil
	if _, err := order.StructHash(); !errors.Is(err, ErrNilAmount) {
		t.Fatalf("expected ErrNilAmount, got %v", err)
	}
	order = sampleOrder()
	order.Kind = "limit"
	if _, err := order.StructHash(); !errors.Is(err, ErrInvalidKind) {
		t.Fatalf("expected ErrInvalidKind, got %v", err)
	}
	domain := sampleDomain()
	domain.ChainID = nil
	if _, err := domain.Separator(); !errors.Is(err, ErrChainRequired) {
		t.Fatalf("expected ErrChainRequired, got %v", err)
	}
}

func TestSignatureBlobRoundTrip(t *testing.T) {
	user := common.HexToAddress("0x0000000000000000000000000000000000000a11")
	salt := common.HexToHash("0x05")
	original := sampleOrder()
	blob, err := EncodeSignature(original, user, salt)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, gotUser, gotSalt, err := DecodeSignature(blob)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if gotUser != user || gotSalt != salt {
		t.Fatalf("registration pair mangled: %s %s", gotUser.Hex(), gotSalt.Hex())
	}
	if decoded.SellAmount.Cmp(original.SellAmount) != 0 || decoded.BuyAmount.Cmp(original.BuyAmount) != 0 {
		t.Fatalf("amounts mangled: %+v", decoded)
	}
	if decoded.Kind != original.Kind || decoded.ValidTo != original.ValidTo || decoded.AppData != original.AppData {
		t.Fatalf("fields mangled: %+v", decoded)
	}
	if _, _, _, err := DecodeSignature([]byte{0x01}); err == nil {
		t.Fatalf("expected error for garbage blob")
	}
}
