package gateway

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

type fakeAdapter struct {
	name string
}

func (f fakeAdapter) Name() string { return f.name }

func (f fakeAdapter) Spender() common.Address { return common.Address{} }

func (f fakeAdapter) Execute(_ context.Context, op Op, _ Call) (*big.Int, error) {
	if op == OpSwapExactOut {
		return nil, ErrCapabilityUnsupported
	}
	return big.NewInt(1), nil
}

func TestRegistryResolveIsCaseInsensitive(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(fakeAdapter{name: "AaveV3"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	adapter, err := reg.Resolve("aavev3")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if adapter.Name() != "AaveV3" {
		t.Fatalf("unexpected adapter: %s", adapter.Name())
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(fakeAdapter{name: "compound"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register(fakeAdapter{name: "Compound"}); !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}
}

func TestRegistryUnknownProtocolIsHardError(t *testing.T) {
	reg := NewRegistry()
	if _, err := reg.Resolve("morpho"); !errors.Is(err, ErrUnknownProtocol) {
		t.Fatalf("expected ErrUnknownProtocol, got %v", err)
	}
}

func TestOpValidity(t *testing.T) {
	if !OpBorrow.Valid() {
		t.Fatalf("expected OpBorrow valid")
	}
	if Op(200).Valid() {
		t.Fatalf("expected op 200 invalid")
	}
}
