package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestSubmitOrder(t *testing.T) {
	var received OrderSubmission
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/orders" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode("0xuid123")
	}))
	defer server.Close()

	from := common.HexToAddress("0x0000000000000000000000000000000000000a11")
	submission, err := NewSubmission(sampleOrder(), from, []byte{0x01, 0x02})
	if err != nil {
		t.Fatalf("new submission: %v", err)
	}
	client := NewClient(server.URL)
	uid, err := client.SubmitOrder(context.Background(), submission)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if uid != "0xuid123" {
		t.Fatalf("unexpected uid %q", uid)
	}
	if received.SigningScheme != SchemeEIP1271 {
		t.Fatalf("expected eip1271 scheme, got %q", received.SigningScheme)
	}
	if received.Signature != "0x0102" || received.From != from.Hex() {
		t.Fatalf("signature routing mangled: %+v", received)
	}
	if received.SellAmount != "182036944440000000" {
		t.Fatalf("amounts must travel as decimal strings, got %q", received.SellAmount)
	}
}

func TestSubmitOrderRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(submissionError{ErrorType: "InsufficientValidTo", Description: "expiry too soon"})
	}))
	defer server.Close()

	submission, err := NewSubmission(sampleOrder(), common.Address{}, nil)
	if err != nil {
		t.Fatalf("new submission: %v", err)
	}
	_, err = NewClient(server.URL).SubmitOrder(context.Background(), submission)
	if !errors.Is(err, ErrSubmissionRejected) {
		t.Fatalf("expected ErrSubmissionRejected, got %v", err)
	}
}
