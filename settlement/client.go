package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"golang.org/x/time/rate"
)

// SchemeEIP1271 marks submissions whose signature is validated by calling
// back into the order owner's contract rather than recovering a key.
const SchemeEIP1271 = "eip1271"

var ErrSubmissionRejected = errors.New("settlement: order submission rejected")

// OrderSubmission is the JSON body the order-matching network accepts.
// Amounts travel as decimal strings, binary fields as 0x-prefixed hex.
type OrderSubmission struct {
	SellToken         string `json:"sellToken"`
	BuyToken          string `json:"buyToken"`
	Receiver          string `json:"receiver"`
	SellAmount        string `json:"sellAmount"`
	BuyAmount         string `json:"buyAmount"`
	ValidTo           uint32 `json:"validTo"`
	AppData           string `json:"appData"`
	FeeAmount         string `json:"feeAmount"`
	Kind              string `json:"kind"`
	PartiallyFillable bool   `json:"partiallyFillable"`
	SellTokenBalance  string `json:"sellTokenBalance"`
	BuyTokenBalance   string `json:"buyTokenBalance"`
	SigningScheme     string `json:"signingScheme"`
	Signature         string `json:"signature"`
	From              string `json:"from"`
}

// NewSubmission assembles the wire body for an order owned by from, carrying
// the opaque signature blob the network will echo back to isValidSignature.
func NewSubmission(order Order, from common.Address, signature []byte) (OrderSubmission, error) {
	if order.SellAmount == nil || order.BuyAmount == nil || order.FeeAmount == nil {
		return OrderSubmission{}, ErrNilAmount
	}
	return OrderSubmission{
		SellToken:         order.SellToken.Hex(),
		BuyToken:          order.BuyToken.Hex(),
		Receiver:          order.Receiver.Hex(),
		SellAmount:        order.SellAmount.String(),
		BuyAmount:         order.BuyAmount.String(),
		ValidTo:           order.ValidTo,
		AppData:           order.AppData.Hex(),
		FeeAmount:         order.FeeAmount.String(),
		Kind:              order.Kind,
		PartiallyFillable: order.PartiallyFillable,
		SellTokenBalance:  order.SellTokenBalance,
		BuyTokenBalance:   order.BuyTokenBalance,
		SigningScheme:     SchemeEIP1271,
		Signature:         hexutil.Encode(signature),
		From:              from.Hex(),
	}, nil
}

// Client submits orders to the matching network's REST API. Submissions are
// rate limited client-side so a polling loop cannot hammer the endpoint.
type Client struct {
	base    string
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the transport.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithRateLimit caps outgoing submissions per second.
func WithRateLimit(perSecond float64, burst int) ClientOption {
	return func(c *Client) {
		if perSecond > 0 && burst > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// WithClientLogger installs a custom logger.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient constructs a submission client for the given API base URL.
func NewClient(base string, opts ...ClientOption) *Client {
	c := &Client{
		base:    strings.TrimRight(base, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(2), 4),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

type submissionError struct {
	ErrorType   string `json:"errorType"`
	Description string `json:"description"`
}

// SubmitOrder posts the order and returns the UID the network assigned.
func (c *Client) SubmitOrder(ctx context.Context, submission OrderSubmission) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	body, err := json.Marshal(submission)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/v1/orders", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("settlement: submit order: %w", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		var detail submissionError
		if json.Unmarshal(payload, &detail) == nil && detail.ErrorType != "" {
			return "", fmt.Errorf("%w: %s: %s", ErrSubmissionRejected, detail.ErrorType, detail.Description)
		}
		return "", fmt.Errorf("%w: status %d", ErrSubmissionRejected, resp.StatusCode)
	}
	var uid string
	if err := json.Unmarshal(payload, &uid); err != nil {
		return "", fmt.Errorf("settlement: malformed submission response: %w", err)
	}
	c.logger.Info("order submitted", "uid", uid, "sell_token", submission.SellToken)
	return uid, nil
}
