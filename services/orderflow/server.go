// Package orderflow exposes the order manager over HTTP for the watcher
// daemon and the settlement network's polling loop.
package orderflow

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"marginflow/native/orders"
	"marginflow/native/trigger"
	"marginflow/settlement"
)

// OrderService is the slice of the order manager the HTTP surface needs.
type OrderService interface {
	CreateOrder(ctx context.Context, params orders.OrderParams) (common.Hash, error)
	GetOrder(hash common.Hash) (*orders.Order, error)
	TradeableOrderBySalt(ctx context.Context, user common.Address, salt common.Hash) (settlement.Order, error)
	Cancel(caller, user common.Address, salt common.Hash) error
	IsValidSignature(ctx context.Context, digest common.Hash, signature []byte) orders.Verdict
}

// Config captures the dependencies required to construct the server.
type Config struct {
	Service   OrderService
	AuthToken string
	Logger    *slog.Logger
}

// Server is the HTTP front for the order manager.
type Server struct {
	service   OrderService
	authToken string
	logger    *slog.Logger
	router    http.Handler
}

// New constructs a configured HTTP router with bearer authentication on the
// order routes.
func New(cfg Config) (*Server, error) {
	if cfg.Service == nil {
		return nil, errors.New("orderflow: order service required")
	}
	if strings.TrimSpace(cfg.AuthToken) == "" {
		return nil, errors.New("orderflow: auth token required")
	}
	srv := &Server{
		service:   cfg.Service,
		authToken: cfg.AuthToken,
		logger:    cfg.Logger,
	}
	if srv.logger == nil {
		srv.logger = slog.Default()
	}
	srv.router = srv.buildRouter()
	return srv, nil
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(requestID)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/orders", func(api chi.Router) {
		api.Use(s.authenticate)
		api.Post("/", s.handleCreate)
		api.Get("/{hash}", s.handleGet)
		api.Get("/{hash}/quote", s.handleQuote)
		api.Post("/{hash}/cancel", s.handleCancel)
		api.Post("/{hash}/signature", s.handleSignature)
	})
	return r
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) != s.authToken {
			s.writeError(w, http.StatusUnauthorized, "ORD-401", "missing or invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]errorBody{"error": {Code: code, Message: message}})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encode response", "err", err)
	}
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var params orders.OrderParams
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&params); err != nil {
		s.writeError(w, http.StatusBadRequest, "ORD-400", "invalid JSON payload")
		return
	}
	hash, err := s.service.CreateOrder(r.Context(), params)
	if err != nil {
		switch {
		case errors.Is(err, orders.ErrInvalidParams):
			s.writeError(w, http.StatusBadRequest, "ORD-400", err.Error())
		case errors.Is(err, orders.ErrOrderExists):
			s.writeError(w, http.StatusConflict, "ORD-409", err.Error())
		default:
			s.logger.Error("create order", "err", err)
			s.writeError(w, http.StatusInternalServerError, "ORD-500", "failed to create order")
		}
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"orderHash": hash.Hex()})
}

func (s *Server) loadOrder(w http.ResponseWriter, r *http.Request) (*orders.Order, bool) {
	raw := chi.URLParam(r, "hash")
	if !strings.HasPrefix(raw, "0x") || len(raw) != 66 {
		s.writeError(w, http.StatusBadRequest, "ORD-400", "order hash must be a 32 byte hex string")
		return nil, false
	}
	order, err := s.service.GetOrder(common.HexToHash(raw))
	if err != nil {
		if errors.Is(err, orders.ErrOrderNotFound) {
			s.writeError(w, http.StatusNotFound, "ORD-404", "order not found")
		} else {
			s.logger.Error("load order", "err", err)
			s.writeError(w, http.StatusInternalServerError, "ORD-500", "failed to load order")
		}
		return nil, false
	}
	return order, true
}

type orderResponse struct {
	OrderHash      string             `json:"orderHash"`
	Params         orders.OrderParams `json:"params"`
	Status         string             `json:"status"`
	IterationCount uint64             `json:"iterationCount"`
	CreatedAt      time.Time          `json:"createdAt"`
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	order, ok := s.loadOrder(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, orderResponse{
		OrderHash:      order.Hash().Hex(),
		Params:         order.Params,
		Status:         order.Status.String(),
		IterationCount: order.IterationCount,
		CreatedAt:      order.CreatedAt,
	})
}

type quoteResponse struct {
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
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	order, ok := s.loadOrder(w, r)
	if !ok {
		return
	}
	quote, err := s.service.TradeableOrderBySalt(r.Context(), order.Params.User, order.Params.Salt)
	if err != nil {
		switch {
		case errors.Is(err, trigger.ErrTriggerNotMet):
			s.writeError(w, http.StatusConflict, "ORD-425", err.Error())
		case errors.Is(err, orders.ErrOrderNotActive):
			s.writeError(w, http.StatusConflict, "ORD-409", err.Error())
		default:
			s.logger.Error("derive quote", "err", err)
			s.writeError(w, http.StatusBadGateway, "ORD-502", "failed to derive quote")
		}
		return
	}
	s.writeJSON(w, http.StatusOK, quoteResponse{
		SellToken:         quote.SellToken.Hex(),
		BuyToken:          quote.BuyToken.Hex(),
		Receiver:          quote.Receiver.Hex(),
		SellAmount:        quote.SellAmount.String(),
		BuyAmount:         quote.BuyAmount.String(),
		ValidTo:           quote.ValidTo,
		AppData:           quote.AppData.Hex(),
		FeeAmount:         quote.FeeAmount.String(),
		Kind:              quote.Kind,
		PartiallyFillable: quote.PartiallyFillable,
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	order, ok := s.loadOrder(w, r)
	if !ok {
		return
	}
	user := order.Params.User
	if err := s.service.Cancel(user, user, order.Params.Salt); err != nil {
		if errors.Is(err, orders.ErrOrderNotActive) {
			s.writeError(w, http.StatusConflict, "ORD-409", err.Error())
			return
		}
		s.logger.Error("cancel order", "err", err)
		s.writeError(w, http.StatusInternalServerError, "ORD-500", "failed to cancel order")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": orders.StatusCancelled.String()})
}

type signatureRequest struct {
	Digest    string `json:"digest"`
	Signature string `json:"signature"`
}

func (s *Server) handleSignature(w http.ResponseWriter, r *http.Request) {
	var req signatureRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "ORD-400", "invalid JSON payload")
		return
	}
	signature, err := hexutil.Decode(req.Signature)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "ORD-400", "signature must be 0x-prefixed hex")
		return
	}
	verdict := s.service.IsValidSignature(r.Context(), common.HexToHash(req.Digest), signature)
	magic := verdict.Magic()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"verdict": verdict.String(),
		"magic":   hexutil.Encode(magic[:]),
	})
}
