// Package api provides the HTTP handlers for accounts, markets, orders,
// resolution, and the liquidity-bot control surface.
//
// All monetary values are int64 in the smallest unit; a share pays 1000 on
// the winning side. Fractions (weights, curve shapes) use shopspring/decimal.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/flipside/market-engine/internal/book"
	"github.com/flipside/market-engine/internal/liquidity"
	"github.com/flipside/market-engine/internal/metrics"
	"github.com/flipside/market-engine/internal/model"
	"github.com/flipside/market-engine/internal/store"
)

// Service handles exchange operations over HTTP. Execution ordering is owned
// by the engine; handlers validate, translate errors, and broadcast.
type Service struct {
	store     store.Store
	engine    *book.Engine
	liquidity *liquidity.Manager
	wsHub     *WSHub // optional WebSocket hub for real-time broadcasts
}

// NewService creates a new API service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, engine *book.Engine, lm *liquidity.Manager, hub *WSHub) *Service {
	return &Service{
		store:     st,
		engine:    engine,
		liquidity: lm,
		wsHub:     hub,
	}
}

// --- Request/Response types ---

// CreateAccountRequest is the JSON body for account creation.
type CreateAccountRequest struct {
	ID      string `json:"id,omitempty"`
	Balance int64  `json:"balance"`
}

// CreateMarketRequest is the JSON body for market creation.
type CreateMarketRequest struct {
	Symbol   string `json:"symbol"` // FLIP-{category}-{slug}-{YYYYMMDD}
	Question string `json:"question"`
}

// PlaceOrderRequest is the JSON body for POST /orders.
type PlaceOrderRequest struct {
	AccountID string     `json:"account_id"`
	MarketID  string     `json:"market_id"`
	Side      model.Side `json:"side"`
	Price     int64      `json:"price"`  // per-share cost in [1, 999]
	Shares    int64      `json:"shares"` // positive share count
}

// ResolveRequest is the JSON body for market resolution.
type ResolveRequest struct {
	Outcome model.Side `json:"outcome"`
}

// WeightRequest is the JSON body for PUT /markets/{id}/weight.
type WeightRequest struct {
	Weight decimal.Decimal `json:"weight"`
	Locked bool            `json:"locked"`
}

// OddsRequest is the JSON body for POST /weights/odds.
type OddsRequest struct {
	Odds map[string]decimal.Decimal `json:"odds"`
}

// ShapeRequest is the JSON body for POST /shapes.
type ShapeRequest struct {
	Name    string            `json:"name"`
	Kind    model.ShapeKind   `json:"kind"`
	Params  model.ShapeParams `json:"params"`
	Default bool              `json:"default"`
}

// OverrideRequest is the JSON body for PUT /markets/{id}/override.
type OverrideRequest struct {
	Kind    liquidity.OverrideKind `json:"kind"`
	ShapeID string                 `json:"shape_id,omitempty"`
	Factor  decimal.Decimal        `json:"factor,omitempty"`
}

// --- Accounts ---

// CreateAccount handles POST /api/v1/accounts
func (s *Service) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	acct, err := s.engine.CreateAccount(r.Context(), req.ID, req.Balance)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, acct)
}

// GetAccount handles GET /api/v1/accounts/{accountID}
func (s *Service) GetAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := s.store.GetAccount(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "account not found", http.StatusNotFound)
			return
		}
		writeError(w, "failed to load account", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// GetJournal handles GET /api/v1/accounts/{accountID}/journal
func (s *Service) GetJournal(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.ListJournal(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		writeError(w, "failed to load journal", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []model.JournalEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// GetAccountOrders handles GET /api/v1/accounts/{accountID}/orders
// Returns the account's resting orders.
func (s *Service) GetAccountOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.store.ListRestingOrdersByAccount(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		writeError(w, "failed to load orders", http.StatusInternalServerError)
		return
	}
	if orders == nil {
		orders = []model.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

// GetAccountPositions handles GET /api/v1/accounts/{accountID}/positions
// Returns the account's active positions.
func (s *Service) GetAccountPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.store.ListActivePositionsByAccount(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		writeError(w, "failed to load positions", http.StatusInternalServerError)
		return
	}
	if positions == nil {
		positions = []model.Position{}
	}
	writeJSON(w, http.StatusOK, positions)
}

// --- Markets ---

// CreateMarket handles POST /api/v1/markets
func (s *Service) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req CreateMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	market, err := s.engine.CreateMarket(r.Context(), req.Symbol, req.Question)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, market)
}

// ListMarkets handles GET /api/v1/markets
// Optionally filtered by ?status=open.
func (s *Service) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.store.ListMarkets(r.Context())
	if err != nil {
		writeError(w, "failed to list markets", http.StatusInternalServerError)
		return
	}
	if markets == nil {
		markets = []model.Market{}
	}

	if status := r.URL.Query().Get("status"); status != "" {
		filtered := []model.Market{}
		for _, m := range markets {
			if string(m.Status) == status {
				filtered = append(filtered, m)
			}
		}
		markets = filtered
	}

	open := 0
	for _, m := range markets {
		if m.Status == model.MarketOpen {
			open++
		}
	}
	metrics.ActiveMarkets.Set(float64(open))

	writeJSON(w, http.StatusOK, markets)
}

// GetMarket handles GET /api/v1/markets/{marketID}
func (s *Service) GetMarket(w http.ResponseWriter, r *http.Request) {
	market, err := s.store.GetMarket(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "market not found", http.StatusNotFound)
			return
		}
		writeError(w, "failed to load market", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, market)
}

// GetBook handles GET /api/v1/markets/{marketID}/book
func (s *Service) GetBook(w http.ResponseWriter, r *http.Request) {
	levels, err := s.engine.BookSnapshot(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if levels == nil {
		levels = []book.BookLevel{}
	}
	writeJSON(w, http.StatusOK, levels)
}

// ResolveMarket handles POST /api/v1/markets/{marketID}/resolve
func (s *Service) ResolveMarket(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	marketID := chi.URLParam(r, "marketID")

	result, err := s.engine.ResolveMarket(r.Context(), marketID, req.Outcome)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:     "market_resolved",
			MarketID: marketID,
			Outcome:  string(req.Outcome),
		})
	}
	writeJSON(w, http.StatusOK, result)
}

// CancelMarket handles POST /api/v1/markets/{marketID}/cancel
func (s *Service) CancelMarket(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	result, err := s.engine.CancelMarket(r.Context(), marketID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{Type: "market_cancelled", MarketID: marketID})
	}
	writeJSON(w, http.StatusOK, result)
}

// --- Orders ---

// PlaceOrder handles POST /api/v1/orders
// Matches immediately where the book crosses; the residual rests.
func (s *Service) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.AccountID == "" {
		writeError(w, "account_id is required", http.StatusBadRequest)
		return
	}

	start := time.Now()
	result, err := s.engine.PlaceOrder(r.Context(), req.AccountID, req.MarketID, req.Side, req.Price, req.Shares)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	metrics.OrdersTotal.WithLabelValues(string(req.Side)).Inc()
	metrics.OrderLatency.WithLabelValues(string(req.Side)).Observe(time.Since(start).Seconds())
	for _, f := range result.Fills {
		metrics.FillsTotal.WithLabelValues(string(req.Side)).Inc()
		metrics.MatchedShares.WithLabelValues(req.MarketID).Add(float64(f.Shares))
	}
	if result.PullbackTriggered {
		metrics.PullbacksTotal.Inc()
	}
	if result.Exposure != nil {
		metrics.BotExposure.Set(float64(result.Exposure.TotalAtRisk))
		metrics.BotExposureTier.Set(float64(result.Exposure.Tier))
	}

	if s.wsHub != nil {
		for _, f := range result.Fills {
			s.wsHub.Broadcast(WSMessage{
				Type:       "trade_executed",
				MarketID:   req.MarketID,
				OrderID:    result.Order.ID,
				PositionID: f.PositionID,
				Side:       string(req.Side),
				Price:      f.TradePrice,
				Shares:     f.Shares,
			})
		}
		if result.PullbackTriggered {
			s.wsHub.Broadcast(WSMessage{
				Type:     "pullback",
				Exposure: result.Exposure.TotalAtRisk,
				Tier:     result.Exposure.Tier,
			})
		}
	}

	writeJSON(w, http.StatusCreated, result)
}

// GetOrder handles GET /api/v1/orders/{orderID}
func (s *Service) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.store.GetOrder(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "order not found", http.StatusNotFound)
			return
		}
		writeError(w, "failed to load order", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// CancelOrder handles DELETE /api/v1/orders/{orderID}?account_id={id}
func (s *Service) CancelOrder(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("account_id")
	if accountID == "" {
		writeError(w, "account_id is required", http.StatusBadRequest)
		return
	}

	result, err := s.engine.CancelOrder(r.Context(), accountID, chi.URLParam(r, "orderID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- Liquidity bot ---

// GetExposure handles GET /api/v1/exposure
func (s *Service) GetExposure(w http.ResponseWriter, r *http.Request) {
	exposure, err := s.engine.GetExposure(r.Context())
	if err != nil {
		writeError(w, "failed to compute exposure", http.StatusInternalServerError)
		return
	}
	metrics.BotExposure.Set(float64(exposure.TotalAtRisk))
	metrics.BotExposureTier.Set(float64(exposure.Tier))
	writeJSON(w, http.StatusOK, exposure)
}

// GetCurve handles GET /api/v1/markets/{marketID}/curve
func (s *Service) GetCurve(w http.ResponseWriter, r *http.Request) {
	curve, err := s.liquidity.EffectiveCurve(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if curve == nil {
		writeJSON(w, http.StatusOK, map[string]bool{"disabled": true})
		return
	}
	writeJSON(w, http.StatusOK, curve)
}

// Deploy handles POST /api/v1/markets/{marketID}/deploy?account_id={id}.
// An absent account_id funds from the bot account.
func (s *Service) Deploy(w http.ResponseWriter, r *http.Request) {
	result, err := s.liquidity.Deploy(r.Context(), chi.URLParam(r, "marketID"), r.URL.Query().Get("account_id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// PreviewDeploy handles GET /api/v1/deploy/preview?account_id={id}
func (s *Service) PreviewDeploy(w http.ResponseWriter, r *http.Request) {
	result, err := s.liquidity.Preview(r.Context(), r.URL.Query().Get("account_id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- Weights ---

// GetWeights handles GET /api/v1/weights
func (s *Service) GetWeights(w http.ResponseWriter, r *http.Request) {
	weights, err := s.liquidity.Weights(r.Context())
	if err != nil {
		writeError(w, "failed to load weights", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, weights)
}

// SetWeight handles PUT /api/v1/markets/{marketID}/weight
func (s *Service) SetWeight(w http.ResponseWriter, r *http.Request) {
	var req WeightRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	weights, err := s.liquidity.SetMarketWeight(r.Context(), chi.URLParam(r, "marketID"), req.Weight, req.Locked)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, weights)
}

// SetWeightsFromOdds handles POST /api/v1/weights/odds
func (s *Service) SetWeightsFromOdds(w http.ResponseWriter, r *http.Request) {
	var req OddsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	weights, err := s.liquidity.SetFromOdds(r.Context(), req.Odds)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, weights)
}

// --- Shapes ---

// CreateShape handles POST /api/v1/shapes
func (s *Service) CreateShape(w http.ResponseWriter, r *http.Request) {
	var req ShapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	shape, err := liquidity.BuildShape(req.Name, req.Kind, req.Params, nil)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if err := s.liquidity.SaveShape(r.Context(), shape, req.Default); err != nil {
		writeError(w, "failed to save shape", http.StatusInternalServerError)
		return
	}

	slog.Info("shape created", "id", shape.ID, "name", req.Name, "kind", req.Kind, "default", req.Default)
	writeJSON(w, http.StatusCreated, shape)
}

// GetShape handles GET /api/v1/shapes/{shapeID}
func (s *Service) GetShape(w http.ResponseWriter, r *http.Request) {
	shape, err := s.store.GetShape(r.Context(), chi.URLParam(r, "shapeID"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "shape not found", http.StatusNotFound)
			return
		}
		writeError(w, "failed to load shape", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, shape)
}

// --- Overrides ---

// SetOverride handles PUT /api/v1/markets/{marketID}/override
func (s *Service) SetOverride(w http.ResponseWriter, r *http.Request) {
	var req OverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	override := liquidity.Override{Kind: req.Kind, Factor: req.Factor}
	if req.Kind == liquidity.OverrideReplaced {
		shape, err := s.store.GetShape(r.Context(), req.ShapeID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, "shape not found", http.StatusNotFound)
				return
			}
			writeError(w, "failed to load shape", http.StatusInternalServerError)
			return
		}
		override.Shape = shape
	}

	if err := s.liquidity.SetOverride(chi.URLParam(r, "marketID"), override); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearOverride handles DELETE /api/v1/markets/{marketID}/override
func (s *Service) ClearOverride(w http.ResponseWriter, r *http.Request) {
	s.liquidity.ClearOverride(chi.URLParam(r, "marketID"))
	w.WriteHeader(http.StatusNoContent)
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeEngineError maps engine error kinds onto HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	var funds *book.InsufficientFundsError
	switch {
	case errors.As(err, &funds):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]any{
			"error":     "insufficient funds",
			"required":  funds.Required,
			"available": funds.Available,
		})
	case errors.Is(err, book.ErrInvalidArgument):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, book.ErrNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, book.ErrForbidden):
		writeError(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, book.ErrInvalidState):
		writeError(w, err.Error(), http.StatusConflict)
	default:
		slog.Error("request failed", "err", err)
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}
