// Package httpapi is the relay's write-user-intent surface: handlers only
// write user intent (follow/unfollow, policy changes), and all copy work
// runs in the worker pool regardless of who triggered it. Uses a
// response-envelope and mux.Vars routing idiom.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/iamshubha/poly-copytrade-sub000/internal/domain"
	"github.com/iamshubha/poly-copytrade-sub000/internal/store"
)

// response is the uniform JSON envelope every handler writes.
type response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

// Handler holds the collaborators the HTTP surface needs. It never touches
// the queue or the exchange directly.
type Handler struct {
	store store.Store
	log   zerolog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(st store.Store, log zerolog.Logger) *Handler {
	return &Handler{store: st, log: log.With().Str("component", "httpapi").Logger()}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, resp response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, response{Success: false, Error: message})
}

func (h *Handler) writeSuccess(w http.ResponseWriter, data interface{}, message string) {
	h.writeJSON(w, http.StatusOK, response{Success: true, Data: data, Message: message})
}

type createFollowRequest struct {
	Follower       string   `json:"follower"`
	Leader         string   `json:"leader"`
	CopyPercentage string   `json:"copy_percentage"`
	OnlyMarkets    []string `json:"only_markets"`
	ExcludeMarkets []string `json:"exclude_markets"`
	OnlyOutcomes   []int    `json:"only_outcomes"`

	MaxCopyPercentage string `json:"max_copy_percentage"`
	MinTradeAmount    string `json:"min_trade_amount"`
	MaxTradeAmount    string `json:"max_trade_amount"`
	MaxOpenPositions  int    `json:"max_open_positions"`
	MaxDailyLoss      string `json:"max_daily_loss"`
	SlippageTolerance string `json:"slippage_tolerance"`
	CopyDelaySeconds  int    `json:"copy_delay_seconds"`
}

// CreateFollow handles POST /follows: a user opts into copying a leader.
func (h *Handler) CreateFollow(w http.ResponseWriter, r *http.Request) {
	var req createFollowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	follower, err := domain.ParseAddress(req.Follower)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid follower address")
		return
	}
	leader, err := domain.ParseAddress(req.Leader)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid leader address")
		return
	}

	policy := domain.CopyPolicy{
		Enabled:        true,
		CopyPercentage: decimalOrDefault(req.CopyPercentage, "10"),
		OnlyMarkets:    toSet(req.OnlyMarkets),
		ExcludeMarkets: toSet(req.ExcludeMarkets),
		OnlyOutcomes:   toOutcomeSet(req.OnlyOutcomes),
	}
	risk := domain.RiskPolicy{
		Follower:          follower,
		MaxCopyPercentage: decimalOrDefault(req.MaxCopyPercentage, "100"),
		MinTradeAmount:    decimalOrDefault(req.MinTradeAmount, "1"),
		MaxTradeAmount:    nullDecimalOrUnset(req.MaxTradeAmount),
		MaxOpenPositions:  defaultInt(req.MaxOpenPositions, 10),
		MaxDailyLoss:      nullDecimalOrUnset(req.MaxDailyLoss),
		SlippageTolerance: decimalOrDefault(req.SlippageTolerance, "0.02"),
		CopyDelay:         time.Duration(req.CopyDelaySeconds) * time.Second,
		AutoCopyEnabled:   true,
	}

	follow := domain.Follow{
		Follower: follower,
		Leader:   leader,
		Policy:   policy,
		Enabled:  true,
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	created, err := h.store.CreateFollow(ctx, follow, risk)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to create follow")
		h.writeError(w, http.StatusInternalServerError, "failed to create follow")
		return
	}

	h.log.Info().Str("follower", string(follower)).Str("leader", string(leader)).Msg("follow created")
	h.writeSuccess(w, created, "follow created")
}

// DeleteFollow handles DELETE /follows/{id}. This has no effect on
// already-enqueued intents.
func (h *Handler) DeleteFollow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if err := h.store.DeleteFollow(ctx, id); err != nil {
		h.log.Error().Err(err).Str("follow_id", id).Msg("failed to delete follow")
		h.writeError(w, http.StatusInternalServerError, "failed to delete follow")
		return
	}
	h.writeSuccess(w, nil, "follow deleted")
}

type setAutoCopyRequest struct {
	Enabled bool `json:"enabled"`
}

// SetAutoCopy handles PUT /followers/{address}/auto-copy: the account-wide
// master switch the executor re-checks before submitting an order.
func (h *Handler) SetAutoCopy(w http.ResponseWriter, r *http.Request) {
	rawAddr := mux.Vars(r)["address"]
	addr, err := domain.ParseAddress(rawAddr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid address")
		return
	}

	var req setAutoCopyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if err := h.store.SetAutoCopyEnabled(ctx, addr, req.Enabled); err != nil {
		h.log.Error().Err(err).Str("follower", string(addr)).Msg("failed to update auto-copy")
		h.writeError(w, http.StatusInternalServerError, "failed to update auto-copy")
		return
	}
	h.log.Info().Str("follower", string(addr)).Bool("enabled", req.Enabled).Msg("auto-copy updated")
	h.writeSuccess(w, nil, "auto-copy updated")
}

// ListLeaders handles GET /leaders: the current monitored set as last
// persisted by the detector.
func (h *Handler) ListLeaders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	leaders, err := h.store.ListLeaders(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list leaders")
		h.writeError(w, http.StatusInternalServerError, "failed to list leaders")
		return
	}
	h.writeSuccess(w, leaders, "")
}

// HealthCheck handles GET /healthz.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "ok"}, "")
}

func decimalOrDefault(raw, fallback string) decimal.Decimal {
	if raw == "" {
		raw = fallback
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.RequireFromString(fallback)
	}
	return d
}

func nullDecimalOrUnset(raw string) decimal.NullDecimal {
	if raw == "" {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

func defaultInt(v, fallback int) int {
	if v == 0 {
		return fallback
	}
	return v
}

func toSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		out[v] = struct{}{}
	}
	return out
}

func toOutcomeSet(values []int) map[domain.Outcome]struct{} {
	if len(values) == 0 {
		return nil
	}
	out := make(map[domain.Outcome]struct{}, len(values))
	for _, v := range values {
		out[domain.Outcome(v)] = struct{}{}
	}
	return out
}
