package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/xtrntr/swappool/internal/access"
	"github.com/xtrntr/swappool/internal/auth"
	"github.com/xtrntr/swappool/internal/metrics"
	"github.com/xtrntr/swappool/internal/models"
	"github.com/xtrntr/swappool/internal/pool"
)

// PayoutReader lists the payouts received by a beneficiary
type PayoutReader interface {
	GetPayouts(ctx context.Context, beneficiary string) ([]models.Payout, error)
}

// Handler contains dependencies for HTTP handlers
type Handler struct {
	Pool        *pool.Pool
	Registry    *pool.StaticRegistry
	Roles       *access.Roles
	AuthService *auth.AuthService
	Payouts     PayoutReader
	Logger      *slog.Logger
}

// NewHandler creates a new handler
func NewHandler(p *pool.Pool, registry *pool.StaticRegistry, roles *access.Roles, authService *auth.AuthService, payouts PayoutReader, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Pool: p, Registry: registry, Roles: roles, AuthService: authService, Payouts: payouts, Logger: logger}
}

// Register handles account registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identity string `json:"identity"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Identity == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Identity and password required")
		return
	}

	account, err := h.AuthService.Register(r.Context(), req.Identity, req.Password)
	if err != nil {
		if errors.Is(err, pool.ErrDuplicateKey) {
			writeError(w, http.StatusConflict, "Identity already registered")
			return
		}
		h.Logger.Warn("register failed", "identity", req.Identity, "error", err)
		writeError(w, http.StatusBadRequest, "Failed to register account")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":       account.ID,
		"identity": account.Identity,
	})
}

// Login handles account login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identity string `json:"identity"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	token, err := h.AuthService.Login(r.Context(), req.Identity, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// Currencies lists the accepted off-chain currencies
func (h *Handler) Currencies(w http.ResponseWriter, r *http.Request) {
	type currency struct {
		Symbol           string `json:"symbol"`
		Name             string `json:"name"`
		SettlementWindow string `json:"settlement_window"`
	}
	out := []currency{}
	for _, c := range h.Registry.Currencies() {
		out = append(out, currency{Symbol: c.Symbol, Name: c.Name, SettlementWindow: c.SettlementWindow.String()})
	}
	writeJSON(w, http.StatusOK, out)
}

// SetAdministrator lets the spare authority replace the administrator
func (h *Handler) SetAdministrator(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identity string `json:"identity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.Roles.SetAdministrator(r.Context(), Identity(r.Context()), req.Identity); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"administrator": h.Roles.Administrator()})
}

// ListOracles lists the registered oracles
func (h *Handler) ListOracles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Roles.Oracles())
}

// RegisterOracles adds or relabels oracles
func (h *Handler) RegisterOracles(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Oracles map[string]string `json:"oracles"` // identity -> label
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.Oracles) == 0 {
		writeError(w, http.StatusBadRequest, "At least one oracle required")
		return
	}
	if err := h.Roles.RegisterOracles(r.Context(), Identity(r.Context()), req.Oracles); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Roles.Oracles())
}

// UnregisterOracle removes one oracle
func (h *Handler) UnregisterOracle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Roles.UnregisterOracles(r.Context(), Identity(r.Context()), []string{id}); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Roles.Oracles())
}

type offerView struct {
	*models.Offer
	Available int64 `json:"available"`
}

// CreateOffer deposits liquidity on behalf of the caller
func (h *Handler) CreateOffer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Currencies map[string]string `json:"currencies"`
		Deposit    int64             `json:"deposit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	offer, err := h.Pool.CreateOffer(r.Context(), Identity(r.Context()), req.Currencies, req.Deposit)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, offerView{Offer: offer, Available: offer.TotalAmount})
}

// ListOffers returns the active offers with their available capacity
func (h *Handler) ListOffers(w http.ResponseWriter, r *http.Request) {
	offers := h.Pool.Offers()
	out := make([]offerView, 0, len(offers))
	for _, o := range offers {
		available, err := h.Pool.AvailableCapacity(o.ID)
		if err != nil {
			// trimmed between the two reads
			continue
		}
		out = append(out, offerView{Offer: o, Available: available})
	}
	writeJSON(w, http.StatusOK, out)
}

// GetOffer returns one active offer
func (h *Handler) GetOffer(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	offer, err := h.Pool.Offer(id)
	if err != nil {
		h.fail(w, err)
		return
	}
	available, err := h.Pool.AvailableCapacity(id)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, offerView{Offer: offer, Available: available})
}

// RequestSwap opens a swap against the pool
func (h *Handler) RequestSwap(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Beneficiary  string          `json:"beneficiary"`
		Amount       int64           `json:"amount"`
		Currency     string          `json:"currency"`
		ExchangeRate decimal.Decimal `json:"exchange_rate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !req.ExchangeRate.IsPositive() {
		writeError(w, http.StatusBadRequest, "Exchange rate must be positive")
		return
	}
	if req.Beneficiary == "" {
		req.Beneficiary = Identity(r.Context())
	}

	swap, err := h.Pool.RequestSwap(r.Context(), models.SwapRequest{
		Beneficiary:  req.Beneficiary,
		Amount:       req.Amount,
		Currency:     req.Currency,
		ExchangeRate: req.ExchangeRate,
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, swap)
}

// GetSwap returns one active swap
func (h *Handler) GetSwap(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	swap, err := h.Pool.Swap(id)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, swap)
}

// ApplySettlements applies an oracle settlement batch
func (h *Handler) ApplySettlements(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Updates []models.SettlementUpdate `json:"updates"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.Pool.ApplySettlementBatch(r.Context(), Identity(r.Context()), req.Updates)
	if err != nil {
		h.fail(w, err)
		return
	}
	metrics.Ledger().ObserveBatch(result)
	writeJSON(w, http.StatusOK, result)
}

// Trim moves terminal records into the archive
func (h *Handler) Trim(w http.ResponseWriter, r *http.Request) {
	result, err := h.Pool.TrimLedgers(r.Context(), Identity(r.Context()))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetArchivedOffer reads a trimmed offer
func (h *Handler) GetArchivedOffer(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	offer, err := h.Pool.ArchivedOffer(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, offer)
}

// GetArchivedSwap reads a trimmed swap
func (h *Handler) GetArchivedSwap(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	swap, err := h.Pool.ArchivedSwap(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, swap)
}

// GetPayouts lists the native transfers received by the caller
func (h *Handler) GetPayouts(w http.ResponseWriter, r *http.Request) {
	payouts, err := h.Payouts.GetPayouts(r.Context(), Identity(r.Context()))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payouts)
}

func idParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 0 {
		writeError(w, http.StatusBadRequest, "Invalid ID")
		return 0, false
	}
	return id, true
}
