package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/skip2/go-qrcode"

	mw "github.com/cabofitpass/backend/internal/middleware"
	"github.com/cabofitpass/backend/internal/models"
	"github.com/cabofitpass/backend/internal/services"
)

type Ledger interface {
	GetBalance(ctx context.Context, userID string) int64
	History(ctx context.Context, userID string, limit, offset int) ([]models.CreditTransaction, error)
	PurchaseCredits(ctx context.Context, req services.PurchaseRequest) (*models.CreditTransaction, error)
	Adjust(ctx context.Context, userID string, amount int64, description string) (*models.CreditTransaction, error)
}

type Costs interface {
	Cost(ctx context.Context, classID string, at time.Time) (int64, error)
	PreviewCosts(ctx context.Context, classIDs []string, at time.Time) ([]models.ClassCost, error)
}

type Bookings interface {
	Book(ctx context.Context, req services.BookRequest) (*models.Booking, error)
	Cancel(ctx context.Context, bookingID, userID string) (*models.CancelOutcome, error)
	Eligibility(ctx context.Context, userID, classID string, at time.Time) (*models.Eligibility, error)
	GetBooking(ctx context.Context, bookingID, userID string) (*models.Booking, error)
}

type Dashboards interface {
	UserDashboard(ctx context.Context, userID string) (*models.CreditDashboard, error)
	Analytics(ctx context.Context, from, to time.Time) (*models.CreditAnalytics, error)
}

type Rollovers interface {
	ProcessRollover(ctx context.Context, userID string) ([]models.RolloverResult, error)
}

// CreditsHandler exposes the credit engine under /credits.
type CreditsHandler struct {
	ledger     Ledger
	costs      Costs
	bookings   Bookings
	dashboards Dashboards
	rollovers  Rollovers
	validator  *ValidationHelper
	now        func() time.Time
}

func NewCreditsHandler(ledger Ledger, costs Costs, bookings Bookings, dashboards Dashboards, rollovers Rollovers) *CreditsHandler {
	return &CreditsHandler{
		ledger:     ledger,
		costs:      costs,
		bookings:   bookings,
		dashboards: dashboards,
		rollovers:  rollovers,
		validator:  NewValidationHelper(),
		now:        time.Now,
	}
}

// Routes mounts the credit endpoints. Callers must already be authenticated.
func (h *CreditsHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/balance", h.GetBalance)
	r.Get("/dashboard", h.GetDashboard)
	r.Get("/transactions", h.ListTransactions)
	r.Get("/class-cost/{classId}", h.GetClassCost)
	r.Post("/class-costs", h.PreviewClassCosts)
	r.Get("/booking-eligibility/{classId}", h.GetEligibility)
	r.Post("/book-class", h.BookClass)
	r.Post("/cancel-booking", h.CancelBooking)
	r.Post("/purchase", h.Purchase)
	r.Get("/bookings/{bookingId}/pass", h.BookingPass)

	r.Route("/admin", func(r chi.Router) {
		r.Use(mw.RequireAdmin)
		r.Post("/rollover", h.Rollover)
		r.Post("/adjust", h.Adjust)
		r.Get("/analytics", h.Analytics)
	})
	return r
}

func (h *CreditsHandler) userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := mw.UserIDFromContext(r.Context())
	if userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return "", false
	}
	return userID, true
}

// parseAt reads an optional RFC 3339 "at" query parameter.
func (h *CreditsHandler) parseAt(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	raw := r.URL.Query().Get("at")
	if raw == "" {
		return h.now(), true
	}
	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		SendErrorResponse(w, "Invalid 'at' timestamp, expected RFC 3339", http.StatusBadRequest, nil)
		return time.Time{}, false
	}
	return at, true
}

func (h *CreditsHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"balance": h.ledger.GetBalance(r.Context(), userID),
	})
}

func (h *CreditsHandler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	dashboard, err := h.dashboards.UserDashboard(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "dashboard": dashboard})
}

func (h *CreditsHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		SendErrorResponse(w, "Invalid limit", http.StatusBadRequest, nil)
		return
	}
	limit = services.HistoryLimit(limit)
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		SendErrorResponse(w, "Invalid offset", http.StatusBadRequest, nil)
		return
	}

	history, err := h.ledger.History(r.Context(), userID, limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"transactions": history,
		"limit":        limit,
		"offset":       offset,
	})
}

func (h *CreditsHandler) GetClassCost(w http.ResponseWriter, r *http.Request) {
	at, ok := h.parseAt(w, r)
	if !ok {
		return
	}

	classID := chi.URLParam(r, "classId")
	cost, err := h.costs.Cost(r.Context(), classID, at)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"classId":    classID,
		"creditCost": cost,
	})
}

func (h *CreditsHandler) PreviewClassCosts(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClassIDs []string   `json:"classIds" validate:"required,min=1,max=100,dive,required"`
		At       *time.Time `json:"at"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	at := h.now()
	if req.At != nil {
		at = *req.At
	}

	costs, err := h.costs.PreviewCosts(r.Context(), req.ClassIDs, at)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "classes": costs})
}

func (h *CreditsHandler) GetEligibility(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	at, ok := h.parseAt(w, r)
	if !ok {
		return
	}

	eligibility, err := h.bookings.Eligibility(r.Context(), userID, chi.URLParam(r, "classId"), at)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "eligibility": eligibility})
}

func (h *CreditsHandler) BookClass(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req services.BookRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	req.UserID = userID
	req.At = h.now()

	booking, err := h.bookings.Book(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"success":     true,
		"booking":     booking,
		"creditsUsed": booking.CreditCost,
		"balance":     h.ledger.GetBalance(r.Context(), userID),
	})
}

func (h *CreditsHandler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req struct {
		BookingID string `json:"bookingId" validate:"required,max=64"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	outcome, err := h.bookings.Cancel(r.Context(), req.BookingID, userID)
	if errors.Is(err, services.ErrAlreadyCancelled) && outcome != nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"success":          true,
			"alreadyCancelled": true,
			"booking":          outcome.Booking,
		})
		return
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"booking":         outcome.Booking,
		"refundedCredits": outcome.RefundedCredits,
		"balance":         outcome.Balance,
		"transactionId":   outcome.TransactionID,
	})
}

func (h *CreditsHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req services.PurchaseRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	req.UserID = userID

	rec, err := h.ledger.PurchaseCredits(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"success":     true,
		"transaction": rec,
		"balance":     rec.BalanceAfter,
	})
}

// BookingPass renders a check-in QR code for an active booking.
func (h *CreditsHandler) BookingPass(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	booking, err := h.bookings.GetBooking(r.Context(), chi.URLParam(r, "bookingId"), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if !booking.IsActive() {
		writeJSON(w, http.StatusGone, ErrorResponse{Error: "Booking is not active", Code: "booking_not_active"})
		return
	}

	png, err := qrcode.Encode("fitpass:booking:"+booking.ID+":"+booking.ClassID, qrcode.Medium, 256)
	if err != nil {
		SendErrorResponse(w, "Failed to render pass", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

func (h *CreditsHandler) Rollover(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId" validate:"omitempty,max=64"`
	}
	if !decodeOptionalJSON(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	results, err := h.rollovers.ProcessRollover(r.Context(), req.UserID)
	if err != nil && len(results) == 0 {
		writeServiceError(w, err)
		return
	}

	resp := map[string]any{
		"success": err == nil,
		"results": results,
	}
	if err != nil {
		resp["error"] = "Some accounts failed to roll over"
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *CreditsHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID      string `json:"userId" validate:"required,max=64"`
		Amount      int64  `json:"amount" validate:"required,ne=0"`
		Description string `json:"description" validate:"max=500"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	rec, err := h.ledger.Adjust(r.Context(), req.UserID, req.Amount, req.Description)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "transaction": rec})
}

func (h *CreditsHandler) Analytics(w http.ResponseWriter, r *http.Request) {
	from, err := time.Parse(time.RFC3339, r.URL.Query().Get("from"))
	if err != nil {
		SendErrorResponse(w, "Invalid 'from', expected RFC 3339", http.StatusBadRequest, nil)
		return
	}
	to, err := time.Parse(time.RFC3339, r.URL.Query().Get("to"))
	if err != nil {
		SendErrorResponse(w, "Invalid 'to', expected RFC 3339", http.StatusBadRequest, nil)
		return
	}

	report, err := h.dashboards.Analytics(r.Context(), from, to)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "analytics": report})
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
