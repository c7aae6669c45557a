package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/cabofitpass/backend/internal/services"
)

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Code    string         `json:"code,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// ValidationHelper wraps a shared validator instance.
type ValidationHelper struct {
	validator *validator.Validate
}

func NewValidationHelper() *ValidationHelper {
	return &ValidationHelper{validator: validator.New()}
}

func (vh *ValidationHelper) ValidateStruct(s any) error {
	return vh.validator.Struct(s)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// SendErrorResponse writes a JSON error, listing failed fields when
// validationErr comes from the validator.
func SendErrorResponse(w http.ResponseWriter, message string, statusCode int, validationErr error) {
	resp := ErrorResponse{Error: message}

	var fieldErrs validator.ValidationErrors
	if errors.As(validationErr, &fieldErrs) {
		resp.Code = "validation_failed"
		resp.Details = make(map[string]any, len(fieldErrs))
		for _, err := range fieldErrs {
			resp.Details[err.Field()] = fmt.Sprintf("Field Validation Failed on '%s' tag", err.Tag())
		}
	}

	writeJSON(w, statusCode, resp)
}

// decodeJSON reads exactly one JSON object into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	return decodeBody(w, r, dst, false)
}

// decodeOptionalJSON is decodeJSON for endpoints whose body may be empty,
// with or without a Content-Length. dst is left untouched when it is.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	return decodeBody(w, r, dst, true)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any, optional bool) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	err := dec.Decode(dst)
	if optional && errors.Is(err, io.EOF) {
		return true
	}
	if err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	return true
}

var statusByCode = map[string]int{
	"class_not_found":       http.StatusNotFound,
	"booking_not_found":     http.StatusNotFound,
	"user_not_found":        http.StatusNotFound,
	"class_already_started": http.StatusGone,
	"cancellation_too_late": http.StatusGone,
	"duplicate_booking":     http.StatusConflict,
	"class_full":            http.StatusConflict,
	"already_cancelled":     http.StatusConflict,
	"insufficient_credits":  http.StatusPaymentRequired,
	"unauthorized":          http.StatusForbidden,
	"invalid_amount":        http.StatusUnprocessableEntity,
	"invalid_kind":          http.StatusUnprocessableEntity,
	"invalid_booking_type":  http.StatusUnprocessableEntity,
	"invalid_date_range":    http.StatusUnprocessableEntity,
	"retryable":             http.StatusServiceUnavailable,
}

// writeServiceError maps a service error onto a status and a structured body.
// Infrastructure error text is never sent to the client.
func writeServiceError(w http.ResponseWriter, err error) {
	code := services.ErrorCode(err)
	status, ok := statusByCode[code]
	if !ok {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Internal server error", Code: code})
		return
	}

	resp := ErrorResponse{Error: err.Error(), Code: code}
	if status == http.StatusServiceUnavailable {
		resp.Error = "Temporarily unavailable, please retry"
		w.Header().Set("Retry-After", "1")
	}

	var (
		insufficient *services.InsufficientCreditsError
		duplicate    *services.DuplicateBookingError
		full         *services.ClassFullError
		tooLate      *services.CancellationTooLateError
	)
	switch {
	case errors.As(err, &insufficient):
		resp.Details = map[string]any{
			"balance":   insufficient.Balance,
			"required":  insufficient.Required,
			"shortfall": insufficient.Shortfall(),
		}
	case errors.As(err, &duplicate):
		if duplicate.BookingID != "" {
			resp.Details = map[string]any{"bookingId": duplicate.BookingID}
		}
	case errors.As(err, &full):
		resp.Details = map[string]any{"active": full.Active, "capacity": full.Capacity}
	case errors.As(err, &tooLate):
		resp.Details = map[string]any{
			"hoursRemaining": tooLate.HoursRemaining,
			"requiredHours":  tooLate.RequiredHours,
		}
	}

	writeJSON(w, status, resp)
}
