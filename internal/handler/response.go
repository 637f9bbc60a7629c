package handler

import (
	"errors"
	"fmt"
	"net/http"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"

	"github.com/prn-tf/alexander-library/internal/domain"
	"github.com/prn-tf/alexander-library/internal/service"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// APIError maps a service error to a status code and a stable code string.
type APIError struct {
	Code           string
	HTTPStatusCode int
}

// errorMappings is checked in order; the first match wins.
var errorMappings = []struct {
	err error
	api APIError
}{
	{domain.ErrBookNotFound, APIError{"NotFound", http.StatusNotFound}},
	{domain.ErrIssueNotFound, APIError{"NotFound", http.StatusNotFound}},
	{domain.ErrUserNotFound, APIError{"UserNotFound", http.StatusNotFound}},
	{domain.ErrNotIssued, APIError{"NotIssued", http.StatusNotFound}},
	{domain.ErrNoCopiesAvailable, APIError{"NoCopiesAvailable", http.StatusBadRequest}},
	{domain.ErrLimitExceeded, APIError{"LimitExceeded", http.StatusBadRequest}},
	{domain.ErrOverdueBlocked, APIError{"OverdueBlocked", http.StatusBadRequest}},
	{domain.ErrInvalidBook, APIError{"InvalidInput", http.StatusBadRequest}},
	{service.ErrInvalidInput, APIError{"InvalidInput", http.StatusBadRequest}},
	{domain.ErrBookAlreadyExists, APIError{"BookAlreadyExists", http.StatusConflict}},
	{domain.ErrUserAlreadyExists, APIError{"UserAlreadyExists", http.StatusConflict}},
	{domain.ErrInvalidCredentials, APIError{"InvalidCredentials", http.StatusUnauthorized}},
	{domain.ErrStoreUnavailable, APIError{"StoreUnavailable", http.StatusServiceUnavailable}},
	{domain.ErrInvariantViolation, APIError{"InvariantViolation", http.StatusInternalServerError}},
}

var errInternal = APIError{"InternalError", http.StatusInternalServerError}

// mapError finds the API error for err.
func mapError(err error) APIError {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m.api
		}
	}
	return errInternal
}

// writeError writes err as an ErrorResponse.
// Server-side failures get a generic message so internals don't leak.
func writeError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	api := mapError(err)

	message := err.Error()
	switch api.HTTPStatusCode {
	case http.StatusServiceUnavailable:
		logger.Warn().Err(err).Msg("store unavailable")
		w.Header().Set("Retry-After", "1")
		message = "The store is temporarily unavailable. Please retry."
	case http.StatusInternalServerError:
		logger.Error().Err(err).Str("code", api.Code).Msg("request failed")
		message = "Internal server error."
	case http.StatusUnauthorized:
		message = "Invalid email or password."
	}

	writeJSON(w, api.HTTPStatusCode, ErrorResponse{Code: api.Code, Message: message})
}

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON reads a request body into v, capped at maxBytes.
func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return fmt.Errorf("%w: malformed JSON body", service.ErrInvalidInput)
	}
	return nil
}
