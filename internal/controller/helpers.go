package controller

import (
	"encoding/json"
	"errors"
	"net/http"

	domainErrors "github.com/cassiomorais/checkout/internal/domain/errors"
	"github.com/rs/zerolog/log"
)

type errorMapping struct {
	err    error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{domainErrors.ErrStateNotFound, http.StatusNotFound, "not_found"},
	{domainErrors.ErrOrderNotFound, http.StatusNotFound, "order_not_found"},
	{domainErrors.ErrUnsupportedMethod, http.StatusBadRequest, "unsupported_method"},
	{domainErrors.ErrTermsNotAccepted, http.StatusBadRequest, "terms_not_accepted"},
	{domainErrors.ErrInvalidInput, http.StatusUnprocessableEntity, "invalid_input"},
	{domainErrors.ErrCheckoutInProgress, http.StatusConflict, "checkout_in_progress"},
	{domainErrors.ErrPaymentInProgress, http.StatusConflict, "payment_in_progress"},
	{domainErrors.ErrPaymentAlreadyConfirmed, http.StatusConflict, "already_confirmed"},
	{domainErrors.ErrOrderNotCancellable, http.StatusConflict, "not_cancellable"},
	{domainErrors.ErrDuplicateIdempotencyKey, http.StatusConflict, "duplicate_request"},
	{domainErrors.ErrInvalidStateTransition, http.StatusConflict, "invalid_state_transition"},
	{domainErrors.ErrGatewayRejected, http.StatusBadGateway, "gateway_rejected"},
	{domainErrors.ErrGatewayUnavailable, http.StatusServiceUnavailable, "gateway_unavailable"},
	{domainErrors.ErrGatewayTimeout, http.StatusGatewayTimeout, "gateway_timeout"},
	{domainErrors.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Error: err.Error()}

	var validationErr *domainErrors.ValidationError
	if errors.As(err, &validationErr) {
		resp.Code = "validation_error"
		resp.Field = validationErr.Field
		writeJSON(w, http.StatusBadRequest, resp)
		return
	}

	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			resp.Code = m.code
			writeJSON(w, m.status, resp)
			return
		}
	}

	var domainErr *domainErrors.DomainError
	if errors.As(err, &domainErr) {
		resp.Code = domainErr.Code
		writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}

	log.Error().Err(err).Msg("unhandled error in handler")
	resp.Code = "internal_error"
	resp.Error = "internal server error"
	writeJSON(w, http.StatusInternalServerError, resp)
}

// decodeJSON reads at most 64KiB of body into dst and rejects unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return domainErrors.NewValidationError("body", "invalid JSON: "+err.Error())
	}
	return nil
}
