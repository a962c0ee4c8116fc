package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dmitrijs2005/keepsake/internal/common"
	"github.com/dmitrijs2005/keepsake/internal/logging"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type errorMapping struct {
	err    error
	status int
	code   string
}

// Order matters: the first match wins.
var errorMappings = []errorMapping{
	{common.ErrVaultNotFound, http.StatusNotFound, "vault_not_found"},
	{common.ErrKeepsakeNotFound, http.StatusNotFound, "keepsake_not_found"},
	{common.ErrBeneficiaryNotFound, http.StatusNotFound, "beneficiary_not_found"},
	{common.ErrInvitationNotFound, http.StatusNotFound, "invitation_not_found"},
	{common.ErrorNotFound, http.StatusNotFound, "not_found"},

	{common.ErrInvalidToken, http.StatusUnauthorized, "invalid_token"},
	{common.ErrTokenExpired, http.StatusUnauthorized, "token_expired"},
	{common.ErrorUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{common.ErrNotOwner, http.StatusForbidden, "not_owner"},
	{common.ErrNotTrustedPerson, http.StatusForbidden, "not_trusted_person"},

	{common.ErrInvitationExpired, http.StatusGone, "invitation_expired"},
	{common.ErrInvitationAlreadyAccepted, http.StatusConflict, "invitation_already_accepted"},
	{common.ErrInvitationCancelled, http.StatusConflict, "invitation_cancelled"},
	{common.ErrMaxResendExceeded, http.StatusTooManyRequests, "resend_limit_reached"},

	{common.ErrAlreadyDelivered, http.StatusConflict, "already_delivered"},
	{common.ErrInvalidStateTransition, http.StatusConflict, "invalid_state_transition"},
	{common.ErrVersionConflict, http.StatusConflict, "conflict"},
	{common.ErrorAlreadyExists, http.StatusConflict, "already_exists"},
	{common.ErrWrongTriggerType, http.StatusUnprocessableEntity, "wrong_trigger_type"},

	{common.ErrInvalidTitle, http.StatusBadRequest, "invalid_title"},
	{common.ErrInvalidType, http.StatusBadRequest, "invalid_type"},
	{common.ErrInvalidTrigger, http.StatusBadRequest, "invalid_trigger"},
	{common.ErrInvalidDelay, http.StatusBadRequest, "invalid_delay"},
	{common.ErrInvalidEmail, http.StatusBadRequest, "invalid_email"},
	{common.ErrMissingID, http.StatusBadRequest, "missing_id"},
	{common.ErrEmptyContent, http.StatusBadRequest, "empty_content"},
	{common.ErrPartialContentUpdate, http.StatusBadRequest, "partial_content_update"},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, logger logging.Logger, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			writeJSON(w, m.status, errorResponse{Error: m.code, Message: err.Error()})
			return
		}
	}

	// decryption failures point at corrupted data or a key bug
	if errors.Is(err, common.ErrDecryptionFailed) {
		logger.Error(ctx, "decryption failed while serving request", "error", err)
	} else {
		logger.Error(ctx, "request failed", "error", err)
	}
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal", Message: "internal error"})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad_request", Message: msg})
}
