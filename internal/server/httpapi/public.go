package httpapi

import (
	"net/http"

	"github.com/dmitrijs2005/keepsake/internal/common"
	"github.com/dmitrijs2005/keepsake/internal/server/models"
	"github.com/go-chi/chi/v5"
)

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) declareDeath(w http.ResponseWriter, r *http.Request) {
	var req declareDeathRequest
	if !decode(w, r, &req) {
		return
	}
	if req.TrustedPersonID == "" {
		writeError(r.Context(), w, h.logger, common.ErrMissingID)
		return
	}
	if err := h.svc.Death.DeclareDeath(r.Context(), chi.URLParam(r, "vaultID"), req.TrustedPersonID); err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *handler) tokenInvitation(fn func(r *http.Request, token string) (*models.BeneficiaryInvitation, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		inv, err := fn(r, chi.URLParam(r, "token"))
		if err != nil {
			writeError(r.Context(), w, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, toInvitationResponse(inv))
	}
}

func (h *handler) viewInvitation(r *http.Request, token string) (*models.BeneficiaryInvitation, error) {
	return h.svc.Invitations.View(r.Context(), token)
}

func (h *handler) acceptInvitation(r *http.Request, token string) (*models.BeneficiaryInvitation, error) {
	return h.svc.Invitations.Accept(r.Context(), token)
}

func (h *handler) portalKeepsakes(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get(common.AccessTokenHeaderName)
	if token == "" {
		writeError(r.Context(), w, h.logger, common.ErrInvalidToken)
		return
	}
	session, err := h.svc.Portal.Authenticate(r.Context(), token)
	if err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	items, err := h.svc.Portal.ListKeepsakes(r.Context(), session)
	if err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toPortalResponse(items))
}
