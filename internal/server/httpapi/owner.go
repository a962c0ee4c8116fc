package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/dmitrijs2005/keepsake/internal/server/models"
	"github.com/dmitrijs2005/keepsake/internal/server/services"
	"github.com/go-chi/chi/v5"
)

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badRequest(w, "invalid request body")
		return false
	}
	return true
}

func (h *handler) createVault(w http.ResponseWriter, r *http.Request) {
	v, err := h.svc.Vaults.CreateVault(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, vaultResponse{ID: v.ID, Status: v.Status})
}

func (h *handler) addBeneficiary(w http.ResponseWriter, r *http.Request) {
	var req beneficiaryRequest
	if !decode(w, r, &req) {
		return
	}
	b, err := h.svc.Vaults.AddBeneficiary(r.Context(), userIDFrom(r.Context()), req.Email, req.FullName)
	if err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBeneficiaryResponse(b))
}

func (h *handler) listBeneficiaries(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Vaults.ListBeneficiaries(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	out := make([]beneficiaryResponse, 0, len(list))
	for _, b := range list {
		out = append(out, toBeneficiaryResponse(b))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) setTrustedPerson(w http.ResponseWriter, r *http.Request) {
	var req trustedPersonRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.svc.Vaults.SetTrustedPerson(r.Context(), userIDFrom(r.Context()), req.BeneficiaryID); err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) getNotificationConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.svc.Vaults.NotificationConfig(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, notificationConfigBody{
		TrustedPersonDelayHours: cfg.TrustedPersonDelayHours,
		BeneficiaryDelayHours:   cfg.BeneficiaryDelayHours,
	})
}

func (h *handler) putNotificationConfig(w http.ResponseWriter, r *http.Request) {
	var req notificationConfigBody
	if !decode(w, r, &req) {
		return
	}
	cfg, err := h.svc.Vaults.UpdateNotificationConfig(r.Context(), userIDFrom(r.Context()),
		req.TrustedPersonDelayHours, req.BeneficiaryDelayHours)
	if err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, notificationConfigBody{
		TrustedPersonDelayHours: cfg.TrustedPersonDelayHours,
		BeneficiaryDelayHours:   cfg.BeneficiaryDelayHours,
	})
}

func (h *handler) createKeepsake(w http.ResponseWriter, r *http.Request) {
	var req createKeepsakeRequest
	if !decode(w, r, &req) {
		return
	}
	out, err := h.svc.Keepsakes.Create(r.Context(), userIDFrom(r.Context()), services.CreateKeepsakeInput{
		Type:            req.Type,
		Title:           req.Title,
		Content:         req.Content,
		Trigger:         req.Trigger,
		RevealDelayDays: req.RevealDelayDays,
		RevealDate:      req.RevealDate,
		ScheduledAt:     req.ScheduledAt,
		Status:          req.Status,
	})
	if err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	resp := toKeepsakeResponse(out.Keepsake)
	resp.UploadURL = out.UploadURL
	writeJSON(w, http.StatusCreated, resp)
}

func (h *handler) listKeepsakes(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Keepsakes.List(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	out := make([]keepsakeResponse, 0, len(list))
	for _, k := range list {
		out = append(out, toKeepsakeResponse(k))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) getKeepsake(w http.ResponseWriter, r *http.Request) {
	k, content, err := h.svc.Keepsakes.Get(r.Context(), userIDFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	resp := toKeepsakeResponse(k)
	resp.Content = content
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) updateKeepsake(w http.ResponseWriter, r *http.Request) {
	var req updateKeepsakeRequest
	if !decode(w, r, &req) {
		return
	}
	k, err := h.svc.Keepsakes.Update(r.Context(), userIDFrom(r.Context()), chi.URLParam(r, "id"), services.UpdateKeepsakeInput(req))
	if err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toKeepsakeResponse(k))
}

func (h *handler) deleteKeepsake(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Keepsakes.Delete(r.Context(), userIDFrom(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// keepsakeAction adapts a single-keepsake state transition to a handler.
func (h *handler) keepsakeAction(fn func(r *http.Request, userID, id string) (*models.Keepsake, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		k, err := fn(r, userIDFrom(r.Context()), chi.URLParam(r, "id"))
		if err != nil {
			writeError(r.Context(), w, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, toKeepsakeResponse(k))
	}
}

func (h *handler) scheduleKeepsake(r *http.Request, userID, id string) (*models.Keepsake, error) {
	return h.svc.Keepsakes.Schedule(r.Context(), userID, id)
}

func (h *handler) unscheduleKeepsake(r *http.Request, userID, id string) (*models.Keepsake, error) {
	return h.svc.Keepsakes.Unschedule(r.Context(), userID, id)
}

func (h *handler) deliverKeepsake(r *http.Request, userID, id string) (*models.Keepsake, error) {
	return h.svc.Delivery.ManualDelivery(r.Context(), id, userID)
}

func (h *handler) invitationAction(fn func(r *http.Request, id, userID string) (*models.BeneficiaryInvitation, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		inv, err := fn(r, chi.URLParam(r, "id"), userIDFrom(r.Context()))
		if err != nil {
			writeError(r.Context(), w, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, toInvitationResponse(inv))
	}
}

func (h *handler) resendInvitation(r *http.Request, id, userID string) (*models.BeneficiaryInvitation, error) {
	return h.svc.Invitations.Resend(r.Context(), id, userID)
}

func (h *handler) cancelInvitation(r *http.Request, id, userID string) (*models.BeneficiaryInvitation, error) {
	return h.svc.Invitations.Cancel(r.Context(), id, userID)
}
