package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/premisehq/visitor-gate/internal/domain"
	"github.com/premisehq/visitor-gate/internal/http/response"
)

// ListAllRequests handles GET /admin/requests.
func (h *Handlers) ListAllRequests(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	visits, err := h.ledger.ListRequests(r.Context(), limit, offset)
	if err != nil {
		response.InternalError(w, "failed to list requests")
		return
	}

	response.WriteJSON(w, http.StatusOK, visits)
}

// UpdateRequest handles PATCH /admin/requests/{id}. Every changed
// field lands in the audit trail.
func (h *Handlers) UpdateRequest(w http.ResponseWriter, r *http.Request) {
	act, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := requestID(r)
	if !ok {
		response.BadRequest(w, "invalid request id")
		return
	}

	var patch domain.RequestPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}

	visit, err := h.ledger.Update(r.Context(), id, patch, act)
	if err != nil {
		response.WriteDomainError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, visit)
}

// AuditTrail handles GET /admin/requests/{id}/audit.
func (h *Handlers) AuditTrail(w http.ResponseWriter, r *http.Request) {
	id, ok := requestID(r)
	if !ok {
		response.BadRequest(w, "invalid request id")
		return
	}

	entries, err := h.ledger.AuditTrail(r.Context(), id)
	if err != nil {
		response.InternalError(w, "failed to load audit trail")
		return
	}

	response.WriteJSON(w, http.StatusOK, entries)
}

type issuePassRequest struct {
	IssuerID   string `json:"issuer_id"`
	ConsumerID string `json:"consumer_id"`
}

type issuePassResponse struct {
	Pass *domain.FacilityPass `json:"pass"`
	Code string               `json:"code"`
}

// IssuePass handles POST /admin/passes. The plain code appears only in
// this response; the stored row keeps a hash.
func (h *Handlers) IssuePass(w http.ResponseWriter, r *http.Request) {
	act, ok := actor(w, r)
	if !ok {
		return
	}

	var in issuePassRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}

	pass, code, err := h.passes.Issue(r.Context(), in.IssuerID, in.ConsumerID, act)
	if err != nil {
		response.WriteDomainError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusCreated, issuePassResponse{Pass: pass, Code: code})
}

// RevokePass handles DELETE /admin/passes/{id}.
func (h *Handlers) RevokePass(w http.ResponseWriter, r *http.Request) {
	act, ok := actor(w, r)
	if !ok {
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		response.BadRequest(w, "invalid pass id")
		return
	}

	if err := h.passes.Revoke(r.Context(), id, act); err != nil {
		response.WriteDomainError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

// ListPasses handles GET /admin/passes.
func (h *Handlers) ListPasses(w http.ResponseWriter, r *http.Request) {
	act, ok := actor(w, r)
	if !ok {
		return
	}

	passes, err := h.passes.ListActive(r.Context(), act)
	if err != nil {
		response.WriteDomainError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, passes)
}

// ListActiveCodes handles GET /admin/codes, the live registry view.
func (h *Handlers) ListActiveCodes(w http.ResponseWriter, r *http.Request) {
	response.WriteJSON(w, http.StatusOK, h.codes.AllActive())
}
