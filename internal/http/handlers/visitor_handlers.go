package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/premisehq/visitor-gate/internal/domain"
	"github.com/premisehq/visitor-gate/internal/http/response"
)

// CreateRequest handles POST /visitor/requests. A supplied code makes
// the request pre-approved; an invalid code is rejected so the caller
// can retry without one.
func (h *Handlers) CreateRequest(w http.ResponseWriter, r *http.Request) {
	act, ok := actor(w, r)
	if !ok {
		return
	}

	var in domain.CreateRequestInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	in.VisitorID = act.ID
	in.CreatorRole = act.Role

	visit, err := h.ledger.CreateRequest(r.Context(), &in)
	if err != nil {
		response.WriteDomainError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusCreated, visit)
}

// ListMyRequests handles GET /visitor/requests.
func (h *Handlers) ListMyRequests(w http.ResponseWriter, r *http.Request) {
	act, ok := actor(w, r)
	if !ok {
		return
	}

	limit, offset := pageParams(r)
	visits, err := h.ledger.ListVisitorRequests(r.Context(), act.ID, limit, offset)
	if err != nil {
		response.InternalError(w, "failed to list requests")
		return
	}

	response.WriteJSON(w, http.StatusOK, visits)
}

// GetRequest handles GET /visitor/requests/{id}.
func (h *Handlers) GetRequest(w http.ResponseWriter, r *http.Request) {
	act, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := requestID(r)
	if !ok {
		response.BadRequest(w, "invalid request id")
		return
	}

	visit, err := h.ledger.GetRequest(r.Context(), id)
	if err != nil {
		response.WriteDomainError(w, err)
		return
	}
	if act.Role != domain.RoleAdmin && visit.VisitorID != act.ID && visit.OwnerID != act.ID {
		response.Forbidden(w, "not your request")
		return
	}

	response.WriteJSON(w, http.StatusOK, visit)
}

// CancelRequest handles DELETE /visitor/requests/{id}.
func (h *Handlers) CancelRequest(w http.ResponseWriter, r *http.Request) {
	act, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := requestID(r)
	if !ok {
		response.BadRequest(w, "invalid request id")
		return
	}

	if err := h.ledger.Cancel(r.Context(), id, act); err != nil {
		response.WriteDomainError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, map[string]string{"status": "canceled"})
}
