package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/premisehq/visitor-gate/internal/domain"
	"github.com/premisehq/visitor-gate/internal/http/response"
)

type issueCodeRequest struct {
	MaxUses int `json:"max_uses"`
}

type issueCodeResponse struct {
	Code      string    `json:"code"`
	MaxUses   int       `json:"max_uses"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IssueCode handles POST /owner/codes. Issuing replaces the owner's
// previous active code.
func (h *Handlers) IssueCode(w http.ResponseWriter, r *http.Request) {
	act, ok := actor(w, r)
	if !ok {
		return
	}

	in := issueCodeRequest{MaxUses: 1}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			response.BadRequest(w, "invalid JSON body")
			return
		}
	}

	entry, err := h.codes.Issue(r.Context(), act.ID, in.MaxUses)
	if err != nil {
		response.WriteDomainError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusCreated, issueCodeResponse{
		Code:      entry.Code,
		MaxUses:   entry.MaxUses,
		ExpiresAt: entry.ExpiresAt,
	})
}

// ActiveCode handles GET /owner/codes.
func (h *Handlers) ActiveCode(w http.ResponseWriter, r *http.Request) {
	act, ok := actor(w, r)
	if !ok {
		return
	}

	entry, ok := h.codes.ActiveForIssuer(act.ID)
	if !ok {
		response.NotFound(w, "no active code")
		return
	}

	response.WriteJSON(w, http.StatusOK, entry)
}

// RevokeCode handles DELETE /owner/codes/{code}.
func (h *Handlers) RevokeCode(w http.ResponseWriter, r *http.Request) {
	act, ok := actor(w, r)
	if !ok {
		return
	}

	code := chi.URLParam(r, "code")
	entry, found := h.codes.Entry(code)
	if !found {
		response.NotFound(w, "code not found")
		return
	}
	if act.Role != domain.RoleAdmin && entry.IssuerID != act.ID {
		response.Forbidden(w, "not your code")
		return
	}

	h.codes.ForceRemove(code)
	response.WriteJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

// ListOwnerRequests handles GET /owner/requests?status=pending.
func (h *Handlers) ListOwnerRequests(w http.ResponseWriter, r *http.Request) {
	act, ok := actor(w, r)
	if !ok {
		return
	}

	var status *domain.VerificationStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		s, ok := domain.ParseVerificationStatus(raw)
		if !ok {
			response.BadRequest(w, "invalid status filter")
			return
		}
		status = &s
	}

	limit, offset := pageParams(r)
	visits, err := h.ledger.ListOwnerRequests(r.Context(), act.ID, status, limit, offset)
	if err != nil {
		response.InternalError(w, "failed to list requests")
		return
	}

	response.WriteJSON(w, http.StatusOK, visits)
}

// ApproveRequest handles POST /owner/requests/{id}/approve.
func (h *Handlers) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	h.resolveRequest(w, r, true)
}

// DenyRequest handles POST /owner/requests/{id}/deny.
func (h *Handlers) DenyRequest(w http.ResponseWriter, r *http.Request) {
	h.resolveRequest(w, r, false)
}

func (h *Handlers) resolveRequest(w http.ResponseWriter, r *http.Request, approve bool) {
	act, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := requestID(r)
	if !ok {
		response.BadRequest(w, "invalid request id")
		return
	}

	var (
		visit *domain.VisitRequest
		err   error
	)
	if approve {
		visit, err = h.ledger.Approve(r.Context(), id, act)
	} else {
		visit, err = h.ledger.Deny(r.Context(), id, act)
	}
	if err != nil {
		response.WriteDomainError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, visit)
}
