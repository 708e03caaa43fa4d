package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/premisehq/visitor-gate/internal/domain"
	"github.com/premisehq/visitor-gate/internal/http/response"
)

type walkInRequest struct {
	VisitorID  string `json:"visitor_id"`
	OwnerID    string `json:"owner_id"`
	RoomID     string `json:"room_id"`
	Purpose    string `json:"purpose"`
	Code       string `json:"code,omitempty"`
	CheckInNow bool   `json:"check_in_now"`
}

type walkInResponse struct {
	Request *domain.VisitRequest   `json:"request"`
	Session *domain.CheckInSession `json:"session,omitempty"`
}

// CreateWalkIn handles POST /kiosk/walkins: a staff-created request
// with no appointment date. With a valid code the request is created
// already approved, and check_in_now composes the check-in into the
// same call without a separate approval step.
func (h *Handlers) CreateWalkIn(w http.ResponseWriter, r *http.Request) {
	act, ok := actor(w, r)
	if !ok {
		return
	}
	if !act.Capabilities().CanCreateWalkIn {
		response.Forbidden(w, "role cannot create walk-ins")
		return
	}

	var in walkInRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}

	visit, err := h.ledger.CreateRequest(r.Context(), &domain.CreateRequestInput{
		VisitorID:    in.VisitorID,
		OwnerID:      in.OwnerID,
		RoomID:       in.RoomID,
		Purpose:      in.Purpose,
		CreatorRole:  act.Role,
		SuppliedCode: in.Code,
	})
	if err != nil {
		response.WriteDomainError(w, err)
		return
	}

	out := walkInResponse{Request: visit}
	if in.CheckInNow && visit.Status == domain.StatusApproved {
		session, err := h.checkin.CheckIn(r.Context(), visit.ID, act)
		if err != nil {
			response.WriteDomainError(w, err)
			return
		}
		out.Session = session
	}

	response.WriteJSON(w, http.StatusCreated, out)
}

// CheckIn handles POST /kiosk/requests/{id}/checkin.
func (h *Handlers) CheckIn(w http.ResponseWriter, r *http.Request) {
	act, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := requestID(r)
	if !ok {
		response.BadRequest(w, "invalid request id")
		return
	}

	session, err := h.checkin.CheckIn(r.Context(), id, act)
	if err != nil {
		response.WriteDomainError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusCreated, session)
}

// CheckOut handles POST /kiosk/requests/{id}/checkout.
func (h *Handlers) CheckOut(w http.ResponseWriter, r *http.Request) {
	act, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := requestID(r)
	if !ok {
		response.BadRequest(w, "invalid request id")
		return
	}

	session, err := h.checkin.CheckOut(r.Context(), id, act)
	if err != nil {
		response.WriteDomainError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, session)
}
