package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/premisehq/visitor-gate/internal/domain"
	mw "github.com/premisehq/visitor-gate/internal/http/middleware"
	"github.com/premisehq/visitor-gate/internal/http/response"
	"github.com/premisehq/visitor-gate/internal/otp"
	"github.com/premisehq/visitor-gate/internal/service"
)

type Handlers struct {
	ledger  service.LedgerService
	checkin service.CheckInService
	passes  service.PassService
	codes   *otp.Registry
}

func New(ledger service.LedgerService, checkin service.CheckInService, passes service.PassService, codes *otp.Registry) *Handlers {
	return &Handlers{
		ledger:  ledger,
		checkin: checkin,
		passes:  passes,
		codes:   codes,
	}
}

func requestID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

func actor(w http.ResponseWriter, r *http.Request) (domain.Actor, bool) {
	a, ok := mw.ActorFromContext(r.Context())
	if !ok {
		response.Unauthorized(w, "no authenticated actor")
	}
	return a, ok
}

func pageParams(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	return limit, offset
}
