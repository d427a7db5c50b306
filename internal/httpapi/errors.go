package httpapi

import (
	"errors"
	"net/http"

	"github.com/cowbot/orderbook/internal/domainerr"
	"github.com/cowbot/orderbook/internal/store"
)

// writeDomainError switches on the §7 error taxonomy and writes the fixed
// HTTP mapping; anything unrecognized (a bug, or an unwrapped DB error)
// falls through to 500 rather than leaking internals to the client.
func writeDomainError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "NotFound", err.Error())
		return
	}

	var valErr *domainerr.ValidationError
	if errors.As(err, &valErr) {
		respondError(w, http.StatusBadRequest, string(valErr.Kind), valErr.Detail)
		return
	}

	var denyErr *domainerr.DenyListedError
	if errors.As(err, &denyErr) {
		respondError(w, http.StatusForbidden, "DenyListed", denyErr.Error())
		return
	}

	var rateErr *domainerr.RateLimitedError
	if errors.As(err, &rateErr) {
		respondError(w, http.StatusTooManyRequests, "RateLimited", rateErr.Error())
		return
	}

	var notFoundErr *domainerr.NotFoundError
	if errors.As(err, &notFoundErr) {
		respondError(w, http.StatusNotFound, "NotFound", notFoundErr.Error())
		return
	}

	var conflictErr *domainerr.ConflictError
	if errors.As(err, &conflictErr) {
		respondError(w, http.StatusConflict, "Conflict", conflictErr.Error())
		return
	}

	var upstreamErr *domainerr.UpstreamError
	if errors.As(err, &upstreamErr) {
		switch upstreamErr.Kind {
		case domainerr.UpstreamNoLiquidity, domainerr.UpstreamUnsupportedToken:
			respondError(w, http.StatusNotFound, string(upstreamErr.Kind), upstreamErr.Error())
		default:
			respondError(w, http.StatusInternalServerError, string(upstreamErr.Kind), upstreamErr.Error())
		}
		return
	}

	var internalErr *domainerr.InternalError
	if errors.As(err, &internalErr) {
		respondError(w, http.StatusInternalServerError, "InternalServerError", internalErr.Error())
		return
	}

	respondError(w, http.StatusInternalServerError, "InternalServerError", err.Error())
}
