package rest

import (
	"errors"
	"net/http"

	"github.com/mohitkumar/eventflow/inbox"
	"github.com/mohitkumar/eventflow/persistence"
	"github.com/mohitkumar/eventflow/recovery"
)

// statusOf maps an error from the runtime to the HTTP status reported for it.
func statusOf(err error) int {
	if errors.Is(err, persistence.ErrNotFound) {
		return http.StatusNotFound
	}
	if errors.Is(err, inbox.ErrInvalidTransition) {
		return http.StatusConflict
	}
	kind, ok := recovery.KindOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch kind {
	case recovery.KindValidation:
		return http.StatusBadRequest
	case recovery.KindPermission:
		return http.StatusForbidden
	case recovery.KindConstraint:
		return http.StatusConflict
	case recovery.KindThrottled:
		return http.StatusTooManyRequests
	case recovery.KindLock, recovery.KindLockTimeout, recovery.KindConnection, recovery.KindTimeout, recovery.KindTransaction:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func respondWithStatusOf(w http.ResponseWriter, err error) {
	respondWithError(w, statusOf(err), err.Error())
}
