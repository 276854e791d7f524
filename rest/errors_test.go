package rest

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/mohitkumar/eventflow/inbox"
	"github.com/mohitkumar/eventflow/persistence"
	"github.com/mohitkumar/eventflow/recovery"
	"github.com/stretchr/testify/require"
)

func TestStatusOf(t *testing.T) {
	base := errors.New("x")
	for scenario, tc := range map[string]struct {
		err    error
		status int
	}{
		"not found":          {fmt.Errorf("%w: execution", persistence.ErrNotFound), http.StatusNotFound},
		"invalid transition": {fmt.Errorf("claim: %w", inbox.ErrInvalidTransition), http.StatusConflict},
		"validation":         {recovery.Wrap(recovery.KindValidation, "", base), http.StatusBadRequest},
		"permission":         {recovery.Wrap(recovery.KindPermission, "", base), http.StatusForbidden},
		"throttled":          {recovery.Throttled(base), http.StatusTooManyRequests},
		"lock timeout":       {recovery.Wrap(recovery.KindLockTimeout, "", base), http.StatusServiceUnavailable},
		"plain":              {base, http.StatusInternalServerError},
	} {
		t.Run(scenario, func(t *testing.T) {
			require.Equal(t, tc.status, statusOf(tc.err))
		})
	}
}
