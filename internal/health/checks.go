package health

import (
	"context"

	"handy/internal/session"
	"handy/internal/store"
)

// StatusSource is satisfied by *store.Store.
type StatusSource interface {
	Status(ctx context.Context) (*store.Status, error)
}

// StoreCheck reads the settings summary. An unreadable database is
// unhealthy; a readable one with expansion switched off is healthy but
// says so.
func StoreCheck(st StatusSource) Check {
	return func(ctx context.Context) CheckResult {
		s, err := st.Status(ctx)
		if err != nil {
			return CheckResult{
				Status:  StatusUnhealthy,
				Message: "settings database unreadable",
				Error:   err.Error(),
			}
		}
		msg := "settings database ok"
		if !s.Enabled {
			msg = "expansion is disabled"
		}
		return CheckResult{
			Status:  StatusHealthy,
			Message: msg,
			Details: map[string]interface{}{
				"keywords":       s.Keywords,
				"enabled":        s.Enabled,
				"revision":       s.Revision,
				"schema_version": s.SchemaVersion,
			},
		}
	}
}

// SessionCheck maps a session state to a status. A session still
// waiting for its keywords is degraded.
func SessionCheck(state func() session.State) Check {
	return func(ctx context.Context) CheckResult {
		s := state()
		r := CheckResult{
			Message: "session " + s.String(),
			Details: map[string]interface{}{"state": s.String()},
		}
		switch s {
		case session.StateActive:
			r.Status = StatusHealthy
		case session.StateAwaitingData, session.StateUninitialized:
			r.Status = StatusDegraded
		default:
			r.Status = StatusUnhealthy
		}
		return r
	}
}

// PingCheck wraps a function that returns nil while a connection is up.
func PingCheck(what string, ping func(ctx context.Context) error) Check {
	return func(ctx context.Context) CheckResult {
		if err := ping(ctx); err != nil {
			return CheckResult{
				Status:  StatusUnhealthy,
				Message: what + " unreachable",
				Error:   err.Error(),
			}
		}
		return CheckResult{Status: StatusHealthy, Message: what + " ok"}
	}
}
