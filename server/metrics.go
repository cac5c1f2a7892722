package server

import "sync/atomic"

// Metrics are cheap in-process counters for the orchestrator's hot paths.
// They are not a metrics pipeline; export them however your service does.
type Metrics struct {
	loginSuccess     atomic.Uint64
	loginFailure     atomic.Uint64
	loginThrottled   atomic.Uint64
	sessionResumed   atomic.Uint64
	sessionRefreshed atomic.Uint64
	refreshFailure   atomic.Uint64
	logouts          atomic.Uint64
	impersonations   atomic.Uint64
}

// MetricsSnapshot is a point-in-time copy of the counters.
type MetricsSnapshot struct {
	LoginSuccess     uint64
	LoginFailure     uint64
	LoginThrottled   uint64
	SessionResumed   uint64
	SessionRefreshed uint64
	RefreshFailure   uint64
	Logouts          uint64
	Impersonations   uint64
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		LoginSuccess:     m.loginSuccess.Load(),
		LoginFailure:     m.loginFailure.Load(),
		LoginThrottled:   m.loginThrottled.Load(),
		SessionResumed:   m.sessionResumed.Load(),
		SessionRefreshed: m.sessionRefreshed.Load(),
		RefreshFailure:   m.refreshFailure.Load(),
		Logouts:          m.logouts.Load(),
		Impersonations:   m.impersonations.Load(),
	}
}
