package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"marketdash/internal/model"
)

// HealthStatus tracks feed liveness for /healthz.
type HealthStatus struct {
	mu sync.RWMutex

	Transport     string                `json:"transport"`
	State         model.ConnectionState `json:"state"`
	LastEventTime time.Time             `json:"last_event_time"`
	Symbols       int                   `json:"symbols"`
	StartedAt     time.Time             `json:"started_at"`

	now func() time.Time
}

// NewHealthStatus returns a health status for a feed over transport.
func NewHealthStatus(transport string) *HealthStatus {
	return &HealthStatus{Transport: transport, StartedAt: time.Now(), now: time.Now}
}

func (h *HealthStatus) SetState(_, to model.ConnectionState) {
	h.mu.Lock()
	h.State = to
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastEventTime(t time.Time) {
	h.mu.Lock()
	h.LastEventTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetSymbols(n int) {
	h.mu.Lock()
	h.Symbols = n
	h.mu.Unlock()
}

// ServeHTTP reports "healthy" while connected and 503 "degraded" otherwise.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overall := "healthy"
	code := http.StatusOK
	if h.State != model.Connected {
		overall = "degraded"
		code = http.StatusServiceUnavailable
	}

	eventAge := ""
	lastEvent := ""
	if !h.LastEventTime.IsZero() {
		eventAge = h.now().Sub(h.LastEventTime).Round(time.Millisecond).String()
		lastEvent = h.LastEventTime.Format(time.RFC3339)
	}

	status := struct {
		Status        string                `json:"status"`
		Uptime        string                `json:"uptime"`
		Transport     string                `json:"transport"`
		State         model.ConnectionState `json:"state"`
		LastEventTime string                `json:"last_event_time"`
		EventAge      string                `json:"event_age"`
		Symbols       int                   `json:"symbols"`
	}{
		Status:        overall,
		Uptime:        h.now().Sub(h.StartedAt).Round(time.Second).String(),
		Transport:     h.Transport,
		State:         h.State,
		LastEventTime: lastEvent,
		EventAge:      eventAge,
		Symbols:       h.Symbols,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(status)
}
