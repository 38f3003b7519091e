package services

import (
	"sync"
	"time"

	"github.com/huangang/auditreport/internal/models"
)

// ReportEvent is a report status change, streamed to SSE clients and used
// by the scheduler as a change notification.
type ReportEvent struct {
	ReportID      string              `json:"report_id"`
	InspectionID  string              `json:"inspection_id"`
	VersionNumber int                 `json:"version_number,omitempty"`
	Status        models.ReportStatus `json:"status"`
	Error         string              `json:"error,omitempty"`
	At            time.Time           `json:"at"`
}

// SSEHub fans report events out to subscribers. Slow subscribers miss events
// rather than block publishers.
type SSEHub struct {
	clients map[string]chan ReportEvent
	mu      sync.RWMutex
}

func NewSSEHub() *SSEHub {
	return &SSEHub{
		clients: make(map[string]chan ReportEvent),
	}
}

// Subscribe registers a client and returns its event channel.
func (h *SSEHub) Subscribe(clientID string) <-chan ReportEvent {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.clients[clientID]; ok {
		return ch
	}
	ch := make(chan ReportEvent, 100)
	h.clients[clientID] = ch
	return ch
}

func (h *SSEHub) Unsubscribe(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.clients[clientID]; ok {
		close(ch)
		delete(h.clients, clientID)
	}
}

func (h *SSEHub) Publish(event ReportEvent) {
	if h == nil {
		return
	}
	if event.At.IsZero() {
		event.At = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.clients {
		select {
		case ch <- event:
		default:
		}
	}
}

func (h *SSEHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

var globalSSEHub *SSEHub
var sseHubOnce sync.Once

// GetSSEHub returns the process-wide hub.
func GetSSEHub() *SSEHub {
	sseHubOnce.Do(func() {
		globalSSEHub = NewSSEHub()
	})
	return globalSSEHub
}

func reportEvent(r *models.Report) ReportEvent {
	return ReportEvent{
		ReportID:      r.ID,
		InspectionID:  r.InspectionID,
		VersionNumber: r.VersionNumber,
		Status:        r.Status,
		Error:         r.Error,
	}
}
