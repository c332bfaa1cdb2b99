// SPDX-License-Identifier: MIT

// Package events implements the Event Emitter of spec.md §4.7: an
// in-process CloudEvents-style pub/sub hub that fans out access-log and
// occupancy-update events to real-time subscribers (the admin dashboard's
// SSE/WebSocket feed), adapted from
// Generativebots-ocx-backend-go-svc's internal/events/bus.go.
package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/accessctl/core/internal/metrics"
)

const (
	TypeAccessLog       = "com.accessctl.access_log"
	TypeOccupancyUpdate = "com.accessctl.occupancy_update"
	TypeDeviceStatus    = "com.accessctl.device_status"
)

// CloudEvent is the CloudEvents 1.0 envelope used for every event on the
// hub, matching the teacher source's wire shape so a future HTTP/SSE
// surface can serialize it unchanged.
type CloudEvent struct {
	SpecVersion string         `json:"specversion"`
	Type        string         `json:"type"`
	Source      string         `json:"source"`
	ID          string         `json:"id"`
	Time        time.Time      `json:"time"`
	Subject     string         `json:"subject,omitempty"`
	Data        map[string]any `json:"data"`
}

func newCloudEvent(eventType, source, subject string, data map[string]any) *CloudEvent {
	return &CloudEvent{
		SpecVersion: "1.0",
		Type:        eventType,
		Source:      source,
		ID:          fmt.Sprintf("ce-%d", time.Now().UnixNano()),
		Time:        time.Now(),
		Subject:     subject,
		Data:        data,
	}
}

// JSON serializes the event.
func (ce *CloudEvent) JSON() ([]byte, error) {
	return json.Marshal(ce)
}

// SSEFormat renders the event as a Server-Sent Events frame.
func (ce *CloudEvent) SSEFormat() ([]byte, error) {
	data, err := json.Marshal(ce)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\nid: %s\n\n", ce.Type, data, ce.ID)), nil
}

// Hub is an in-process pub/sub event bus. Subscribers receive CloudEvents
// in real time over a buffered channel; a slow or absent subscriber drops
// events rather than blocking the decision path that publishes them.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string][]chan *CloudEvent
	allSubs     []chan *CloudEvent
	logger      zerolog.Logger
	bufferSize  int
}

// NewHub creates an event hub. bufferSize <= 0 uses a default of 100.
func NewHub(logger zerolog.Logger, bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Hub{
		subscribers: make(map[string][]chan *CloudEvent),
		logger:      logger,
		bufferSize:  bufferSize,
	}
}

// Subscribe creates a channel that receives events of the given types.
// Passing no types subscribes to every event.
func (h *Hub) Subscribe(eventTypes ...string) chan *CloudEvent {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan *CloudEvent, h.bufferSize)
	if len(eventTypes) == 0 {
		h.allSubs = append(h.allSubs, ch)
	} else {
		for _, et := range eventTypes {
			h.subscribers[et] = append(h.subscribers[et], ch)
		}
	}
	metrics.EventSubscribers.Set(float64(h.subscriberCountLocked()))
	return ch
}

// Unsubscribe removes and closes a subscription channel.
func (h *Hub) Unsubscribe(ch chan *CloudEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for et, subs := range h.subscribers {
		h.subscribers[et] = removeChan(subs, ch)
	}
	h.allSubs = removeChan(h.allSubs, ch)
	close(ch)
	metrics.EventSubscribers.Set(float64(h.subscriberCountLocked()))
}

func removeChan(subs []chan *CloudEvent, target chan *CloudEvent) []chan *CloudEvent {
	filtered := make([]chan *CloudEvent, 0, len(subs))
	for _, s := range subs {
		if s != target {
			filtered = append(filtered, s)
		}
	}
	return filtered
}

// Publish sends an event to every matching subscriber, dropping it for any
// subscriber whose buffer is full.
func (h *Hub) Publish(event *CloudEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.subscribers[event.Type] {
		select {
		case ch <- event:
		default:
			h.logger.Warn().Str("event_type", event.Type).Msg("dropping event: subscriber buffer full")
		}
	}
	for _, ch := range h.allSubs {
		select {
		case ch <- event:
		default:
		}
	}
}

// SubscriberCount returns the total number of active subscriptions.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.subscriberCountLocked()
}

// subscriberCountLocked requires h.mu to be held (read or write).
func (h *Hub) subscriberCountLocked() int {
	count := len(h.allSubs)
	for _, subs := range h.subscribers {
		count += len(subs)
	}
	return count
}

// EmitOccupancyUpdate publishes the post-transition occupancy of a zone
// (spec.md §4.7), matching the teacher source's _emit_occupancy_update
// payload shape.
func (h *Hub) EmitOccupancyUpdate(zoneID int64, zoneName string, occupancy, capacity int) {
	percent := 0.0
	if capacity > 0 {
		percent = float64(occupancy) / float64(capacity) * 100
	}
	h.Publish(newCloudEvent(TypeOccupancyUpdate, "accessctl/decision-engine", fmt.Sprintf("zone/%d", zoneID), map[string]any{
		"zone_id":   zoneID,
		"zone_name": zoneName,
		"current":   occupancy,
		"capacity":  capacity,
		"percent":   percent,
	}))
}

// EmitAccessLog publishes a granted or denied scan outcome for the
// dashboard's live feed, matching the teacher source's _emit_access_log
// payload shape. isEntry is gate.zone_to != NULL (spec.md §4.7).
func (h *Hub) EmitAccessLog(gateID int64, gateName, userName, role, credential string, granted, isEntry bool, reason string) {
	status := "DENIED"
	if granted {
		status = "ALLOWED"
	}
	h.Publish(newCloudEvent(TypeAccessLog, "accessctl/decision-engine", fmt.Sprintf("gate/%d", gateID), map[string]any{
		"gate_id":    gateID,
		"gate_name":  gateName,
		"user_name":  userName,
		"role":       role,
		"credential": credential,
		"status":     status,
		"reason":     reason,
		"is_entry":   isEntry,
	}))
}

// EmitDeviceStatus publishes a heartbeat/keepalive sighting for a device.
func (h *Hub) EmitDeviceStatus(deviceIP string, online bool) {
	status := "OFFLINE"
	if online {
		status = "ONLINE"
	}
	h.Publish(newCloudEvent(TypeDeviceStatus, "accessctl/ingress", fmt.Sprintf("device/%s", deviceIP), map[string]any{
		"device_ip": deviceIP,
		"status":    status,
		"last_seen": time.Now(),
	}))
}
