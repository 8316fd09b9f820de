// Package fanout propagates committed call, silence and assignment changes to
// the best-effort side channels: realtime mirrors and device push.
//
// The durable write happens in the services before an Event is published.
// Everything in this package runs after that write, in the background, with a
// per-channel timeout. Failures are logged and counted, never returned to the
// caller and never retried.
package fanout

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/yeremiapane/waiter-call/models"
)

// EventType names a committed state change.
type EventType string

const (
	EventCallCreated      EventType = "call.created"
	EventCallAcknowledged EventType = "call.acknowledged"
	EventCallCompleted    EventType = "call.completed"
	EventCallCancelled    EventType = "call.cancelled"
	EventTableSilenced    EventType = "table.silenced"
	EventTableUnsilenced  EventType = "table.unsilenced"
	EventTableAssigned    EventType = "table.assigned"
	EventTableUnassigned  EventType = "table.unassigned"
)

// Entity types carried by events.
const (
	EntityCall    = "call"
	EntityTable   = "table"
	EntitySilence = "silence"
)

// Event is a denormalized snapshot of one committed transition.
type Event struct {
	ID          string                `json:"id"`
	Type        EventType             `json:"type"`
	EntityType  string                `json:"entity_type"`
	EntityID    uint                  `json:"entity_id"`
	BusinessID  uint                  `json:"business_id"`
	TableID     uint                  `json:"table_id"`
	TableNumber int                   `json:"table_number"`
	WaiterID    uint                  `json:"waiter_id,omitempty"`
	WaiterName  string                `json:"waiter_name,omitempty"`
	State       string                `json:"state"`
	Message     string                `json:"message,omitempty"`
	Urgency     string                `json:"urgency,omitempty"`
	Reason      string                `json:"reason,omitempty"`
	Timestamps  map[string]*time.Time `json:"timestamps,omitempty"`
	OccurredAt  time.Time             `json:"occurred_at"`
}

// Publisher accepts events after their durable write has committed.
type Publisher interface {
	Publish(evt Event)
}

// CallEvent snapshots a call transition.
func CallEvent(typ EventType, call models.Call, table models.Table, waiterName string, at time.Time) Event {
	return Event{
		ID:          uuid.NewString(),
		Type:        typ,
		EntityType:  EntityCall,
		EntityID:    call.ID,
		BusinessID:  call.BusinessID,
		TableID:     call.TableID,
		TableNumber: table.Number,
		WaiterID:    call.WaiterID,
		WaiterName:  waiterName,
		State:       string(call.Status),
		Message:     call.Message,
		Urgency:     string(call.Urgency),
		Timestamps: map[string]*time.Time{
			"called_at":       &call.CalledAt,
			"acknowledged_at": call.AcknowledgedAt,
			"completed_at":    call.CompletedAt,
			"cancelled_at":    call.CancelledAt,
		},
		OccurredAt: at,
	}
}

// SilenceEvent snapshots a silence being created or lifted. waiterID is the
// table's assignee at the time, so the right devices get the push.
func SilenceEvent(typ EventType, silence models.TableSilence, table models.Table, at time.Time) Event {
	state := "active"
	if typ == EventTableUnsilenced {
		state = "lifted"
	}
	expires := silence.ExpiresAt()
	evt := Event{
		ID:          uuid.NewString(),
		Type:        typ,
		EntityType:  EntitySilence,
		EntityID:    silence.ID,
		BusinessID:  silence.BusinessID,
		TableID:     silence.TableID,
		TableNumber: table.Number,
		State:       state,
		Message:     silence.Notes,
		Reason:      silence.Reason,
		Timestamps: map[string]*time.Time{
			"silenced_at":   &silence.SilencedAt,
			"expires_at":    &expires,
			"unsilenced_at": silence.UnsilencedAt,
		},
		OccurredAt: at,
	}
	if table.ActiveWaiterID != nil {
		evt.WaiterID = *table.ActiveWaiterID
	}
	return evt
}

// AssignmentEvent snapshots a table gaining or losing its waiter.
func AssignmentEvent(typ EventType, table models.Table, waiterID uint, waiterName string, at time.Time) Event {
	state := "assigned"
	if typ == EventTableUnassigned {
		state = "unassigned"
	}
	return Event{
		ID:          uuid.NewString(),
		Type:        typ,
		EntityType:  EntityTable,
		EntityID:    table.ID,
		BusinessID:  table.BusinessID,
		TableID:     table.ID,
		TableNumber: table.Number,
		WaiterID:    waiterID,
		WaiterName:  waiterName,
		State:       state,
		Timestamps: map[string]*time.Time{
			"waiter_assigned_at": table.WaiterAssignedAt,
		},
		OccurredAt: at,
	}
}

// Path is the mirror location holding the latest state of the entity.
func (e Event) Path() string {
	switch e.EntityType {
	case EntityCall:
		return fmt.Sprintf("businesses/%d/calls/%d", e.BusinessID, e.EntityID)
	case EntitySilence:
		return fmt.Sprintf("businesses/%d/tables/%d/silence", e.BusinessID, e.TableID)
	default:
		return fmt.Sprintf("businesses/%d/tables/%d", e.BusinessID, e.TableID)
	}
}

// PushMessage is what a device receives.
type PushMessage struct {
	Title string
	Body  string
	Data  map[string]string
}

// Push returns the device notification for the event, or false when the
// event is mirror-only.
func (e Event) Push() (PushMessage, bool) {
	if e.WaiterID == 0 {
		return PushMessage{}, false
	}
	data := map[string]string{
		"event_id":    e.ID,
		"type":        string(e.Type),
		"entity_type": e.EntityType,
		"entity_id":   fmt.Sprint(e.EntityID),
		"table_id":    fmt.Sprint(e.TableID),
	}
	switch e.Type {
	case EventCallCreated:
		title := fmt.Sprintf("Table %d is calling", e.TableNumber)
		if e.Urgency == string(models.UrgencyHigh) {
			title = fmt.Sprintf("URGENT: table %d is calling", e.TableNumber)
		}
		body := e.Message
		if body == "" {
			body = "A guest needs assistance"
		}
		data["urgency"] = e.Urgency
		return PushMessage{Title: title, Body: body, Data: data}, true
	case EventCallCancelled:
		return PushMessage{
			Title: fmt.Sprintf("Call from table %d cancelled", e.TableNumber),
			Body:  "The table was released",
			Data:  data,
		}, true
	case EventTableSilenced:
		if e.Reason != models.SilenceReasonAutomatic {
			return PushMessage{}, false
		}
		return PushMessage{
			Title: fmt.Sprintf("Table %d silenced", e.TableNumber),
			Body:  "Too many calls in a short time; new calls are paused for 10 minutes",
			Data:  data,
		}, true
	}
	return PushMessage{}, false
}
