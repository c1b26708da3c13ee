// Package realtime multiplexes desk events to connected agent sessions.
//
// Producers (the session lifecycle manager, the ingestion pipeline) publish
// tagged payloads; each agent connection joins either a status-scoped ticket
// room or the generic notification room and receives only broadcasts
// addressed there. Session updates go to every connection.
package realtime

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/asaskevich/EventBus"
	"github.com/google/uuid"

	"github.com/supportdesk/waticket/internal/store"
)

// Wire event names, matching what the agent UI listens for.
const (
	EventWhatsappSession = "whatsappSession"
	EventTicket          = "ticket"
	EventAppMessage      = "appMessage"
	EventContact         = "contact"
)

// Payload actions.
const (
	ActionUpdate       = "update"
	ActionDelete       = "delete"
	ActionUpdateUnread = "updateUnread"
	ActionCreate       = "create"
)

const globalTopic = "global"

// Event is one tagged broadcast.
type Event struct {
	Name    string `json:"name"`
	Payload any    `json:"payload"`
}

// SessionPayload carries a full account on session status changes.
type SessionPayload struct {
	Action  string         `json:"action"`
	Session *store.Account `json:"session"`
}

// TicketPayload carries a ticket event. Ticket is set for update/create,
// TicketID for delete/updateUnread.
type TicketPayload struct {
	Action   string        `json:"action"`
	Ticket   *store.Ticket `json:"ticket,omitempty"`
	TicketID int64         `json:"ticketId,omitempty"`
}

// ContactPayload carries a contact change.
type ContactPayload struct {
	Action  string         `json:"action"`
	Contact *store.Contact `json:"contact"`
}

// Broadcaster is the producer-side surface of the hub.
type Broadcaster interface {
	// EmitSession broadcasts a whatsappSession update to every connection.
	EmitSession(account *store.Account)
	// EmitTicket broadcasts a ticket event to the status room and the
	// notification room.
	EmitTicket(status string, payload TicketPayload)
	// EmitMessage broadcasts an appMessage create to the ticket's status
	// room and the notification room.
	EmitMessage(status string, payload TicketPayload)
	// EmitContact broadcasts a contact update to every connection.
	EmitContact(payload ContactPayload)
}

// Hub is the in-process transport multiplexer, built on EventBus topics:
// one global topic plus one topic per room.
type Hub struct {
	bus EventBus.Bus
	log *slog.Logger
}

// NewHub creates a hub.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{bus: EventBus.New(), log: log}
}

func roomTopic(room string) string {
	return "room:" + room
}

// TicketsRoom names the status-scoped room.
func TicketsRoom(status string) string {
	return "tickets:" + status
}

// NotificationRoom is the generic room for unscoped views.
const NotificationRoom = "notification"

func (h *Hub) publish(topic string, evt Event) {
	h.bus.Publish(topic, evt)
}

// EmitSession implements Broadcaster.
func (h *Hub) EmitSession(account *store.Account) {
	h.publish(globalTopic, Event{
		Name:    EventWhatsappSession,
		Payload: SessionPayload{Action: ActionUpdate, Session: account},
	})
}

// EmitTicket implements Broadcaster.
func (h *Hub) EmitTicket(status string, payload TicketPayload) {
	evt := Event{Name: EventTicket, Payload: payload}
	h.publish(roomTopic(TicketsRoom(status)), evt)
	h.publish(roomTopic(NotificationRoom), evt)
}

// EmitMessage implements Broadcaster.
func (h *Hub) EmitMessage(status string, payload TicketPayload) {
	evt := Event{Name: EventAppMessage, Payload: payload}
	h.publish(roomTopic(TicketsRoom(status)), evt)
	h.publish(roomTopic(NotificationRoom), evt)
}

// EmitContact implements Broadcaster.
func (h *Hub) EmitContact(payload ContactPayload) {
	h.publish(globalTopic, Event{Name: EventContact, Payload: payload})
}

// Conn is one agent-side connection. It always receives global events and
// additionally the events of at most one joined room. Close it on unmount.
type Conn struct {
	id      string
	hub     *Hub
	events  chan Event
	handler func(evt Event)

	mu     sync.Mutex
	room   string
	closed bool
}

// Subscribe opens a new connection.
func (h *Hub) Subscribe() (*Conn, error) {
	c := &Conn{
		id:     uuid.NewString(),
		hub:    h,
		events: make(chan Event, 100),
	}
	// The send happens under the mutex so Close cannot close the channel
	// between the closed check and the send.
	c.handler = func(evt Event) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed {
			return
		}
		select {
		case c.events <- evt:
		default:
			h.log.Warn("connection event queue full, dropping event",
				"conn", c.id, "event", evt.Name)
		}
	}
	if err := h.bus.Subscribe(globalTopic, c.handler); err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}
	return c, nil
}

// Events returns the connection's ordered event stream.
func (c *Conn) Events() <-chan Event {
	return c.events
}

// JoinTickets joins the status-scoped room, leaving any previous room.
// Re-issue after a reconnect, exactly like the original join handshake.
func (c *Conn) JoinTickets(status string) error {
	return c.join(TicketsRoom(status))
}

// JoinNotification joins the generic notification room.
func (c *Conn) JoinNotification() error {
	return c.join(NotificationRoom)
}

func (c *Conn) join(room string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("connection %s is closed", c.id)
	}
	if c.room == room {
		return nil
	}
	if c.room != "" {
		if err := c.hub.bus.Unsubscribe(roomTopic(c.room), c.handler); err != nil {
			c.hub.log.Warn("failed to leave room", "conn", c.id, "room", c.room, "error", err)
		}
	}
	if err := c.hub.bus.Subscribe(roomTopic(room), c.handler); err != nil {
		return fmt.Errorf("failed to join room %s: %w", room, err)
	}
	c.room = room
	return nil
}

// Close leaves all rooms and stops delivery.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	room := c.room
	c.room = ""
	close(c.events)
	c.mu.Unlock()

	if err := c.hub.bus.Unsubscribe(globalTopic, c.handler); err != nil {
		c.hub.log.Warn("failed to unsubscribe", "conn", c.id, "error", err)
	}
	if room != "" {
		if err := c.hub.bus.Unsubscribe(roomTopic(room), c.handler); err != nil {
			c.hub.log.Warn("failed to leave room", "conn", c.id, "room", room, "error", err)
		}
	}
}
