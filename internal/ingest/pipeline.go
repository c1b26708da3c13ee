// Package ingest turns raw provider messages into desk tickets and
// broadcasts the resulting changes to connected agents.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/supportdesk/waticket/internal/realtime"
	"github.com/supportdesk/waticket/internal/session"
	"github.com/supportdesk/waticket/internal/store"
)

// Pipeline is the message-ingestion pipeline: one instance serves every
// account session.
type Pipeline struct {
	contacts    store.ContactRepository
	tickets     store.TicketRepository
	messages    store.MessageRepository
	broadcaster realtime.Broadcaster
	monitor     *session.Monitor
	log         *slog.Logger
}

// NewPipeline creates a pipeline. monitor may be nil.
func NewPipeline(contacts store.ContactRepository, tickets store.TicketRepository, messages store.MessageRepository, broadcaster realtime.Broadcaster, monitor *session.Monitor, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		contacts:    contacts,
		tickets:     tickets,
		messages:    messages,
		broadcaster: broadcaster,
		monitor:     monitor,
		log:         log,
	}
}

// HandleMessage implements session.MessageHandler. It upserts the contact,
// finds or creates the open ticket for (contact, account), stores the
// message, bumps the ticket's unread count for inbound traffic, and
// broadcasts the updated ticket.
func (p *Pipeline) HandleMessage(ctx context.Context, accountID int64, msg session.Message) error {
	contact, changed, err := p.upsertContact(ctx, msg)
	if err != nil {
		return fmt.Errorf("failed to upsert contact: %w", err)
	}
	if changed {
		p.broadcaster.EmitContact(realtime.ContactPayload{
			Action:  realtime.ActionUpdate,
			Contact: contact,
		})
	}

	ticket, _, err := p.tickets.FindOrCreateOpen(ctx, contact.ID, accountID)
	if err != nil {
		return fmt.Errorf("failed to resolve ticket: %w", err)
	}

	stored, err := p.messages.Store(ctx, &store.Message{
		ID:        msg.ID,
		TicketID:  ticket.ID,
		Body:      msg.Body,
		FromMe:    msg.FromMe,
		Timestamp: msg.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("failed to store message: %w", err)
	}
	if !stored {
		// Replayed event; the ticket state already reflects it.
		return nil
	}

	if p.monitor != nil {
		if msg.FromMe {
			p.monitor.RecordMessageSent()
		} else {
			p.monitor.RecordMessageReceived()
		}
	}

	if msg.FromMe {
		return nil
	}

	bumped, err := p.tickets.BumpUnread(ctx, ticket.ID, msg.Body)
	if err != nil {
		return fmt.Errorf("failed to bump unread count: %w", err)
	}

	p.broadcaster.EmitMessage(bumped.Status, realtime.TicketPayload{
		Action: realtime.ActionCreate,
		Ticket: bumped,
	})
	return nil
}

// upsertContact stores the contact derived from the message and reports
// whether its visible fields changed.
func (p *Pipeline) upsertContact(ctx context.Context, msg session.Message) (*store.Contact, bool, error) {
	name := msg.SenderName
	if name == "" {
		name = numberFromJID(msg.ChatJID)
	}

	existing, err := p.contacts.GetByJID(ctx, msg.ChatJID)
	if err != nil && err != store.ErrNotFound {
		return nil, false, err
	}

	contact, err := p.contacts.Upsert(ctx, &store.Contact{
		JID:    msg.ChatJID,
		Name:   name,
		Number: numberFromJID(msg.ChatJID),
	})
	if err != nil {
		return nil, false, err
	}

	changed := existing != nil && existing.Name != contact.Name
	return contact, changed, nil
}

func numberFromJID(jid string) string {
	if i := strings.IndexByte(jid, '@'); i >= 0 {
		return jid[:i]
	}
	return jid
}
