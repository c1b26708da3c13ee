package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested item is not found.
var ErrNotFound = errors.New("not found")

// PageSize is the number of tickets per fetched page.
const PageSize = 40

// AccountRepository defines operations for WhatsApp account persistence.
type AccountRepository interface {
	Load(ctx context.Context, id int64) (*Account, error)
	List(ctx context.Context) ([]Account, error)
	Create(ctx context.Context, account *Account) error
	// Update applies a partial field write. The caller must await it
	// before broadcasting the account so stale state never goes out.
	Update(ctx context.Context, id int64, partial AccountPartial) error
}

// TicketRepository defines operations for ticket persistence.
type TicketRepository interface {
	GetByID(ctx context.Context, id int64) (*Ticket, error)
	// List returns one page of tickets plus a hasMore flag.
	List(ctx context.Context, req PageRequest) ([]Ticket, bool, error)
	// FindOrCreateOpen returns the open ticket for (contact, account),
	// creating one when none exists. The bool reports creation.
	FindOrCreateOpen(ctx context.Context, contactID, whatsappID int64) (*Ticket, bool, error)
	BumpUnread(ctx context.Context, id int64, lastMessage string) (*Ticket, error)
	ZeroUnread(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error
}

// ContactRepository defines operations for contact persistence.
type ContactRepository interface {
	Upsert(ctx context.Context, contact *Contact) (*Contact, error)
	GetByJID(ctx context.Context, jid string) (*Contact, error)
}

// MessageRepository defines operations for message persistence.
type MessageRepository interface {
	// Store inserts a message; duplicates by id are ignored and reported
	// via the bool.
	Store(ctx context.Context, msg *Message) (bool, error)
	CountByTicket(ctx context.Context, ticketID int64) (int, error)
}
