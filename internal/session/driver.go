// Package session owns the per-account automation sessions: the registry of
// live driver handles, the connect/authenticate/ready lifecycle, and the
// unread backfill performed when a session becomes ready.
package session

import (
	"context"
	"time"

	"github.com/supportdesk/waticket/internal/proxy"
)

// Config is the launch configuration assembled per Initialize call.
type Config struct {
	AccountID int64
	// SessionBlob is the previously stored serialized auth state, empty
	// on first-time setup.
	SessionBlob string
	LaunchArgs  []string
	Proxy       *proxy.Descriptor
}

// EventHandlers receives the driver's asynchronous lifecycle events. The
// provider enforces the qrcode -> authenticated -> ready progression, but
// handlers run on driver goroutines and must not assume any further
// ordering.
type EventHandlers struct {
	OnQRCode        func(code string)
	OnAuthenticated func()
	OnAuthFailure   func(reason string)
	OnReady         func()
	OnDisconnected  func(reason string)
	OnMessage       func(msg Message)
}

// Message is one raw provider message handed to the ingestion pipeline.
type Message struct {
	ID         string
	ChatJID    string
	SenderName string
	Body       string
	FromMe     bool
	Timestamp  time.Time
}

// Chat is one provider-side conversation, enumerated for unread backfill.
type Chat interface {
	JID() string
	Name() string
	UnreadCount() int
	// FetchMessages returns up to limit most-recent messages in ascending
	// timestamp order.
	FetchMessages(ctx context.Context, limit int) ([]Message, error)
	MarkSeen(ctx context.Context) error
}

// Driver is the opaque automation capability behind one account session.
type Driver interface {
	// Start begins connecting; lifecycle progress arrives through the
	// handlers registered before the call.
	Start(ctx context.Context) error
	OnEvent(handlers EventHandlers)
	GetChats(ctx context.Context) ([]Chat, error)
	SendPresenceAvailable(ctx context.Context) error
	// Destroy tears the connection down and releases driver resources.
	Destroy() error
}

// Factory builds a driver for one initialization attempt.
type Factory func(ctx context.Context, cfg Config) (Driver, error)

// Handle pairs a live driver with its account id. Transient, in-memory,
// owned by the Registry.
type Handle struct {
	AccountID int64
	Driver    Driver
}
