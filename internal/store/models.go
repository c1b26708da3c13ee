// Package store provides data persistence for the support desk.
package store

import (
	"time"
)

// Account status values persisted for an account. These mirror what the
// operator UI displays, so the mixed casing is part of the contract.
const (
	StatusOpening      = "OPENING"
	StatusQRCode       = "qrcode"
	StatusConnected    = "CONNECTED"
	StatusDisconnected = "DISCONNECTED"
)

// Account is one configured WhatsApp number operated by the desk.
type Account struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Session   string    `json:"session"`
	Proxy     string    `json:"proxy,omitempty"`
	Status    string    `json:"status"`
	QRCode    string    `json:"qrcode"`
	Retries   int       `json:"retries"`
	IsDefault bool      `json:"isDefault"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// AccountPartial is a partial field write applied by the session lifecycle
// manager; nil fields are left untouched.
type AccountPartial struct {
	Session *string
	Status  *string
	QRCode  *string
	Retries *int
}

// Contact is the person on the other end of a conversation.
type Contact struct {
	ID        int64     `json:"id"`
	JID       string    `json:"jid"`
	Name      string    `json:"name"`
	Number    string    `json:"number"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Ticket is a conversation thread between one contact and the desk.
type Ticket struct {
	ID             int64    `json:"id"`
	WhatsappID     int64    `json:"whatsappId"`
	ContactID      int64    `json:"contactId"`
	Contact        *Contact `json:"contact,omitempty"`
	QueueID        *int64   `json:"queueId"`
	UserID         *int64   `json:"userId"`
	Status         string   `json:"status"`
	UnreadMessages int      `json:"unreadMessages"`
	LastMessage    string   `json:"lastMessage"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Message is one stored chat message, deduplicated by provider id.
type Message struct {
	ID        string    `json:"id"`
	TicketID  int64     `json:"ticketId"`
	Body      string    `json:"body"`
	FromMe    bool      `json:"fromMe"`
	Timestamp time.Time `json:"timestamp"`
}

// PageRequest carries the paginated ticket fetch parameters.
type PageRequest struct {
	PageNumber  int
	SearchParam string
	Status      string
	ShowAll     bool
	QueueIDs    []int64
	WhatsappID  int64
	UserID      int64
}
