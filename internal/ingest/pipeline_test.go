package ingest

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supportdesk/waticket/internal/realtime"
	"github.com/supportdesk/waticket/internal/session"
	"github.com/supportdesk/waticket/internal/store"
)

type recordingBroadcaster struct {
	mu       sync.Mutex
	messages []realtime.TicketPayload
	contacts []realtime.ContactPayload
}

func (b *recordingBroadcaster) EmitSession(account *store.Account) {}

func (b *recordingBroadcaster) EmitTicket(status string, payload realtime.TicketPayload) {}

func (b *recordingBroadcaster) EmitMessage(status string, payload realtime.TicketPayload) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, payload)
}

func (b *recordingBroadcaster) EmitContact(payload realtime.ContactPayload) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.contacts = append(b.contacts, payload)
}

type pipelineFixture struct {
	pipeline    *Pipeline
	store       *store.SQLiteStore
	broadcaster *recordingBroadcaster
	account     *store.Account
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	account := &store.Account{Name: "line"}
	require.NoError(t, s.Accounts.Create(context.Background(), account))

	b := &recordingBroadcaster{}
	return &pipelineFixture{
		pipeline:    NewPipeline(s.Contacts, s.Tickets, s.Messages, b, nil, nil),
		store:       s,
		broadcaster: b,
		account:     account,
	}
}

func inbound(id, jid, body string) session.Message {
	return session.Message{
		ID:         id,
		ChatJID:    jid,
		SenderName: "Maria",
		Body:       body,
		Timestamp:  time.Now(),
	}
}

func TestHandleMessage_CreatesTicketAndBumpsUnread(t *testing.T) {
	ctx := context.Background()
	fx := newPipelineFixture(t)

	err := fx.pipeline.HandleMessage(ctx, fx.account.ID, inbound("m1", "5511@s.whatsapp.net", "hello"))
	require.NoError(t, err)

	require.Len(t, fx.broadcaster.messages, 1)
	payload := fx.broadcaster.messages[0]
	assert.Equal(t, realtime.ActionCreate, payload.Action)
	require.NotNil(t, payload.Ticket)
	assert.Equal(t, 1, payload.Ticket.UnreadMessages)
	assert.Equal(t, "hello", payload.Ticket.LastMessage)
	assert.Equal(t, fx.account.ID, payload.Ticket.WhatsappID)
}

func TestHandleMessage_ReplayIsIdempotent(t *testing.T) {
	ctx := context.Background()
	fx := newPipelineFixture(t)

	msg := inbound("m1", "5511@s.whatsapp.net", "hello")
	require.NoError(t, fx.pipeline.HandleMessage(ctx, fx.account.ID, msg))
	require.NoError(t, fx.pipeline.HandleMessage(ctx, fx.account.ID, msg))

	// A replayed message neither bumps again nor rebroadcasts.
	require.Len(t, fx.broadcaster.messages, 1)
	assert.Equal(t, 1, fx.broadcaster.messages[0].Ticket.UnreadMessages)
}

func TestHandleMessage_OwnMessagesDoNotBump(t *testing.T) {
	ctx := context.Background()
	fx := newPipelineFixture(t)

	msg := inbound("m1", "5511@s.whatsapp.net", "thanks!")
	msg.FromMe = true
	require.NoError(t, fx.pipeline.HandleMessage(ctx, fx.account.ID, msg))

	assert.Empty(t, fx.broadcaster.messages)

	count, err := fx.store.Messages.CountByTicket(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestHandleMessage_ReusesOpenTicket(t *testing.T) {
	ctx := context.Background()
	fx := newPipelineFixture(t)

	require.NoError(t, fx.pipeline.HandleMessage(ctx, fx.account.ID, inbound("m1", "5511@s.whatsapp.net", "one")))
	require.NoError(t, fx.pipeline.HandleMessage(ctx, fx.account.ID, inbound("m2", "5511@s.whatsapp.net", "two")))

	require.Len(t, fx.broadcaster.messages, 2)
	assert.Equal(t, fx.broadcaster.messages[0].Ticket.ID, fx.broadcaster.messages[1].Ticket.ID)
	assert.Equal(t, 2, fx.broadcaster.messages[1].Ticket.UnreadMessages)
}

func TestHandleMessage_ContactRenameBroadcasts(t *testing.T) {
	ctx := context.Background()
	fx := newPipelineFixture(t)

	require.NoError(t, fx.pipeline.HandleMessage(ctx, fx.account.ID, inbound("m1", "5511@s.whatsapp.net", "one")))
	assert.Empty(t, fx.broadcaster.contacts)

	renamed := inbound("m2", "5511@s.whatsapp.net", "two")
	renamed.SenderName = "Maria Silva"
	require.NoError(t, fx.pipeline.HandleMessage(ctx, fx.account.ID, renamed))

	require.Len(t, fx.broadcaster.contacts, 1)
	assert.Equal(t, "Maria Silva", fx.broadcaster.contacts[0].Contact.Name)
}
