// Package whatsmeow backs account sessions with a real WhatsApp
// connection. Chats and their unread counts are accumulated from history
// sync payloads so the unread backfill can replay what arrived while the
// account was offline.
package whatsmeow

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	wa "go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"

	_ "github.com/mattn/go-sqlite3"

	"github.com/supportdesk/waticket/internal/session"
)

// NewFactory returns a session.Factory that opens one device store per
// account under sessionDir.
func NewFactory(sessionDir string, log *slog.Logger) session.Factory {
	if log == nil {
		log = slog.Default()
	}
	return func(ctx context.Context, cfg session.Config) (session.Driver, error) {
		if err := os.MkdirAll(sessionDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create session directory: %w", err)
		}

		dbPath := filepath.Join(sessionDir, fmt.Sprintf("account-%d.db", cfg.AccountID))
		dbLog := &slogAdapter{log: log.With("component", "whatsmeow-db", "account", cfg.AccountID)}

		container, err := sqlstore.New(ctx, "sqlite3", fmt.Sprintf("file:%s?_foreign_keys=on", dbPath), dbLog)
		if err != nil {
			return nil, fmt.Errorf("failed to open device store: %w", err)
		}

		device, err := container.GetFirstDevice(ctx)
		if err != nil {
			_ = container.Close()
			return nil, fmt.Errorf("failed to get device: %w", err)
		}

		clientLog := &slogAdapter{log: log.With("component", "whatsmeow", "account", cfg.AccountID)}
		client := wa.NewClient(device, clientLog)
		if cfg.Proxy != nil {
			if err := client.SetProxyAddress(cfg.Proxy.URL()); err != nil {
				log.Warn("failed to set proxy, connecting direct",
					"account", cfg.AccountID, "error", err)
			}
		}

		return &Driver{
			accountID: cfg.AccountID,
			client:    client,
			container: container,
			log:       log.With("account", cfg.AccountID),
			chats:     make(map[string]*chat),
		}, nil
	}
}

// Driver implements session.Driver over one whatsmeow client.
type Driver struct {
	accountID int64
	client    *wa.Client
	container *sqlstore.Container
	log       *slog.Logger

	mu       sync.Mutex
	handlers session.EventHandlers
	chats    map[string]*chat
	order    []string
}

// OnEvent implements session.Driver.
func (d *Driver) OnEvent(handlers session.EventHandlers) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = handlers
}

// Start implements session.Driver. First-time setups go through QR
// pairing; restored sessions connect with the stored device credentials.
func (d *Driver) Start(ctx context.Context) error {
	d.client.AddEventHandler(d.handleEvent)

	if d.client.Store.ID == nil {
		qrChan, err := d.client.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("failed to open QR channel: %w", err)
		}
		if err := d.client.Connect(); err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
		go d.relayQR(qrChan)
		return nil
	}

	if err := d.client.Connect(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	return nil
}

func (d *Driver) relayQR(qrChan <-chan wa.QRChannelItem) {
	for item := range qrChan {
		h := d.eventHandlers()
		switch item.Event {
		case "code":
			if h.OnQRCode != nil {
				h.OnQRCode(item.Code)
			}
		case "success":
			if h.OnAuthenticated != nil {
				h.OnAuthenticated()
			}
		case "timeout":
			if h.OnAuthFailure != nil {
				h.OnAuthFailure("QR code timed out before it was scanned")
			}
		default:
			if h.OnAuthFailure != nil {
				h.OnAuthFailure(fmt.Sprintf("pairing failed: %s", item.Event))
			}
		}
	}
}

func (d *Driver) eventHandlers() session.EventHandlers {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handlers
}

func (d *Driver) handleEvent(evt interface{}) {
	h := d.eventHandlers()

	switch e := evt.(type) {
	case *events.PairSuccess:
		if h.OnAuthenticated != nil {
			h.OnAuthenticated()
		}
	case *events.Connected:
		if h.OnReady != nil {
			h.OnReady()
		}
	case *events.LoggedOut:
		if h.OnAuthFailure != nil {
			h.OnAuthFailure(fmt.Sprintf("logged out: %s", e.Reason))
		}
	case *events.Disconnected:
		if h.OnDisconnected != nil {
			h.OnDisconnected("connection to WhatsApp lost")
		}
	case *events.StreamReplaced:
		if h.OnDisconnected != nil {
			h.OnDisconnected("stream replaced by another device")
		}
	case *events.HistorySync:
		d.absorbHistorySync(e)
	case *events.Message:
		msg := session.Message{
			ID:         e.Info.ID,
			ChatJID:    e.Info.Chat.String(),
			SenderName: e.Info.PushName,
			Body:       textContent(e.Message),
			FromMe:     e.Info.IsFromMe,
			Timestamp:  e.Info.Timestamp,
		}
		d.recordMessage(msg)
		if h.OnMessage != nil {
			h.OnMessage(msg)
		}
	}
}

// absorbHistorySync folds the conversations of one history sync payload
// into the chat table, keeping the provider's enumeration order.
func (d *Driver) absorbHistorySync(e *events.HistorySync) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, conv := range e.Data.GetConversations() {
		jid := conv.GetID()
		if jid == "" {
			continue
		}
		c, ok := d.chats[jid]
		if !ok {
			c = &chat{driver: d, jid: jid}
			d.chats[jid] = c
			d.order = append(d.order, jid)
		}
		if name := conv.GetName(); name != "" {
			c.name = name
		}
		c.unread = int(conv.GetUnreadCount())

		for _, hm := range conv.GetMessages() {
			info := hm.GetMessage()
			if info == nil {
				continue
			}
			c.messages = append(c.messages, session.Message{
				ID:         info.GetKey().GetID(),
				ChatJID:    jid,
				SenderName: info.GetPushName(),
				Body:       textContent(info.GetMessage()),
				FromMe:     info.GetKey().GetFromMe(),
				Timestamp:  time.Unix(int64(info.GetMessageTimestamp()), 0),
			})
		}
	}
}

func (d *Driver) recordMessage(msg session.Message) {
	d.mu.Lock()
	defer d.mu.Unlock()

	c, ok := d.chats[msg.ChatJID]
	if !ok {
		c = &chat{driver: d, jid: msg.ChatJID}
		d.chats[msg.ChatJID] = c
		d.order = append(d.order, msg.ChatJID)
	}
	c.messages = append(c.messages, msg)
}

// GetChats implements session.Driver.
func (d *Driver) GetChats(ctx context.Context) ([]session.Chat, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	chats := make([]session.Chat, 0, len(d.order))
	for _, jid := range d.order {
		chats = append(chats, d.chats[jid])
	}
	return chats, nil
}

// SendPresenceAvailable implements session.Driver.
func (d *Driver) SendPresenceAvailable(ctx context.Context) error {
	return d.client.SendPresence(ctx, types.PresenceAvailable)
}

// Destroy implements session.Driver.
func (d *Driver) Destroy() error {
	d.client.Disconnect()
	if d.container != nil {
		return d.container.Close()
	}
	return nil
}

// chat is one conversation as accumulated from history sync and live
// message events.
type chat struct {
	driver   *Driver
	jid      string
	name     string
	unread   int
	messages []session.Message
}

func (c *chat) JID() string { return c.jid }

func (c *chat) Name() string {
	if c.name != "" {
		return c.name
	}
	return c.jid
}

func (c *chat) UnreadCount() int { return c.unread }

// FetchMessages returns up to limit most-recent messages in ascending
// timestamp order.
func (c *chat) FetchMessages(ctx context.Context, limit int) ([]session.Message, error) {
	c.driver.mu.Lock()
	defer c.driver.mu.Unlock()

	msgs := c.messages
	if limit < len(msgs) {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]session.Message(nil), msgs...), nil
}

// MarkSeen acknowledges the chat's pending messages with the provider.
func (c *chat) MarkSeen(ctx context.Context) error {
	jid, err := types.ParseJID(c.jid)
	if err != nil {
		return fmt.Errorf("invalid chat JID: %w", err)
	}

	c.driver.mu.Lock()
	var ids []types.MessageID
	if c.unread > 0 && c.unread <= len(c.messages) {
		for _, m := range c.messages[len(c.messages)-c.unread:] {
			ids = append(ids, m.ID)
		}
	}
	c.unread = 0
	c.driver.mu.Unlock()

	return c.driver.client.MarkRead(ctx, ids, time.Now(), jid, types.EmptyJID)
}

// textContent extracts the renderable text of a message, falling back to
// media captions.
func textContent(msg *waE2E.Message) string {
	switch {
	case msg == nil:
		return ""
	case msg.GetConversation() != "":
		return msg.GetConversation()
	case msg.GetExtendedTextMessage() != nil:
		return msg.GetExtendedTextMessage().GetText()
	case msg.GetImageMessage() != nil:
		return msg.GetImageMessage().GetCaption()
	case msg.GetVideoMessage() != nil:
		return msg.GetVideoMessage().GetCaption()
	case msg.GetDocumentMessage() != nil:
		return msg.GetDocumentMessage().GetFileName()
	default:
		return ""
	}
}

// slogAdapter bridges slog to whatsmeow's logging interface.
type slogAdapter struct {
	log *slog.Logger
}

func (s *slogAdapter) Debugf(msg string, args ...interface{}) {
	s.log.Debug(fmt.Sprintf(msg, args...))
}

func (s *slogAdapter) Infof(msg string, args ...interface{}) {
	s.log.Info(fmt.Sprintf(msg, args...))
}

func (s *slogAdapter) Warnf(msg string, args ...interface{}) {
	s.log.Warn(fmt.Sprintf(msg, args...))
}

func (s *slogAdapter) Errorf(msg string, args ...interface{}) {
	s.log.Error(fmt.Sprintf(msg, args...))
}

func (s *slogAdapter) Sub(module string) waLog.Logger {
	return &slogAdapter{log: s.log.With("module", module)}
}

var _ waLog.Logger = (*slogAdapter)(nil)
