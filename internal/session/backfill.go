package session

import (
	"context"
	"fmt"
	"log/slog"
)

// syncUnread replays every chat's unread messages through the ingestion
// pipeline, then marks the chat seen. Chats and messages are processed
// strictly sequentially: this bounds concurrent provider calls and keeps
// per-chat message order; cross-chat ordering is not guaranteed.
func (m *Manager) syncUnread(ctx context.Context, handle *Handle, log *slog.Logger) error {
	chats, err := handle.Driver.GetChats(ctx)
	if err != nil {
		return fmt.Errorf("failed to enumerate chats: %w", err)
	}

	for _, chat := range chats {
		unread := chat.UnreadCount()
		if unread <= 0 {
			continue
		}

		msgs, err := chat.FetchMessages(ctx, unread)
		if err != nil {
			log.Error("failed to fetch unread messages", "chat", chat.JID(), "error", err)
			continue
		}

		// Oldest first, so ticket state replays in arrival order.
		for _, msg := range msgs {
			if m.ingest == nil {
				continue
			}
			if err := m.ingest.HandleMessage(ctx, handle.AccountID, msg); err != nil {
				log.Error("failed to ingest backfilled message",
					"chat", chat.JID(), "message_id", msg.ID, "error", err)
			}
		}

		if err := chat.MarkSeen(ctx); err != nil {
			log.Error("failed to mark chat seen", "chat", chat.JID(), "error", err)
		}
	}

	return nil
}
