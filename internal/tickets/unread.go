package tickets

import (
	"github.com/supportdesk/waticket/internal/store"
)

// UnreadCounts maps each account in the batch to its count of unread
// tickets. A ticket counts when the batch marks it unread, or when the
// entry still rendered for the same id is unread, so a ticket read during
// the current reconciliation keeps its badge until the list repaints.
func UnreadCounts(batch, visible []*store.Ticket) map[int64]int {
	rendered := make(map[int64]*store.Ticket, len(visible))
	for _, t := range visible {
		rendered[t.ID] = t
	}

	counts := make(map[int64]int)
	for _, t := range batch {
		if _, ok := counts[t.WhatsappID]; !ok {
			counts[t.WhatsappID] = 0
		}
		if t.UnreadMessages > 0 {
			counts[t.WhatsappID]++
			continue
		}
		if prev, ok := rendered[t.ID]; ok && prev.UnreadMessages > 0 {
			counts[t.WhatsappID]++
		}
	}
	return counts
}
