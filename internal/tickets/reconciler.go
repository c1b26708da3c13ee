// Package tickets keeps an agent's rendered ticket list consistent with
// the event stream and the paginated fetch backing it.
//
// A Reconciler is confined to one goroutine per view, mirroring the
// cooperative event loop it models. The ShadowStore it merges into is
// shared across views and carries its own lock.
package tickets

import (
	"github.com/supportdesk/waticket/internal/store"
)

// View is the filter tuple one mounted list renders under.
type View struct {
	Status     string
	Search     string
	ShowAll    bool
	QueueIDs   []int64
	WhatsappID int64
	AgentID    int64
}

// PageToken identifies the view generation a page fetch was issued for.
// Pages carrying a stale token are dropped instead of polluting the list
// that replaced them.
type PageToken int

// Reconciler folds ticket, message and contact events plus page fetch
// results into an ordered visible list. The list keeps at most one entry
// per ticket id; an id→index map backs O(1) membership checks and is
// maintained together with every reorder.
type Reconciler struct {
	view       View
	shadow     *ShadowStore
	visible    []*store.Ticket
	index      map[int64]int
	pageNumber int
	generation PageToken
}

// NewReconciler creates a reconciler for one view.
func NewReconciler(view View, shadow *ShadowStore) *Reconciler {
	return &Reconciler{
		view:       view,
		shadow:     shadow,
		index:      make(map[int64]int),
		pageNumber: 1,
	}
}

// Visible returns the rendered list, most recent first where reordering
// events have applied.
func (r *Reconciler) Visible() []*store.Ticket {
	return append([]*store.Ticket(nil), r.visible...)
}

// PageNumber returns the next page to fetch.
func (r *Reconciler) PageNumber() int { return r.pageNumber }

// Token returns the current view generation, to be passed back to
// ApplyPage with the fetch result it was issued for.
func (r *Reconciler) Token() PageToken { return r.generation }

// LoadMore advances pagination and returns the token for the fetch.
func (r *Reconciler) LoadMore() (int, PageToken) {
	r.pageNumber++
	return r.pageNumber, r.generation
}

// Reset discards all accumulated visible state and restarts pagination.
// Call on any filter change; outstanding page fetches for the old view
// become stale and ApplyPage will drop them.
func (r *Reconciler) Reset(view View) {
	r.view = view
	r.visible = nil
	r.index = make(map[int64]int)
	r.pageNumber = 1
	r.generation++
}

// shouldApply gates whether an update or unread bump is relevant to this
// view: never during a text search, and the ticket must be unassigned,
// assigned to the current agent, or the view shows everyone's tickets,
// and it must sit in no queue or a selected one.
func (r *Reconciler) shouldApply(t *store.Ticket) bool {
	if r.view.Search != "" {
		return false
	}
	if t.UserID != nil && *t.UserID != r.view.AgentID && !r.view.ShowAll {
		return false
	}
	return t.QueueID == nil || r.queueSelected(*t.QueueID)
}

// movedOutOfQueues detects a ticket routed into a queue this view does not
// select, which demotes the update to a removal.
func (r *Reconciler) movedOutOfQueues(t *store.Ticket) bool {
	return t.QueueID != nil && !r.queueSelected(*t.QueueID)
}

func (r *Reconciler) queueSelected(id int64) bool {
	for _, q := range r.view.QueueIDs {
		if q == id {
			return true
		}
	}
	return false
}

// inScope reports whether the ticket belongs to the view's account scope.
// An unscoped view accepts every account.
func (r *Reconciler) inScope(t *store.Ticket) bool {
	return r.view.WhatsappID == 0 || t.WhatsappID == r.view.WhatsappID
}

// ApplyUpdate folds a ticket update. Replace in place when visible,
// prepend when the account scope matches, otherwise merge into the shadow
// batch.
func (r *Reconciler) ApplyUpdate(ticket *store.Ticket) {
	if i, ok := r.index[ticket.ID]; ok {
		r.visible[i] = ticket
		return
	}
	if r.inScope(ticket) {
		r.prepend(ticket)
		return
	}
	r.shadow.Merge(ticket)
}

// ApplyDelete folds a removal. Visible entries are removed from the list;
// otherwise the shadow batch is checked. Unknown ids are a no-op.
func (r *Reconciler) ApplyDelete(ticketID int64) {
	if i, ok := r.index[ticketID]; ok {
		r.visible = append(r.visible[:i], r.visible[i+1:]...)
		r.reindexFrom(i)
		delete(r.index, ticketID)
		return
	}
	r.shadow.Remove(ticketID)
}

// ApplyUnreadReset folds a read acknowledgement: the ticket's unread count
// drops to zero wherever the ticket currently lives.
func (r *Reconciler) ApplyUnreadReset(ticketID int64) {
	if i, ok := r.index[ticketID]; ok {
		r.visible[i].UnreadMessages = 0
		return
	}
	r.shadow.ZeroUnread(ticketID)
}

// ApplyMessage folds an unread bump: a visible ticket is replaced and
// moved to the front, an in-scope absent ticket is prepended, anything
// else merges into the shadow batch.
func (r *Reconciler) ApplyMessage(ticket *store.Ticket) {
	if i, ok := r.index[ticket.ID]; ok {
		r.visible[i] = ticket
		r.moveToFront(i)
		return
	}
	if r.inScope(ticket) {
		r.prepend(ticket)
		return
	}
	r.shadow.Merge(ticket)
}

// ApplyContact folds a contact change into whichever ticket embeds it.
func (r *Reconciler) ApplyContact(contact *store.Contact) {
	for _, t := range r.visible {
		if t.ContactID == contact.ID {
			t.Contact = contact
			return
		}
	}
	r.shadow.SetContact(contact)
}

// ApplyPage folds a page fetch result. Entries already visible are
// replaced in place, moving to the front only when they carry unread
// messages; new entries append. The list is never re-sorted wholesale.
// Results from before a Reset carry a stale token and are dropped.
func (r *Reconciler) ApplyPage(token PageToken, page []*store.Ticket) {
	if token != r.generation {
		return
	}
	for _, ticket := range page {
		if r.view.WhatsappID != 0 && ticket.WhatsappID != r.view.WhatsappID {
			continue
		}
		if i, ok := r.index[ticket.ID]; ok {
			r.visible[i] = ticket
			if ticket.UnreadMessages > 0 {
				r.moveToFront(i)
			}
			continue
		}
		r.index[ticket.ID] = len(r.visible)
		r.visible = append(r.visible, ticket)
	}
}

func (r *Reconciler) prepend(ticket *store.Ticket) {
	r.visible = append([]*store.Ticket{ticket}, r.visible...)
	r.index[ticket.ID] = 0
	r.reindexFrom(1)
}

func (r *Reconciler) moveToFront(i int) {
	if i == 0 {
		return
	}
	t := r.visible[i]
	copy(r.visible[1:i+1], r.visible[:i])
	r.visible[0] = t
	r.reindexFrom(0)
}

// reindexFrom rebuilds index entries for positions at and after i, keeping
// the map transactional with the slice.
func (r *Reconciler) reindexFrom(i int) {
	if i > len(r.visible) {
		return
	}
	for j := i; j < len(r.visible); j++ {
		r.index[r.visible[j].ID] = j
	}
}
