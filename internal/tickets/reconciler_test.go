package tickets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supportdesk/waticket/internal/realtime"
	"github.com/supportdesk/waticket/internal/store"
)

func ticket(id, whatsappID int64, unread int) *store.Ticket {
	return &store.Ticket{
		ID:             id,
		WhatsappID:     whatsappID,
		ContactID:      id * 100,
		Status:         "open",
		UnreadMessages: unread,
	}
}

func assigned(t *store.Ticket, userID int64) *store.Ticket {
	t.UserID = &userID
	return t
}

func queued(t *store.Ticket, queueID int64) *store.Ticket {
	t.QueueID = &queueID
	return t
}

func visibleIDs(r *Reconciler) []int64 {
	var ids []int64
	for _, t := range r.Visible() {
		ids = append(ids, t.ID)
	}
	return ids
}

func newTestReconciler(view View) (*Reconciler, *ShadowStore, *int) {
	propagations := 0
	shadow := NewShadowStore(func([]*store.Ticket) { propagations++ })
	return NewReconciler(view, shadow), shadow, &propagations
}

func TestApplyUpdate_ReplacesInPlace(t *testing.T) {
	r, _, _ := newTestReconciler(View{})
	r.ApplyPage(r.Token(), []*store.Ticket{ticket(1, 1, 0), ticket(2, 1, 0)})

	updated := ticket(2, 1, 0)
	updated.LastMessage = "changed"
	r.ApplyUpdate(updated)

	assert.Equal(t, []int64{1, 2}, visibleIDs(r))
	assert.Equal(t, "changed", r.Visible()[1].LastMessage)
}

func TestApplyUpdate_ReplayIsIdempotent(t *testing.T) {
	r, _, _ := newTestReconciler(View{})

	updated := ticket(3, 1, 0)
	r.ApplyUpdate(updated)
	once := visibleIDs(r)

	r.ApplyUpdate(updated)
	assert.Equal(t, once, visibleIDs(r))
	assert.Len(t, r.Visible(), 1)
}

func TestApplyUpdate_OutOfScopeMergesIntoShadow(t *testing.T) {
	r, shadow, propagations := newTestReconciler(View{WhatsappID: 1})
	shadow.Replace([]*store.Ticket{ticket(5, 2, 0)})
	*propagations = 0

	updated := ticket(5, 2, 0)
	updated.LastMessage = "merged"
	r.ApplyUpdate(updated)

	assert.Empty(t, r.Visible())
	require.NotNil(t, shadow.Get(5))
	assert.Equal(t, "merged", shadow.Get(5).LastMessage)
	assert.Equal(t, 1, *propagations)
}

func TestApplyUpdate_UnknownOutOfScopePrependsToShadow(t *testing.T) {
	r, shadow, _ := newTestReconciler(View{WhatsappID: 1})
	shadow.Replace([]*store.Ticket{ticket(5, 2, 0)})

	r.ApplyUpdate(ticket(6, 2, 0))

	batch := shadow.Snapshot()
	require.Len(t, batch, 2)
	assert.Equal(t, int64(6), batch[0].ID)
}

func TestApplyMessage_MovesVisibleTicketToFront(t *testing.T) {
	r, _, _ := newTestReconciler(View{})
	r.ApplyPage(r.Token(), []*store.Ticket{ticket(1, 1, 0), ticket(2, 1, 0), ticket(3, 1, 0)})

	r.ApplyMessage(ticket(3, 1, 1))
	assert.Equal(t, []int64{3, 1, 2}, visibleIDs(r))

	// Front position holds regardless of the prior index.
	r.ApplyMessage(ticket(2, 1, 1))
	assert.Equal(t, []int64{2, 3, 1}, visibleIDs(r))
}

func TestApplyMessage_PrependsUnknownInScopeTicket(t *testing.T) {
	r, _, _ := newTestReconciler(View{})
	r.ApplyPage(r.Token(), []*store.Ticket{ticket(1, 1, 0)})

	r.ApplyMessage(ticket(9, 1, 1))
	assert.Equal(t, []int64{9, 1}, visibleIDs(r))
}

func TestApplyDelete_ShadowOnlyLeavesVisibleUntouched(t *testing.T) {
	r, shadow, propagations := newTestReconciler(View{})
	r.ApplyPage(r.Token(), []*store.Ticket{ticket(1, 1, 0)})
	shadow.Replace([]*store.Ticket{ticket(7, 1, 0)})
	*propagations = 0

	r.ApplyDelete(7)

	assert.Equal(t, []int64{1}, visibleIDs(r))
	assert.Nil(t, shadow.Get(7))
	assert.Equal(t, 1, *propagations)
}

func TestApplyDelete_RemovesVisibleEntry(t *testing.T) {
	r, _, _ := newTestReconciler(View{})
	r.ApplyPage(r.Token(), []*store.Ticket{ticket(1, 1, 0), ticket(2, 1, 0), ticket(3, 1, 0)})

	r.ApplyDelete(2)
	assert.Equal(t, []int64{1, 3}, visibleIDs(r))

	// The index map tracked the shift: a follow-up bump still finds 3.
	r.ApplyMessage(ticket(3, 1, 1))
	assert.Equal(t, []int64{3, 1}, visibleIDs(r))
}

func TestApplyUnreadReset_AbsentEverywhereIsNoOp(t *testing.T) {
	r, shadow, propagations := newTestReconciler(View{})
	r.ApplyPage(r.Token(), []*store.Ticket{ticket(1, 1, 2)})
	shadow.Replace([]*store.Ticket{ticket(2, 1, 1)})
	*propagations = 0

	r.ApplyUnreadReset(99)

	assert.Equal(t, 2, r.Visible()[0].UnreadMessages)
	assert.Equal(t, 1, shadow.Get(2).UnreadMessages)
	assert.Equal(t, 0, *propagations)
}

func TestApplyUnreadReset_ZeroesWherever(t *testing.T) {
	r, shadow, _ := newTestReconciler(View{})
	r.ApplyPage(r.Token(), []*store.Ticket{ticket(1, 1, 2)})
	shadow.Replace([]*store.Ticket{ticket(2, 1, 3)})

	r.ApplyUnreadReset(1)
	r.ApplyUnreadReset(2)

	assert.Equal(t, 0, r.Visible()[0].UnreadMessages)
	assert.Equal(t, 0, shadow.Get(2).UnreadMessages)
}

func TestApplyContact_UpdatesEmbeddedSnapshot(t *testing.T) {
	r, shadow, _ := newTestReconciler(View{})
	first := ticket(1, 1, 0)
	r.ApplyPage(r.Token(), []*store.Ticket{first})
	shadow.Replace([]*store.Ticket{ticket(2, 1, 0)})

	r.ApplyContact(&store.Contact{ID: first.ContactID, Name: "Renamed"})
	require.NotNil(t, r.Visible()[0].Contact)
	assert.Equal(t, "Renamed", r.Visible()[0].Contact.Name)

	r.ApplyContact(&store.Contact{ID: 200, Name: "Shadow Renamed"})
	require.NotNil(t, shadow.Get(2).Contact)
	assert.Equal(t, "Shadow Renamed", shadow.Get(2).Contact.Name)
}

func TestApplyPage_UnreadEntriesMoveToFront(t *testing.T) {
	r, _, _ := newTestReconciler(View{})
	r.ApplyPage(r.Token(), []*store.Ticket{ticket(1, 1, 0), ticket(2, 1, 0)})

	r.ApplyPage(r.Token(), []*store.Ticket{ticket(2, 1, 5), ticket(3, 1, 0)})

	assert.Equal(t, []int64{2, 1, 3}, visibleIDs(r))
	assert.Equal(t, 5, r.Visible()[0].UnreadMessages)
}

func TestApplyPage_StaleTokenDropped(t *testing.T) {
	r, _, _ := newTestReconciler(View{Status: "open"})
	stale := r.Token()

	r.Reset(View{Status: "pending"})
	r.ApplyPage(stale, []*store.Ticket{ticket(1, 1, 0)})

	assert.Empty(t, r.Visible())
}

func TestApplyPage_ScopedViewFiltersOtherAccounts(t *testing.T) {
	r, _, _ := newTestReconciler(View{WhatsappID: 2})
	r.ApplyPage(r.Token(), []*store.Ticket{ticket(1, 1, 0), ticket(2, 2, 0)})

	assert.Equal(t, []int64{2}, visibleIDs(r))
}

func TestReset_ClearsStateAndRestartsPagination(t *testing.T) {
	r, _, _ := newTestReconciler(View{})
	r.ApplyPage(r.Token(), []*store.Ticket{ticket(1, 1, 0)})
	page, _ := r.LoadMore()
	assert.Equal(t, 2, page)

	r.Reset(View{Status: "closed"})

	assert.Empty(t, r.Visible())
	assert.Equal(t, 1, r.PageNumber())
}

func TestDispatch_AssignmentPredicate(t *testing.T) {
	r, shadow, _ := newTestReconciler(View{AgentID: 7})

	mine := assigned(ticket(1, 1, 0), 7)
	r.Dispatch(realtime.Event{
		Name:    realtime.EventTicket,
		Payload: realtime.TicketPayload{Action: realtime.ActionUpdate, Ticket: mine},
	})
	assert.Equal(t, []int64{1}, visibleIDs(r))

	// Someone else's ticket never reaches the view; it lands in the batch.
	other := assigned(ticket(2, 1, 0), 9)
	r.Dispatch(realtime.Event{
		Name:    realtime.EventTicket,
		Payload: realtime.TicketPayload{Action: realtime.ActionUpdate, Ticket: other},
	})
	assert.Equal(t, []int64{1}, visibleIDs(r))
	require.NotNil(t, shadow.Get(2))

	// showAll lifts the assignment gate.
	r.Reset(View{AgentID: 7, ShowAll: true})
	r.Dispatch(realtime.Event{
		Name:    realtime.EventTicket,
		Payload: realtime.TicketPayload{Action: realtime.ActionUpdate, Ticket: other},
	})
	assert.Equal(t, []int64{2}, visibleIDs(r))
}

func TestDispatch_SearchViewIgnoresUpdates(t *testing.T) {
	r, shadow, _ := newTestReconciler(View{Search: "maria"})

	r.Dispatch(realtime.Event{
		Name:    realtime.EventTicket,
		Payload: realtime.TicketPayload{Action: realtime.ActionUpdate, Ticket: ticket(1, 1, 0)},
	})
	assert.Empty(t, r.Visible())
	assert.NotNil(t, shadow.Get(1))
}

func TestDispatch_QueueMoveRoutesToDelete(t *testing.T) {
	r, _, _ := newTestReconciler(View{AgentID: 7, QueueIDs: []int64{10}})
	r.ApplyPage(r.Token(), []*store.Ticket{queued(ticket(1, 1, 0), 10)})

	r.Dispatch(realtime.Event{
		Name:    realtime.EventTicket,
		Payload: realtime.TicketPayload{Action: realtime.ActionUpdate, Ticket: queued(ticket(1, 1, 0), 99)},
	})
	assert.Empty(t, r.Visible())
}

func TestDispatch_MessageCreateAndUnreadReset(t *testing.T) {
	r, _, _ := newTestReconciler(View{AgentID: 7})
	r.ApplyPage(r.Token(), []*store.Ticket{ticket(1, 1, 0), ticket(2, 1, 0)})

	r.Dispatch(realtime.Event{
		Name:    realtime.EventAppMessage,
		Payload: realtime.TicketPayload{Action: realtime.ActionCreate, Ticket: ticket(2, 1, 1)},
	})
	assert.Equal(t, []int64{2, 1}, visibleIDs(r))
	assert.Equal(t, 1, r.Visible()[0].UnreadMessages)

	r.Dispatch(realtime.Event{
		Name:    realtime.EventTicket,
		Payload: realtime.TicketPayload{Action: realtime.ActionUpdateUnread, TicketID: 2},
	})
	assert.Equal(t, 0, r.Visible()[0].UnreadMessages)
}

func TestDispatch_DeleteAction(t *testing.T) {
	r, _, _ := newTestReconciler(View{})
	r.ApplyPage(r.Token(), []*store.Ticket{ticket(1, 1, 0)})

	r.Dispatch(realtime.Event{
		Name:    realtime.EventTicket,
		Payload: realtime.TicketPayload{Action: realtime.ActionDelete, TicketID: 1},
	})
	assert.Empty(t, r.Visible())
}
