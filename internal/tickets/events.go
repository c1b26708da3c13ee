package tickets

import (
	"github.com/supportdesk/waticket/internal/realtime"
)

// Dispatch routes one broadcast through the relevance predicates to the
// matching fold. Events referencing unknown entities degrade to no-ops
// inside the folds; Dispatch never fails.
func (r *Reconciler) Dispatch(evt realtime.Event) {
	switch evt.Name {
	case realtime.EventTicket:
		payload, ok := evt.Payload.(realtime.TicketPayload)
		if !ok {
			return
		}
		switch payload.Action {
		case realtime.ActionUpdateUnread:
			r.ApplyUnreadReset(payload.TicketID)
		case realtime.ActionUpdate:
			if payload.Ticket == nil {
				return
			}
			switch {
			case r.shouldApply(payload.Ticket):
				r.ApplyUpdate(payload.Ticket)
			case r.movedOutOfQueues(payload.Ticket):
				r.ApplyDelete(payload.Ticket.ID)
			default:
				// Not relevant to this view right now, but keep the
				// batch fresh for views that will pick it up.
				r.shadow.Merge(payload.Ticket)
			}
		case realtime.ActionDelete:
			r.ApplyDelete(payload.TicketID)
		}
	case realtime.EventAppMessage:
		payload, ok := evt.Payload.(realtime.TicketPayload)
		if !ok || payload.Ticket == nil {
			return
		}
		if payload.Action == realtime.ActionCreate && r.shouldApply(payload.Ticket) {
			r.ApplyMessage(payload.Ticket)
		}
	case realtime.EventContact:
		payload, ok := evt.Payload.(realtime.ContactPayload)
		if !ok || payload.Contact == nil {
			return
		}
		if payload.Action == realtime.ActionUpdate {
			r.ApplyContact(payload.Contact)
		}
	}
}
