package tickets

import (
	"sync"

	"github.com/supportdesk/waticket/internal/store"
)

// ShadowStore owns the paginated fetch result that backs one or more
// mounted views. Every mutation is followed by a propagation step so the
// next reader, possibly a different view, observes the change immediately.
type ShadowStore struct {
	mu       sync.Mutex
	tickets  []*store.Ticket
	onChange func([]*store.Ticket)
}

// NewShadowStore creates a store. onChange may be nil; when set it receives
// a snapshot after every mutation.
func NewShadowStore(onChange func([]*store.Ticket)) *ShadowStore {
	return &ShadowStore{onChange: onChange}
}

// Replace swaps the whole backing batch, typically after a page fetch.
func (s *ShadowStore) Replace(tickets []*store.Ticket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickets = append(s.tickets[:0:0], tickets...)
	s.propagate()
}

// Snapshot returns a copy of the current batch.
func (s *ShadowStore) Snapshot() []*store.Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*store.Ticket(nil), s.tickets...)
}

// Get returns the entry with the given id, or nil.
func (s *ShadowStore) Get(id int64) *store.Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.find(id)
}

// Merge copies the incoming ticket's fields over the existing entry with
// the same id, or prepends the ticket when no entry exists.
func (s *ShadowStore) Merge(ticket *store.Ticket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing := s.find(ticket.ID); existing != nil {
		*existing = *ticket
	} else {
		s.tickets = append([]*store.Ticket{ticket}, s.tickets...)
	}
	s.propagate()
}

// Remove deletes the entry with the given id. Unknown ids are a no-op and
// do not propagate.
func (s *ShadowStore) Remove(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, t := range s.tickets {
		if t.ID == id {
			s.tickets = append(s.tickets[:i], s.tickets[i+1:]...)
			s.propagate()
			return
		}
	}
}

// ZeroUnread clears the unread count of the entry with the given id and
// reports whether an entry was found.
func (s *ShadowStore) ZeroUnread(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t := s.find(id); t != nil {
		t.UnreadMessages = 0
		s.propagate()
		return true
	}
	return false
}

// SetContact replaces the embedded contact snapshot of the entry whose
// contact id matches, reporting whether an entry was found.
func (s *ShadowStore) SetContact(contact *store.Contact) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tickets {
		if t.ContactID == contact.ID {
			t.Contact = contact
			s.propagate()
			return true
		}
	}
	return false
}

func (s *ShadowStore) find(id int64) *store.Ticket {
	for _, t := range s.tickets {
		if t.ID == id {
			return t
		}
	}
	return nil
}

func (s *ShadowStore) propagate() {
	if s.onChange != nil {
		s.onChange(append([]*store.Ticket(nil), s.tickets...))
	}
}
