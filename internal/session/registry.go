package session

import (
	"errors"
	"log/slog"
	"sync"
)

// ErrNotInitialized is returned when looking up a session that was never
// started or was already torn down. Callers should start a session, not
// retry the lookup.
var ErrNotInitialized = errors.New("whatsapp session not initialized")

// Registry is the process-wide table of live session handles, one per
// account.
type Registry struct {
	mu      sync.Mutex
	handles map[int64]*Handle
	log     *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		handles: make(map[int64]*Handle),
		log:     log,
	}
}

// Register inserts the handle unless one is already live for the account.
// Re-registration is a no-op, not a replace: concurrent qrcode and ready
// events for one initialization must not double-register.
func (r *Registry) Register(handle *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handles[handle.AccountID]; ok {
		return
	}
	r.handles[handle.AccountID] = handle
}

// Lookup returns the live handle for the account or ErrNotInitialized.
func (r *Registry) Lookup(accountID int64) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	handle, ok := r.handles[accountID]
	if !ok {
		return nil, ErrNotInitialized
	}
	return handle, nil
}

// Remove tears down the account's driver, if any, and drops the entry.
// Teardown failures are logged and swallowed; the entry is removed
// regardless so no unreachable handle lingers.
func (r *Registry) Remove(accountID int64) {
	r.mu.Lock()
	handle, ok := r.handles[accountID]
	delete(r.handles, accountID)
	r.mu.Unlock()

	if !ok {
		return
	}
	if err := handle.Driver.Destroy(); err != nil {
		r.log.Error("failed to destroy session driver", "account_id", accountID, "error", err)
	}
}

// Len reports the number of live handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}
