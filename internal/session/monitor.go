package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Status is the activity snapshot served by the status API.
type Status struct {
	LiveSessions     int       `json:"live_sessions"`
	UptimeSeconds    int64     `json:"uptime_seconds"`
	LastMessage      time.Time `json:"last_message"`
	ReconnectCount   int       `json:"reconnect_count"`
	MessagesReceived int64     `json:"messages_received"`
	MessagesSent     int64     `json:"messages_sent"`
}

// accountBackoff is one account's reconnect budget. A flapping account
// must not inflate the delay or burn the retries of the others.
type accountBackoff struct {
	bo      *backoff.ExponentialBackOff
	retries int
}

// Monitor tracks desk activity and schedules session reconnects with
// per-account exponential backoff.
type Monitor struct {
	registry *Registry
	log      *slog.Logger

	baseDelay  time.Duration
	maxDelay   time.Duration
	maxRetries int
	backoffs   map[int64]*accountBackoff

	startTime        time.Time
	lastMessage      time.Time
	reconnectCount   int
	messagesReceived atomic.Int64
	messagesSent     atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
}

// NewMonitor creates a monitor.
func NewMonitor(registry *Registry, baseDelay, maxDelay time.Duration, maxRetries int, log *slog.Logger) *Monitor {
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Monitor{
		registry:   registry,
		log:        log,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
		maxRetries: maxRetries,
		backoffs:   make(map[int64]*accountBackoff),
		startTime:  time.Now(),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// backoffFor returns the account's backoff state, creating it on first
// use. Callers must hold mu.
func (m *Monitor) backoffFor(accountID int64) *accountBackoff {
	ab, ok := m.backoffs[accountID]
	if !ok {
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = m.baseDelay
		bo.MaxInterval = m.maxDelay
		bo.MaxElapsedTime = 0
		bo.Reset()
		ab = &accountBackoff{bo: bo}
		m.backoffs[accountID] = ab
	}
	return ab
}

// Stop cancels pending reconnects and waits for them.
func (m *Monitor) Stop() {
	m.cancel()
	m.wg.Wait()
}

// GetStatus returns the current activity snapshot.
func (m *Monitor) GetStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return Status{
		LiveSessions:     m.registry.Len(),
		UptimeSeconds:    int64(time.Since(m.startTime).Seconds()),
		LastMessage:      m.lastMessage,
		ReconnectCount:   m.reconnectCount,
		MessagesReceived: m.messagesReceived.Load(),
		MessagesSent:     m.messagesSent.Load(),
	}
}

// RecordMessageReceived records an inbound message.
func (m *Monitor) RecordMessageReceived() {
	m.messagesReceived.Add(1)
	m.mu.Lock()
	m.lastMessage = time.Now()
	m.mu.Unlock()
}

// RecordMessageSent records an outbound message.
func (m *Monitor) RecordMessageSent() {
	m.messagesSent.Add(1)
}

// IsMaxRetriesExceeded reports whether the account's scheduled
// reconnects ran out.
func (m *Monitor) IsMaxRetriesExceeded(accountID int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ab, ok := m.backoffs[accountID]
	return ok && ab.retries > m.maxRetries
}

// ScheduleReconnect runs callback after the account's next backoff delay.
func (m *Monitor) ScheduleReconnect(accountID int64, callback func()) {
	m.mu.Lock()
	ab := m.backoffFor(accountID)
	if ab.retries > m.maxRetries {
		m.mu.Unlock()
		m.log.Error("max reconnection retries exceeded", "account_id", accountID)
		return
	}
	ab.retries++
	attempt := ab.retries
	delay := ab.bo.NextBackOff()
	m.mu.Unlock()

	m.log.Info("scheduling session reconnect",
		"account_id", accountID, "delay", delay, "attempt", attempt)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		select {
		case <-time.After(delay):
			m.mu.Lock()
			m.reconnectCount++
			m.mu.Unlock()
			callback()
		case <-m.ctx.Done():
		}
	}()
}

// OnConnectionRestored drops the account's backoff state after a
// successful reconnect, restoring its full retry budget.
func (m *Monitor) OnConnectionRestored(accountID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.backoffs, accountID)
}
