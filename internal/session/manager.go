package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/supportdesk/waticket/internal/proxy"
	"github.com/supportdesk/waticket/internal/realtime"
	"github.com/supportdesk/waticket/internal/state"
	"github.com/supportdesk/waticket/internal/store"
)

// ErrAuthFailure is the terminal outcome of an initialization whose
// authentication was rejected. The caller decides whether to retry.
var ErrAuthFailure = errors.New("error starting whatsapp session")

// MessageHandler is the ingestion pipeline surface the manager needs for
// unread backfill.
type MessageHandler interface {
	HandleMessage(ctx context.Context, accountID int64, msg Message) error
}

// Manager orchestrates one driver instance per WhatsApp account: it builds
// the launch configuration, drives the lifecycle state machine off the
// driver's events, persists status transitions, and broadcasts them.
type Manager struct {
	accounts    store.AccountRepository
	registry    *Registry
	broadcaster realtime.Broadcaster
	ingest      MessageHandler
	newDriver   Factory
	launchArgs  []string
	monitor     *Monitor
	log         *slog.Logger
}

// NewManager creates a manager.
func NewManager(accounts store.AccountRepository, registry *Registry, broadcaster realtime.Broadcaster, ingest MessageHandler, newDriver Factory, launchArgs []string, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		accounts:    accounts,
		registry:    registry,
		broadcaster: broadcaster,
		ingest:      ingest,
		newDriver:   newDriver,
		launchArgs:  launchArgs,
		log:         log,
	}
}

// SetMonitor registers the monitor that schedules reconnect attempts
// after a connection loss. Optional; without it a lost session stays down
// until the operator restarts it.
func (m *Manager) SetMonitor(monitor *Monitor) {
	m.monitor = monitor
}

type initOutcome struct {
	handle *Handle
	err    error
}

// Initialize starts a session for the account and blocks until the driver
// reaches ready, authentication terminally fails, or the context is done.
// Callers must serialize Initialize per account.
func (m *Manager) Initialize(ctx context.Context, account *store.Account) (*Handle, error) {
	log := m.log.With("account_id", account.ID, "session", account.Name)

	cfg := Config{
		AccountID:   account.ID,
		SessionBlob: account.Session,
		LaunchArgs:  append([]string(nil), m.launchArgs...),
	}

	desc, err := proxy.Parse(account.Proxy)
	if err != nil {
		// A bad proxy string must not poison the launch; start direct.
		log.Error("ignoring malformed proxy configuration", "error", err)
	} else if desc != nil {
		cfg.Proxy = desc
		cfg.LaunchArgs = append(cfg.LaunchArgs, "--http-proxy="+desc.Addr())
	}

	drv, err := m.newDriver(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create session driver: %w", err)
	}

	handle := &Handle{AccountID: account.ID, Driver: drv}
	machine := state.NewMachine()

	// The outcome is resolved exactly once: on ready with the handle, or
	// on terminal auth failure with an error.
	outcome := make(chan initOutcome, 1)
	var resolveOnce sync.Once
	resolve := func(o initOutcome) {
		resolveOnce.Do(func() { outcome <- o })
	}

	drv.OnEvent(EventHandlers{
		OnQRCode: func(code string) {
			m.handleQRCode(ctx, machine, handle, code, log)
		},
		OnAuthenticated: func() {
			if err := machine.Fire(ctx, state.TriggerAuthenticated); err != nil {
				log.Warn("ignoring authenticated event", "error", err)
				return
			}
			log.Info("session authenticated")
		},
		OnAuthFailure: func(reason string) {
			m.handleAuthFailure(ctx, machine, handle.AccountID, reason, resolve, log)
		},
		OnReady: func() {
			m.handleReady(ctx, machine, handle, resolve, log)
		},
		OnDisconnected: func(reason string) {
			m.handleDisconnected(ctx, machine, handle.AccountID, reason, log)
		},
		OnMessage: func(msg Message) {
			if m.ingest == nil {
				return
			}
			if err := m.ingest.HandleMessage(ctx, handle.AccountID, msg); err != nil {
				log.Error("failed to ingest message", "message_id", msg.ID, "error", err)
			}
		},
	})

	if err := drv.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start session driver: %w", err)
	}

	select {
	case o := <-outcome:
		return o.handle, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GetSession returns the live handle for the account.
func (m *Manager) GetSession(accountID int64) (*Handle, error) {
	return m.registry.Lookup(accountID)
}

// Teardown destroys the account's session and removes it from the registry.
func (m *Manager) Teardown(accountID int64) {
	m.registry.Remove(accountID)
}

func (m *Manager) handleQRCode(ctx context.Context, machine *state.Machine, handle *Handle, code string, log *slog.Logger) {
	if err := machine.Fire(ctx, state.TriggerQRReceived); err != nil {
		log.Warn("ignoring qr code event", "error", err)
		return
	}
	log.Info("session qr code issued")

	if err := m.persistAndBroadcast(ctx, handle.AccountID, store.AccountPartial{
		QRCode:  ptr(code),
		Status:  ptr(store.StatusQRCode),
		Retries: ptr(0),
	}); err != nil {
		log.Error("failed to persist qr code", "error", err)
	}

	// Register already so GetSession works before the session is ready.
	m.registry.Register(handle)
}

func (m *Manager) handleAuthFailure(ctx context.Context, machine *state.Machine, accountID int64, reason string, resolve func(initOutcome), log *slog.Logger) {
	if err := machine.Fire(ctx, state.TriggerAuthFailure); err != nil {
		log.Warn("ignoring auth failure event", "reason", reason, "error", err)
		return
	}
	log.Error("session authentication failure", "reason", reason)

	account, err := m.accounts.Load(ctx, accountID)
	if err != nil {
		log.Error("failed to load account after auth failure", "error", err)
		resolve(initOutcome{err: ErrAuthFailure})
		return
	}

	retries := account.Retries
	if retries > 1 {
		// Two prior failures already: drop the stored session so the
		// next attempt forces a fresh QR scan.
		if err := m.accounts.Update(ctx, accountID, store.AccountPartial{
			Session: ptr(""),
			Retries: ptr(0),
		}); err != nil {
			log.Error("failed to clear stored session", "error", err)
		}
		retries = 0
	}

	if err := m.persistAndBroadcast(ctx, accountID, store.AccountPartial{
		Status:  ptr(store.StatusDisconnected),
		Retries: ptr(retries + 1),
	}); err != nil {
		log.Error("failed to persist auth failure", "error", err)
	}

	resolve(initOutcome{err: fmt.Errorf("%w: %s", ErrAuthFailure, reason)})
}

func (m *Manager) handleReady(ctx context.Context, machine *state.Machine, handle *Handle, resolve func(initOutcome), log *slog.Logger) {
	if err := machine.Fire(ctx, state.TriggerReady); err != nil {
		log.Warn("ignoring ready event", "error", err)
		return
	}
	log.Info("session ready")

	if err := m.persistAndBroadcast(ctx, handle.AccountID, store.AccountPartial{
		Status:  ptr(store.StatusConnected),
		QRCode:  ptr(""),
		Retries: ptr(0),
	}); err != nil {
		log.Error("failed to persist connected status", "error", err)
	}

	m.registry.Register(handle)
	if m.monitor != nil {
		m.monitor.OnConnectionRestored(handle.AccountID)
	}

	if err := handle.Driver.SendPresenceAvailable(ctx); err != nil {
		log.Warn("failed to send presence", "error", err)
	}

	if err := m.syncUnread(ctx, handle, log); err != nil {
		log.Error("unread backfill failed", "error", err)
	}

	resolve(initOutcome{handle: handle})
}

func (m *Manager) handleDisconnected(ctx context.Context, machine *state.Machine, accountID int64, reason string, log *slog.Logger) {
	if err := machine.Fire(ctx, state.TriggerConnectionLost); err != nil {
		log.Warn("ignoring disconnect event", "reason", reason, "error", err)
		return
	}
	log.Warn("session connection lost", "reason", reason)

	if err := m.persistAndBroadcast(ctx, accountID, store.AccountPartial{
		Status: ptr(store.StatusDisconnected),
	}); err != nil {
		log.Error("failed to persist disconnect", "error", err)
	}

	m.registry.Remove(accountID)

	if m.monitor != nil {
		m.monitor.ScheduleReconnect(accountID, func() {
			m.reconnect(accountID, log)
		})
	}
}

func (m *Manager) reconnect(accountID int64, log *slog.Logger) {
	ctx := context.Background()
	account, err := m.accounts.Load(ctx, accountID)
	if err != nil {
		log.Error("failed to load account for reconnect", "error", err)
		return
	}
	if _, err := m.Initialize(ctx, account); err != nil {
		log.Error("reconnect attempt failed", "error", err)
	}
}

// persistAndBroadcast awaits the account update, reloads the full record,
// and only then broadcasts it, so agents never see stale state.
func (m *Manager) persistAndBroadcast(ctx context.Context, accountID int64, partial store.AccountPartial) error {
	if err := m.accounts.Update(ctx, accountID, partial); err != nil {
		return err
	}
	account, err := m.accounts.Load(ctx, accountID)
	if err != nil {
		return err
	}
	m.broadcaster.EmitSession(account)
	return nil
}

func ptr[T any](v T) *T {
	return &v
}
