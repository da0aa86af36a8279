// Package lifecycle drives a registrar.Registrar through the registration
// state machine (C5): retry/backoff, a required-registration timeout gate,
// connection-loss handling, re-registration scheduling, and deregistration
// on shutdown. Grounded on register_service.go's keepAliveAsync/retry/quitCh
// shape, generalized from etcd lease-keepalive polling to the spec's
// explicit state table and exponential-backoff-with-jitter formula.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"

	"github.com/source-build/go-dynrpc/internal/dlog"
	"github.com/source-build/go-dynrpc/registrar"
)

// ChannelResetter is the narrow capability Manager needs from the client
// factory: dropping a cached channel so the next registrar attempt redials
// (and re-resolves) the registration service.
type ChannelResetter interface {
	Evict(name string)
}

// ReRegConfig mirrors spec §6's registration.re-registration.* keys.
type ReRegConfig struct {
	Enabled  bool
	Interval time.Duration
}

// Config is C5's own configuration surface, assembled from
// internal/config.RegistrationConfig by the orchestrator.
type Config struct {
	Enabled         bool
	Required        bool
	RequiredTimeout time.Duration
	Retry           RetryConfig
	ReReg           ReRegConfig

	// DiscoveryName/DiscoveryEndpoint are surfaced only in the fatal
	// diagnostic emitted when the required-timeout fires.
	DiscoveryName     string
	DiscoveryEndpoint string
}

func (c Config) withDefaults() Config {
	c.Retry = c.Retry.withDefaults()
	if c.RequiredTimeout <= 0 {
		c.RequiredTimeout = 30 * time.Second
	}
	if c.ReReg.Interval <= 0 {
		c.ReReg.Interval = 5 * time.Second
	}
	if !c.Required && c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 5
	}
	return c
}

// Manager owns exactly one in-flight registration attempt at a time and
// exposes the current State for readiness.Gate to observe.
type Manager struct {
	cfg       Config
	reg       registrar.Registrar
	record    registrar.RegistrationRecord
	resetter  ChannelResetter
	resetName string

	state     atomic.Int32
	serviceID atomic.Value // string

	requiredTimerMu sync.Mutex
	requiredTimer   *time.Timer

	reRegTimerMu sync.Mutex
	reRegTimer   *time.Timer

	runMu      sync.Mutex // serializes attemptLoop invocations
	runCtx     context.Context
	runCancel  context.CancelFunc
	runDone    chan struct{}
	shutdownCh chan struct{}

	onFatal func(reason string)
}

// NewManager builds a lifecycle manager around reg (either a
// registrar.ConsulRegistrar or registrar.GRPCRegistrar). resetter/resetName
// are only consulted in gRPC mode, to evict the cached channel to the
// registration service after a stream failure.
func NewManager(cfg Config, reg registrar.Registrar, record registrar.RegistrationRecord, resetter ChannelResetter, resetName string) *Manager {
	m := &Manager{
		cfg:        cfg.withDefaults(),
		reg:        reg,
		record:     record,
		resetter:   resetter,
		resetName:  resetName,
		shutdownCh: make(chan struct{}),
		onFatal:    defaultFatal,
	}
	m.state.Store(int32(StateUnregistered))
	m.serviceID.Store("")
	return m
}

func defaultFatal(reason string) {
	dlog.Named("lifecycle").Error("required registration timeout, exiting", zap.String("reason", reason))
	osExit(1)
}

// State returns the manager's current state.
func (m *Manager) State() State { return State(m.state.Load()) }

// Enabled/Required expose the configuration readiness.Gate needs to compute
// its boolean.
func (m *Manager) Enabled() bool  { return m.cfg.Enabled }
func (m *Manager) Required() bool { return m.cfg.Required }

// ServiceID returns the serviceId assigned by the most recent successful
// registration, or "" if none has completed yet.
func (m *Manager) ServiceID() string { return m.serviceID.Load().(string) }

// Start drives the UNREGISTERED --startup--> {REGISTERING | UNREGISTERED}
// transition. A disabled configuration is a permanent no-op.
func (m *Manager) Start(ctx context.Context) {
	if !m.cfg.Enabled {
		return
	}
	if m.cfg.Required {
		m.scheduleRequiredTimeout()
	}
	m.launchAttemptLoop(ctx)
}

func (m *Manager) launchAttemptLoop(ctx context.Context) {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	m.runCtx, m.runCancel = context.WithCancel(ctx)
	m.runDone = make(chan struct{})
	go func() {
		defer close(m.runDone)
		m.attemptLoop(m.runCtx)
	}()
}

func (m *Manager) attemptLoop(ctx context.Context) {
	m.setState(StateRegistering)

	err := m.registerWithRetry(ctx)
	if err == nil {
		m.setState(StateRegistered)
		m.cancelRequiredTimeout()
		return
	}

	select {
	case <-m.shutdownCh:
		return
	default:
	}

	if m.cfg.ReReg.Enabled {
		m.setState(StateUnregistered)
		m.scheduleReRegistration(ctx)
		return
	}
	m.setState(StateFailed)
}

// registerWithRetry drives one full retry cycle of the registration attempt,
// using retry-go's Do around a synchronous attempt function that itself
// drains the Registrar's event stream to its terminal event. This keeps at
// most one attempt in flight, matching the spec's concurrency guarantee.
func (m *Manager) registerWithRetry(ctx context.Context) error {
	attempts := uint(m.cfg.Retry.MaxAttempts)
	if m.cfg.Required || attempts == 0 {
		attempts = 1 << 30 // effectively unbounded; required-timeout is the real bound
	}

	return retry.Do(
		func() error { return m.runOneAttempt(ctx) },
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.LastErrorOnly(true),
		retry.DelayType(func(n uint, _ error, _ *retry.Config) time.Duration {
			return jitter(backoffDelay(n, m.cfg.Retry))
		}),
	)
}

func (m *Manager) runOneAttempt(ctx context.Context) error {
	events, err := m.reg.Register(ctx, m.record)
	if err != nil {
		var perm *registrar.ErrPermanent
		if errors.As(err, &perm) {
			return retry.Unrecoverable(err)
		}
		return err
	}

	for ev := range events {
		switch ev.Kind {
		case registrar.EventCompleted:
			m.serviceID.Store(ev.ServiceID)
			go m.watchPostRegistration(events)
			return nil
		case registrar.EventFailed:
			err := fmt.Errorf("registrar: %s", ev.Reason)
			if ev.Permanent {
				return retry.Unrecoverable(&registrar.ErrPermanent{Err: err})
			}
			return err
		default:
			dlog.Named("lifecycle").Debug("registration event", zap.String("kind", string(ev.Kind)))
		}
	}
	return errors.New("registrar: event stream closed without a terminal event")
}

// watchPostRegistration consumes whatever the Registrar sends after the
// terminal COMPLETED event. In direct mode the channel is already closed and
// this returns immediately. In gRPC mode a further FAILED event means the
// stream failed after a successful registration; a clean close (no further
// event, channel just closes) is the server's ordinary post-terminal
// behavior and is explicitly not a re-registration trigger (Open Question 3).
func (m *Manager) watchPostRegistration(events <-chan registrar.RegistrationEvent) {
	for ev := range events {
		if ev.Kind == registrar.EventFailed {
			m.handleStreamFailure(ev.Reason)
		}
	}
}

func (m *Manager) handleStreamFailure(reason string) {
	if !m.state.CompareAndSwap(int32(StateRegistered), int32(StateUnregistered)) {
		return
	}
	dlog.Named("lifecycle").Warn("registration stream failed after success", zap.String("reason", reason))

	if m.resetter != nil && m.resetName != "" {
		m.resetter.Evict(m.resetName)
	}

	if !m.cfg.ReReg.Enabled {
		m.setState(StateFailed)
		return
	}
	m.runMu.Lock()
	ctx := m.runCtx
	m.runMu.Unlock()
	m.scheduleReRegistration(ctx)
}

// scheduleReRegistration waits reReg.Interval, then re-enters REGISTERING.
// Only one attemptLoop is ever in flight: the timer callback launches a new
// one after the interval, never concurrently with an existing attempt.
func (m *Manager) scheduleReRegistration(ctx context.Context) {
	m.reRegTimerMu.Lock()
	defer m.reRegTimerMu.Unlock()

	if m.reRegTimer != nil {
		m.reRegTimer.Stop()
	}
	m.reRegTimer = time.AfterFunc(m.cfg.ReReg.Interval, func() {
		select {
		case <-m.shutdownCh:
			return
		default:
		}
		m.launchAttemptLoop(ctx)
	})
}

// scheduleRequiredTimeout arms the single-shot required-registration timer.
// Its id is guarded by a dedicated mutex, never the state mutex, matching
// the spec's explicit concurrency guarantee against double-scheduling.
func (m *Manager) scheduleRequiredTimeout() {
	m.requiredTimerMu.Lock()
	defer m.requiredTimerMu.Unlock()

	if m.requiredTimer != nil {
		return
	}
	m.requiredTimer = time.AfterFunc(m.cfg.RequiredTimeout, m.onRequiredTimeout)
}

func (m *Manager) onRequiredTimeout() {
	if m.State() == StateRegistered {
		return
	}
	m.setState(StateFailed)
	reason := fmt.Sprintf("service %q did not reach REGISTERED within %s (registry endpoint %s)",
		m.cfg.DiscoveryName, m.cfg.RequiredTimeout, m.cfg.DiscoveryEndpoint)
	m.onFatal(reason)
}

func (m *Manager) cancelRequiredTimeout() {
	m.requiredTimerMu.Lock()
	defer m.requiredTimerMu.Unlock()
	if m.requiredTimer != nil {
		m.requiredTimer.Stop()
	}
}

func (m *Manager) setState(s State) {
	m.state.Store(int32(s))
}

// Shutdown cancels every timer and any in-flight attempt, then deregisters
// best-effort within a 10s deadline. It is idempotent.
func (m *Manager) Shutdown(ctx context.Context) {
	select {
	case <-m.shutdownCh:
		return
	default:
		close(m.shutdownCh)
	}

	m.requiredTimerMu.Lock()
	if m.requiredTimer != nil {
		m.requiredTimer.Stop()
	}
	m.requiredTimerMu.Unlock()

	m.reRegTimerMu.Lock()
	if m.reRegTimer != nil {
		m.reRegTimer.Stop()
	}
	m.reRegTimerMu.Unlock()

	m.runMu.Lock()
	cancel := m.runCancel
	done := m.runDone
	m.runMu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	if m.State() != StateRegistered && m.State() != StateUnregistered {
		return
	}

	m.setState(StateDeregistering)
	deadline, cancelDeadline := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelDeadline()
	if err := m.reg.Unregister(deadline, m.record); err != nil {
		dlog.Named("lifecycle").Warn("unregister failed", zap.Error(err))
	}
	m.setState(StateDeregistered)
}
