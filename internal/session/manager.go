package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cybershield-x/shield/internal/metrics"
	"go.uber.org/zap"
)

// Manager is the lock state machine. All machine state is owned by the
// Manager and only mutated under mu; collaborators talk to it through
// OnForegroundEvent, ResolveChallenge and the policy operations.
//
// The presenter runs on its own goroutine and reports back through
// ResolveChallenge, so event processing never blocks on the user.
type Manager struct {
	cfg       Config
	clock     Clock
	presenter Presenter
	store     PolicyStore
	logger    *zap.Logger

	// policyMu serializes Lock/Unlock/UnlockAll so store writes and the
	// in-memory set change together. Never held while waiting on mu's holder.
	policyMu sync.Mutex

	mu             sync.Mutex
	sessions       map[string]*SessionState // keys are the lock policy
	lastPackage    string
	trustedPackage string
	pending        bool
	pendingPackage string
	pendingGen     uint64
	settle         Timer
	closed         bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// NewManager creates a state machine with an empty lock policy. A nil
// store keeps the policy in memory only. Call Load to restore a persisted policy.
func NewManager(cfg Config, presenter Presenter, store PolicyStore, logger *zap.Logger, opts ...Option) *Manager {
	def := DefaultConfig()
	if cfg.TrustDuration <= 0 {
		cfg.TrustDuration = def.TrustDuration
	}
	if cfg.SettleTimeout <= 0 {
		cfg.SettleTimeout = def.SettleTimeout
	}
	if cfg.ChallengeTimeout <= 0 {
		cfg.ChallengeTimeout = def.ChallengeTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:       cfg,
		clock:     realClock{},
		presenter: presenter,
		store:     store,
		logger:    logger,
		sessions:  make(map[string]*SessionState),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load replaces the in-memory policy with the persisted one.
func (m *Manager) Load(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	m.policyMu.Lock()
	defer m.policyMu.Unlock()

	pkgs, err := m.store.List(ctx)
	if err != nil {
		return fmt.Errorf("Load: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = make(map[string]*SessionState, len(pkgs))
	for _, pkg := range pkgs {
		m.sessions[pkg] = &SessionState{}
	}
	m.trustedPackage = ""
	metrics.LockedApps.Set(float64(len(m.sessions)))
	m.logger.Info("lock policy loaded", zap.Int("locked", len(pkgs)))
	return nil
}

// OnForegroundEvent applies one normalized foreground change.
func (m *Manager) OnForegroundEvent(ev ForegroundChangeEvent) Decision {
	d := m.onForeground(ev.PackageName)
	metrics.ForegroundEventsTotal.WithLabelValues(d.String()).Inc()
	return d
}

func (m *Manager) onForeground(pkg string) Decision {
	m.mu.Lock()
	defer m.mu.Unlock()

	if pkg == m.lastPackage {
		return DecisionDuplicate
	}

	if m.cfg.Revocation == RevokeOnLeave && m.trustedPackage != "" && m.trustedPackage != pkg {
		if s, ok := m.sessions[m.trustedPackage]; ok {
			s.TrustedUntil = time.Time{}
		}
		m.logger.Debug("trust revoked on leave", zap.String("package", m.trustedPackage))
		m.trustedPackage = ""
	}

	m.lastPackage = pkg

	s, locked := m.sessions[pkg]
	if !locked {
		return DecisionNotLocked
	}
	if s.TrustedUntil.After(m.clock.Now()) {
		return DecisionTrusted
	}
	if m.pending || m.closed {
		return DecisionPending
	}

	m.pending = true
	m.pendingPackage = pkg
	m.pendingGen++
	gen := m.pendingGen
	m.settle = m.clock.AfterFunc(m.cfg.SettleTimeout, func() { m.settlePending(gen) })

	m.wg.Add(1)
	go m.present(pkg)

	m.logger.Info("challenge requested", zap.String("package", pkg))
	return DecisionChallenge
}

// present asks the presenter and feeds the answer back into the machine.
func (m *Manager) present(pkg string) {
	defer m.wg.Done()

	ctx, cancel := context.WithTimeout(m.ctx, m.cfg.ChallengeTimeout)
	defer cancel()

	outcome := m.presenter.Request(ctx, pkg)
	m.ResolveChallenge(pkg, outcome)
}

// settlePending clears the pending flag set by generation gen. A newer
// challenge owns the flag if gen is stale.
func (m *Manager) settlePending(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pendingGen != gen {
		return
	}
	m.pending = false
	m.pendingPackage = ""
	m.settle = nil
}

// ResolveChallenge records the presenter's answer for pkg. Only an approval
// changes state: it opens a trust window of TrustDuration. Approvals for
// packages that are no longer locked are ignored, as are approvals for a
// package the user already left under RevokeOnLeave.
func (m *Manager) ResolveChallenge(pkg string, outcome Outcome) bool {
	metrics.ChallengesTotal.WithLabelValues(outcome.String()).Inc()

	if outcome != OutcomeApproved {
		m.logger.Info("challenge not approved",
			zap.String("package", pkg),
			zap.String("outcome", outcome.String()),
		)
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[pkg]
	if !ok {
		m.logger.Warn("approval for unlocked package ignored", zap.String("package", pkg))
		return false
	}
	if m.cfg.Revocation == RevokeOnLeave && m.lastPackage != pkg {
		m.logger.Info("approval after leaving package ignored", zap.String("package", pkg))
		return false
	}

	s.TrustedUntil = m.clock.Now().Add(m.cfg.TrustDuration)
	m.trustedPackage = pkg
	m.logger.Info("trust granted",
		zap.String("package", pkg),
		zap.Time("until", s.TrustedUntil),
	)
	return true
}

// IsTrusted reports whether pkg is locked and inside an open trust window.
func (m *Manager) IsTrusted(pkg string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[pkg]
	return ok && s.TrustedUntil.After(m.clock.Now())
}

// IsLocked reports whether pkg is in the lock policy.
func (m *Manager) IsLocked(pkg string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[pkg]
	return ok
}

// Lock adds pkg to the policy. Locking an already locked package is a no-op.
func (m *Manager) Lock(ctx context.Context, pkg string) error {
	if pkg == "" {
		return ErrInvalidPackage
	}
	m.policyMu.Lock()
	defer m.policyMu.Unlock()

	if m.IsLocked(pkg) {
		return nil
	}
	if m.store != nil {
		if err := m.store.Add(ctx, pkg); err != nil {
			return fmt.Errorf("Lock: %w", err)
		}
	}

	m.mu.Lock()
	m.sessions[pkg] = &SessionState{}
	n := len(m.sessions)
	m.mu.Unlock()

	metrics.LockedApps.Set(float64(n))
	m.logger.Info("package locked", zap.String("package", pkg))
	return nil
}

// Unlock removes pkg and its SessionState. Unlocking an unlocked package is a no-op.
func (m *Manager) Unlock(ctx context.Context, pkg string) error {
	if pkg == "" {
		return ErrInvalidPackage
	}
	m.policyMu.Lock()
	defer m.policyMu.Unlock()

	if !m.IsLocked(pkg) {
		return nil
	}
	if m.store != nil {
		if err := m.store.Remove(ctx, pkg); err != nil {
			return fmt.Errorf("Unlock: %w", err)
		}
	}

	m.mu.Lock()
	delete(m.sessions, pkg)
	if m.trustedPackage == pkg {
		m.trustedPackage = ""
	}
	n := len(m.sessions)
	m.mu.Unlock()

	metrics.LockedApps.Set(float64(n))
	m.logger.Info("package unlocked", zap.String("package", pkg))
	return nil
}

// UnlockAll clears the policy.
func (m *Manager) UnlockAll(ctx context.Context) error {
	m.policyMu.Lock()
	defer m.policyMu.Unlock()

	if m.store != nil {
		if err := m.store.RemoveAll(ctx); err != nil {
			return fmt.Errorf("UnlockAll: %w", err)
		}
	}

	m.mu.Lock()
	m.sessions = make(map[string]*SessionState)
	m.trustedPackage = ""
	m.mu.Unlock()

	metrics.LockedApps.Set(0)
	m.logger.Info("all packages unlocked")
	return nil
}

// Locked returns the lock policy in sorted order.
func (m *Manager) Locked() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sessions))
	for pkg := range m.sessions {
		out = append(out, pkg)
	}
	sort.Strings(out)
	return out
}

// Status returns a copy of the machine state.
func (m *Manager) Status() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	sessions := make(map[string]SessionState, len(m.sessions))
	for pkg, s := range m.sessions {
		sessions[pkg] = *s
	}
	return Snapshot{
		LastPackage:    m.lastPackage,
		TrustedPackage: m.trustedPackage,
		Pending:        m.pending,
		PendingPackage: m.pendingPackage,
		Sessions:       sessions,
	}
}

// Close stops the settle timer, times out in-flight challenges and waits
// for their goroutines. No new challenges are started afterwards.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	if m.settle != nil {
		m.settle.Stop()
		m.settle = nil
	}
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
}
