package secrets

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/tracefold/chipline/internal/store"
)

// pair is the atomically published view of the stage secret. Readers
// always see a consistent (current, previous) snapshot: the pointer
// swap is the only mutation and it happens after persistence succeeds.
type pair struct {
	current   *Secret
	previous  *Secret // nil until the first rotation
	rotatedAt time.Time
	reference string
}

// Manager owns the stage secret lifecycle: boot-time load, atomic
// rotation, and snapshot reads for signing and verification.
//
// Rotation order is persist-then-apply. If persistence fails, the
// in-memory secret is untouched and the old secret keeps serving; a
// rotation is never half-applied.
type Manager struct {
	store  *store.Store
	logger *slog.Logger
	now    func() time.Time
	rand   io.Reader
	newRef func() (string, error)

	mu   sync.Mutex // serializes Load and Rotate
	pair atomic.Pointer[pair]
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// WithNow overrides the wall-clock source.
func WithNow(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// WithRand overrides the entropy source for new root secrets.
func WithRand(r io.Reader) ManagerOption {
	return func(m *Manager) { m.rand = r }
}

// WithReferenceFunc overrides rotation reference generation. Tests pin
// references; production uses UUIDv7 so references sort by time.
func WithReferenceFunc(f func() (string, error)) ManagerOption {
	return func(m *Manager) { m.newRef = f }
}

// NewManager creates a manager backed by the given store. Call Load
// before serving; signing without a loaded secret is a programming
// error.
func NewManager(st *store.Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:  st,
		logger: slog.Default(),
		now:    time.Now,
		rand:   rand.Reader,
		newRef: func() (string, error) {
			id, err := uuid.NewV7()
			if err != nil {
				return "", err
			}
			return id.String(), nil
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load restores the persisted secret at boot, or provisions the
// initial one when the store has none. Fails closed: any storage or
// derivation error leaves the manager unloaded and the caller must
// not serve.
func (m *Manager) Load(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.store.LoadSecret(ctx)
	if err != nil {
		return fmt.Errorf("load stage secret: %w", err)
	}
	if rec == nil {
		return m.provisionLocked(ctx)
	}

	current, err := Derive(rec.Current)
	if err != nil {
		return fmt.Errorf("derive current secret: %w", err)
	}
	var previous *Secret
	if rec.Previous != nil {
		if previous, err = Derive(rec.Previous); err != nil {
			return fmt.Errorf("derive previous secret: %w", err)
		}
	}

	m.pair.Store(&pair{
		current:   current,
		previous:  previous,
		rotatedAt: rec.RotatedAt,
		reference: rec.RotationReference,
	})
	m.logger.Info("stage secret loaded",
		"fingerprint", current.Fingerprint(),
		"rotation_reference", rec.RotationReference)
	return nil
}

// provisionLocked creates and persists the very first secret.
func (m *Manager) provisionLocked(ctx context.Context) error {
	root := make([]byte, RootSize)
	if _, err := io.ReadFull(m.rand, root); err != nil {
		return fmt.Errorf("generate root secret: %w", err)
	}
	current, err := Derive(root)
	if err != nil {
		return fmt.Errorf("derive initial secret: %w", err)
	}
	ref, err := m.newRef()
	if err != nil {
		return fmt.Errorf("rotation reference: %w", err)
	}
	now := m.now().UTC()

	if err := m.store.PersistSecret(ctx, &store.SecretRecord{
		Current:           current.Root(),
		RotatedAt:         now,
		RotationReference: ref,
	}); err != nil {
		return fmt.Errorf("persist initial secret: %w", err)
	}

	m.pair.Store(&pair{current: current, rotatedAt: now, reference: ref})
	m.logger.Info("stage secret provisioned",
		"fingerprint", current.Fingerprint(),
		"rotation_reference", ref)
	return nil
}

// Rotate replaces the current secret with a freshly generated one and
// demotes the old current to the previous slot. Returns the rotation
// reference recorded in the audit log.
//
// The new secret is derived and the record persisted before the
// in-memory swap. Concurrent signers observe either the old pair or
// the new pair, never a mix.
func (m *Manager) Rotate(ctx context.Context, reason string) (string, error) {
	root := make([]byte, RootSize)
	if _, err := io.ReadFull(m.rand, root); err != nil {
		return "", fmt.Errorf("generate root secret: %w", err)
	}
	return m.RotateTo(ctx, root, reason)
}

// RotateTo rotates to a caller-supplied root secret instead of a
// generated one. Operators use this to install a key escrowed outside
// the store; the rotation semantics are otherwise identical to Rotate.
func (m *Manager) RotateTo(ctx context.Context, root []byte, reason string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	old := m.pair.Load()
	if old == nil {
		return "", fmt.Errorf("rotate: secret not loaded")
	}

	next, err := Derive(root)
	if err != nil {
		return "", fmt.Errorf("derive next secret: %w", err)
	}
	ref, err := m.newRef()
	if err != nil {
		return "", fmt.Errorf("rotation reference: %w", err)
	}
	now := m.now().UTC()

	if err := m.store.PersistSecret(ctx, &store.SecretRecord{
		Current:           next.Root(),
		Previous:          old.current.Root(),
		RotatedAt:         now,
		RotationReference: ref,
	}); err != nil {
		// Old pair stays live; the failed rotation had no effect.
		return "", fmt.Errorf("persist rotated secret: %w", err)
	}

	m.pair.Store(&pair{
		current:   next,
		previous:  old.current,
		rotatedAt: now,
		reference: ref,
	})
	m.logger.Info("stage secret rotated",
		"rotation_reference", ref,
		"reason", reason,
		"fingerprint", next.Fingerprint(),
		"previous_fingerprint", old.current.Fingerprint())
	return ref, nil
}

// Current returns the active signing secret. Nil before Load.
func (m *Manager) Current() *Secret {
	if p := m.pair.Load(); p != nil {
		return p.current
	}
	return nil
}

// Snapshot returns a consistent (current, previous) view. previous is
// nil until the first rotation.
func (m *Manager) Snapshot() (current, previous *Secret) {
	p := m.pair.Load()
	if p == nil {
		return nil, nil
	}
	return p.current, p.previous
}

// RotatedAt returns when the active secret took effect, and its
// rotation reference.
func (m *Manager) RotatedAt() (time.Time, string) {
	p := m.pair.Load()
	if p == nil {
		return time.Time{}, ""
	}
	return p.rotatedAt, p.reference
}

// VerifyAny checks a signature against the current secret first, then
// the previous one. Receipts sealed just before a rotation verify
// through the previous slot.
func (m *Manager) VerifyAny(msg, sig []byte) bool {
	p := m.pair.Load()
	if p == nil {
		return false
	}
	if p.current.Verify(msg, sig) {
		return true
	}
	return p.previous != nil && p.previous.Verify(msg, sig)
}

// VerifyAnyMAC checks a MAC tag against the current secret first,
// then the previous one. Work tokens minted just before a rotation
// stay valid through the pipeline they started in.
func (m *Manager) VerifyAnyMAC(msg, tag []byte) bool {
	p := m.pair.Load()
	if p == nil {
		return false
	}
	if p.current.VerifyMAC(msg, tag) {
		return true
	}
	return p.previous != nil && p.previous.VerifyMAC(msg, tag)
}
