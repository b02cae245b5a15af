// Package ledger implements persistent replay protection for work
// authorization. Every admitted (scope, nonce) pair is recorded
// durably; a second submission with the same pair inside the retention
// window is a replay and is refused.
//
// The ledger is the single authority on admission. The pipeline asks
// it exactly one question — "has this nonce been seen in this scope?" —
// and the check and the insert happen atomically, so two concurrent
// submissions with the same pair can never both win.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tracefold/chipline/internal/store"
)

// Verdict is the outcome of an admission check.
type Verdict int

const (
	// VerdictNew means this call was the first sighting of the pair
	// and the nonce is now recorded.
	VerdictNew Verdict = iota
	// VerdictReplay means the pair was already recorded and unexpired.
	VerdictReplay
)

func (v Verdict) String() string {
	switch v {
	case VerdictNew:
		return "new"
	case VerdictReplay:
		return "replay"
	default:
		return fmt.Sprintf("Verdict(%d)", int(v))
	}
}

// Mode selects how the ledger behaves when durable storage fails.
type Mode int

const (
	// Strict refuses all admissions while storage is unavailable.
	// This is the default: replay protection is a correctness property
	// and strict mode never weakens it.
	Strict Mode = iota
	// Degraded falls back to the in-memory recent set while storage is
	// unavailable. Protection holds within the process lifetime only;
	// every degraded admission is logged.
	Degraded
)

func (m Mode) String() string {
	switch m {
	case Strict:
		return "strict"
	case Degraded:
		return "degraded"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// StorageError wraps a durable-store failure during admission.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("nonce ledger storage unavailable during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// DefaultTTL is the nonce retention window when none is configured.
const DefaultTTL = 24 * time.Hour

// defaultCacheSize bounds the in-memory recent set.
const defaultCacheSize = 65536

// Ledger is the replay-protection ledger. Safe for concurrent use.
type Ledger struct {
	store  *store.Store
	ttl    time.Duration
	mode   Mode
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	recent map[string]int64 // cache key -> expiry unix seconds
	limit  int
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithTTL sets the nonce retention window.
func WithTTL(ttl time.Duration) Option {
	return func(l *Ledger) { l.ttl = ttl }
}

// WithMode sets the storage-failure behavior.
func WithMode(mode Mode) Option {
	return func(l *Ledger) { l.mode = mode }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// WithNow overrides the wall-clock source. Tests use this to drive
// expiry deterministically.
func WithNow(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithCacheSize bounds the in-memory recent set.
func WithCacheSize(n int) Option {
	return func(l *Ledger) { l.limit = n }
}

// New creates a ledger backed by the given store.
func New(st *store.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:  st,
		ttl:    DefaultTTL,
		mode:   Strict,
		logger: slog.Default(),
		now:    time.Now,
		recent: make(map[string]int64),
		limit:  defaultCacheSize,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// TTL returns the configured retention window.
func (l *Ledger) TTL() time.Duration { return l.ttl }

// CheckAndInsert performs the atomic admission check for (scope,
// nonce). The durable insert is the authority; the in-memory recent
// set only short-circuits known replays and carries degraded mode.
//
// In Strict mode a storage failure returns a StorageError and the
// submission must be refused. In Degraded mode the failure is logged
// and the in-memory set decides alone.
func (l *Ledger) CheckAndInsert(ctx context.Context, scope, nonce string) (Verdict, error) {
	now := l.now()
	key := scope + "\x00" + nonce

	if l.cachedReplay(key, now) {
		return VerdictReplay, nil
	}

	fresh, err := l.store.InsertNonce(ctx, scope, nonce, now, l.ttl)
	if err != nil {
		if l.mode == Strict {
			return VerdictReplay, &StorageError{Op: "insert", Err: err}
		}
		return l.degradedAdmit(key, scope, now, err)
	}

	// Only a fresh admission enters the cache. Caching a store-side
	// replay would restamp the pair with a new expiry and block
	// re-admission past the durable row's TTL.
	if !fresh {
		return VerdictReplay, nil
	}
	l.remember(key, now)
	return VerdictNew, nil
}

// cachedReplay reports whether key is a known live admission.
func (l *Ledger) cachedReplay(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	exp, ok := l.recent[key]
	return ok && exp > now.Unix()
}

// remember records key in the recent set, evicting arbitrary entries
// when the set is full. Eviction is safe: the durable store still
// holds the row, the cache only loses a shortcut.
func (l *Ledger) remember(key string, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.recent) >= l.limit {
		for k := range l.recent {
			delete(l.recent, k)
			if len(l.recent) < l.limit {
				break
			}
		}
	}
	l.recent[key] = now.Add(l.ttl).Unix()
}

// degradedAdmit decides from memory alone while storage is down.
func (l *Ledger) degradedAdmit(key, scope string, now time.Time, cause error) (Verdict, error) {
	l.mu.Lock()
	exp, seen := l.recent[key]
	live := seen && exp > now.Unix()
	if !live {
		l.recent[key] = now.Add(l.ttl).Unix()
	}
	l.mu.Unlock()

	verdict := VerdictNew
	if live {
		verdict = VerdictReplay
	}
	l.logger.Warn("nonce ledger degraded: storage unavailable, deciding from memory",
		"scope", scope,
		"verdict", verdict.String(),
		"error", cause)
	return verdict, nil
}

// Seen reports whether (scope, nonce) is currently live, without
// admitting it. Read-only; used by diagnostics.
func (l *Ledger) Seen(ctx context.Context, scope, nonce string) (bool, error) {
	now := l.now()
	key := scope + "\x00" + nonce
	if l.cachedReplay(key, now) {
		return true, nil
	}
	return l.store.NonceSeen(ctx, scope, nonce, now)
}
