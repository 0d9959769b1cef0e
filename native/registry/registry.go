package registry

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// storage abstracts the subset of state manager functionality required by the
// worker registry.
type storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

var workerProfilePrefix = []byte("registry/worker/")

func workerProfileKey(addr [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", workerProfilePrefix, addr))
}

var (
	// ErrProfileNotFound marks lookups for unregistered workers.
	ErrProfileNotFound = errors.New("registry: worker profile not found")
	// ErrScorerUnauthorized marks score updates from accounts other than
	// the configured scorer.
	ErrScorerUnauthorized = errors.New("registry: scorer unauthorized")
)

// Profile is the externally maintained identity and reputation record for a
// worker address. Scores are consumed read-only by the escrow engines to gate
// bids; they never participate in fund movement.
type Profile struct {
	Address      [20]byte
	Handle       string
	MetadataRef  string
	Score        uint64
	RegisteredAt int64
	UpdatedAt    int64
}

// Clone returns a copy safe for modification.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	clone := *p
	return &clone
}

// Ledger persists worker profiles and their externally computed scores.
type Ledger struct {
	store  storage
	scorer [20]byte
	nowFn  func() int64
}

// NewLedger constructs a ledger bound to the provided storage backend.
func NewLedger(store storage) *Ledger {
	return &Ledger{
		store: store,
		nowFn: func() int64 { return time.Now().Unix() },
	}
}

// SetScorer configures the address allowed to write scores. Score ingestion
// is an external concern; the registry only records the result.
func (l *Ledger) SetScorer(scorer [20]byte) {
	if l == nil {
		return
	}
	l.scorer = scorer
}

// SetNowFunc overrides the wall clock used for timestamps. Primarily
// leveraged in tests to provide deterministic values.
func (l *Ledger) SetNowFunc(now func() int64) {
	if l == nil {
		return
	}
	if now == nil {
		l.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	l.nowFn = now
}

func (l *Ledger) now() int64 {
	if l == nil || l.nowFn == nil {
		return time.Now().Unix()
	}
	return l.nowFn()
}

// Register creates or refreshes the profile for a worker address. The handle
// and metadata reference are opaque to the engine.
func (l *Ledger) Register(addr [20]byte, handle, metadataRef string) (*Profile, error) {
	if l == nil || l.store == nil {
		return nil, fmt.Errorf("registry: storage not configured")
	}
	if addr == ([20]byte{}) {
		return nil, fmt.Errorf("registry: worker address required")
	}
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return nil, fmt.Errorf("registry: handle required")
	}
	now := l.now()
	profile := &Profile{
		Address:      addr,
		Handle:       handle,
		MetadataRef:  strings.TrimSpace(metadataRef),
		RegisteredAt: now,
		UpdatedAt:    now,
	}
	var existing Profile
	if ok, err := l.store.KVGet(workerProfileKey(addr), &existing); err != nil {
		return nil, err
	} else if ok {
		profile.Score = existing.Score
		profile.RegisteredAt = existing.RegisteredAt
	}
	if err := l.store.KVPut(workerProfileKey(addr), profile); err != nil {
		return nil, err
	}
	return profile.Clone(), nil
}

// SetScore records the externally computed reputation score for a worker.
// Only the configured scorer may call it.
func (l *Ledger) SetScore(caller, addr [20]byte, score uint64) error {
	if l == nil || l.store == nil {
		return fmt.Errorf("registry: storage not configured")
	}
	if l.scorer == ([20]byte{}) || caller != l.scorer {
		return ErrScorerUnauthorized
	}
	var profile Profile
	ok, err := l.store.KVGet(workerProfileKey(addr), &profile)
	if err != nil {
		return err
	}
	if !ok {
		return ErrProfileNotFound
	}
	profile.Score = score
	profile.UpdatedAt = l.now()
	return l.store.KVPut(workerProfileKey(addr), &profile)
}

// Profile returns the stored record for a worker address.
func (l *Ledger) Profile(addr [20]byte) (*Profile, error) {
	if l == nil || l.store == nil {
		return nil, fmt.Errorf("registry: storage not configured")
	}
	var profile Profile
	ok, err := l.store.KVGet(workerProfileKey(addr), &profile)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrProfileNotFound
	}
	return profile.Clone(), nil
}

// Score implements the read-only reputation lookup the escrow engines gate
// bids with. Unregistered workers report no score rather than an error.
func (l *Ledger) Score(addr [20]byte) (uint64, bool, error) {
	profile, err := l.Profile(addr)
	if err != nil {
		if errors.Is(err, ErrProfileNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return profile.Score, true, nil
}
