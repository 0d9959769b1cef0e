package registry

import (
	"errors"
	"testing"
)

type mockKV struct {
	values map[string]Profile
}

func newMockKV() *mockKV {
	return &mockKV{values: make(map[string]Profile)}
}

func (m *mockKV) KVGet(key []byte, out interface{}) (bool, error) {
	profile, ok := m.values[string(key)]
	if !ok {
		return false, nil
	}
	*out.(*Profile) = profile
	return true, nil
}

func (m *mockKV) KVPut(key []byte, value interface{}) error {
	m.values[string(key)] = *value.(*Profile)
	return nil
}

func testAddr(fill byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

func TestRegisterAndScore(t *testing.T) {
	ledger := NewLedger(newMockKV())
	scorer := testAddr(0xAA)
	worker := testAddr(0x01)
	ledger.SetScorer(scorer)
	ledger.SetNowFunc(func() int64 { return 1_700_000_000 })

	if _, err := ledger.Register(worker, "build-bot", "ipfs://portfolio"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := ledger.SetScore(scorer, worker, 87); err != nil {
		t.Fatalf("set score: %v", err)
	}
	score, ok, err := ledger.Score(worker)
	if err != nil || !ok || score != 87 {
		t.Fatalf("score lookup: score=%d ok=%v err=%v", score, ok, err)
	}
	// Re-registration keeps the score and the original registration time.
	profile, err := ledger.Register(worker, "build-bot-v2", "ipfs://portfolio-v2")
	if err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if profile.Score != 87 || profile.RegisteredAt != 1_700_000_000 {
		t.Fatalf("re-registration must keep score and origin: %+v", profile)
	}
}

func TestScoreGates(t *testing.T) {
	ledger := NewLedger(newMockKV())
	scorer := testAddr(0xAA)
	worker := testAddr(0x01)
	ledger.SetScorer(scorer)

	if err := ledger.SetScore(testAddr(0x02), worker, 10); !errors.Is(err, ErrScorerUnauthorized) {
		t.Fatalf("expected scorer gate, got %v", err)
	}
	if err := ledger.SetScore(scorer, worker, 10); !errors.Is(err, ErrProfileNotFound) {
		t.Fatalf("expected missing profile, got %v", err)
	}
	if _, ok, err := ledger.Score(worker); err != nil || ok {
		t.Fatalf("unregistered worker must report no score: ok=%v err=%v", ok, err)
	}
	if _, err := ledger.Profile(worker); !errors.Is(err, ErrProfileNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
