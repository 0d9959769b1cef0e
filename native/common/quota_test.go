package common

import (
	"errors"
	"testing"
)

func TestCheckQuotaBidLimit(t *testing.T) {
	q := Quota{MaxBidsPerEpoch: 10, EpochSeconds: 60}
	prev := QuotaNow{EpochID: 1}

	next, err := CheckQuota(q, 1, prev, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.BidCount != 10 {
		t.Fatalf("unexpected bid count: %d", next.BidCount)
	}

	denied, err := CheckQuota(q, 1, next, 1)
	if !errors.Is(err, ErrQuotaBidsExceeded) {
		t.Fatalf("expected ErrQuotaBidsExceeded, got %v", err)
	}
	if denied != next {
		t.Fatalf("expected counters to remain unchanged on denial")
	}

	rollover, err := CheckQuota(q, 2, next, 1)
	if err != nil {
		t.Fatalf("unexpected error after epoch rollover: %v", err)
	}
	if rollover.EpochID != 2 || rollover.BidCount != 1 {
		t.Fatalf("unexpected state after rollover: %+v", rollover)
	}
}

func TestQuotaEpochMapping(t *testing.T) {
	q := Quota{MaxBidsPerEpoch: 5, EpochSeconds: 3600}
	if got := q.Epoch(7200); got != 2 {
		t.Fatalf("unexpected epoch: %d", got)
	}
	disabled := Quota{}
	if got := disabled.Epoch(7200); got != 0 {
		t.Fatalf("expected zero epoch when disabled, got %d", got)
	}
}
