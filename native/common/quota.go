package common

import (
	"errors"
	"math"
)

var (
	ErrQuotaBidsExceeded    = errors.New("quota bids exceeded")
	ErrQuotaCounterOverflow = errors.New("quota counter overflow")
)

// QuotaNow captures the current quota usage counters for an address.
type QuotaNow struct {
	BidCount uint32
	EpochID  uint64
}

// Quota defines the bid-submission limits enforced per bidder address. A zero
// MaxBidsPerEpoch disables the check.
type Quota struct {
	MaxBidsPerEpoch uint32
	EpochSeconds    uint32
}

// Epoch maps a unix timestamp onto the quota epoch counter.
func (q Quota) Epoch(now int64) uint64 {
	if q.EpochSeconds == 0 || now <= 0 {
		return 0
	}
	return uint64(now) / uint64(q.EpochSeconds)
}

// CheckQuota verifies whether the additional bids fit within the configured
// quota. The returned QuotaNow reflects the updated counters when the quota is
// not exceeded; on denial the previous counters are returned unchanged.
func CheckQuota(q Quota, nowEpoch uint64, prev QuotaNow, addBids uint32) (QuotaNow, error) {
	next := prev
	if prev.EpochID != nowEpoch {
		next = QuotaNow{EpochID: nowEpoch}
	}

	if addBids > 0 {
		if next.BidCount > math.MaxUint32-addBids {
			return prev, ErrQuotaCounterOverflow
		}
		next.BidCount += addBids
	}
	if q.MaxBidsPerEpoch > 0 && next.BidCount > q.MaxBidsPerEpoch {
		return prev, ErrQuotaBidsExceeded
	}

	return next, nil
}
