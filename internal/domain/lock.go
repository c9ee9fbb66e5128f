package domain

import "time"

// LockRecord is the shared leadership record. Whoever wrote the freshest
// heartbeat owns the auto-sync timer.
type LockRecord struct {
	OwnerID   string `json:"ownerId"`
	Heartbeat int64  `json:"heartbeat"` // epoch ms
}

// Stale reports whether the heartbeat is older than threshold at now.
func (r *LockRecord) Stale(now time.Time, threshold time.Duration) bool {
	if r == nil {
		return true
	}
	return now.UnixMilli()-r.Heartbeat > threshold.Milliseconds()
}
