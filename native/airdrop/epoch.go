package airdrop

// CurrentEpoch converts an absolute timestamp into the pool's epoch index.
// Time at or before the start maps to epoch 0. The result is capped at
// TotalDays; the cap is applied here and nowhere else, so every call site
// (claim, snapshot, unstake, preview) observes the same policy.
func CurrentEpoch(startTime, now int64) uint64 {
	if now <= startTime {
		return 0
	}
	epoch := uint64(now-startTime) / SecondsPerDay
	if epoch >= TotalDays {
		return TotalDays
	}
	return epoch
}

// ExitDeadline returns the last instant at which exits still earn rewards.
func ExitDeadline(startTime int64) int64 {
	return startTime + (TotalDays+ExitWindowDays)*SecondsPerDay
}

// Expired reports whether the exit window has closed.
func Expired(startTime, now int64) bool {
	return now > ExitDeadline(startTime)
}
