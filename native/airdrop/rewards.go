package airdrop

import "math/big"

// Accrue computes the cumulative reward earned by a stake across the
// snapshotted epochs [claimEpoch, snapshotCount). Epochs without a recorded
// snapshot, or with a zero participation total, contribute nothing: no
// denominator means no share that day. Division truncates toward zero, so the
// pool retains the rounding dust and the sum of all participants' rewards for
// an epoch never exceeds that epoch's budget.
//
// The function is pure. The committing unstake path and the non-committing
// preview both call it and must agree bit for bit.
func Accrue(stakedAmount *big.Int, claimEpoch uint64, snapshotCount uint8, dailyRewards []*big.Int, dailySnapshots []DailySnapshot) *big.Int {
	total := big.NewInt(0)
	if stakedAmount == nil || stakedAmount.Sign() <= 0 {
		return total
	}
	end := uint64(snapshotCount)
	if max := uint64(len(dailyRewards)); end > max {
		end = max
	}
	for d := claimEpoch; d < end; d++ {
		snap := dailySnapshots[d]
		if !snap.Recorded || snap.Total == nil || snap.Total.Sign() <= 0 {
			continue
		}
		share := new(big.Int).Mul(stakedAmount, copyBigInt(dailyRewards[d]))
		share.Quo(share, snap.Total)
		total.Add(total, share)
	}
	return total
}

// PreviewEpochReward estimates the reward a stake would earn for a single
// epoch. Recorded epochs use their snapshot; future epochs fall back to the
// most recent snapshot, or to the pool's current participation total when no
// snapshot exists yet. Epochs before the stake's claim epoch earn nothing.
func PreviewEpochReward(pool *Pool, stake *Stake, epoch uint64) (*big.Int, error) {
	if pool == nil {
		return nil, ErrPoolNotFound
	}
	if stake == nil {
		return nil, ErrStakeNotFound
	}
	if epoch >= TotalDays {
		return nil, ErrInvalidEpoch
	}
	if epoch < stake.ClaimEpoch {
		return big.NewInt(0), nil
	}

	var denom *big.Int
	switch {
	case epoch < uint64(pool.SnapshotCount):
		snap := pool.DailySnapshots[epoch]
		if !snap.Recorded {
			return big.NewInt(0), nil
		}
		denom = snap.Total
	case pool.SnapshotCount > 0:
		denom = pool.DailySnapshots[pool.SnapshotCount-1].Total
	default:
		denom = pool.TotalStaked
	}
	if denom == nil || denom.Sign() <= 0 {
		return big.NewInt(0), nil
	}

	share := new(big.Int).Mul(copyBigInt(stake.Amount), copyBigInt(pool.DailyRewards[epoch]))
	share.Quo(share, denom)
	return share, nil
}
