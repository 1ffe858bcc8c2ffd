package airdrop

import (
	"encoding/binary"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// PoolStatus is the lifecycle state of a pool. Closed is not a stored status:
// a closed pool's record is deleted outright, so absence means closed.
type PoolStatus uint8

const (
	PoolActive PoolStatus = iota
	PoolPaused
	PoolTerminated
)

// Valid reports whether the status value is within the supported range.
func (s PoolStatus) Valid() bool {
	switch s {
	case PoolActive, PoolPaused, PoolTerminated:
		return true
	default:
		return false
	}
}

func (s PoolStatus) String() string {
	switch s {
	case PoolActive:
		return "active"
	case PoolPaused:
		return "paused"
	case PoolTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// DailySnapshot is one slot of the per-epoch participation log. Recorded
// distinguishes "nobody had staked when the snapshot was taken" from "the
// snapshot was never taken", which a bare zero total cannot.
type DailySnapshot struct {
	Total    *big.Int
	Recorded bool
}

// Pool is the shared mutable aggregate for one distribution. It is only ever
// mutated through the engine's operations.
type Pool struct {
	ID             [32]byte
	Admin          [20]byte
	CommitmentRoot [32]byte
	StartTime      int64
	CustodyMode    CustodyMode
	Status         PoolStatus
	TotalStaked    *big.Int
	TotalClaimed   *big.Int
	SnapshotCount  uint8
	DailyRewards   []*big.Int
	DailySnapshots []DailySnapshot
}

// PoolID derives the deterministic pool identifier from the admin, commitment
// root and start time.
func PoolID(admin [20]byte, root [32]byte, startTime int64) [32]byte {
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(startTime))
	var id [32]byte
	copy(id[:], ethcrypto.Keccak256(admin[:], root[:], ts[:]))
	return id
}

// Clone returns a deep copy of the pool so callers can safely mutate the copy
// without affecting the stored instance.
func (p *Pool) Clone() *Pool {
	if p == nil {
		return nil
	}
	clone := *p
	clone.TotalStaked = copyBigInt(p.TotalStaked)
	clone.TotalClaimed = copyBigInt(p.TotalClaimed)
	clone.DailyRewards = make([]*big.Int, len(p.DailyRewards))
	for i, r := range p.DailyRewards {
		clone.DailyRewards[i] = copyBigInt(r)
	}
	clone.DailySnapshots = make([]DailySnapshot, len(p.DailySnapshots))
	for i, s := range p.DailySnapshots {
		clone.DailySnapshots[i] = DailySnapshot{Total: copyBigInt(s.Total), Recorded: s.Recorded}
	}
	return &clone
}

// SanitizePool validates structural invariants of a pool record and returns a
// normalised deep copy. It does not check lifecycle guards; those belong to
// the engine.
func SanitizePool(p *Pool) (*Pool, error) {
	if p == nil {
		return nil, ErrPoolNotFound
	}
	clone := p.Clone()
	if !clone.Status.Valid() {
		return nil, ErrInvalidStatus
	}
	if !clone.CustodyMode.Valid() {
		return nil, ErrInvalidCustodyMode
	}
	if len(clone.DailyRewards) != TotalDays || len(clone.DailySnapshots) != TotalDays {
		return nil, ErrInvalidDailyRewards
	}
	if clone.SnapshotCount > TotalDays {
		return nil, ErrInvalidEpoch
	}
	if clone.TotalStaked.Sign() < 0 || clone.TotalClaimed.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	return clone, nil
}

// Stake is one participant's registry entry: created by claim, destroyed by
// unstake, never mutated in between.
type Stake struct {
	Owner      [20]byte
	Amount     *big.Int
	ClaimEpoch uint64
}

// Clone returns a deep copy of the stake record.
func (s *Stake) Clone() *Stake {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Amount = copyBigInt(s.Amount)
	return &clone
}

func copyBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
