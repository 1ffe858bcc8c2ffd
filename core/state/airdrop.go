package state

import (
	"fmt"
	"math/big"

	"stakedrop/native/airdrop"
)

func poolKey(id [32]byte) []byte {
	return prefixedKey(poolPrefix, id[:])
}

func stakeKey(poolID [32]byte, owner [20]byte) []byte {
	return prefixedKey(stakePrefix, poolID[:], owner[:])
}

func markerKey(poolID [32]byte, recipient [20]byte) []byte {
	return prefixedKey(markerPrefix, poolID[:], recipient[:])
}

type storedSnapshot struct {
	Total    *big.Int
	Recorded bool
}

type storedPool struct {
	ID             [32]byte
	Admin          [20]byte
	CommitmentRoot [32]byte
	StartTime      *big.Int
	CustodyMode    uint8
	Status         uint8
	TotalStaked    *big.Int
	TotalClaimed   *big.Int
	SnapshotCount  uint8
	DailyRewards   []*big.Int
	DailySnapshots []storedSnapshot
}

func newStoredPool(p *airdrop.Pool) *storedPool {
	rewards := make([]*big.Int, len(p.DailyRewards))
	for i, r := range p.DailyRewards {
		rewards[i] = copyBig(r)
	}
	snapshots := make([]storedSnapshot, len(p.DailySnapshots))
	for i, s := range p.DailySnapshots {
		snapshots[i] = storedSnapshot{Total: copyBig(s.Total), Recorded: s.Recorded}
	}
	return &storedPool{
		ID:             p.ID,
		Admin:          p.Admin,
		CommitmentRoot: p.CommitmentRoot,
		StartTime:      big.NewInt(p.StartTime),
		CustodyMode:    uint8(p.CustodyMode),
		Status:         uint8(p.Status),
		TotalStaked:    copyBig(p.TotalStaked),
		TotalClaimed:   copyBig(p.TotalClaimed),
		SnapshotCount:  p.SnapshotCount,
		DailyRewards:   rewards,
		DailySnapshots: snapshots,
	}
}

func (s *storedPool) toPool() (*airdrop.Pool, error) {
	if s == nil {
		return nil, fmt.Errorf("state: nil pool record")
	}
	rewards := make([]*big.Int, len(s.DailyRewards))
	for i, r := range s.DailyRewards {
		rewards[i] = copyBig(r)
	}
	snapshots := make([]airdrop.DailySnapshot, len(s.DailySnapshots))
	for i, snap := range s.DailySnapshots {
		snapshots[i] = airdrop.DailySnapshot{Total: copyBig(snap.Total), Recorded: snap.Recorded}
	}
	pool := &airdrop.Pool{
		ID:             s.ID,
		Admin:          s.Admin,
		CommitmentRoot: s.CommitmentRoot,
		CustodyMode:    airdrop.CustodyMode(s.CustodyMode),
		Status:         airdrop.PoolStatus(s.Status),
		TotalStaked:    copyBig(s.TotalStaked),
		TotalClaimed:   copyBig(s.TotalClaimed),
		SnapshotCount:  s.SnapshotCount,
		DailyRewards:   rewards,
		DailySnapshots: snapshots,
	}
	if s.StartTime != nil {
		pool.StartTime = s.StartTime.Int64()
	}
	return airdrop.SanitizePool(pool)
}

// PoolPut validates and persists a pool record.
func (m *Manager) PoolPut(p *airdrop.Pool) error {
	sanitized, err := airdrop.SanitizePool(p)
	if err != nil {
		return err
	}
	return m.writeRLP(poolKey(sanitized.ID), newStoredPool(sanitized))
}

// PoolGet returns the pool record for id, if present.
func (m *Manager) PoolGet(id [32]byte) (*airdrop.Pool, bool) {
	stored := new(storedPool)
	ok, err := m.loadRLP(poolKey(id), stored)
	if err != nil || !ok {
		return nil, false
	}
	pool, err := stored.toPool()
	if err != nil {
		return nil, false
	}
	return pool, true
}

// PoolDelete removes the pool record, releasing its storage. Claim markers
// are intentionally left in place: they outlive the pool so a re-created pool
// with the same identity cannot be double-claimed.
func (m *Manager) PoolDelete(id [32]byte) error {
	return m.db.Delete(poolKey(id))
}

type storedStake struct {
	Owner      [20]byte
	Amount     *big.Int
	ClaimEpoch uint64
}

// StakePut persists a participation record.
func (m *Manager) StakePut(poolID [32]byte, stake *airdrop.Stake) error {
	if stake == nil {
		return fmt.Errorf("state: nil stake")
	}
	if stake.Amount == nil || stake.Amount.Sign() < 0 {
		return airdrop.ErrInvalidAmount
	}
	return m.writeRLP(stakeKey(poolID, stake.Owner), &storedStake{
		Owner:      stake.Owner,
		Amount:     copyBig(stake.Amount),
		ClaimEpoch: stake.ClaimEpoch,
	})
}

// StakeGet returns the participation record for owner, if present.
func (m *Manager) StakeGet(poolID [32]byte, owner [20]byte) (*airdrop.Stake, bool) {
	stored := new(storedStake)
	ok, err := m.loadRLP(stakeKey(poolID, owner), stored)
	if err != nil || !ok {
		return nil, false
	}
	return &airdrop.Stake{
		Owner:      stored.Owner,
		Amount:     copyBig(stored.Amount),
		ClaimEpoch: stored.ClaimEpoch,
	}, true
}

// StakeDelete removes a participation record, reclaiming its storage.
func (m *Manager) StakeDelete(poolID [32]byte, owner [20]byte) error {
	return m.db.Delete(stakeKey(poolID, owner))
}

// ClaimMarkerCreate writes the permanent claim-once witness for recipient.
// Creation is the atomic gate: a second create at the same address fails.
func (m *Manager) ClaimMarkerCreate(poolID [32]byte, recipient [20]byte) error {
	key := markerKey(poolID, recipient)
	exists, err := m.db.Has(key)
	if err != nil {
		return err
	}
	if exists {
		return airdrop.ErrAlreadyClaimed
	}
	return m.db.Put(key, []byte{1})
}

// ClaimMarkerExists reports whether recipient has ever claimed from the pool.
func (m *Manager) ClaimMarkerExists(poolID [32]byte, recipient [20]byte) (bool, error) {
	return m.db.Has(markerKey(poolID, recipient))
}

// VaultAddress derives the deterministic custody address for a pool. No key
// material exists for it; only the Manager moves funds out of it, acting on
// the engine's behalf.
func (m *Manager) VaultAddress(poolID [32]byte) [20]byte {
	hash := prefixedKey(vaultPrefix, poolID[:])
	var addr [20]byte
	copy(addr[:], hash[12:])
	return addr
}
