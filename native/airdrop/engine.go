package airdrop

import (
	"math/big"
	"time"

	"stakedrop/core/events"
	"stakedrop/core/types"
)

// engineState is the narrow view of the ledger the engine needs. The concrete
// implementation (core/state.Manager) guarantees durable, uniquely-addressed
// records and atomic balance moves; the engine never touches storage keys or
// raw credentials directly.
type engineState interface {
	PoolPut(*Pool) error
	PoolGet(id [32]byte) (*Pool, bool)
	PoolDelete(id [32]byte) error
	StakePut(poolID [32]byte, stake *Stake) error
	StakeGet(poolID [32]byte, owner [20]byte) (*Stake, bool)
	StakeDelete(poolID [32]byte, owner [20]byte) error
	ClaimMarkerCreate(poolID [32]byte, recipient [20]byte) error
	ClaimMarkerExists(poolID [32]byte, recipient [20]byte) (bool, error)
	VaultAddress(poolID [32]byte) [20]byte
	BalanceOf(addr [20]byte) (*big.Int, error)
	Transfer(from, to [20]byte, amount *big.Int) error
}

type airdropEvent struct {
	evt *types.Event
}

func (e airdropEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e airdropEvent) Event() *types.Event { return e.evt }

// Engine orchestrates the pool lifecycle: eligibility checks, snapshots,
// reward accrual and the solvency-preserving fund movements at termination
// and recovery. All operations are synchronous and all-or-nothing; balance
// transfers happen only after the operation's record writes are finalised.
type Engine struct {
	state   engineState
	emitter events.Emitter
	nowFn   func() int64
}

// NewEngine creates an airdrop engine with a no-op emitter. Callers can
// override the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(airdropEvent{evt: event})
}

// now reads the injected clock exactly once per operation; callers thread the
// value through so a single operation never observes two different times.
func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) loadPool(id [32]byte) (*Pool, error) {
	if e == nil || e.state == nil {
		return nil, ErrPoolNotFound
	}
	pool, ok := e.state.PoolGet(id)
	if !ok {
		return nil, ErrPoolNotFound
	}
	return pool, nil
}

// Pool returns a copy of the stored pool record.
func (e *Engine) Pool(id [32]byte) (*Pool, error) {
	pool, err := e.loadPool(id)
	if err != nil {
		return nil, err
	}
	return pool.Clone(), nil
}

// Stake returns a copy of the stored participation record for owner.
func (e *Engine) Stake(poolID [32]byte, owner [20]byte) (*Stake, error) {
	if e == nil || e.state == nil {
		return nil, ErrStakeNotFound
	}
	stake, ok := e.state.StakeGet(poolID, owner)
	if !ok {
		return nil, ErrStakeNotFound
	}
	return stake.Clone(), nil
}

// Initialize creates and persists a new pool. The daily reward schedule must
// cover every epoch and sum to exactly the staking budget; the start time
// must be in the future. The custody mode is fixed for the pool's lifetime.
func (e *Engine) Initialize(admin [20]byte, root [32]byte, startTime int64, mode CustodyMode, dailyRewards []*big.Int) (*Pool, error) {
	if e == nil || e.state == nil {
		return nil, ErrPoolNotFound
	}
	if startTime <= e.now() {
		return nil, ErrStartTimeInPast
	}
	if !mode.Valid() {
		return nil, ErrInvalidCustodyMode
	}
	if len(dailyRewards) != TotalDays {
		return nil, ErrInvalidDailyRewards
	}
	sum := big.NewInt(0)
	rewards := make([]*big.Int, TotalDays)
	for i, r := range dailyRewards {
		if r == nil || r.Sign() < 0 {
			return nil, ErrInvalidDailyRewards
		}
		rewards[i] = new(big.Int).Set(r)
		sum.Add(sum, r)
	}
	if sum.Cmp(StakingBudget()) != 0 {
		return nil, ErrInvalidDailyRewards
	}

	id := PoolID(admin, root, startTime)
	if _, ok := e.state.PoolGet(id); ok {
		return nil, ErrPoolExists
	}

	snapshots := make([]DailySnapshot, TotalDays)
	for i := range snapshots {
		snapshots[i] = DailySnapshot{Total: big.NewInt(0)}
	}
	pool := &Pool{
		ID:             id,
		Admin:          admin,
		CommitmentRoot: root,
		StartTime:      startTime,
		CustodyMode:    mode,
		Status:         PoolActive,
		TotalStaked:    big.NewInt(0),
		TotalClaimed:   big.NewInt(0),
		SnapshotCount:  0,
		DailyRewards:   rewards,
		DailySnapshots: snapshots,
	}
	if err := e.state.PoolPut(pool); err != nil {
		return nil, err
	}
	e.emit(NewPoolInitializedEvent(pool))
	return pool.Clone(), nil
}

// Claim verifies the recipient's eligibility proof and enters their allowance
// as a stake. A permanent claim marker blocks any second claim for the same
// recipient, including after exit.
func (e *Engine) Claim(poolID [32]byte, recipient [20]byte, amount *big.Int, proof [][32]byte) (*Stake, error) {
	pool, err := e.loadPool(poolID)
	if err != nil {
		return nil, err
	}
	switch pool.Status {
	case PoolTerminated:
		return nil, ErrPoolTerminated
	case PoolPaused:
		return nil, ErrPoolPaused
	}

	now := e.now()
	if Expired(pool.StartTime, now) {
		return nil, ErrPoolExpired
	}
	if now <= pool.StartTime {
		return nil, ErrPoolNotStarted
	}
	epoch := CurrentEpoch(pool.StartTime, now)
	if epoch >= 1 && uint64(pool.SnapshotCount) < epoch {
		return nil, ErrSnapshotRequired
	}

	if amount == nil || amount.Sign() <= 0 || !amount.IsUint64() {
		return nil, ErrInvalidAmount
	}
	leaf := LeafHash(recipient, amount.Uint64())
	if !VerifyProof(pool.CommitmentRoot, leaf, proof) {
		return nil, ErrInvalidProof
	}

	claimed, err := e.state.ClaimMarkerExists(poolID, recipient)
	if err != nil {
		return nil, err
	}
	if claimed {
		return nil, ErrAlreadyClaimed
	}

	newClaimed := new(big.Int).Add(pool.TotalClaimed, amount)
	if newClaimed.Cmp(AirdropBudget()) > 0 {
		return nil, ErrAirdropExhausted
	}

	// Distributed custody pays out at claim time. The claim marker is
	// permanent once written, so the vault balance must be checked before
	// any record write; a failed transfer after the marker would strand the
	// recipient with no payout and no way to re-claim.
	vault := e.state.VaultAddress(poolID)
	if pool.CustodyMode == CustodyDistributed {
		balance, err := e.state.BalanceOf(vault)
		if err != nil {
			return nil, err
		}
		if balance.Cmp(amount) < 0 {
			return nil, ErrInsufficientFunds
		}
	}

	// All guards passed; mutate records, transfer last.
	if err := e.state.ClaimMarkerCreate(poolID, recipient); err != nil {
		return nil, err
	}
	stake := &Stake{Owner: recipient, Amount: new(big.Int).Set(amount), ClaimEpoch: epoch}
	if err := e.state.StakePut(poolID, stake); err != nil {
		return nil, err
	}
	pool.TotalClaimed = newClaimed
	pool.TotalStaked = new(big.Int).Add(pool.TotalStaked, amount)
	if err := e.state.PoolPut(pool); err != nil {
		return nil, err
	}

	if pool.CustodyMode == CustodyDistributed {
		if err := e.state.Transfer(vault, recipient, amount); err != nil {
			return nil, err
		}
	}

	e.emit(NewClaimedEvent(pool, recipient, amount, epoch))
	return stake.Clone(), nil
}

// Snapshot records the pool's current participation total for every epoch
// that has fully elapsed but has no snapshot yet. Anyone may call it. Missed
// epochs are caught up lazily with the total observed now, never a historical
// reconstruction; already-recorded slots are never overwritten. Calling with
// nothing to record is a no-op and reports zero slots written.
func (e *Engine) Snapshot(poolID [32]byte) (int, error) {
	pool, err := e.loadPool(poolID)
	if err != nil {
		return 0, err
	}
	switch pool.Status {
	case PoolTerminated:
		return 0, ErrPoolTerminated
	case PoolPaused:
		return 0, ErrPoolPaused
	}

	epoch := CurrentEpoch(pool.StartTime, e.now())
	if epoch < 1 || epoch > TotalDays {
		return 0, ErrInvalidEpoch
	}

	written := 0
	for d := uint64(pool.SnapshotCount); d < epoch; d++ {
		if pool.DailySnapshots[d].Recorded {
			continue
		}
		pool.DailySnapshots[d] = DailySnapshot{
			Total:    new(big.Int).Set(pool.TotalStaked),
			Recorded: true,
		}
		written++
	}
	advanced := false
	if epoch > uint64(pool.SnapshotCount) {
		pool.SnapshotCount = uint8(epoch)
		advanced = true
	}
	if written == 0 && !advanced {
		return 0, nil
	}
	if err := e.state.PoolPut(pool); err != nil {
		return 0, err
	}
	if written > 0 {
		e.emit(NewSnapshotEvent(pool, epoch, written))
	}
	return written, nil
}

// Unstake is a permanent exit: it pays out the participant and destroys
// their registry entry. A paused pool never blocks exits. After the exit
// deadline rewards are forced to zero but the exit itself always succeeds;
// custodied principal stays protected.
func (e *Engine) Unstake(poolID [32]byte, owner [20]byte) (principal, rewards *big.Int, err error) {
	pool, err := e.loadPool(poolID)
	if err != nil {
		return nil, nil, err
	}
	stake, ok := e.state.StakeGet(poolID, owner)
	if !ok {
		return nil, nil, ErrStakeNotFound
	}
	if stake.Amount == nil || stake.Amount.Sign() <= 0 {
		return nil, nil, ErrNothingStaked
	}

	now := e.now()
	expired := Expired(pool.StartTime, now)
	epoch := CurrentEpoch(pool.StartTime, now)
	if !expired && epoch >= 1 && uint64(pool.SnapshotCount) < epoch {
		return nil, nil, ErrSnapshotRequired
	}

	rewards = big.NewInt(0)
	if !expired {
		rewards = Accrue(stake.Amount, stake.ClaimEpoch, pool.SnapshotCount, pool.DailyRewards, pool.DailySnapshots)
	}
	principal = big.NewInt(0)
	if pool.CustodyMode == CustodyStaked {
		principal = new(big.Int).Set(stake.Amount)
	}
	payout := new(big.Int).Add(principal, rewards)

	vault := e.state.VaultAddress(poolID)
	if payout.Sign() > 0 {
		balance, err := e.state.BalanceOf(vault)
		if err != nil {
			return nil, nil, err
		}
		if balance.Cmp(payout) < 0 {
			return nil, nil, ErrInsufficientFunds
		}
	}

	if err := e.state.StakeDelete(poolID, owner); err != nil {
		return nil, nil, err
	}
	pool.TotalStaked = new(big.Int).Sub(pool.TotalStaked, stake.Amount)
	if err := e.state.PoolPut(pool); err != nil {
		return nil, nil, err
	}
	if payout.Sign() > 0 {
		if err := e.state.Transfer(vault, owner, payout); err != nil {
			return nil, nil, err
		}
	}

	e.emit(NewUnstakedEvent(pool, owner, principal, rewards))
	return principal, rewards, nil
}

// PreviewReward estimates the reward a participant would earn for one epoch
// without committing anything. See PreviewEpochReward for the estimation
// rules on not-yet-snapshotted epochs.
func (e *Engine) PreviewReward(poolID [32]byte, owner [20]byte, epoch uint64) (*big.Int, error) {
	pool, err := e.loadPool(poolID)
	if err != nil {
		return nil, err
	}
	stake, ok := e.state.StakeGet(poolID, owner)
	if !ok {
		return nil, ErrStakeNotFound
	}
	return PreviewEpochReward(pool, stake, epoch)
}

// PreviewAccrued returns the reward total a participant would receive if they
// exited now. Identical arithmetic to the unstake path.
func (e *Engine) PreviewAccrued(poolID [32]byte, owner [20]byte) (*big.Int, error) {
	pool, err := e.loadPool(poolID)
	if err != nil {
		return nil, err
	}
	stake, ok := e.state.StakeGet(poolID, owner)
	if !ok {
		return nil, ErrStakeNotFound
	}
	if Expired(pool.StartTime, e.now()) {
		return big.NewInt(0), nil
	}
	return Accrue(stake.Amount, stake.ClaimEpoch, pool.SnapshotCount, pool.DailyRewards, pool.DailySnapshots), nil
}

// Pause blocks claims and snapshots. Exits keep working so participants can
// always reach their funds.
func (e *Engine) Pause(poolID [32]byte, caller [20]byte) error {
	pool, err := e.loadPool(poolID)
	if err != nil {
		return err
	}
	if caller != pool.Admin {
		return ErrUnauthorized
	}
	switch pool.Status {
	case PoolTerminated:
		return ErrPoolTerminated
	case PoolPaused:
		return ErrAlreadyPaused
	}
	pool.Status = PoolPaused
	if err := e.state.PoolPut(pool); err != nil {
		return err
	}
	e.emit(NewPoolPausedEvent(pool))
	return nil
}

// Unpause resumes normal operation.
func (e *Engine) Unpause(poolID [32]byte, caller [20]byte) error {
	pool, err := e.loadPool(poolID)
	if err != nil {
		return err
	}
	if caller != pool.Admin {
		return ErrUnauthorized
	}
	switch pool.Status {
	case PoolTerminated:
		return ErrPoolTerminated
	case PoolActive:
		return ErrPoolNotPaused
	}
	pool.Status = PoolActive
	if err := e.state.PoolPut(pool); err != nil {
		return err
	}
	e.emit(NewPoolUnpausedEvent(pool))
	return nil
}

// Terminate is the one-way admin shutdown. It requires full snapshot coverage
// and sweeps only the surplus beyond what every outstanding claim could ever
// be owed: custodied principal plus the full reward budget. The reservation is
// deliberately conservative so termination can never render the pool unable
// to pay out.
func (e *Engine) Terminate(poolID [32]byte, caller [20]byte) (*big.Int, error) {
	pool, err := e.loadPool(poolID)
	if err != nil {
		return nil, err
	}
	if caller != pool.Admin {
		return nil, ErrUnauthorized
	}
	if pool.Status == PoolTerminated {
		return nil, ErrAlreadyTerminated
	}
	if pool.SnapshotCount < TotalDays {
		return nil, ErrSnapshotsIncomplete
	}

	vault := e.state.VaultAddress(poolID)
	balance, err := e.state.BalanceOf(vault)
	if err != nil {
		return nil, err
	}
	reserved := StakingBudget()
	if pool.CustodyMode == CustodyStaked {
		reserved.Add(reserved, pool.TotalStaked)
	}
	drained := new(big.Int).Sub(balance, reserved)
	if drained.Sign() < 0 {
		drained = big.NewInt(0)
	}

	pool.Status = PoolTerminated
	if err := e.state.PoolPut(pool); err != nil {
		return nil, err
	}
	if drained.Sign() > 0 {
		if err := e.state.Transfer(vault, pool.Admin, drained); err != nil {
			return nil, err
		}
	}

	e.emit(NewPoolTerminatedEvent(pool, drained))
	return drained, nil
}

// Recover sweeps unclaimed funds back to the admin once the exit window has
// closed. Under CustodyStaked the outstanding principal is protected and
// participants can still exit afterwards; under CustodyDistributed the stake
// is virtual and the whole remaining balance is recoverable.
func (e *Engine) Recover(poolID [32]byte, caller [20]byte) (*big.Int, error) {
	pool, err := e.loadPool(poolID)
	if err != nil {
		return nil, err
	}
	if caller != pool.Admin {
		return nil, ErrUnauthorized
	}
	if !Expired(pool.StartTime, e.now()) {
		return nil, ErrNotExpired
	}

	vault := e.state.VaultAddress(poolID)
	balance, err := e.state.BalanceOf(vault)
	if err != nil {
		return nil, err
	}
	amount := new(big.Int).Set(balance)
	if pool.CustodyMode == CustodyStaked {
		amount.Sub(amount, pool.TotalStaked)
	}
	if amount.Sign() <= 0 {
		return nil, ErrNothingToRecover
	}
	if err := e.state.Transfer(vault, pool.Admin, amount); err != nil {
		return nil, err
	}

	e.emit(NewRecoveredEvent(pool, amount))
	return amount, nil
}

// Close reclaims the pool's storage once it is terminated and every
// participant has exited. Any residual vault balance is returned to the admin
// before the record is deleted.
func (e *Engine) Close(poolID [32]byte, caller [20]byte) error {
	pool, err := e.loadPool(poolID)
	if err != nil {
		return err
	}
	if caller != pool.Admin {
		return ErrUnauthorized
	}
	if pool.Status != PoolTerminated {
		return ErrPoolNotTerminated
	}
	if pool.TotalStaked.Sign() != 0 {
		return ErrPoolNotEmpty
	}

	vault := e.state.VaultAddress(poolID)
	balance, err := e.state.BalanceOf(vault)
	if err != nil {
		return err
	}
	if err := e.state.PoolDelete(poolID); err != nil {
		return err
	}
	if balance.Sign() > 0 {
		if err := e.state.Transfer(vault, pool.Admin, balance); err != nil {
			return err
		}
	}

	e.emit(NewPoolClosedEvent(pool))
	return nil
}
