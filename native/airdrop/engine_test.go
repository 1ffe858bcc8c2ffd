package airdrop

import (
	"errors"
	"fmt"
	"math/big"
	"testing"

	"stakedrop/core/events"
)

type mockState struct {
	pools    map[[32]byte]*Pool
	stakes   map[[32]byte]map[[20]byte]*Stake
	markers  map[string]bool
	balances map[[20]byte]*big.Int
}

func newMockState() *mockState {
	return &mockState{
		pools:    make(map[[32]byte]*Pool),
		stakes:   make(map[[32]byte]map[[20]byte]*Stake),
		markers:  make(map[string]bool),
		balances: make(map[[20]byte]*big.Int),
	}
}

func markerKey(poolID [32]byte, recipient [20]byte) string {
	return string(poolID[:]) + string(recipient[:])
}

func (m *mockState) PoolPut(p *Pool) error {
	sanitized, err := SanitizePool(p)
	if err != nil {
		return err
	}
	m.pools[sanitized.ID] = sanitized.Clone()
	return nil
}

func (m *mockState) PoolGet(id [32]byte) (*Pool, bool) {
	pool, ok := m.pools[id]
	if !ok {
		return nil, false
	}
	return pool.Clone(), true
}

func (m *mockState) PoolDelete(id [32]byte) error {
	delete(m.pools, id)
	return nil
}

func (m *mockState) StakePut(poolID [32]byte, stake *Stake) error {
	if stake == nil {
		return fmt.Errorf("nil stake")
	}
	if m.stakes[poolID] == nil {
		m.stakes[poolID] = make(map[[20]byte]*Stake)
	}
	m.stakes[poolID][stake.Owner] = stake.Clone()
	return nil
}

func (m *mockState) StakeGet(poolID [32]byte, owner [20]byte) (*Stake, bool) {
	stake, ok := m.stakes[poolID][owner]
	if !ok {
		return nil, false
	}
	return stake.Clone(), true
}

func (m *mockState) StakeDelete(poolID [32]byte, owner [20]byte) error {
	delete(m.stakes[poolID], owner)
	return nil
}

func (m *mockState) ClaimMarkerCreate(poolID [32]byte, recipient [20]byte) error {
	key := markerKey(poolID, recipient)
	if m.markers[key] {
		return ErrAlreadyClaimed
	}
	m.markers[key] = true
	return nil
}

func (m *mockState) ClaimMarkerExists(poolID [32]byte, recipient [20]byte) (bool, error) {
	return m.markers[markerKey(poolID, recipient)], nil
}

func (m *mockState) VaultAddress(poolID [32]byte) [20]byte {
	var addr [20]byte
	addr[0] = 0xFA
	copy(addr[1:], poolID[:19])
	return addr
}

func (m *mockState) BalanceOf(addr [20]byte) (*big.Int, error) {
	balance, ok := m.balances[addr]
	if !ok {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(balance), nil
}

func (m *mockState) Transfer(from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("invalid amount")
	}
	if amount.Sign() == 0 {
		return nil
	}
	fromBal, _ := m.BalanceOf(from)
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient balance")
	}
	toBal, _ := m.BalanceOf(to)
	m.balances[from] = fromBal.Sub(fromBal, amount)
	m.balances[to] = toBal.Add(toBal, amount)
	return nil
}

func (m *mockState) setBalance(addr [20]byte, amount *big.Int) {
	m.balances[addr] = new(big.Int).Set(amount)
}

type memoryEmitter struct {
	types []string
}

func (m *memoryEmitter) Emit(evt events.Event) {
	m.types = append(m.types, evt.EventType())
}

type testEnv struct {
	t       *testing.T
	engine  *Engine
	state   *mockState
	emitter *memoryEmitter
	now     int64
	start   int64
	admin   [20]byte
	tree    *Tree
	poolID  [32]byte
	vault   [20]byte
}

var (
	alice = testRecipient(0x01)
	bob   = testRecipient(0x02)
)

const (
	aliceAmount = uint64(100)
	bobAmount   = uint64(200)
)

func newTestEnv(t *testing.T, mode CustodyMode) *testEnv {
	t.Helper()
	env := &testEnv{
		t:       t,
		state:   newMockState(),
		emitter: &memoryEmitter{},
		start:   1_700_000_000,
		admin:   testRecipient(0xAD),
	}
	env.now = env.start - 100

	tree, err := NewTree([]LeafEntry{
		{Recipient: alice, Amount: aliceAmount},
		{Recipient: bob, Amount: bobAmount},
	})
	if err != nil {
		t.Fatalf("NewTree: %v", err)
	}
	env.tree = tree

	env.engine = NewEngine()
	env.engine.SetState(env.state)
	env.engine.SetEmitter(env.emitter)
	env.engine.SetNowFunc(func() int64 { return env.now })

	pool, err := env.engine.Initialize(env.admin, tree.Root(), env.start, mode, uniformRewards(t))
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	env.poolID = pool.ID
	env.vault = env.state.VaultAddress(pool.ID)

	// Fund the vault with the full reward budget plus enough headroom to
	// cover distributed payouts and custodied principal.
	funding := new(big.Int).Add(StakingBudget(), AirdropBudget())
	env.state.setBalance(env.vault, funding)
	return env
}

// enterEpoch moves the clock a few seconds into the given epoch.
func (env *testEnv) enterEpoch(epoch uint64) {
	env.now = env.start + int64(epoch)*SecondsPerDay + 5
}

func (env *testEnv) proofFor(recipient [20]byte, amount uint64) [][32]byte {
	env.t.Helper()
	proof, err := env.tree.Proof(recipient, amount)
	if err != nil {
		env.t.Fatalf("Proof: %v", err)
	}
	return proof
}

func (env *testEnv) mustClaim(recipient [20]byte, amount uint64) *Stake {
	env.t.Helper()
	stake, err := env.engine.Claim(env.poolID, recipient, new(big.Int).SetUint64(amount), env.proofFor(recipient, amount))
	if err != nil {
		env.t.Fatalf("Claim: %v", err)
	}
	return stake
}

func (env *testEnv) mustSnapshot() int {
	env.t.Helper()
	written, err := env.engine.Snapshot(env.poolID)
	if err != nil {
		env.t.Fatalf("Snapshot: %v", err)
	}
	return written
}

func (env *testEnv) pool() *Pool {
	env.t.Helper()
	pool, err := env.engine.Pool(env.poolID)
	if err != nil {
		env.t.Fatalf("Pool: %v", err)
	}
	return pool
}

func perDayReward(t *testing.T) *big.Int {
	t.Helper()
	return new(big.Int).Div(StakingBudget(), big.NewInt(TotalDays))
}

func TestInitializeValidation(t *testing.T) {
	env := newTestEnv(t, CustodyStaked)
	rewards := uniformRewards(t)

	if _, err := env.engine.Initialize(env.admin, env.tree.Root(), env.now-1, CustodyStaked, rewards); !errors.Is(err, ErrStartTimeInPast) {
		t.Fatalf("past start: got %v", err)
	}
	if _, err := env.engine.Initialize(env.admin, env.tree.Root(), env.start+1000, CustodyMode(9), rewards); !errors.Is(err, ErrInvalidCustodyMode) {
		t.Fatalf("bad custody: got %v", err)
	}
	if _, err := env.engine.Initialize(env.admin, env.tree.Root(), env.start+1000, CustodyStaked, rewards[:TotalDays-1]); !errors.Is(err, ErrInvalidDailyRewards) {
		t.Fatalf("short schedule: got %v", err)
	}

	short := uniformRewards(t)
	short[0] = new(big.Int).Sub(short[0], big.NewInt(1))
	if _, err := env.engine.Initialize(env.admin, env.tree.Root(), env.start+1000, CustodyStaked, short); !errors.Is(err, ErrInvalidDailyRewards) {
		t.Fatalf("budget minus one: got %v", err)
	}
	over := uniformRewards(t)
	over[0] = new(big.Int).Add(over[0], big.NewInt(1))
	if _, err := env.engine.Initialize(env.admin, env.tree.Root(), env.start+1000, CustodyStaked, over); !errors.Is(err, ErrInvalidDailyRewards) {
		t.Fatalf("budget plus one: got %v", err)
	}

	// Same identity triple collides with the pool created by the fixture.
	if _, err := env.engine.Initialize(env.admin, env.tree.Root(), env.start, CustodyStaked, rewards); !errors.Is(err, ErrPoolExists) {
		t.Fatalf("duplicate pool: got %v", err)
	}
}

func TestClaimDayZero(t *testing.T) {
	env := newTestEnv(t, CustodyStaked)

	// Before start.
	if _, err := env.engine.Claim(env.poolID, alice, big.NewInt(int64(aliceAmount)), env.proofFor(alice, aliceAmount)); !errors.Is(err, ErrPoolNotStarted) {
		t.Fatalf("before start: got %v", err)
	}

	env.enterEpoch(0)
	stake := env.mustClaim(alice, aliceAmount)
	if stake.ClaimEpoch != 0 {
		t.Fatalf("claim epoch: got %d want 0", stake.ClaimEpoch)
	}
	if stake.Amount.Uint64() != aliceAmount {
		t.Fatalf("stake amount: got %s", stake.Amount)
	}

	pool := env.pool()
	if pool.TotalStaked.Uint64() != aliceAmount || pool.TotalClaimed.Uint64() != aliceAmount {
		t.Fatalf("pool totals: staked=%s claimed=%s", pool.TotalStaked, pool.TotalClaimed)
	}

	// The claim marker is permanent.
	if _, err := env.engine.Claim(env.poolID, alice, big.NewInt(int64(aliceAmount)), env.proofFor(alice, aliceAmount)); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("second claim: got %v", err)
	}

	// Proof for one entry never covers another.
	if _, err := env.engine.Claim(env.poolID, bob, big.NewInt(int64(bobAmount)), env.proofFor(alice, aliceAmount)); !errors.Is(err, ErrInvalidProof) {
		t.Fatalf("mismatched proof: got %v", err)
	}
	if _, err := env.engine.Claim(env.poolID, bob, big.NewInt(int64(bobAmount+1)), env.proofFor(bob, bobAmount)); !errors.Is(err, ErrInvalidProof) {
		t.Fatalf("wrong amount: got %v", err)
	}
}

func TestClaimDistributedPaysImmediately(t *testing.T) {
	env := newTestEnv(t, CustodyDistributed)
	env.enterEpoch(0)
	env.mustClaim(alice, aliceAmount)

	balance, err := env.state.BalanceOf(alice)
	if err != nil {
		t.Fatalf("BalanceOf: %v", err)
	}
	if balance.Uint64() != aliceAmount {
		t.Fatalf("recipient balance: got %s want %d", balance, aliceAmount)
	}

	// The stake stays on record for reward accrual even though funds moved.
	stake, err := env.engine.Stake(env.poolID, alice)
	if err != nil {
		t.Fatalf("Stake: %v", err)
	}
	if stake.Amount.Uint64() != aliceAmount {
		t.Fatalf("virtual stake amount: got %s", stake.Amount)
	}
}

func TestClaimDistributedUnderfundedVaultLeavesNoTrace(t *testing.T) {
	env := newTestEnv(t, CustodyDistributed)
	env.enterEpoch(0)
	env.state.setBalance(env.vault, big.NewInt(int64(aliceAmount-1)))

	_, err := env.engine.Claim(env.poolID, alice, big.NewInt(int64(aliceAmount)), env.proofFor(alice, aliceAmount))
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("underfunded claim: got %v", err)
	}

	// The rejected claim must not have committed anything: no marker, no
	// stake, untouched totals. A leftover marker would be permanent and
	// block the recipient forever.
	claimed, err := env.state.ClaimMarkerExists(env.poolID, alice)
	if err != nil {
		t.Fatalf("ClaimMarkerExists: %v", err)
	}
	if claimed {
		t.Fatalf("rejected claim left a marker")
	}
	if _, err := env.engine.Stake(env.poolID, alice); !errors.Is(err, ErrStakeNotFound) {
		t.Fatalf("rejected claim left a stake: %v", err)
	}
	pool := env.pool()
	if pool.TotalClaimed.Sign() != 0 || pool.TotalStaked.Sign() != 0 {
		t.Fatalf("rejected claim mutated totals: claimed=%s staked=%s", pool.TotalClaimed, pool.TotalStaked)
	}

	// Once the vault is funded the same recipient can claim normally.
	env.state.setBalance(env.vault, big.NewInt(int64(aliceAmount)))
	stake := env.mustClaim(alice, aliceAmount)
	if stake.Amount.Uint64() != aliceAmount {
		t.Fatalf("stake amount after refund: got %s", stake.Amount)
	}
}

func TestUnstakeDistributedPaysRewardsOnly(t *testing.T) {
	env := newTestEnv(t, CustodyDistributed)
	env.enterEpoch(0)
	env.mustClaim(alice, aliceAmount)

	env.enterEpoch(1)
	env.mustSnapshot()

	vaultBefore, err := env.state.BalanceOf(env.vault)
	if err != nil {
		t.Fatalf("BalanceOf: %v", err)
	}
	ownerBefore, err := env.state.BalanceOf(alice)
	if err != nil {
		t.Fatalf("BalanceOf: %v", err)
	}

	principal, rewards, err := env.engine.Unstake(env.poolID, alice)
	if err != nil {
		t.Fatalf("Unstake: %v", err)
	}
	// The allowance was already paid at claim time; the exit settles the
	// virtual stake and pays rewards only.
	if principal.Sign() != 0 {
		t.Fatalf("distributed principal: got %s want 0", principal)
	}
	if rewards.Cmp(perDayReward(t)) != 0 {
		t.Fatalf("rewards: got %s want %s", rewards, perDayReward(t))
	}

	vaultAfter, err := env.state.BalanceOf(env.vault)
	if err != nil {
		t.Fatalf("BalanceOf: %v", err)
	}
	if new(big.Int).Sub(vaultBefore, vaultAfter).Cmp(rewards) != 0 {
		t.Fatalf("vault debit: got %s want %s", new(big.Int).Sub(vaultBefore, vaultAfter), rewards)
	}
	ownerAfter, err := env.state.BalanceOf(alice)
	if err != nil {
		t.Fatalf("BalanceOf: %v", err)
	}
	if new(big.Int).Sub(ownerAfter, ownerBefore).Cmp(rewards) != 0 {
		t.Fatalf("owner credit: got %s want %s", new(big.Int).Sub(ownerAfter, ownerBefore), rewards)
	}

	if env.pool().TotalStaked.Sign() != 0 {
		t.Fatalf("virtual stake not released: %s", env.pool().TotalStaked)
	}
}

func TestClaimRequiresCurrentSnapshot(t *testing.T) {
	env := newTestEnv(t, CustodyStaked)
	env.enterEpoch(1)

	if _, err := env.engine.Claim(env.poolID, alice, big.NewInt(int64(aliceAmount)), env.proofFor(alice, aliceAmount)); !errors.Is(err, ErrSnapshotRequired) {
		t.Fatalf("stale snapshots: got %v", err)
	}

	env.mustSnapshot()
	stake := env.mustClaim(alice, aliceAmount)
	if stake.ClaimEpoch != 1 {
		t.Fatalf("claim epoch: got %d want 1", stake.ClaimEpoch)
	}
}

func TestClaimBudgetExhausted(t *testing.T) {
	env := newTestEnv(t, CustodyStaked)

	// Separate pool whose committed allowances overrun the claim budget.
	whale := testRecipient(0x0A)
	minnow := testRecipient(0x0B)
	tree, err := NewTree([]LeafEntry{
		{Recipient: whale, Amount: AirdropBudget().Uint64()},
		{Recipient: minnow, Amount: 1},
	})
	if err != nil {
		t.Fatalf("NewTree: %v", err)
	}
	pool, err := env.engine.Initialize(env.admin, tree.Root(), env.start, CustodyStaked, uniformRewards(t))
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	env.enterEpoch(0)

	whaleProof, err := tree.Proof(whale, AirdropBudget().Uint64())
	if err != nil {
		t.Fatalf("Proof: %v", err)
	}
	if _, err := env.engine.Claim(pool.ID, whale, AirdropBudget(), whaleProof); err != nil {
		t.Fatalf("whale claim: %v", err)
	}

	minnowProof, err := tree.Proof(minnow, 1)
	if err != nil {
		t.Fatalf("Proof: %v", err)
	}
	if _, err := env.engine.Claim(pool.ID, minnow, big.NewInt(1), minnowProof); !errors.Is(err, ErrAirdropExhausted) {
		t.Fatalf("over budget: got %v", err)
	}

	// The failed claim must leave no trace.
	if _, err := env.engine.Stake(pool.ID, minnow); !errors.Is(err, ErrStakeNotFound) {
		t.Fatalf("rejected claim left a stake: %v", err)
	}
	claimed, err := env.state.ClaimMarkerExists(pool.ID, minnow)
	if err != nil {
		t.Fatalf("ClaimMarkerExists: %v", err)
	}
	if claimed {
		t.Fatalf("rejected claim left a marker")
	}
}

func TestSnapshotLazyCatchUp(t *testing.T) {
	env := newTestEnv(t, CustodyStaked)
	env.enterEpoch(0)
	env.mustClaim(alice, aliceAmount)

	// Nothing to record inside epoch 0.
	if written, err := env.engine.Snapshot(env.poolID); !errors.Is(err, ErrInvalidEpoch) || written != 0 {
		t.Fatalf("epoch zero snapshot: written=%d err=%v", written, err)
	}

	// Three epochs elapse unattended; one call backfills all of them with
	// the participation total observed now.
	env.enterEpoch(3)
	if written := env.mustSnapshot(); written != 3 {
		t.Fatalf("catch-up: wrote %d slots, want 3", written)
	}
	pool := env.pool()
	if pool.SnapshotCount != 3 {
		t.Fatalf("snapshot count: got %d want 3", pool.SnapshotCount)
	}
	for d := 0; d < 3; d++ {
		snap := pool.DailySnapshots[d]
		if !snap.Recorded || snap.Total.Uint64() != aliceAmount {
			t.Fatalf("slot %d: recorded=%v total=%s", d, snap.Recorded, snap.Total)
		}
	}

	// Idempotent: a second call in the same epoch writes nothing.
	if written := env.mustSnapshot(); written != 0 {
		t.Fatalf("repeat snapshot wrote %d slots", written)
	}

	// Later participation changes never rewrite recorded slots.
	env.mustClaim(bob, bobAmount)
	env.enterEpoch(4)
	if written := env.mustSnapshot(); written != 1 {
		t.Fatalf("incremental snapshot wrote %d slots", written)
	}
	pool = env.pool()
	if pool.DailySnapshots[0].Total.Uint64() != aliceAmount {
		t.Fatalf("recorded slot was overwritten: %s", pool.DailySnapshots[0].Total)
	}
	if pool.DailySnapshots[3].Total.Uint64() != aliceAmount+bobAmount {
		t.Fatalf("new slot total: got %s", pool.DailySnapshots[3].Total)
	}
}

func TestUnstakeSoleStaker(t *testing.T) {
	env := newTestEnv(t, CustodyStaked)
	env.enterEpoch(0)
	env.mustClaim(alice, aliceAmount)

	env.enterEpoch(1)
	env.mustSnapshot()

	principal, rewards, err := env.engine.Unstake(env.poolID, alice)
	if err != nil {
		t.Fatalf("Unstake: %v", err)
	}
	if principal.Uint64() != aliceAmount {
		t.Fatalf("principal: got %s want %d", principal, aliceAmount)
	}
	// Sole staker for one snapshotted epoch collects that epoch's budget.
	if rewards.Cmp(perDayReward(t)) != 0 {
		t.Fatalf("rewards: got %s want %s", rewards, perDayReward(t))
	}

	balance, err := env.state.BalanceOf(alice)
	if err != nil {
		t.Fatalf("BalanceOf: %v", err)
	}
	want := new(big.Int).Add(principal, rewards)
	if balance.Cmp(want) != 0 {
		t.Fatalf("payout balance: got %s want %s", balance, want)
	}

	if _, _, err := env.engine.Unstake(env.poolID, alice); !errors.Is(err, ErrStakeNotFound) {
		t.Fatalf("second unstake: got %v", err)
	}
	if env.pool().TotalStaked.Sign() != 0 {
		t.Fatalf("pool still counts exited stake: %s", env.pool().TotalStaked)
	}
}

func TestUnstakeProportionalShares(t *testing.T) {
	env := newTestEnv(t, CustodyStaked)
	env.enterEpoch(0)
	env.mustClaim(alice, aliceAmount)
	env.mustClaim(bob, bobAmount)

	env.enterEpoch(2)
	env.mustSnapshot()

	total := big.NewInt(int64(aliceAmount + bobAmount))
	perDay := perDayReward(t)
	wantAlice := new(big.Int).Mul(big.NewInt(int64(aliceAmount)), perDay)
	wantAlice.Quo(wantAlice, total).Mul(wantAlice, big.NewInt(2))
	wantBob := new(big.Int).Mul(big.NewInt(int64(bobAmount)), perDay)
	wantBob.Quo(wantBob, total).Mul(wantBob, big.NewInt(2))

	_, aliceRewards, err := env.engine.Unstake(env.poolID, alice)
	if err != nil {
		t.Fatalf("alice unstake: %v", err)
	}
	if aliceRewards.Cmp(wantAlice) != 0 {
		t.Fatalf("alice rewards: got %s want %s", aliceRewards, wantAlice)
	}

	_, bobRewards, err := env.engine.Unstake(env.poolID, bob)
	if err != nil {
		t.Fatalf("bob unstake: %v", err)
	}
	if bobRewards.Cmp(wantBob) != 0 {
		t.Fatalf("bob rewards: got %s want %s", bobRewards, wantBob)
	}

	// Truncation keeps the joint payout within the two epochs' budget.
	sum := new(big.Int).Add(aliceRewards, bobRewards)
	budget := new(big.Int).Mul(perDay, big.NewInt(2))
	if sum.Cmp(budget) > 0 {
		t.Fatalf("joint rewards %s exceed budget %s", sum, budget)
	}
}

func TestUnstakeRequiresCurrentSnapshot(t *testing.T) {
	env := newTestEnv(t, CustodyStaked)
	env.enterEpoch(0)
	env.mustClaim(alice, aliceAmount)

	env.enterEpoch(2)
	if _, _, err := env.engine.Unstake(env.poolID, alice); !errors.Is(err, ErrSnapshotRequired) {
		t.Fatalf("stale snapshots: got %v", err)
	}
}

func TestUnstakeAfterDeadlineForfeitsRewards(t *testing.T) {
	env := newTestEnv(t, CustodyStaked)
	env.enterEpoch(0)
	env.mustClaim(alice, aliceAmount)

	// Way past the exit window, with no snapshots ever taken. The exit
	// still succeeds: the snapshot guard is waived and rewards are zero.
	env.now = ExitDeadline(env.start) + 1
	principal, rewards, err := env.engine.Unstake(env.poolID, alice)
	if err != nil {
		t.Fatalf("Unstake: %v", err)
	}
	if principal.Uint64() != aliceAmount {
		t.Fatalf("principal: got %s", principal)
	}
	if rewards.Sign() != 0 {
		t.Fatalf("expired exit paid rewards: %s", rewards)
	}
}

func TestPauseBlocksClaimsNotExits(t *testing.T) {
	env := newTestEnv(t, CustodyStaked)
	env.enterEpoch(0)
	env.mustClaim(alice, aliceAmount)

	if err := env.engine.Pause(env.poolID, bob); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("non-admin pause: got %v", err)
	}
	if err := env.engine.Pause(env.poolID, env.admin); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := env.engine.Pause(env.poolID, env.admin); !errors.Is(err, ErrAlreadyPaused) {
		t.Fatalf("double pause: got %v", err)
	}

	if _, err := env.engine.Claim(env.poolID, bob, big.NewInt(int64(bobAmount)), env.proofFor(bob, bobAmount)); !errors.Is(err, ErrPoolPaused) {
		t.Fatalf("paused claim: got %v", err)
	}
	if _, err := env.engine.Snapshot(env.poolID); !errors.Is(err, ErrPoolPaused) {
		t.Fatalf("paused snapshot: got %v", err)
	}

	// Exits always work.
	if _, _, err := env.engine.Unstake(env.poolID, alice); err != nil {
		t.Fatalf("paused unstake: %v", err)
	}

	if err := env.engine.Unpause(env.poolID, env.admin); err != nil {
		t.Fatalf("Unpause: %v", err)
	}
	if err := env.engine.Unpause(env.poolID, env.admin); !errors.Is(err, ErrPoolNotPaused) {
		t.Fatalf("double unpause: got %v", err)
	}
}

func TestTerminateReservesObligations(t *testing.T) {
	env := newTestEnv(t, CustodyStaked)
	env.enterEpoch(0)
	env.mustClaim(alice, aliceAmount)

	// Full run: one catch-up snapshot covers all epochs.
	env.enterEpoch(TotalDays)
	if written := env.mustSnapshot(); written != TotalDays {
		t.Fatalf("full catch-up wrote %d slots", written)
	}

	// Seed a known surplus above the reservation.
	surplus := big.NewInt(777)
	funding := new(big.Int).Add(StakingBudget(), big.NewInt(int64(aliceAmount)))
	funding.Add(funding, surplus)
	env.state.setBalance(env.vault, funding)

	drained, err := env.engine.Terminate(env.poolID, env.admin)
	if err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if drained.Cmp(surplus) != 0 {
		t.Fatalf("drained: got %s want %s", drained, surplus)
	}
	if env.pool().Status != PoolTerminated {
		t.Fatalf("status: got %s", env.pool().Status)
	}

	if _, err := env.engine.Terminate(env.poolID, env.admin); !errors.Is(err, ErrAlreadyTerminated) {
		t.Fatalf("double terminate: got %v", err)
	}
	if _, err := env.engine.Claim(env.poolID, bob, big.NewInt(int64(bobAmount)), env.proofFor(bob, bobAmount)); !errors.Is(err, ErrPoolTerminated) {
		t.Fatalf("terminated claim: got %v", err)
	}

	// The reservation keeps the vault able to settle the remaining stake.
	principal, rewards, err := env.engine.Unstake(env.poolID, alice)
	if err != nil {
		t.Fatalf("post-terminate unstake: %v", err)
	}
	if principal.Uint64() != aliceAmount {
		t.Fatalf("principal: got %s", principal)
	}
	// Sole staker across every epoch collects the whole reward budget.
	if rewards.Cmp(StakingBudget()) != 0 {
		t.Fatalf("rewards: got %s want %s", rewards, StakingBudget())
	}
}

func TestTerminateRequiresFullSnapshots(t *testing.T) {
	env := newTestEnv(t, CustodyStaked)
	env.enterEpoch(5)
	env.mustSnapshot()

	if _, err := env.engine.Terminate(env.poolID, env.admin); !errors.Is(err, ErrSnapshotsIncomplete) {
		t.Fatalf("partial snapshots: got %v", err)
	}
	if _, err := env.engine.Terminate(env.poolID, bob); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("non-admin terminate: got %v", err)
	}
}

func TestRecoverAfterExpiry(t *testing.T) {
	env := newTestEnv(t, CustodyStaked)
	env.enterEpoch(0)
	env.mustClaim(alice, aliceAmount)

	if _, err := env.engine.Recover(env.poolID, env.admin); !errors.Is(err, ErrNotExpired) {
		t.Fatalf("early recover: got %v", err)
	}

	env.now = ExitDeadline(env.start) + 1
	if _, err := env.engine.Recover(env.poolID, bob); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("non-admin recover: got %v", err)
	}

	balance, err := env.state.BalanceOf(env.vault)
	if err != nil {
		t.Fatalf("BalanceOf: %v", err)
	}
	wantRecovered := new(big.Int).Sub(balance, big.NewInt(int64(aliceAmount)))

	recovered, err := env.engine.Recover(env.poolID, env.admin)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if recovered.Cmp(wantRecovered) != 0 {
		t.Fatalf("recovered: got %s want %s", recovered, wantRecovered)
	}

	// The protected principal is exactly what the late exit pays out.
	principal, rewards, err := env.engine.Unstake(env.poolID, alice)
	if err != nil {
		t.Fatalf("post-recover unstake: %v", err)
	}
	if principal.Uint64() != aliceAmount || rewards.Sign() != 0 {
		t.Fatalf("late exit: principal=%s rewards=%s", principal, rewards)
	}

	if _, err := env.engine.Recover(env.poolID, env.admin); !errors.Is(err, ErrNothingToRecover) {
		t.Fatalf("empty recover: got %v", err)
	}
}

func TestRecoverDistributedSweepsEverything(t *testing.T) {
	env := newTestEnv(t, CustodyDistributed)
	env.enterEpoch(0)
	env.mustClaim(alice, aliceAmount)

	env.now = ExitDeadline(env.start) + 1
	balance, err := env.state.BalanceOf(env.vault)
	if err != nil {
		t.Fatalf("BalanceOf: %v", err)
	}
	recovered, err := env.engine.Recover(env.poolID, env.admin)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if recovered.Cmp(balance) != 0 {
		t.Fatalf("recovered: got %s want %s", recovered, balance)
	}
}

func TestCloseLifecycle(t *testing.T) {
	env := newTestEnv(t, CustodyStaked)
	env.enterEpoch(0)
	env.mustClaim(alice, aliceAmount)
	env.enterEpoch(TotalDays)
	env.mustSnapshot()

	if err := env.engine.Close(env.poolID, env.admin); !errors.Is(err, ErrPoolNotTerminated) {
		t.Fatalf("close before terminate: got %v", err)
	}
	if _, err := env.engine.Terminate(env.poolID, env.admin); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if err := env.engine.Close(env.poolID, env.admin); !errors.Is(err, ErrPoolNotEmpty) {
		t.Fatalf("close with live stake: got %v", err)
	}

	if _, _, err := env.engine.Unstake(env.poolID, alice); err != nil {
		t.Fatalf("Unstake: %v", err)
	}
	if err := env.engine.Close(env.poolID, bob); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("non-admin close: got %v", err)
	}
	if err := env.engine.Close(env.poolID, env.admin); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := env.engine.Pool(env.poolID); !errors.Is(err, ErrPoolNotFound) {
		t.Fatalf("closed pool still stored: %v", err)
	}
	vaultBalance, err := env.state.BalanceOf(env.vault)
	if err != nil {
		t.Fatalf("BalanceOf: %v", err)
	}
	if vaultBalance.Sign() != 0 {
		t.Fatalf("residual vault balance after close: %s", vaultBalance)
	}
}

func TestClaimAfterExpiry(t *testing.T) {
	env := newTestEnv(t, CustodyStaked)
	env.now = ExitDeadline(env.start) + 1
	if _, err := env.engine.Claim(env.poolID, alice, big.NewInt(int64(aliceAmount)), env.proofFor(alice, aliceAmount)); !errors.Is(err, ErrPoolExpired) {
		t.Fatalf("expired claim: got %v", err)
	}
}

func TestPreviewMatchesUnstake(t *testing.T) {
	env := newTestEnv(t, CustodyStaked)
	env.enterEpoch(0)
	env.mustClaim(alice, aliceAmount)
	env.mustClaim(bob, bobAmount)
	env.enterEpoch(3)
	env.mustSnapshot()

	preview, err := env.engine.PreviewAccrued(env.poolID, alice)
	if err != nil {
		t.Fatalf("PreviewAccrued: %v", err)
	}
	_, rewards, err := env.engine.Unstake(env.poolID, alice)
	if err != nil {
		t.Fatalf("Unstake: %v", err)
	}
	if preview.Cmp(rewards) != 0 {
		t.Fatalf("preview %s disagrees with settlement %s", preview, rewards)
	}
}

func TestEngineEmitsEvents(t *testing.T) {
	env := newTestEnv(t, CustodyStaked)
	env.enterEpoch(0)
	env.mustClaim(alice, aliceAmount)
	env.enterEpoch(1)
	env.mustSnapshot()
	if _, _, err := env.engine.Unstake(env.poolID, alice); err != nil {
		t.Fatalf("Unstake: %v", err)
	}

	want := []string{
		EventTypePoolInitialized,
		EventTypeClaimed,
		EventTypeSnapshotTaken,
		EventTypeUnstaked,
	}
	if len(env.emitter.types) != len(want) {
		t.Fatalf("event count: got %d want %d (%v)", len(env.emitter.types), len(want), env.emitter.types)
	}
	for i, typ := range want {
		if env.emitter.types[i] != typ {
			t.Fatalf("event %d: got %s want %s", i, env.emitter.types[i], typ)
		}
	}
}
