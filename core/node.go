package core

import (
	"math/big"
	"sync"

	"stakedrop/core/events"
	"stakedrop/core/state"
	"stakedrop/core/types"
	"stakedrop/native/airdrop"
	"stakedrop/storage"
)

// eventBufferLimit bounds the in-memory event history kept for RPC consumers.
const eventBufferLimit = 1024

// Node owns the ledger state and serialises every operation against it.
// Overlapping invocations on the same pool are therefore strictly ordered and
// each operation either fully commits or has no effect, which is the substrate
// contract the airdrop engine relies on.
type Node struct {
	mu     sync.Mutex
	db     storage.Database
	state  *state.Manager
	engine *airdrop.Engine

	eventMu sync.RWMutex
	events  []types.Event
}

type eventSink struct {
	node *Node
}

func (s eventSink) Emit(evt events.Event) {
	carrier, ok := evt.(interface{ Event() *types.Event })
	if !ok {
		return
	}
	payload := carrier.Event()
	if payload == nil {
		return
	}
	s.node.appendEvent(*payload)
}

// NewNode creates a node over the provided database.
func NewNode(db storage.Database) *Node {
	manager := state.NewManager(db)
	engine := airdrop.NewEngine()
	engine.SetState(manager)
	node := &Node{db: db, state: manager, engine: engine}
	engine.SetEmitter(eventSink{node: node})
	return node
}

// State exposes the ledger state manager, primarily for genesis bootstrap.
func (n *Node) State() *state.Manager { return n.state }

// SetNowFunc overrides the engine clock. Intended for tests.
func (n *Node) SetNowFunc(now func() int64) { n.engine.SetNowFunc(now) }

func (n *Node) appendEvent(evt types.Event) {
	n.eventMu.Lock()
	defer n.eventMu.Unlock()
	n.events = append(n.events, evt)
	if len(n.events) > eventBufferLimit {
		n.events = n.events[len(n.events)-eventBufferLimit:]
	}
}

// Events returns a copy of the buffered event history, newest last.
func (n *Node) Events() []types.Event {
	n.eventMu.RLock()
	defer n.eventMu.RUnlock()
	return append([]types.Event(nil), n.events...)
}

// InitializePool creates a new pool. See airdrop.Engine.Initialize.
func (n *Node) InitializePool(admin [20]byte, root [32]byte, startTime int64, mode airdrop.CustodyMode, dailyRewards []*big.Int) (*airdrop.Pool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.Initialize(admin, root, startTime, mode, dailyRewards)
}

// Claim enters an eligible recipient's allowance as a stake.
func (n *Node) Claim(poolID [32]byte, recipient [20]byte, amount *big.Int, proof [][32]byte) (*airdrop.Stake, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.Claim(poolID, recipient, amount, proof)
}

// Snapshot records participation totals for elapsed epochs.
func (n *Node) Snapshot(poolID [32]byte) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.Snapshot(poolID)
}

// Unstake exits a participant, paying principal and accrued rewards.
func (n *Node) Unstake(poolID [32]byte, owner [20]byte) (principal, rewards *big.Int, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.Unstake(poolID, owner)
}

// PreviewReward estimates a single epoch's reward without committing.
func (n *Node) PreviewReward(poolID [32]byte, owner [20]byte, epoch uint64) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.PreviewReward(poolID, owner, epoch)
}

// PreviewAccrued estimates the total reward an exit would pay right now.
func (n *Node) PreviewAccrued(poolID [32]byte, owner [20]byte) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.PreviewAccrued(poolID, owner)
}

// PausePool suspends claims and snapshots.
func (n *Node) PausePool(poolID [32]byte, caller [20]byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.Pause(poolID, caller)
}

// UnpausePool resumes normal operation.
func (n *Node) UnpausePool(poolID [32]byte, caller [20]byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.Unpause(poolID, caller)
}

// TerminatePool performs the one-way admin shutdown.
func (n *Node) TerminatePool(poolID [32]byte, caller [20]byte) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.Terminate(poolID, caller)
}

// RecoverPool sweeps unclaimed funds after the exit window closes.
func (n *Node) RecoverPool(poolID [32]byte, caller [20]byte) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.Recover(poolID, caller)
}

// ClosePool reclaims a terminated, empty pool's storage.
func (n *Node) ClosePool(poolID [32]byte, caller [20]byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.Close(poolID, caller)
}

// GetPool returns a copy of the stored pool record.
func (n *Node) GetPool(poolID [32]byte) (*airdrop.Pool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.Pool(poolID)
}

// GetStake returns a copy of the stored participation record.
func (n *Node) GetStake(poolID [32]byte, owner [20]byte) (*airdrop.Stake, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.Stake(poolID, owner)
}

// GetBalance returns the token balance of an account.
func (n *Node) GetBalance(addr [20]byte) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.BalanceOf(addr)
}

// VaultAddress returns the derived custody address for a pool.
func (n *Node) VaultAddress(poolID [32]byte) [20]byte {
	return n.state.VaultAddress(poolID)
}
