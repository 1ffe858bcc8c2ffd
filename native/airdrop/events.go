package airdrop

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"stakedrop/core/types"
	"stakedrop/crypto"
)

const (
	EventTypePoolInitialized = "airdrop.pool.initialized"
	EventTypeClaimed         = "airdrop.claimed"
	EventTypeSnapshotTaken   = "airdrop.snapshot"
	EventTypeUnstaked        = "airdrop.unstaked"
	EventTypePoolPaused      = "airdrop.pool.paused"
	EventTypePoolUnpaused    = "airdrop.pool.unpaused"
	EventTypePoolTerminated  = "airdrop.pool.terminated"
	EventTypeRecovered       = "airdrop.recovered"
	EventTypePoolClosed      = "airdrop.pool.closed"
)

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func formatAddress(addr [20]byte) string {
	return crypto.MustNewAddress(crypto.StakePrefix, addr[:]).String()
}

func formatPoolID(id [32]byte) string {
	return "0x" + hex.EncodeToString(id[:])
}

// NewPoolInitializedEvent returns the canonical payload for pool creation.
func NewPoolInitializedEvent(p *Pool) *types.Event {
	return &types.Event{Type: EventTypePoolInitialized, Attributes: map[string]string{
		"pool":      formatPoolID(p.ID),
		"admin":     formatAddress(p.Admin),
		"startTime": strconv.FormatInt(p.StartTime, 10),
		"custody":   p.CustodyMode.String(),
	}}
}

// NewClaimedEvent returns the canonical payload for a successful claim.
func NewClaimedEvent(p *Pool, recipient [20]byte, amount *big.Int, epoch uint64) *types.Event {
	return &types.Event{Type: EventTypeClaimed, Attributes: map[string]string{
		"pool":      formatPoolID(p.ID),
		"recipient": formatAddress(recipient),
		"amount":    formatAmount(amount),
		"epoch":     strconv.FormatUint(epoch, 10),
	}}
}

// NewSnapshotEvent returns the canonical payload emitted when one or more
// snapshot slots were filled.
func NewSnapshotEvent(p *Pool, epoch uint64, written int) *types.Event {
	return &types.Event{Type: EventTypeSnapshotTaken, Attributes: map[string]string{
		"pool":        formatPoolID(p.ID),
		"epoch":       strconv.FormatUint(epoch, 10),
		"totalStaked": formatAmount(p.TotalStaked),
		"slots":       strconv.Itoa(written),
	}}
}

// NewUnstakedEvent returns the canonical payload for a participant exit.
func NewUnstakedEvent(p *Pool, owner [20]byte, principal, rewards *big.Int) *types.Event {
	return &types.Event{Type: EventTypeUnstaked, Attributes: map[string]string{
		"pool":      formatPoolID(p.ID),
		"owner":     formatAddress(owner),
		"principal": formatAmount(principal),
		"rewards":   formatAmount(rewards),
	}}
}

// NewPoolPausedEvent returns the canonical payload for an admin pause.
func NewPoolPausedEvent(p *Pool) *types.Event {
	return &types.Event{Type: EventTypePoolPaused, Attributes: map[string]string{
		"pool":  formatPoolID(p.ID),
		"admin": formatAddress(p.Admin),
	}}
}

// NewPoolUnpausedEvent returns the canonical payload for an admin unpause.
func NewPoolUnpausedEvent(p *Pool) *types.Event {
	return &types.Event{Type: EventTypePoolUnpaused, Attributes: map[string]string{
		"pool":  formatPoolID(p.ID),
		"admin": formatAddress(p.Admin),
	}}
}

// NewPoolTerminatedEvent returns the canonical payload for termination,
// including the surplus swept back to the admin.
func NewPoolTerminatedEvent(p *Pool, drained *big.Int) *types.Event {
	return &types.Event{Type: EventTypePoolTerminated, Attributes: map[string]string{
		"pool":    formatPoolID(p.ID),
		"drained": formatAmount(drained),
	}}
}

// NewRecoveredEvent returns the canonical payload for an expiry recovery.
func NewRecoveredEvent(p *Pool, amount *big.Int) *types.Event {
	return &types.Event{Type: EventTypeRecovered, Attributes: map[string]string{
		"pool":   formatPoolID(p.ID),
		"amount": formatAmount(amount),
	}}
}

// NewPoolClosedEvent returns the canonical payload for storage reclamation.
func NewPoolClosedEvent(p *Pool) *types.Event {
	return &types.Event{Type: EventTypePoolClosed, Attributes: map[string]string{
		"pool":  formatPoolID(p.ID),
		"admin": formatAddress(p.Admin),
	}}
}
