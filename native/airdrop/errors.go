package airdrop

import "errors"

var (
	ErrPoolNotFound        = errors.New("airdrop: pool not found")
	ErrPoolExists          = errors.New("airdrop: pool already exists")
	ErrStartTimeInPast     = errors.New("airdrop: start time is in the past")
	ErrInvalidCustodyMode  = errors.New("airdrop: invalid custody mode")
	ErrInvalidStatus       = errors.New("airdrop: invalid pool status")
	ErrInvalidDailyRewards = errors.New("airdrop: daily rewards must sum to the staking budget")

	ErrPoolNotStarted    = errors.New("airdrop: pool has not started yet")
	ErrPoolPaused        = errors.New("airdrop: pool is paused")
	ErrPoolNotPaused     = errors.New("airdrop: pool is not paused")
	ErrAlreadyPaused     = errors.New("airdrop: pool is already paused")
	ErrPoolTerminated    = errors.New("airdrop: pool has been terminated")
	ErrAlreadyTerminated = errors.New("airdrop: pool is already terminated")
	ErrPoolNotTerminated = errors.New("airdrop: pool must be terminated first")
	ErrPoolNotEmpty      = errors.New("airdrop: pool still has staked funds")
	ErrPoolExpired       = errors.New("airdrop: exit window has closed")
	ErrNotExpired        = errors.New("airdrop: exit window has not closed yet")

	ErrInvalidProof     = errors.New("airdrop: merkle proof verification failed")
	ErrInvalidAmount    = errors.New("airdrop: amount must be a positive 64-bit value")
	ErrAlreadyClaimed   = errors.New("airdrop: allowance already claimed")
	ErrAirdropExhausted = errors.New("airdrop: allowance budget exhausted")

	ErrInvalidEpoch        = errors.New("airdrop: epoch out of range")
	ErrSnapshotRequired    = errors.New("airdrop: previous epoch snapshot not yet recorded")
	ErrSnapshotsIncomplete = errors.New("airdrop: not all epochs have been snapshotted")

	ErrStakeNotFound     = errors.New("airdrop: no stake recorded for owner")
	ErrNothingStaked     = errors.New("airdrop: stake amount is zero")
	ErrNothingToRecover  = errors.New("airdrop: nothing to recover")
	ErrInsufficientFunds = errors.New("airdrop: insufficient vault balance")

	ErrUnauthorized = errors.New("airdrop: caller is not authorized")
)
