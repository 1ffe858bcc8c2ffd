package airdrop

import "math/big"

const (
	// TotalDays is the number of reward epochs a pool runs for.
	TotalDays = 20
	// SecondsPerDay is the length of a single reward epoch.
	SecondsPerDay = 86400
	// ExitWindowDays is the grace period after the last epoch during which
	// participants can still exit with rewards.
	ExitWindowDays = 15

	airdropPoolUnits uint64 = 50_000_000_000_000_000
	stakingPoolUnits uint64 = 100_000_000_000_000_000
)

// AirdropBudget returns the fixed token allowance distributable through claims:
// 50M tokens at 9 decimals.
func AirdropBudget() *big.Int {
	return new(big.Int).SetUint64(airdropPoolUnits)
}

// StakingBudget returns the fixed reward pool accrued by stakers across all
// epochs: 100M tokens at 9 decimals. Daily reward schedules must sum to
// exactly this value.
func StakingBudget() *big.Int {
	return new(big.Int).SetUint64(stakingPoolUnits)
}

// CustodyMode selects the solvency model the pool was initialised with. The
// two models are mutually incompatible, so the choice is recorded on the pool
// and immutable after init.
type CustodyMode uint8

const (
	// CustodyStaked keeps claimed principal in the pool vault. Unstaking
	// pays principal plus rewards, and expiry recovery protects the
	// outstanding principal.
	CustodyStaked CustodyMode = iota
	// CustodyDistributed pays the claimed allowance straight to the
	// recipient and records a virtual stake. Unstaking pays rewards only,
	// and expiry recovery may sweep the entire remaining vault balance.
	CustodyDistributed
)

// Valid reports whether the mode is one of the supported custody models.
func (m CustodyMode) Valid() bool {
	switch m {
	case CustodyStaked, CustodyDistributed:
		return true
	default:
		return false
	}
}

func (m CustodyMode) String() string {
	switch m {
	case CustodyStaked:
		return "staked"
	case CustodyDistributed:
		return "distributed"
	default:
		return "unknown"
	}
}
