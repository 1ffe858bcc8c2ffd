package state

import (
	"fmt"
	"math/big"

	"stakedrop/core/types"
)

type storedAccount struct {
	Nonce   uint64
	Balance *big.Int
}

func accountKey(addr []byte) []byte {
	return prefixedKey(accountPrefix, addr)
}

// GetAccount returns the account record for addr, or a zero-valued account if
// none is stored yet.
func (m *Manager) GetAccount(addr []byte) (*types.Account, error) {
	stored := new(storedAccount)
	ok, err := m.loadRLP(accountKey(addr), stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &types.Account{Balance: big.NewInt(0)}, nil
	}
	return &types.Account{Nonce: stored.Nonce, Balance: copyBig(stored.Balance)}, nil
}

// PutAccount persists the account record for addr.
func (m *Manager) PutAccount(addr []byte, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("state: nil account")
	}
	if account.Balance != nil && account.Balance.Sign() < 0 {
		return fmt.Errorf("state: negative balance")
	}
	return m.writeRLP(accountKey(addr), &storedAccount{
		Nonce:   account.Nonce,
		Balance: copyBig(account.Balance),
	})
}

// BalanceOf returns the token balance held by addr.
func (m *Manager) BalanceOf(addr [20]byte) (*big.Int, error) {
	account, err := m.GetAccount(addr[:])
	if err != nil {
		return nil, err
	}
	return copyBig(account.Balance), nil
}

// Transfer atomically moves amount from one account to the other. It fails
// without touching either record when the source balance is insufficient.
func (m *Manager) Transfer(from, to [20]byte, amount *big.Int) error {
	amt := copyBig(amount)
	if amt.Sign() < 0 {
		return fmt.Errorf("state: negative transfer amount")
	}
	if amt.Sign() == 0 {
		return nil
	}
	fromAcc, err := m.GetAccount(from[:])
	if err != nil {
		return err
	}
	if fromAcc.Balance.Cmp(amt) < 0 {
		return fmt.Errorf("state: insufficient balance")
	}
	toAcc, err := m.GetAccount(to[:])
	if err != nil {
		return err
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amt)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amt)
	if err := m.PutAccount(from[:], fromAcc); err != nil {
		return err
	}
	if err := m.PutAccount(to[:], toAcc); err != nil {
		// Restore the debited source so a failed credit cannot burn funds.
		fromAcc.Balance = new(big.Int).Add(fromAcc.Balance, amt)
		_ = m.PutAccount(from[:], fromAcc)
		return err
	}
	return nil
}

// Mint credits freshly issued tokens to addr. Used only during genesis
// bootstrap to fund pool vaults and operator accounts.
func (m *Manager) Mint(addr [20]byte, amount *big.Int) error {
	amt := copyBig(amount)
	if amt.Sign() <= 0 {
		return fmt.Errorf("state: mint amount must be positive")
	}
	account, err := m.GetAccount(addr[:])
	if err != nil {
		return err
	}
	account.Balance = new(big.Int).Add(account.Balance, amt)
	return m.PutAccount(addr[:], account)
}
