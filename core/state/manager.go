package state

import (
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"stakedrop/storage"
)

// Manager is the durable ledger backend. Records are RLP-encoded and stored
// under keccak256-hashed, purpose-prefixed keys, so every (pool, recipient,
// purpose) triple maps to exactly one storage slot. The Manager is the sole
// component that moves balances; callers above it hold only the narrow
// interfaces they need.
//
// Manager is not safe for concurrent use; the node serialises operations.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

var (
	accountPrefix = []byte("account/")
	poolPrefix    = []byte("airdrop/pool/")
	stakePrefix   = []byte("airdrop/stake/")
	markerPrefix  = []byte("airdrop/claimed/")
	vaultPrefix   = []byte("airdrop/vault/")
)

func prefixedKey(prefix []byte, parts ...[]byte) []byte {
	buf := append([]byte(nil), prefix...)
	for _, p := range parts {
		buf = append(buf, p...)
	}
	return ethcrypto.Keccak256(buf)
}

func (m *Manager) loadRLP(key []byte, out interface{}) (bool, error) {
	data, err := m.db.Get(key)
	if err == storage.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) writeRLP(key []byte, v interface{}) error {
	encoded, err := rlp.EncodeToBytes(v)
	if err != nil {
		return err
	}
	return m.db.Put(key, encoded)
}

func copyBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
