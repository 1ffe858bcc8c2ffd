package airdrop

import (
	"bytes"
	"encoding/binary"
	"sort"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// LeafHash computes the commitment leaf for a (recipient, amount) pair:
// keccak256(recipient || amount little-endian uint64). The encoding is a
// bit-exact contract shared with off-chain proof generators.
func LeafHash(recipient [20]byte, amount uint64) [32]byte {
	var amt [8]byte
	binary.LittleEndian.PutUint64(amt[:], amount)
	var leaf [32]byte
	copy(leaf[:], ethcrypto.Keccak256(recipient[:], amt[:]))
	return leaf
}

// hashPair combines two nodes with the byte-wise smaller one first, making
// proof folding independent of sibling order.
func hashPair(a, b [32]byte) [32]byte {
	var out [32]byte
	if bytes.Compare(a[:], b[:]) <= 0 {
		copy(out[:], ethcrypto.Keccak256(a[:], b[:]))
	} else {
		copy(out[:], ethcrypto.Keccak256(b[:], a[:]))
	}
	return out
}

// VerifyProof folds the proof bottom-up from the leaf and reports whether the
// final accumulator matches the committed root. Pure and fail-closed.
func VerifyProof(root [32]byte, leaf [32]byte, proof [][32]byte) bool {
	computed := leaf
	for _, node := range proof {
		computed = hashPair(computed, node)
	}
	return computed == root
}

// LeafEntry is one eligible (recipient, amount) pair in the committed set.
type LeafEntry struct {
	Recipient [20]byte
	Amount    uint64
}

// Tree is the off-chain side of the eligibility commitment: it builds the
// binary Merkle tree over the eligible set with the same sorted-pair rule the
// verifier applies, so generated proofs verify against the stored root.
type Tree struct {
	entries []LeafEntry
	levels  [][][32]byte
}

// NewTree builds the commitment tree for the given entries. Leaves are sorted
// by their hash so the tree shape is independent of input order. At least one
// entry is required.
func NewTree(entries []LeafEntry) (*Tree, error) {
	if len(entries) == 0 {
		return nil, ErrInvalidProof
	}
	sorted := append([]LeafEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool {
		a := LeafHash(sorted[i].Recipient, sorted[i].Amount)
		b := LeafHash(sorted[j].Recipient, sorted[j].Amount)
		return bytes.Compare(a[:], b[:]) < 0
	})

	leaves := make([][32]byte, len(sorted))
	for i, e := range sorted {
		leaves[i] = LeafHash(e.Recipient, e.Amount)
	}

	levels := [][][32]byte{leaves}
	for current := leaves; len(current) > 1; {
		next := make([][32]byte, 0, (len(current)+1)/2)
		for i := 0; i < len(current); i += 2 {
			if i+1 == len(current) {
				// Odd node is promoted unchanged to the next level.
				next = append(next, current[i])
				continue
			}
			next = append(next, hashPair(current[i], current[i+1]))
		}
		levels = append(levels, next)
		current = next
	}
	return &Tree{entries: sorted, levels: levels}, nil
}

// Root returns the commitment root binding the whole eligible set.
func (t *Tree) Root() [32]byte {
	top := t.levels[len(t.levels)-1]
	return top[0]
}

// Proof returns the ordered sibling hashes authenticating the given pair
// against the root.
func (t *Tree) Proof(recipient [20]byte, amount uint64) ([][32]byte, error) {
	target := LeafHash(recipient, amount)
	index := -1
	for i, leaf := range t.levels[0] {
		if leaf == target {
			index = i
			break
		}
	}
	if index < 0 {
		return nil, ErrInvalidProof
	}

	proof := make([][32]byte, 0, len(t.levels)-1)
	for depth := 0; depth < len(t.levels)-1; depth++ {
		level := t.levels[depth]
		sibling := index ^ 1
		if sibling < len(level) {
			proof = append(proof, level[sibling])
		}
		index /= 2
	}
	return proof, nil
}
