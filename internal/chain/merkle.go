package chain

import (
	"github.com/cockroachdb/errors"

	"github.com/punchamoorthee/trustledger/internal/domain"
)

// ErrProofIndex is returned when a proof is requested for a missing leaf.
var ErrProofIndex = errors.New("chain: proof index out of range")

// MerkleRoot reduces the ordered transaction list to a single root hash.
// An empty list maps to the digest of the empty byte string.
func MerkleRoot(txs []domain.Transaction) string {
	return MerkleRootFromHashes(leafHashes(txs))
}

// MerkleRootFromHashes reduces precomputed leaf hashes. Odd levels duplicate
// their last hash; each parent is the digest of the two hex strings joined.
func MerkleRootFromHashes(hashes []string) string {
	if len(hashes) == 0 {
		return Digest(nil)
	}
	level := append([]string{}, hashes...)
	for len(level) > 1 {
		level = nextLevel(level)
	}
	return level[0]
}

func leafHashes(txs []domain.Transaction) []string {
	hashes := make([]string, len(txs))
	for i := range txs {
		hashes[i] = TransactionDigest(txs[i])
	}
	return hashes
}

func nextLevel(level []string) []string {
	if len(level)%2 == 1 {
		level = append(level, level[len(level)-1])
	}
	next := make([]string, 0, len(level)/2)
	for i := 0; i < len(level); i += 2 {
		next = append(next, hashPair(level[i], level[i+1]))
	}
	return next
}

func hashPair(a, b string) string {
	return Digest([]byte(a + b))
}

// ProofStep is one sibling on the path from a leaf to the root.
type ProofStep struct {
	Hash string `json:"hash"`
	// Left is true when the sibling sits to the left of the running hash.
	Left bool `json:"left"`
}

// Proof shows that a leaf is included under a Merkle root.
type Proof struct {
	Index    int         `json:"index"`
	LeafHash string      `json:"leaf_hash"`
	Siblings []ProofStep `json:"siblings"`
	Root     string      `json:"merkle_root"`
}

// MerkleProof builds the inclusion proof of txs[index].
func MerkleProof(txs []domain.Transaction, index int) (Proof, error) {
	if index < 0 || index >= len(txs) {
		return Proof{}, errors.Wrapf(ErrProofIndex, "index %d of %d", index, len(txs))
	}
	level := leafHashes(txs)
	proof := Proof{Index: index, LeafHash: level[index]}
	idx := index
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		sibling := idx ^ 1
		proof.Siblings = append(proof.Siblings, ProofStep{Hash: level[sibling], Left: sibling < idx})
		level = nextLevel(level)
		idx /= 2
	}
	proof.Root = level[0]
	return proof, nil
}

// VerifyProof recomputes the root from the proof and compares it with root.
func VerifyProof(p Proof, root string) bool {
	h := p.LeafHash
	for _, s := range p.Siblings {
		if s.Left {
			h = hashPair(s.Hash, h)
		} else {
			h = hashPair(h, s.Hash)
		}
	}
	return h == root
}
