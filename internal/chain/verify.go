package chain

import (
	"github.com/cockroachdb/errors"

	"github.com/punchamoorthee/trustledger/internal/domain"
)

var ErrChainCorruption = errors.New("chain: integrity check failed")

// VerifyBlock checks that a block's stored hash and Merkle root recompute.
// The difficulty predicate is not re-checked; it held when the block was sealed.
func VerifyBlock(b domain.TrustBlock) error {
	if expected := BlockHash(b); b.Hash != expected {
		return errors.Mark(errors.Newf("block %s: invalid hash: expected %s, got %s", b.ID, expected, b.Hash), ErrChainCorruption)
	}
	if expected := MerkleRoot(b.Transactions); b.MerkleRoot != expected {
		return errors.Mark(errors.Newf("block %s: invalid merkle root: expected %s, got %s", b.ID, expected, b.MerkleRoot), ErrChainCorruption)
	}
	return nil
}

// VerifyChain validates the genesis block and then every block against its
// predecessor. The first failure is returned.
func VerifyChain(blocks []domain.TrustBlock) error {
	if len(blocks) == 0 {
		return errors.Mark(errors.New("empty chain"), ErrChainCorruption)
	}
	if blocks[0].PreviousHash != domain.ZeroHash {
		return errors.Mark(errors.Newf("block %s: genesis previous hash is %s", blocks[0].ID, blocks[0].PreviousHash), ErrChainCorruption)
	}
	if err := VerifyBlock(blocks[0]); err != nil {
		return err
	}
	for i := 1; i < len(blocks); i++ {
		current, previous := blocks[i], blocks[i-1]
		if current.PreviousHash != previous.Hash {
			return errors.Mark(errors.Newf("block %s at height %d: invalid previous hash: expected %s, got %s",
				current.ID, i, previous.Hash, current.PreviousHash), ErrChainCorruption)
		}
		if err := VerifyBlock(current); err != nil {
			return errors.Wrapf(err, "height %d", i)
		}
	}
	return nil
}
