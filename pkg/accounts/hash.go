package accounts

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/fortiblox/x1-crowdfund/internal/types"
)

// ComputeAccountHash hashes every field of an account together with its
// address:
//
//	sha256(lamports || rent_epoch || data || executable || owner || pubkey)
func ComputeAccountHash(pubkey types.Pubkey, account *Account) types.Hash {
	buf := make([]byte, 0, 8+8+len(account.Data)+1+32+32)
	buf = binary.LittleEndian.AppendUint64(buf, account.Lamports)
	buf = binary.LittleEndian.AppendUint64(buf, account.RentEpoch)
	buf = append(buf, account.Data...)
	if account.Executable {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = append(buf, account.Owner[:]...)
	buf = append(buf, pubkey[:]...)
	return sha256.Sum256(buf)
}

// ComputeStateHash returns the Merkle root of all account hashes in pubkey
// order. Two databases have the same state hash iff they hold the same
// accounts.
func ComputeStateHash(db DB) (types.Hash, error) {
	var hashes []types.Hash
	err := db.IterateAccounts(func(pubkey types.Pubkey, account *Account) error {
		hashes = append(hashes, ComputeAccountHash(pubkey, account))
		return nil
	})
	if err != nil {
		return types.Hash{}, err
	}
	return ComputeMerkleRoot(hashes), nil
}

// ComputeDeltaHash returns the Merkle root of the given accounts, in the order
// given. Deleted accounts contribute a zero hash.
func ComputeDeltaHash(db DB, pubkeys []types.Pubkey) (types.Hash, error) {
	if len(pubkeys) == 0 {
		return types.Hash{}, nil
	}

	hashes := make([]types.Hash, 0, len(pubkeys))
	for _, pubkey := range pubkeys {
		account, err := db.GetAccount(pubkey)
		if err == ErrAccountNotFound {
			hashes = append(hashes, types.Hash{})
			continue
		}
		if err != nil {
			return types.Hash{}, err
		}
		hashes = append(hashes, ComputeAccountHash(pubkey, account))
	}
	return ComputeMerkleRoot(hashes), nil
}

// ComputeMerkleRoot computes a binary Merkle root:
//
//	leaf: sha256(0x00 || hash)
//	node: sha256(0x01 || left || right)
//
// An unpaired node is combined with the zero hash.
func ComputeMerkleRoot(hashes []types.Hash) types.Hash {
	if len(hashes) == 0 {
		return types.Hash{}
	}

	level := make([]types.Hash, len(hashes))
	for i, h := range hashes {
		level[i] = leafHash(h)
	}

	for len(level) > 1 {
		next := make([]types.Hash, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			var right types.Hash
			if i+1 < len(level) {
				right = level[i+1]
			}
			next[i/2] = nodeHash(level[i], right)
		}
		level = next
	}
	return level[0]
}

func leafHash(h types.Hash) types.Hash {
	buf := make([]byte, 0, 33)
	buf = append(buf, 0x00)
	buf = append(buf, h[:]...)
	return sha256.Sum256(buf)
}

func nodeHash(left, right types.Hash) types.Hash {
	buf := make([]byte, 0, 65)
	buf = append(buf, 0x01)
	buf = append(buf, left[:]...)
	buf = append(buf, right[:]...)
	return sha256.Sum256(buf)
}
