package svm

import (
	"crypto/sha256"
	"math"

	"github.com/jdgcs/ed25519/edwards25519"
	"github.com/pkg/errors"

	"github.com/fortiblox/x1-crowdfund/internal/types"
)

// PDA constants.
const (
	MaxSeeds   = 16
	MaxSeedLen = 32
)

// PDA marker used in address derivation.
var pdaMarker = []byte("ProgramDerivedAddress")

// PDA errors.
var (
	ErrMaxSeedLengthExceeded = errors.New("max seed length exceeded")
	ErrMaxSeedsExceeded      = errors.New("max seeds exceeded")

	// ErrInvalidSeeds is returned when the seeds hash to a point on the ed25519
	// curve, i.e. an address that could have a private key.
	ErrInvalidSeeds = errors.New("invalid seeds, address must fall off the curve")

	// ErrNoViableBump is returned when no bump seed yields an off-curve address.
	ErrNoViableBump = errors.New("unable to find a viable program address bump seed")
)

// CreateProgramAddress derives a program address from seeds and a program ID:
//
//	sha256(seed_0 || ... || seed_n || program_id || "ProgramDerivedAddress")
//
// The result is rejected with ErrInvalidSeeds if it decodes as a valid
// compressed Edwards point, so no derived address has a private key.
func CreateProgramAddress(seeds [][]byte, programID types.Pubkey) (types.Pubkey, error) {
	if len(seeds) > MaxSeeds {
		return types.Pubkey{}, ErrMaxSeedsExceeded
	}

	h := sha256.New()
	for _, seed := range seeds {
		if len(seed) > MaxSeedLen {
			return types.Pubkey{}, ErrMaxSeedLengthExceeded
		}
		h.Write(seed)
	}
	h.Write(programID[:])
	h.Write(pdaMarker)

	var pub [32]byte
	copy(pub[:], h.Sum(nil))

	if isOnCurve(&pub) {
		return types.Pubkey{}, ErrInvalidSeeds
	}

	return types.Pubkey(pub), nil
}

// FindProgramAddress finds a valid PDA by iterating bump seeds from 255 to 0.
// The bump is appended as the final seed.
func FindProgramAddress(seeds [][]byte, programID types.Pubkey) (types.Pubkey, uint8, error) {
	if len(seeds) > MaxSeeds-1 {
		return types.Pubkey{}, 0, ErrMaxSeedsExceeded
	}

	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)

	for bump := math.MaxUint8; bump >= 0; bump-- {
		withBump[len(seeds)] = []byte{uint8(bump)}

		pda, err := CreateProgramAddress(withBump, programID)
		if err == nil {
			return pda, uint8(bump), nil
		}
		if err != ErrInvalidSeeds {
			return types.Pubkey{}, 0, err
		}
	}

	return types.Pubkey{}, 0, ErrNoViableBump
}

// isOnCurve reports whether the bytes decode to a point on the ed25519 curve.
//
// The group element type is internal to golang.org/x/crypto, so the decoding
// relies on the standalone edwards25519 package.
func isOnCurve(point *[32]byte) bool {
	var A edwards25519.ExtendedGroupElement
	return A.FromBytes(point)
}

// IsOnCurve reports whether the address could be an ed25519 public key.
func IsOnCurve(p types.Pubkey) bool {
	b := [32]byte(p)
	return isOnCurve(&b)
}
