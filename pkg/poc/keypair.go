package poc

import (
	"bytes"

	"github.com/fortiblox/x1-crowdfund/internal/types"
)

// Keypair returns the deterministic keypair whose seed is n repeated 32 times.
// Scenarios use it so every run stages the same addresses.
func Keypair(n byte) types.Keypair {
	kp, err := types.NewKeypairFromSeed(bytes.Repeat([]byte{n}, 32))
	if err != nil {
		// A 32 byte seed is always valid.
		panic(err)
	}
	return kp
}
