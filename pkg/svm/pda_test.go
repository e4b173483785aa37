package svm

import (
	"bytes"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/x1-crowdfund/internal/types"
)

var testProgramID = types.Pubkey(solana.MustPublicKeyFromBase58("BPFLoaderUpgradeab1e11111111111111111111111"))

func TestFindProgramAddressMatchesSolana(t *testing.T) {
	seedSets := [][][]byte{
		{[]byte("vault")},
		{[]byte("campaign"), bytes.Repeat([]byte{7}, 32)},
		{},
	}

	for _, seeds := range seedSets {
		got, bump, err := FindProgramAddress(seeds, testProgramID)
		require.NoError(t, err)

		want, wantBump, err := solana.FindProgramAddress(seeds, solana.PublicKey(testProgramID))
		require.NoError(t, err)

		assert.Equal(t, want.String(), got.String())
		assert.Equal(t, wantBump, bump)
		assert.False(t, IsOnCurve(got))
	}
}

func TestCreateProgramAddressMatchesSolana(t *testing.T) {
	for bump := 0; bump < 256; bump++ {
		seeds := [][]byte{[]byte("authority"), {uint8(bump)}}

		got, err := CreateProgramAddress(seeds, testProgramID)
		want, wantErr := solana.CreateProgramAddress(seeds, solana.PublicKey(testProgramID))

		if wantErr != nil {
			assert.ErrorIs(t, err, ErrInvalidSeeds, "bump %d", bump)
			continue
		}
		require.NoError(t, err, "bump %d", bump)
		assert.Equal(t, want.String(), got.String(), "bump %d", bump)
	}
}

func TestCreateProgramAddressLimits(t *testing.T) {
	_, err := CreateProgramAddress([][]byte{make([]byte, MaxSeedLen+1)}, testProgramID)
	assert.Equal(t, ErrMaxSeedLengthExceeded, err)

	_, err = CreateProgramAddress(make([][]byte, MaxSeeds+1), testProgramID)
	assert.Equal(t, ErrMaxSeedsExceeded, err)

	_, _, err = FindProgramAddress(make([][]byte, MaxSeeds), testProgramID)
	assert.Equal(t, ErrMaxSeedsExceeded, err)
}

func TestIsOnCurve(t *testing.T) {
	kp, err := types.NewKeypairFromSeed(bytes.Repeat([]byte{1}, 32))
	require.NoError(t, err)
	assert.True(t, IsOnCurve(kp.Pubkey))

	pda, _, err := FindProgramAddress([][]byte{kp.Pubkey[:]}, testProgramID)
	require.NoError(t, err)
	assert.False(t, IsOnCurve(pda))
}
