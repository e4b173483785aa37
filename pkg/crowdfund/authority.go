package crowdfund

import (
	"github.com/fortiblox/x1-crowdfund/internal/types"
	"github.com/fortiblox/x1-crowdfund/pkg/svm"
)

func authoritySeeds(campaign types.Pubkey, nonce uint8) [][]byte {
	return [][]byte{campaign[:], {nonce}}
}

// DeriveAuthority returns the program derived address that controls the fee
// vault of campaign. It fails with ErrInvalidAuthority if the seeds land on
// the curve; other nonces are never tried.
func DeriveAuthority(programID, campaign types.Pubkey, nonce uint8) (types.Pubkey, error) {
	addr, err := svm.CreateProgramAddress(authoritySeeds(campaign, nonce), programID)
	if err != nil {
		return types.Pubkey{}, ErrInvalidAuthority
	}
	return addr, nil
}

// FindAuthority searches for the highest nonce that yields a valid authority,
// for use when a campaign is created.
func FindAuthority(programID, campaign types.Pubkey) (types.Pubkey, uint8, error) {
	return svm.FindProgramAddress([][]byte{campaign[:]}, programID)
}
