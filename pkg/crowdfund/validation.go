package crowdfund

import (
	"github.com/fortiblox/x1-crowdfund/internal/types"
	"github.com/fortiblox/x1-crowdfund/pkg/svm"
	"github.com/fortiblox/x1-crowdfund/pkg/svm/programs/token"
)

// enableAccounts are the positional accounts of EnableCampaign.
type enableAccounts struct {
	campaign     *svm.AccountInfo
	authority    *svm.AccountInfo
	creator      *svm.AccountInfo
	creatorToken *svm.AccountInfo
	feeVault     *svm.AccountInfo
	tokenProgram *svm.AccountInfo
}

func parseEnableAccounts(infos []*svm.AccountInfo) (*enableAccounts, error) {
	if len(infos) < 6 {
		return nil, ErrNotEnoughAccountKeys
	}
	return &enableAccounts{
		campaign:     infos[0],
		authority:    infos[1],
		creator:      infos[2],
		creatorToken: infos[3],
		feeVault:     infos[4],
		tokenProgram: infos[5],
	}, nil
}

// enableRequest is what the checks run against. derived is filled in by
// checkAuthority and used by every later check.
type enableRequest struct {
	cfg       Config
	programID types.Pubkey
	accounts  *enableAccounts
	campaign  *Campaign
	amount    uint64

	derived types.Pubkey
}

type check struct {
	name string

	// hardening checks are skipped in vulnerable mode.
	hardening bool

	run func(r *enableRequest) error
}

// enableChecks run in order; the first failure aborts the activation.
var enableChecks = []check{
	{name: "not enabled", run: checkNotEnabled},
	{name: "creator signed", run: checkCreatorSigned},
	{name: "creator", run: checkCreator},
	{name: "authority", run: checkAuthority},
	{name: "amount", run: checkAmount},
	{name: "fee account owner", run: checkFeeAccountOwner},
	{name: "token program", hardening: true, run: checkTokenProgram},
	{name: "fee vault", hardening: true, run: checkFeeVault},
	{name: "fee mint", hardening: true, run: checkFeeMint},
}

func (r *enableRequest) validate() error {
	for _, c := range enableChecks {
		if c.hardening && r.cfg.Vulnerable {
			continue
		}
		if err := c.run(r); err != nil {
			return err
		}
	}
	return nil
}

func checkNotEnabled(r *enableRequest) error {
	if r.campaign.Enabled {
		return ErrAlreadyEnabled
	}
	return nil
}

func checkCreatorSigned(r *enableRequest) error {
	if !r.accounts.creator.IsSigner {
		return ErrInvalidSignature
	}
	return nil
}

func checkCreator(r *enableRequest) error {
	if r.accounts.creator.Key != r.campaign.Creator {
		return ErrCreatorMismatch
	}
	return nil
}

func checkAuthority(r *enableRequest) error {
	derived, err := DeriveAuthority(r.programID, r.accounts.campaign.Key, r.campaign.Nonce)
	if err != nil {
		return err
	}
	if r.accounts.authority.Key != derived {
		return ErrInvalidAuthority
	}
	r.derived = derived
	return nil
}

func checkAmount(r *enableRequest) error {
	if r.amount != r.cfg.Fee {
		return ErrInvalidAmount
	}
	return nil
}

// checkFeeAccountOwner reads the owner recorded inside the token account, not
// the program that owns the account.
func checkFeeAccountOwner(r *enableRequest) error {
	var vault token.Account
	if err := vault.Unmarshal(r.accounts.feeVault.Data); err != nil {
		return ErrInvalidFeeAccount
	}
	if vault.Owner != r.derived {
		return ErrInvalidFeeAccount
	}
	return nil
}

func checkTokenProgram(r *enableRequest) error {
	if r.accounts.tokenProgram.Key != r.cfg.TokenProgram {
		return ErrIncorrectTokenProgram
	}
	return nil
}

func checkFeeVault(r *enableRequest) error {
	if r.accounts.feeVault.Key != r.campaign.FeeVault {
		return ErrFeeVaultMismatch
	}
	return nil
}

func checkFeeMint(r *enableRequest) error {
	if r.accounts.feeVault.Owner != r.cfg.TokenProgram {
		return ErrInvalidFeeMint
	}
	var vault token.Account
	if err := vault.Unmarshal(r.accounts.feeVault.Data); err != nil {
		return ErrInvalidFeeMint
	}
	if vault.Mint != r.cfg.FeeMint {
		return ErrInvalidFeeMint
	}
	return nil
}
