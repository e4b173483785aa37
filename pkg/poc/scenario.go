package poc

import (
	"github.com/pkg/errors"

	"github.com/fortiblox/x1-crowdfund/internal/types"
	"github.com/fortiblox/x1-crowdfund/pkg/accounts"
	"github.com/fortiblox/x1-crowdfund/pkg/crowdfund"
	"github.com/fortiblox/x1-crowdfund/pkg/journal"
	"github.com/fortiblox/x1-crowdfund/pkg/svm"
	"github.com/fortiblox/x1-crowdfund/pkg/svm/programs/system"
	"github.com/fortiblox/x1-crowdfund/pkg/svm/programs/token"
)

// Scenario names a staged activation attempt.
type Scenario string

const (
	// ScenarioPay activates a campaign paying the fee through the genuine
	// token program.
	ScenarioPay Scenario = "pay"

	// ScenarioCounterfeit supplies a token program that accepts the transfer
	// without moving funds.
	ScenarioCounterfeit Scenario = "counterfeit"

	// ScenarioMint stages the campaign with a fee vault of an arbitrary mint,
	// so the fee is paid in worthless tokens.
	ScenarioMint Scenario = "mint"
)

// Scenarios lists every scenario in a stable order.
var Scenarios = []Scenario{ScenarioPay, ScenarioCounterfeit, ScenarioMint}

// ParseScenario validates a scenario name.
func ParseScenario(s string) (Scenario, error) {
	for _, sc := range Scenarios {
		if string(sc) == s {
			return sc, nil
		}
	}
	return "", errors.Errorf("unknown scenario %q", s)
}

const (
	// PreferredNonce is the nonce campaigns are staged with when it yields a
	// valid authority.
	PreferredNonce uint8 = 99

	InitialBalance uint64 = 10_000_000_000
	GoalAmount     uint64 = 100_000_000_000
)

// Well-known scenario keys.
var (
	CampaignKey    = Keypair(0)
	CreatorKey     = Keypair(10)
	FakeMintKey    = Keypair(20)
	CounterfeitKey = Keypair(66)
	ProgramKey     = Keypair(88)
)

// Options configure a scenario run.
type Options struct {
	Config crowdfund.Config

	// DB defaults to a fresh in-memory database.
	DB accounts.DB

	// Journal, if set, records the activation transaction.
	Journal *journal.Store

	// Amount overrides the fee paid, for probing the amount check.
	Amount *uint64
}

// Report is the observable outcome of a scenario.
type Report struct {
	Scenario   Scenario
	Vulnerable bool

	ProgramID    types.Pubkey
	Campaign     types.Pubkey
	Authority    types.Pubkey
	Nonce        uint8
	FeeVault     types.Pubkey
	TokenProgram types.Pubkey
	Mint         types.Pubkey

	Result *svm.ExecutionResult

	VaultBefore   uint64
	VaultAfter    uint64
	CreatorBefore uint64
	CreatorAfter  uint64
	Enabled       bool

	StateBefore types.Hash
	StateAfter  types.Hash
}

// Paid returns the tokens that reached the fee vault.
func (r *Report) Paid() uint64 {
	if r.VaultAfter < r.VaultBefore {
		return 0
	}
	return r.VaultAfter - r.VaultBefore
}

// StateUnchanged reports whether the ledger is identical before and after.
func (r *Report) StateUnchanged() bool {
	return r.StateBefore == r.StateAfter
}

// Fixture is a staged campaign, ready for an activation attempt.
type Fixture struct {
	Env *Environment

	ProgramID    types.Pubkey
	Campaign     types.Pubkey
	Authority    types.Pubkey
	Nonce        uint8
	Mint         types.Pubkey
	FeeVault     types.Pubkey
	CreatorToken types.Pubkey
	TokenProgram types.Pubkey
}

// campaignAuthority derives the campaign authority, preferring
// PreferredNonce.
func campaignAuthority(programID, campaign types.Pubkey) (types.Pubkey, uint8, error) {
	if auth, err := crowdfund.DeriveAuthority(programID, campaign, PreferredNonce); err == nil {
		return auth, PreferredNonce, nil
	}
	return crowdfund.FindAuthority(programID, campaign)
}

// Stage builds the accounts of sc.
func Stage(sc Scenario, opts Options) (*Fixture, error) {
	cfg := opts.Config
	programID := ProgramKey.Pubkey
	campaign := CampaignKey.Pubkey
	creator := CreatorKey.Pubkey

	authority, nonce, err := campaignAuthority(programID, campaign)
	if err != nil {
		return nil, errors.Wrap(err, "failed to derive campaign authority")
	}

	mint := cfg.FeeMint
	balance := InitialBalance
	tokenProgram := token.ProgramKey
	switch sc {
	case ScenarioPay:
	case ScenarioCounterfeit:
		tokenProgram = CounterfeitKey.Pubkey
	case ScenarioMint:
		mint = FakeMintKey.Pubkey
		balance = cfg.Fee
	default:
		return nil, errors.Errorf("unknown scenario %q", sc)
	}

	feeVault, err := token.GetAssociatedAccount(authority, mint)
	if err != nil {
		return nil, err
	}
	creatorToken, err := token.GetAssociatedAccount(creator, mint)
	if err != nil {
		return nil, err
	}

	record := crowdfund.Campaign{
		Nonce:      nonce,
		GoalAmount: GoalAmount,
		Creator:    creator,
		FeeVault:   feeVault,
	}

	db := opts.DB
	if db == nil {
		db = accounts.NewMemoryDB()
	}
	b := NewBuilderWithDB(db).
		AddProgram(programID, crowdfund.NewProcessor(cfg)).
		AddAccountWithLamports(creator, system.ProgramID, InitialBalance).
		AddAccountWithData(campaign, programID, record.Marshal(), false).
		AddAssociatedAccountWithTokens(creator, mint, balance).
		AddAssociatedAccountWithTokens(authority, mint, balance)
	if sc == ScenarioCounterfeit {
		b.AddProgram(CounterfeitKey.Pubkey, CounterfeitTokenProgram{})
	}

	env, err := b.Build()
	if err != nil {
		return nil, err
	}
	if opts.Journal != nil {
		env.SetJournal(opts.Journal)
	}

	return &Fixture{
		Env:          env,
		ProgramID:    programID,
		Campaign:     campaign,
		Authority:    authority,
		Nonce:        nonce,
		Mint:         mint,
		FeeVault:     feeVault,
		CreatorToken: creatorToken,
		TokenProgram: tokenProgram,
	}, nil
}

// Accounts returns the EnableCampaign accounts of the fixture.
func (f *Fixture) Accounts() crowdfund.EnableCampaignAccounts {
	return crowdfund.EnableCampaignAccounts{
		Campaign:     f.Campaign,
		Authority:    f.Authority,
		Creator:      CreatorKey.Pubkey,
		CreatorToken: f.CreatorToken,
		FeeVault:     f.FeeVault,
		TokenProgram: f.TokenProgram,
	}
}

// Enable submits EnableCampaign with the given accounts and amount, signed by
// the creator.
func (f *Fixture) Enable(label string, accs crowdfund.EnableCampaignAccounts, amount uint64) (*svm.ExecutionResult, error) {
	ix := crowdfund.NewEnableCampaignInstruction(f.ProgramID, accs, amount)
	return f.Env.ExecuteAsTransaction(label, []svm.Instruction{ix}, CreatorKey)
}

// Run stages sc and attempts the activation.
func Run(sc Scenario, opts Options) (*Report, error) {
	f, err := Stage(sc, opts)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Scenario:     sc,
		Vulnerable:   opts.Config.Vulnerable,
		ProgramID:    f.ProgramID,
		Campaign:     f.Campaign,
		Authority:    f.Authority,
		Nonce:        f.Nonce,
		FeeVault:     f.FeeVault,
		TokenProgram: f.TokenProgram,
		Mint:         f.Mint,
	}

	if report.VaultBefore, report.CreatorBefore, err = f.balances(); err != nil {
		return nil, err
	}
	if report.StateBefore, err = f.Env.StateHash(); err != nil {
		return nil, err
	}

	amount := opts.Config.Fee
	if opts.Amount != nil {
		amount = *opts.Amount
	}
	report.Result, err = f.Enable(string(sc), f.Accounts(), amount)
	if err != nil {
		return nil, err
	}

	if report.VaultAfter, report.CreatorAfter, err = f.balances(); err != nil {
		return nil, err
	}
	if report.StateAfter, err = f.Env.StateHash(); err != nil {
		return nil, err
	}
	c, err := f.Env.GetCampaign(f.Campaign)
	if err != nil {
		return nil, err
	}
	report.Enabled = c.Enabled

	return report, nil
}

func (f *Fixture) balances() (vault, creator uint64, err error) {
	v, err := f.Env.GetTokenAccount(f.FeeVault)
	if err != nil {
		return 0, 0, err
	}
	c, err := f.Env.GetTokenAccount(f.CreatorToken)
	if err != nil {
		return 0, 0, err
	}
	return v.Amount, c.Amount, nil
}
