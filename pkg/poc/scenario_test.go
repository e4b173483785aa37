package poc

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/x1-crowdfund/pkg/accounts"
	"github.com/fortiblox/x1-crowdfund/pkg/crowdfund"
	"github.com/fortiblox/x1-crowdfund/pkg/journal"
	"github.com/fortiblox/x1-crowdfund/pkg/svm"
	"github.com/fortiblox/x1-crowdfund/pkg/svm/programs/token"
)

func config(vulnerable bool) crowdfund.Config {
	cfg := crowdfund.DefaultConfig()
	cfg.Vulnerable = vulnerable
	return cfg
}

func errorCode(t *testing.T, r *Report) crowdfund.Error {
	t.Helper()
	require.False(t, r.Result.Success)
	code, ok := crowdfund.ErrorFromCode(r.Result.Err)
	require.True(t, ok, "unexpected error: %v", r.Result.Err)
	return code
}

func TestParseScenario(t *testing.T) {
	for _, sc := range Scenarios {
		got, err := ParseScenario(string(sc))
		require.NoError(t, err)
		assert.Equal(t, sc, got)
	}
	_, err := ParseScenario("drain")
	assert.Error(t, err)
}

func TestStageUsesPreferredNonce(t *testing.T) {
	f, err := Stage(ScenarioPay, Options{Config: config(false)})
	require.NoError(t, err)

	if _, err := crowdfund.DeriveAuthority(ProgramKey.Pubkey, CampaignKey.Pubkey, PreferredNonce); err == nil {
		assert.Equal(t, PreferredNonce, f.Nonce)
	}
	derived, err := crowdfund.DeriveAuthority(f.ProgramID, f.Campaign, f.Nonce)
	require.NoError(t, err)
	assert.Equal(t, derived, f.Authority)

	vault, err := token.GetAssociatedAccount(f.Authority, crowdfund.DefaultConfig().FeeMint)
	require.NoError(t, err)
	assert.Equal(t, vault, f.FeeVault)

	c, err := f.Env.GetCampaign(f.Campaign)
	require.NoError(t, err)
	assert.False(t, c.Enabled)
	assert.Equal(t, f.FeeVault, c.FeeVault)
}

func TestRunPay(t *testing.T) {
	for _, vulnerable := range []bool{false, true} {
		r, err := Run(ScenarioPay, Options{Config: config(vulnerable)})
		require.NoError(t, err)

		require.True(t, r.Result.Success, r.Result.Error())
		assert.True(t, r.Enabled)
		assert.Equal(t, crowdfund.DefaultFee, r.Paid())
		assert.Equal(t, r.CreatorBefore-crowdfund.DefaultFee, r.CreatorAfter)
		assert.False(t, r.StateUnchanged())
		assert.Equal(t, vulnerable, r.Vulnerable)
	}
}

func TestRunCounterfeit(t *testing.T) {
	hardened, err := Run(ScenarioCounterfeit, Options{Config: config(false)})
	require.NoError(t, err)
	assert.Equal(t, crowdfund.ErrIncorrectTokenProgram, errorCode(t, hardened))
	assert.False(t, hardened.Enabled)
	assert.True(t, hardened.StateUnchanged())

	vulnerable, err := Run(ScenarioCounterfeit, Options{Config: config(true)})
	require.NoError(t, err)
	require.True(t, vulnerable.Result.Success, vulnerable.Result.Error())
	assert.True(t, vulnerable.Enabled)
	assert.Zero(t, vulnerable.Paid())
	assert.Equal(t, vulnerable.CreatorBefore, vulnerable.CreatorAfter)
	assert.Equal(t, CounterfeitKey.Pubkey, vulnerable.TokenProgram)
	assert.Contains(t, vulnerable.Result.Logs, "Program log: Instruction: Transfer 50000000 (ignored)")
}

func TestRunMint(t *testing.T) {
	hardened, err := Run(ScenarioMint, Options{Config: config(false)})
	require.NoError(t, err)
	assert.Equal(t, crowdfund.ErrInvalidFeeMint, errorCode(t, hardened))
	assert.False(t, hardened.Enabled)
	assert.True(t, hardened.StateUnchanged())

	vulnerable, err := Run(ScenarioMint, Options{Config: config(true)})
	require.NoError(t, err)
	require.True(t, vulnerable.Result.Success, vulnerable.Result.Error())
	assert.True(t, vulnerable.Enabled)
	assert.Equal(t, FakeMintKey.Pubkey, vulnerable.Mint)
	assert.Equal(t, crowdfund.DefaultFee, vulnerable.Paid())
}

func TestRunAmountOffByOne(t *testing.T) {
	amount := crowdfund.DefaultFee - 1
	for _, vulnerable := range []bool{false, true} {
		r, err := Run(ScenarioPay, Options{Config: config(vulnerable), Amount: &amount})
		require.NoError(t, err)
		assert.Equal(t, crowdfund.ErrInvalidAmount, errorCode(t, r))
		assert.False(t, r.Enabled)
		assert.Zero(t, r.Paid())
		assert.True(t, r.StateUnchanged())
	}
}

func TestRunCustomFee(t *testing.T) {
	cfg := config(false)
	cfg.Fee = 1_000

	r, err := Run(ScenarioPay, Options{Config: cfg})
	require.NoError(t, err)
	require.True(t, r.Result.Success, r.Result.Error())
	assert.Equal(t, uint64(1_000), r.Paid())
}

func TestRunWithJournalAndBadger(t *testing.T) {
	dir := t.TempDir()

	db, err := accounts.NewBadgerDB(accounts.DefaultBadgerDBConfig(filepath.Join(dir, "accounts")))
	require.NoError(t, err)
	defer db.Close()

	j, err := journal.Open(journal.DefaultConfig(filepath.Join(dir, "journal.db")))
	require.NoError(t, err)
	defer j.Close()

	r, err := Run(ScenarioCounterfeit, Options{Config: config(true), DB: db, Journal: j})
	require.NoError(t, err)
	require.True(t, r.Result.Success, r.Result.Error())

	e, err := j.GetBySignature(r.Result.Signature)
	require.NoError(t, err)
	assert.Equal(t, string(ScenarioCounterfeit), e.Label)
	assert.True(t, e.Success)
	assert.Equal(t, r.StateAfter, e.StateHash)
	assert.Equal(t, r.Result.Logs, e.Logs)

	c, err := db.GetAccount(r.Campaign)
	require.NoError(t, err)
	campaign, err := crowdfund.UnmarshalCampaign(c.Data)
	require.NoError(t, err)
	assert.True(t, campaign.Enabled)
}

func TestFixtureEnableTwice(t *testing.T) {
	f, err := Stage(ScenarioPay, Options{Config: config(false)})
	require.NoError(t, err)

	res, err := f.Enable("first", f.Accounts(), crowdfund.DefaultFee)
	require.NoError(t, err)
	require.True(t, res.Success, res.Error())

	res, err = f.Enable("second", f.Accounts(), crowdfund.DefaultFee)
	require.NoError(t, err)
	code, ok := crowdfund.ErrorFromCode(res.Err)
	require.True(t, ok)
	assert.Equal(t, crowdfund.ErrAlreadyEnabled, code)
}

func TestUnsignedActivationRejected(t *testing.T) {
	f, err := Stage(ScenarioPay, Options{Config: config(false)})
	require.NoError(t, err)

	before, err := f.Env.StateHash()
	require.NoError(t, err)

	ix := crowdfund.NewEnableCampaignInstruction(f.ProgramID, f.Accounts(), crowdfund.DefaultFee)
	tx := &svm.Transaction{Message: svm.Message{
		RecentBlockhash: f.Env.blockhash(),
		Instructions:    []svm.Instruction{ix},
	}}
	res, err := f.Env.runtime.Execute(tx)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, svm.ErrMissingSignature)

	after, err := f.Env.StateHash()
	require.NoError(t, err)
	assert.Equal(t, before, after)

	c, err := f.Env.GetCampaign(f.Campaign)
	require.NoError(t, err)
	assert.False(t, c.Enabled)
}
