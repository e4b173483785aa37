package token

import (
	"bytes"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/x1-crowdfund/internal/types"
	"github.com/fortiblox/x1-crowdfund/pkg/accounts"
	"github.com/fortiblox/x1-crowdfund/pkg/svm"
)

var rentExemptAccount = svm.RentExemptMinimum(AccountSize)

type tokenEnv struct {
	db *accounts.MemoryDB
	rt *svm.Runtime
}

func keypair(t *testing.T, n byte) types.Keypair {
	t.Helper()
	kp, err := types.NewKeypairFromSeed(bytes.Repeat([]byte{n}, 32))
	require.NoError(t, err)
	return kp
}

func newTokenEnv(t *testing.T) *tokenEnv {
	t.Helper()
	db := accounts.NewMemoryDB()
	require.NoError(t, db.SetAccount(ProgramKey, &accounts.Account{
		Lamports:   1,
		Data:       []byte("spl_token"),
		Owner:      types.NativeLoaderAddr,
		Executable: true,
	}))
	rt := svm.NewRuntime(db)
	rt.RegisterProgram(ProgramKey, NewProcessor())
	return &tokenEnv{db: db, rt: rt}
}

func (e *tokenEnv) setMint(t *testing.T, key types.Pubkey, m Mint) {
	t.Helper()
	require.NoError(t, e.db.SetAccount(key, &accounts.Account{
		Lamports: rentExemptAccount,
		Data:     m.Marshal(),
		Owner:    ProgramKey,
	}))
}

func (e *tokenEnv) setAccount(t *testing.T, key types.Pubkey, a Account) {
	t.Helper()
	require.NoError(t, e.db.SetAccount(key, &accounts.Account{
		Lamports: rentExemptAccount,
		Data:     a.Marshal(),
		Owner:    ProgramKey,
	}))
}

func (e *tokenEnv) account(t *testing.T, key types.Pubkey) Account {
	t.Helper()
	raw, err := e.db.GetAccount(key)
	require.NoError(t, err)
	var a Account
	require.NoError(t, a.Unmarshal(raw.Data))
	return a
}

func (e *tokenEnv) execute(t *testing.T, ix svm.Instruction, keys ...types.Keypair) *svm.ExecutionResult {
	t.Helper()
	tx, err := svm.NewTransaction(types.Hash{byte(e.db.GetSlot())}, []svm.Instruction{ix}, keys...)
	require.NoError(t, err)
	res, err := e.rt.Execute(tx)
	require.NoError(t, err)
	return res
}

type transferFixture struct {
	env   *tokenEnv
	owner types.Keypair
	mint  types.Pubkey
	src   types.Pubkey
	dst   types.Pubkey
}

func newTransferFixture(t *testing.T) *transferFixture {
	f := &transferFixture{
		env:   newTokenEnv(t),
		owner: keypair(t, 1),
		mint:  keypair(t, 2).Pubkey,
		src:   keypair(t, 3).Pubkey,
		dst:   keypair(t, 4).Pubkey,
	}
	f.env.setMint(t, f.mint, Mint{Supply: 200, Decimals: 6, IsInitialized: true})
	f.env.setAccount(t, f.src, Account{Mint: f.mint, Owner: f.owner.Pubkey, Amount: 100, State: AccountStateInitialized})
	f.env.setAccount(t, f.dst, Account{Mint: f.mint, Owner: types.Pubkey{9}, Amount: 100, State: AccountStateInitialized})
	return f
}

func TestTransfer(t *testing.T) {
	f := newTransferFixture(t)

	res := f.env.execute(t, NewTransferInstruction(ProgramKey, f.src, f.dst, f.owner.Pubkey, 40), f.owner)
	require.True(t, res.Success, res.Error())
	assert.Contains(t, res.Logs, "Program log: Instruction: Transfer")
	assert.Equal(t, svm.CUProgramDefault+svm.CUTokenTransfer, res.ComputeUnitsConsumed)

	assert.Equal(t, uint64(60), f.env.account(t, f.src).Amount)
	assert.Equal(t, uint64(140), f.env.account(t, f.dst).Amount)
}

func TestTransferIgnoresExtraSigners(t *testing.T) {
	f := newTransferFixture(t)
	extra := keypair(t, 5)

	res := f.env.execute(t, NewTransferInstruction(ProgramKey, f.src, f.dst, f.owner.Pubkey, 1, extra.Pubkey), f.owner, extra)
	require.True(t, res.Success, res.Error())
	assert.Equal(t, uint64(99), f.env.account(t, f.src).Amount)
}

func TestTransferErrors(t *testing.T) {
	stranger := keypair(t, 6)

	t.Run("insufficient funds", func(t *testing.T) {
		f := newTransferFixture(t)
		res := f.env.execute(t, NewTransferInstruction(ProgramKey, f.src, f.dst, f.owner.Pubkey, 101), f.owner)
		assert.Equal(t, ErrorInsufficientFunds, errors.Cause(res.Err.(svm.InstructionError).Err))
	})

	t.Run("wrong owner", func(t *testing.T) {
		f := newTransferFixture(t)
		res := f.env.execute(t, NewTransferInstruction(ProgramKey, f.src, f.dst, stranger.Pubkey, 1), stranger)
		assert.Equal(t, ErrorOwnerMismatch, errors.Cause(res.Err.(svm.InstructionError).Err))
	})

	t.Run("owner did not sign", func(t *testing.T) {
		f := newTransferFixture(t)
		ix := NewTransferInstruction(ProgramKey, f.src, f.dst, f.owner.Pubkey, 1)
		ix.Accounts[2].IsSigner = false
		ix.Accounts = append(ix.Accounts, svm.NewReadonlyAccountMeta(stranger.Pubkey, true))
		res := f.env.execute(t, ix, stranger)
		assert.ErrorIs(t, res.Err, ErrMissingRequiredSignature)
	})

	t.Run("mint mismatch", func(t *testing.T) {
		f := newTransferFixture(t)
		f.env.setAccount(t, f.dst, Account{Mint: types.Pubkey{8}, Owner: f.owner.Pubkey, State: AccountStateInitialized})
		res := f.env.execute(t, NewTransferInstruction(ProgramKey, f.src, f.dst, f.owner.Pubkey, 1), f.owner)
		assert.Equal(t, ErrorMintMismatch, errors.Cause(res.Err.(svm.InstructionError).Err))
	})

	t.Run("frozen", func(t *testing.T) {
		f := newTransferFixture(t)
		f.env.setAccount(t, f.dst, Account{Mint: f.mint, Owner: f.owner.Pubkey, State: AccountStateFrozen})
		res := f.env.execute(t, NewTransferInstruction(ProgramKey, f.src, f.dst, f.owner.Pubkey, 1), f.owner)
		assert.Equal(t, ErrorAccountFrozen, errors.Cause(res.Err.(svm.InstructionError).Err))
	})

	t.Run("foreign account", func(t *testing.T) {
		f := newTransferFixture(t)
		acc, err := f.env.db.GetAccount(f.dst)
		require.NoError(t, err)
		acc.Owner = types.Pubkey{8}
		require.NoError(t, f.env.db.SetAccount(f.dst, acc))

		res := f.env.execute(t, NewTransferInstruction(ProgramKey, f.src, f.dst, f.owner.Pubkey, 1), f.owner)
		assert.ErrorIs(t, res.Err, ErrIncorrectProgramID)
	})

	t.Run("uninitialized", func(t *testing.T) {
		f := newTransferFixture(t)
		f.env.setAccount(t, f.dst, Account{})
		res := f.env.execute(t, NewTransferInstruction(ProgramKey, f.src, f.dst, f.owner.Pubkey, 1), f.owner)
		assert.Equal(t, ErrorUninitializedState, errors.Cause(res.Err.(svm.InstructionError).Err))
	})

	t.Run("trailing data", func(t *testing.T) {
		f := newTransferFixture(t)
		ix := NewTransferInstruction(ProgramKey, f.src, f.dst, f.owner.Pubkey, 1)
		ix.Data = append(ix.Data, 0)
		res := f.env.execute(t, ix, f.owner)
		assert.Equal(t, ErrorInvalidInstruction, errors.Cause(res.Err.(svm.InstructionError).Err))
	})
}

func TestTransferByDelegate(t *testing.T) {
	f := newTransferFixture(t)
	delegate := keypair(t, 7)
	f.env.setAccount(t, f.src, Account{
		Mint:            f.mint,
		Owner:           f.owner.Pubkey,
		Amount:          100,
		Delegate:        &delegate.Pubkey,
		DelegatedAmount: 30,
		State:           AccountStateInitialized,
	})

	res := f.env.execute(t, NewTransferInstruction(ProgramKey, f.src, f.dst, delegate.Pubkey, 31), delegate)
	assert.Equal(t, ErrorInsufficientFunds, errors.Cause(res.Err.(svm.InstructionError).Err))

	res = f.env.execute(t, NewTransferInstruction(ProgramKey, f.src, f.dst, delegate.Pubkey, 30), delegate)
	require.True(t, res.Success, res.Error())

	src := f.env.account(t, f.src)
	assert.Equal(t, uint64(70), src.Amount)
	assert.Zero(t, src.DelegatedAmount)
	assert.Nil(t, src.Delegate)
}

func TestInitializeAndMintTo(t *testing.T) {
	env := newTokenEnv(t)
	authority := keypair(t, 1)
	mint := keypair(t, 2).Pubkey
	acc := keypair(t, 3).Pubkey
	holder := keypair(t, 4).Pubkey

	require.NoError(t, env.db.SetAccounts(map[types.Pubkey]*accounts.Account{
		mint: {Lamports: rentExemptAccount, Data: make([]byte, MintSize), Owner: ProgramKey},
		acc:  {Lamports: rentExemptAccount, Data: make([]byte, AccountSize), Owner: ProgramKey},
	}))

	res := env.execute(t, NewInitializeAccountInstruction(acc, mint, holder), authority)
	assert.Equal(t, ErrorInvalidMint, errors.Cause(res.Err.(svm.InstructionError).Err))

	tx, err := svm.NewTransaction(types.Hash{42}, []svm.Instruction{
		NewInitializeMintInstruction(mint, authority.Pubkey, 6),
		NewInitializeAccountInstruction(acc, mint, holder),
		NewMintToInstruction(mint, acc, authority.Pubkey, 500),
	}, authority)
	require.NoError(t, err)
	res, err = env.rt.Execute(tx)
	require.NoError(t, err)
	require.True(t, res.Success, res.Error())

	a := env.account(t, acc)
	assert.Equal(t, mint, a.Mint)
	assert.Equal(t, holder, a.Owner)
	assert.Equal(t, uint64(500), a.Amount)

	raw, err := env.db.GetAccount(mint)
	require.NoError(t, err)
	var m Mint
	require.NoError(t, m.Unmarshal(raw.Data))
	assert.Equal(t, uint64(500), m.Supply)
	assert.Equal(t, uint8(6), m.Decimals)

	stranger := keypair(t, 5)
	res = env.execute(t, NewMintToInstruction(mint, acc, stranger.Pubkey, 1), stranger)
	assert.Equal(t, ErrorOwnerMismatch, errors.Cause(res.Err.(svm.InstructionError).Err))

	res = env.execute(t, NewInitializeMintInstruction(mint, authority.Pubkey, 6), authority)
	assert.Equal(t, ErrorAlreadyInUse, errors.Cause(res.Err.(svm.InstructionError).Err))
}
