package svm

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/x1-crowdfund/internal/types"
	"github.com/fortiblox/x1-crowdfund/pkg/accounts"
)

func testKeypair(t *testing.T, n byte) types.Keypair {
	t.Helper()
	kp, err := types.NewKeypairFromSeed(bytes.Repeat([]byte{n}, 32))
	require.NoError(t, err)
	return kp
}

type testEnv struct {
	db *accounts.MemoryDB
	rt *Runtime
}

func newTestEnv() *testEnv {
	db := accounts.NewMemoryDB()
	return &testEnv{db: db, rt: NewRuntime(db)}
}

func (e *testEnv) addProgram(t *testing.T, id types.Pubkey, p Program) {
	t.Helper()
	require.NoError(t, e.db.SetAccount(id, &accounts.Account{
		Lamports:   1,
		Data:       []byte("program"),
		Owner:      types.NativeLoaderAddr,
		Executable: true,
	}))
	e.rt.RegisterProgram(id, p)
}

func (e *testEnv) addAccount(t *testing.T, key, owner types.Pubkey, lamports uint64, data []byte) {
	t.Helper()
	require.NoError(t, e.db.SetAccount(key, &accounts.Account{
		Lamports: lamports,
		Data:     data,
		Owner:    owner,
	}))
}

func (e *testEnv) lamports(t *testing.T, key types.Pubkey) uint64 {
	t.Helper()
	acc, err := e.db.GetAccount(key)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return 0
	}
	require.NoError(t, err)
	return acc.Lamports
}

func (e *testEnv) execute(t *testing.T, ixs []Instruction, keys ...types.Keypair) *ExecutionResult {
	t.Helper()
	tx, err := NewTransaction(types.ComputeHash([]byte{byte(e.db.GetSlot())}), ixs, keys...)
	require.NoError(t, err)
	res, err := e.rt.Execute(tx)
	require.NoError(t, err)
	return res
}

// moveLamports moves the amount encoded in data from account 0 to account 1.
var moveLamports = ProgramFunc(func(ctx InvokeContext, data []byte) error {
	if len(data) != 8 {
		return ErrInvalidInstruction
	}
	amount := binary.LittleEndian.Uint64(data)
	from, err := ctx.GetAccount(0)
	if err != nil {
		return err
	}
	to, err := ctx.GetAccount(1)
	if err != nil {
		return err
	}
	if from.Lamports < amount {
		return CustomError(1)
	}
	from.Lamports -= amount
	to.Lamports += amount
	ctx.Log("moved")
	return nil
})

func amountData(v uint64) []byte {
	return binary.LittleEndian.AppendUint64(nil, v)
}

func TestExecuteOwnedDebit(t *testing.T) {
	env := newTestEnv()
	prog := testKeypair(t, 1).Pubkey
	payer := testKeypair(t, 2)
	from := testKeypair(t, 3).Pubkey
	to := testKeypair(t, 4).Pubkey

	env.addProgram(t, prog, moveLamports)
	env.addAccount(t, from, prog, 100, nil)

	ix := NewInstruction(prog, amountData(40),
		NewAccountMeta(from, false),
		NewAccountMeta(to, false),
		NewReadonlyAccountMeta(payer.Pubkey, true),
	)
	res := env.execute(t, []Instruction{ix}, payer)

	require.True(t, res.Success, res.Error())
	assert.Equal(t, uint64(60), env.lamports(t, from))
	assert.Equal(t, uint64(40), env.lamports(t, to))
	assert.Equal(t, CUProgramDefault, res.ComputeUnitsConsumed)
	assert.ElementsMatch(t, []types.Pubkey{from, to}, res.ModifiedAccounts)
	delta, err := accounts.ComputeDeltaHash(env.db, res.ModifiedAccounts)
	require.NoError(t, err)
	assert.Equal(t, delta, res.DeltaHash)
	assert.False(t, res.DeltaHash.IsZero())
	assert.Equal(t, []string{
		"Program " + prog.String() + " invoke [1]",
		"Program log: moved",
		"Program " + prog.String() + " success",
	}, res.Logs)
}

func TestExecuteOwnershipRules(t *testing.T) {
	prog := testKeypair(t, 1).Pubkey
	other := testKeypair(t, 9).Pubkey
	payer := testKeypair(t, 2)
	a := testKeypair(t, 3).Pubkey
	b := testKeypair(t, 4).Pubkey

	cases := []struct {
		name    string
		owner   types.Pubkey
		program ProgramFunc
		metas   []AccountMeta
		want    error
	}{
		{
			name:    "debit of foreign account",
			owner:   other,
			program: moveLamports,
			metas:   []AccountMeta{NewAccountMeta(a, false), NewAccountMeta(b, false)},
			want:    ErrExternalAccountLamportSpend,
		},
		{
			name:    "credit of read-only account",
			owner:   prog,
			program: moveLamports,
			metas:   []AccountMeta{NewAccountMeta(a, false), NewReadonlyAccountMeta(b, false)},
			want:    ErrReadonlyLamportChange,
		},
		{
			name:  "data of foreign account",
			owner: other,
			program: func(ctx InvokeContext, _ []byte) error {
				ctx.Accounts()[0].Data[0] = 0xff
				return nil
			},
			metas: []AccountMeta{NewAccountMeta(a, false)},
			want:  ErrExternalAccountDataModified,
		},
		{
			name:  "data of read-only account",
			owner: prog,
			program: func(ctx InvokeContext, _ []byte) error {
				ctx.Accounts()[0].Data[0] = 0xff
				return nil
			},
			metas: []AccountMeta{NewReadonlyAccountMeta(a, false)},
			want:  ErrReadonlyDataModified,
		},
		{
			name:  "owner of foreign account",
			owner: other,
			program: func(ctx InvokeContext, _ []byte) error {
				ctx.Accounts()[0].Owner = prog
				return nil
			},
			metas: []AccountMeta{NewAccountMeta(a, false)},
			want:  ErrModifiedProgramID,
		},
		{
			name:  "executable flag",
			owner: prog,
			program: func(ctx InvokeContext, _ []byte) error {
				ctx.Accounts()[0].Executable = true
				return nil
			},
			metas: []AccountMeta{NewAccountMeta(a, false)},
			want:  ErrExecutableModified,
		},
		{
			name:  "minted lamports",
			owner: prog,
			program: func(ctx InvokeContext, _ []byte) error {
				ctx.Accounts()[0].Lamports++
				return nil
			},
			metas: []AccountMeta{NewAccountMeta(a, false)},
			want:  ErrUnbalancedInstruction,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv()
			env.addProgram(t, prog, tc.program)
			env.addAccount(t, a, tc.owner, 100, []byte{1, 2, 3})
			before, err := accounts.ComputeStateHash(env.db)
			require.NoError(t, err)

			metas := append(tc.metas, NewReadonlyAccountMeta(payer.Pubkey, true))
			res := env.execute(t, []Instruction{NewInstruction(prog, amountData(10), metas...)}, payer)

			require.False(t, res.Success)
			assert.ErrorIs(t, res.Err, tc.want)

			var ixErr InstructionError
			require.True(t, errors.As(res.Err, &ixErr))
			assert.Equal(t, 0, ixErr.Index)

			after, err := accounts.ComputeStateHash(env.db)
			require.NoError(t, err)
			assert.Equal(t, before, after)
		})
	}
}

func TestExecuteIsAtomic(t *testing.T) {
	env := newTestEnv()
	prog := testKeypair(t, 1).Pubkey
	payer := testKeypair(t, 2)
	from := testKeypair(t, 3).Pubkey
	to := testKeypair(t, 4).Pubkey

	env.addProgram(t, prog, moveLamports)
	env.addAccount(t, from, prog, 100, nil)
	slot := env.db.GetSlot()

	metas := []AccountMeta{
		NewAccountMeta(from, false),
		NewAccountMeta(to, false),
		NewReadonlyAccountMeta(payer.Pubkey, true),
	}
	res := env.execute(t, []Instruction{
		NewInstruction(prog, amountData(60), metas...),
		NewInstruction(prog, amountData(60), metas...),
	}, payer)

	require.False(t, res.Success)
	assert.Equal(t, CustomError(1), errors.Cause(res.Err.(InstructionError).Err))
	assert.Equal(t, 1, res.Err.(InstructionError).Index)
	assert.Equal(t, uint64(100), env.lamports(t, from))
	assert.Equal(t, uint64(0), env.lamports(t, to))
	assert.Equal(t, slot, env.db.GetSlot())
	assert.Empty(t, res.ModifiedAccounts)
}

func TestExecuteRejectsBadSignature(t *testing.T) {
	env := newTestEnv()
	prog := testKeypair(t, 1).Pubkey
	payer := testKeypair(t, 2)
	env.addProgram(t, prog, moveLamports)

	ix := NewInstruction(prog, amountData(0), NewReadonlyAccountMeta(payer.Pubkey, true))
	tx, err := NewTransaction(types.Hash{1}, []Instruction{ix}, payer)
	require.NoError(t, err)
	require.NoError(t, tx.Verify())

	tx.Message.RecentBlockhash = types.Hash{2}
	res, err := env.rt.Execute(tx)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrSignatureFailure)
	assert.Empty(t, res.Logs)

	_, err = NewTransaction(types.Hash{1}, []Instruction{ix})
	assert.ErrorIs(t, err, ErrMissingSignature)
}

func TestExecuteRejectsUnlistedSigner(t *testing.T) {
	env := newTestEnv()
	prog := testKeypair(t, 1).Pubkey
	owner := testKeypair(t, 2)
	attacker := testKeypair(t, 3)
	from := testKeypair(t, 4).Pubkey
	to := testKeypair(t, 5).Pubkey

	requireOwner := ProgramFunc(func(ctx InvokeContext, data []byte) error {
		signer, err := ctx.GetAccount(2)
		if err != nil {
			return err
		}
		if !signer.IsSigner {
			return ErrMissingSignature
		}
		return moveLamports(ctx, data)
	})
	env.addProgram(t, prog, requireOwner)
	env.addAccount(t, from, prog, 100, nil)

	ix := NewInstruction(prog, amountData(40),
		NewAccountMeta(from, false),
		NewAccountMeta(to, false),
		NewReadonlyAccountMeta(owner.Pubkey, true),
	)

	unsigned := &Transaction{Message: Message{
		RecentBlockhash: types.Hash{1},
		Instructions:    []Instruction{ix},
	}}

	substituted := &Transaction{Message: Message{
		Signers:         []types.Pubkey{attacker.Pubkey},
		RecentBlockhash: types.Hash{1},
		Instructions:    []Instruction{ix},
	}}
	substituted.Signatures = make([]types.Signature, 1)
	require.NoError(t, substituted.Sign(attacker))

	extra := &Transaction{Message: Message{
		Signers:         []types.Pubkey{owner.Pubkey, attacker.Pubkey},
		RecentBlockhash: types.Hash{1},
		Instructions:    []Instruction{ix},
	}}
	extra.Signatures = make([]types.Signature, 2)
	require.NoError(t, extra.Sign(owner, attacker))

	before, err := accounts.ComputeStateHash(env.db)
	require.NoError(t, err)

	for name, tx := range map[string]*Transaction{
		"no signers":         unsigned,
		"other signer":       substituted,
		"unrequested signer": extra,
	} {
		res, err := env.rt.Execute(tx)
		require.NoError(t, err, name)
		assert.False(t, res.Success, name)
		assert.ErrorIs(t, res.Err, ErrMissingSignature, name)
		assert.Empty(t, res.Logs, name)
	}

	after, err := accounts.ComputeStateHash(env.db)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, uint64(100), env.lamports(t, from))

	res := env.execute(t, []Instruction{ix}, owner)
	require.True(t, res.Success, res.Error())
	assert.Equal(t, uint64(60), env.lamports(t, from))
}

func TestExecuteUnknownProgram(t *testing.T) {
	env := newTestEnv()
	payer := testKeypair(t, 2)
	prog := testKeypair(t, 1).Pubkey
	notExec := testKeypair(t, 5).Pubkey

	env.rt.RegisterProgram(notExec, moveLamports)
	env.addAccount(t, notExec, types.NativeLoaderAddr, 1, []byte("program"))

	res := env.execute(t, []Instruction{NewInstruction(prog, nil, NewReadonlyAccountMeta(payer.Pubkey, true))}, payer)
	assert.ErrorIs(t, res.Err, ErrProgramNotFound)

	res = env.execute(t, []Instruction{NewInstruction(notExec, nil, NewReadonlyAccountMeta(payer.Pubkey, true))}, payer)
	assert.ErrorIs(t, res.Err, ErrProgramNotExecutable)
}

func TestExecuteComputeLimit(t *testing.T) {
	env := newTestEnv()
	prog := testKeypair(t, 1).Pubkey
	payer := testKeypair(t, 2)
	env.addProgram(t, prog, ProgramFunc(func(ctx InvokeContext, _ []byte) error {
		return ctx.ConsumeCU(1)
	}))
	env.rt.SetComputeLimit(CUProgramDefault)

	res := env.execute(t, []Instruction{NewInstruction(prog, nil, NewReadonlyAccountMeta(payer.Pubkey, true))}, payer)
	assert.ErrorIs(t, res.Err, ErrComputeExceeded)
	assert.Equal(t, CUProgramDefault, res.ComputeUnitsConsumed)
}

func TestExecuteUnmetered(t *testing.T) {
	env := newTestEnv()
	prog := testKeypair(t, 1).Pubkey
	payer := testKeypair(t, 2)
	env.addProgram(t, prog, ProgramFunc(func(ctx InvokeContext, _ []byte) error {
		return ctx.ConsumeCU(CUMax)
	}))
	env.rt.SetComputeLimit(0)

	res := env.execute(t, []Instruction{NewInstruction(prog, nil, NewReadonlyAccountMeta(payer.Pubkey, true))}, payer)
	require.True(t, res.Success, res.Error())
	assert.Equal(t, CUProgramDefault+CUMax, res.ComputeUnitsConsumed)
	assert.True(t, res.DeltaHash.IsZero())
}

func TestExecuteDuplicateAccounts(t *testing.T) {
	env := newTestEnv()
	prog := testKeypair(t, 1).Pubkey
	payer := testKeypair(t, 2)
	acc := testKeypair(t, 3).Pubkey

	env.addProgram(t, prog, moveLamports)
	env.addAccount(t, acc, prog, 100, nil)

	// Aliased metas share one view, so a self transfer is a no-op.
	res := env.execute(t, []Instruction{NewInstruction(prog, amountData(30),
		NewAccountMeta(acc, false),
		NewReadonlyAccountMeta(acc, false),
		NewReadonlyAccountMeta(payer.Pubkey, true),
	)}, payer)

	require.True(t, res.Success, res.Error())
	assert.Equal(t, uint64(100), env.lamports(t, acc))
	assert.Empty(t, res.ModifiedAccounts)
}

func TestRentExemptMinimum(t *testing.T) {
	assert.Equal(t, uint64(890_880), RentExemptMinimum(0))
	assert.Equal(t, uint64(2_039_280), RentExemptMinimum(165))
	assert.Equal(t, uint64(1_461_600), RentExemptMinimum(82))
}
