// Package poc stages ledger state for the crowdfund program and replays the
// published exploits against it.
package poc

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/fortiblox/x1-crowdfund/internal/types"
	"github.com/fortiblox/x1-crowdfund/pkg/accounts"
	"github.com/fortiblox/x1-crowdfund/pkg/crowdfund"
	"github.com/fortiblox/x1-crowdfund/pkg/journal"
	"github.com/fortiblox/x1-crowdfund/pkg/svm"
	"github.com/fortiblox/x1-crowdfund/pkg/svm/programs/system"
	"github.com/fortiblox/x1-crowdfund/pkg/svm/programs/token"
)

// Builder stages accounts and programs for an Environment. The system and
// token programs are always deployed.
type Builder struct {
	db       accounts.DB
	programs map[types.Pubkey]svm.Program
	staged   map[types.Pubkey]*accounts.Account
	mints    map[types.Pubkey]*token.Mint
	err      error
}

// NewBuilder stages into a fresh in-memory database.
func NewBuilder() *Builder {
	return NewBuilderWithDB(accounts.NewMemoryDB())
}

// NewBuilderWithDB stages into db, overwriting any account it stages.
func NewBuilderWithDB(db accounts.DB) *Builder {
	b := &Builder{
		db:       db,
		programs: make(map[types.Pubkey]svm.Program),
		staged:   make(map[types.Pubkey]*accounts.Account),
		mints:    make(map[types.Pubkey]*token.Mint),
	}
	return b.
		AddProgram(system.ProgramID, system.NewProcessor()).
		AddProgram(token.ProgramKey, token.NewProcessor())
}

// AddProgram deploys program at id.
func (b *Builder) AddProgram(id types.Pubkey, program svm.Program) *Builder {
	b.programs[id] = program
	b.staged[id] = &accounts.Account{
		Lamports:   1,
		Owner:      types.NativeLoaderAddr,
		Executable: true,
	}
	return b
}

// AddAccountWithLamports stages a data-less account.
func (b *Builder) AddAccountWithLamports(key, owner types.Pubkey, lamports uint64) *Builder {
	b.staged[key] = &accounts.Account{
		Lamports: lamports,
		Owner:    owner,
	}
	return b
}

// AddAccountWithData stages a rent-exempt account holding data.
func (b *Builder) AddAccountWithData(key, owner types.Pubkey, data []byte, executable bool) *Builder {
	buf := make([]byte, len(data))
	copy(buf, data)
	b.staged[key] = &accounts.Account{
		Lamports:   svm.RentExemptMinimum(uint64(len(data))),
		Data:       buf,
		Owner:      owner,
		Executable: executable,
	}
	return b
}

// AddMint stages an initialized mint. Supply grows as token accounts are
// staged.
func (b *Builder) AddMint(mint, authority types.Pubkey, decimals uint8) *Builder {
	b.mints[mint] = &token.Mint{
		MintAuthority: &authority,
		Decimals:      decimals,
		IsInitialized: true,
	}
	return b
}

// AddTokenAccount stages an initialized token account at key.
func (b *Builder) AddTokenAccount(key, owner, mint types.Pubkey, amount uint64) *Builder {
	m, ok := b.mints[mint]
	if !ok {
		b.AddMint(mint, mint, 6)
		m = b.mints[mint]
	}
	if m.Supply > ^uint64(0)-amount {
		b.err = errors.Errorf("mint %s supply overflow", mint)
		return b
	}
	m.Supply += amount

	acc := token.Account{
		Mint:   mint,
		Owner:  owner,
		Amount: amount,
		State:  token.AccountStateInitialized,
	}
	return b.AddAccountWithData(key, token.ProgramKey, acc.Marshal(), false)
}

// AddAssociatedAccountWithTokens stages wallet's associated token account for
// mint holding amount.
func (b *Builder) AddAssociatedAccountWithTokens(wallet, mint types.Pubkey, amount uint64) *Builder {
	addr, err := token.GetAssociatedAccount(wallet, mint)
	if err != nil {
		b.err = errors.Wrapf(err, "associated account of %s", wallet)
		return b
	}
	return b.AddTokenAccount(addr, wallet, mint, amount)
}

// Build writes the staged accounts and returns the environment.
func (b *Builder) Build() (*Environment, error) {
	if b.err != nil {
		return nil, b.err
	}

	updates := make(map[types.Pubkey]*accounts.Account, len(b.staged)+len(b.mints))
	for key, acc := range b.staged {
		updates[key] = acc
	}
	for key, m := range b.mints {
		updates[key] = &accounts.Account{
			Lamports: svm.RentExemptMinimum(token.MintSize),
			Data:     m.Marshal(),
			Owner:    token.ProgramKey,
		}
	}
	if err := b.db.SetAccounts(updates); err != nil {
		return nil, errors.Wrap(err, "failed to stage accounts")
	}

	rt := svm.NewRuntime(b.db)
	for id, p := range b.programs {
		rt.RegisterProgram(id, p)
	}

	return &Environment{
		db:      b.db,
		runtime: rt,
		log:     logrus.StandardLogger().WithField("type", "poc/environment"),
	}, nil
}

// Environment executes transactions against staged state.
type Environment struct {
	db      accounts.DB
	runtime *svm.Runtime
	journal *journal.Store
	log     *logrus.Entry
}

// DB returns the accounts database.
func (e *Environment) DB() accounts.DB {
	return e.db
}

// SetJournal records every executed transaction in j.
func (e *Environment) SetJournal(j *journal.Store) {
	e.journal = j
}

// blockhash makes transactions at different slots distinct.
func (e *Environment) blockhash() types.Hash {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], e.db.GetSlot())
	return types.ComputeHash(buf[:])
}

// ExecuteAsTransaction signs ixs with signers and executes them as one
// transaction. label names the journal entry.
func (e *Environment) ExecuteAsTransaction(label string, ixs []svm.Instruction, signers ...types.Keypair) (*svm.ExecutionResult, error) {
	tx, err := svm.NewTransaction(e.blockhash(), ixs, signers...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build transaction")
	}

	result, err := e.runtime.Execute(tx)
	if err != nil {
		return nil, err
	}

	log := e.log.WithFields(logrus.Fields{
		"label":     label,
		"signature": result.Signature.String(),
		"success":   result.Success,
	})
	if result.Err != nil {
		log = log.WithError(result.Err)
	}
	log.Info("executed transaction")

	if e.journal != nil {
		hash, err := e.StateHash()
		if err != nil {
			return nil, err
		}
		if _, err := e.journal.Append(journal.NewEntry(label, result, hash)); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// StateHash fingerprints every account in the environment.
func (e *Environment) StateHash() (types.Hash, error) {
	return accounts.ComputeStateHash(e.db)
}

// GetAccount returns an account.
func (e *Environment) GetAccount(key types.Pubkey) (*accounts.Account, error) {
	return e.db.GetAccount(key)
}

// GetTokenAccount returns a decoded token account.
func (e *Environment) GetTokenAccount(key types.Pubkey) (*token.Account, error) {
	acc, err := e.db.GetAccount(key)
	if err != nil {
		return nil, errors.Wrapf(err, "token account %s", key)
	}
	var ta token.Account
	if err := ta.Unmarshal(acc.Data); err != nil {
		return nil, err
	}
	return &ta, nil
}

// GetCampaign returns a decoded campaign.
func (e *Environment) GetCampaign(key types.Pubkey) (*crowdfund.Campaign, error) {
	acc, err := e.db.GetAccount(key)
	if err != nil {
		return nil, errors.Wrapf(err, "campaign %s", key)
	}
	return crowdfund.UnmarshalCampaign(acc.Data)
}
