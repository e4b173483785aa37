package svm

import (
	"bytes"
	"fmt"
	"math/bits"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/fortiblox/x1-crowdfund/internal/types"
	"github.com/fortiblox/x1-crowdfund/pkg/accounts"
)

// Runtime executes transactions against an accounts database.
//
// Execute calls are serialized. Each transaction runs against a working set
// loaded from the database and is committed in a single batch only if every
// instruction succeeds, so a failed transaction has no observable effect.
type Runtime struct {
	mu sync.Mutex

	db       accounts.DB
	programs map[types.Pubkey]Program

	computeLimit uint64
	log          *logrus.Entry
}

// NewRuntime creates a runtime over db with no registered programs.
func NewRuntime(db accounts.DB) *Runtime {
	return &Runtime{
		db:           db,
		programs:     make(map[types.Pubkey]Program),
		computeLimit: CUDefault,
		log:          logrus.StandardLogger().WithField("type", "svm/runtime"),
	}
}

// RegisterProgram makes p executable under id. The program account itself
// must exist in the database and be marked executable.
func (r *Runtime) RegisterProgram(id types.Pubkey, p Program) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.programs[id] = p
}

// SetComputeLimit changes the per-transaction compute budget. A limit of 0
// meters consumption without enforcing a budget.
func (r *Runtime) SetComputeLimit(limit uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.computeLimit = limit
}

// Execute runs a transaction. Transaction failures are reported in the result;
// the error is non-nil only when the database could not be read or written.
func (r *Runtime) Execute(tx *Transaction) (*ExecutionResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := &ExecutionResult{
		Signature: tx.Signature(),
		Logs:      make([]string, 0),
	}
	log := r.log.WithField("signature", result.Signature.String())

	if err := tx.Verify(); err != nil {
		result.Err = err
		log.WithError(err).Debug("rejected transaction")
		return result, nil
	}

	ex := &executor{
		r:        r,
		accounts: make(map[types.Pubkey]*accounts.Account),
		dirty:    make(map[types.Pubkey]bool),
		meter:    r.newMeter(),
		logs:     &result.Logs,
	}
	if err := ex.load(tx); err != nil {
		return nil, err
	}

	for i, ix := range tx.Message.Instructions {
		if err := ex.meter.Consume(CUProgramDefault); err != nil {
			result.Err = InstructionError{Index: i, Err: err}
			break
		}
		if err := ex.invoke(ix, 1); err != nil {
			result.Err = InstructionError{Index: i, Err: err}
			break
		}
	}
	result.ComputeUnitsConsumed = ex.meter.Consumed()

	if result.Err != nil {
		log.WithError(result.Err).Debug("transaction failed")
		return result, nil
	}

	updates := make(map[types.Pubkey]*accounts.Account, len(ex.dirty))
	for key := range ex.dirty {
		updates[key] = ex.accounts[key]
		result.ModifiedAccounts = append(result.ModifiedAccounts, key)
	}
	sort.Slice(result.ModifiedAccounts, func(i, j int) bool {
		return result.ModifiedAccounts[i].Compare(result.ModifiedAccounts[j]) < 0
	})

	if err := r.db.SetAccounts(updates); err != nil {
		return nil, errors.Wrap(err, "failed to commit accounts")
	}
	delta, err := accounts.ComputeDeltaHash(r.db, result.ModifiedAccounts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to hash committed accounts")
	}
	result.DeltaHash = delta

	result.Success = true
	log.WithFields(logrus.Fields{
		"compute_units": result.ComputeUnitsConsumed,
		"modified":      len(result.ModifiedAccounts),
	}).Debug("transaction committed")
	return result, nil
}

func (r *Runtime) newMeter() *ComputeMeter {
	if r.computeLimit == 0 {
		return NewComputeMeterDisabled()
	}
	return NewComputeMeter(r.computeLimit)
}

// executor holds the working set of one transaction.
type executor struct {
	r        *Runtime
	accounts map[types.Pubkey]*accounts.Account
	dirty    map[types.Pubkey]bool
	meter    *ComputeMeter
	logs     *[]string
}

// load reads every account referenced by the transaction. Missing accounts
// are materialized as empty system-owned accounts.
func (ex *executor) load(tx *Transaction) error {
	for _, ix := range tx.Message.Instructions {
		keys := make([]types.Pubkey, 0, len(ix.Accounts)+1)
		keys = append(keys, ix.ProgramID)
		for _, meta := range ix.Accounts {
			keys = append(keys, meta.Pubkey)
		}

		for _, key := range keys {
			if _, ok := ex.accounts[key]; ok {
				continue
			}
			acc, err := ex.r.db.GetAccount(key)
			if errors.Is(err, accounts.ErrAccountNotFound) {
				acc = &accounts.Account{Owner: types.SystemProgramAddr}
			} else if err != nil {
				return errors.Wrapf(err, "failed to load account %s", key)
			}
			ex.accounts[key] = acc
		}
	}
	return nil
}

func (ex *executor) logf(format string, args ...interface{}) {
	*ex.logs = append(*ex.logs, fmt.Sprintf(format, args...))
}

// invoke runs ix at the given stack height. Privileges of the account metas
// must already be validated by the caller.
func (ex *executor) invoke(ix Instruction, height int) error {
	ex.logf("Program %s invoke [%d]", ix.ProgramID, height)

	err := ex.invokeProgram(ix, height)
	if err != nil {
		ex.logf("Program %s failed: %v", ix.ProgramID, err)
		return err
	}

	ex.logf("Program %s success", ix.ProgramID)
	return nil
}

func (ex *executor) invokeProgram(ix Instruction, height int) error {
	prog, ok := ex.r.programs[ix.ProgramID]
	if !ok {
		return errors.Wrapf(ErrProgramNotFound, "%s", ix.ProgramID)
	}
	progAcc := ex.accounts[ix.ProgramID]
	if progAcc == nil || !progAcc.Executable {
		return errors.Wrapf(ErrProgramNotExecutable, "%s", ix.ProgramID)
	}

	f := newFrame(ex, ix, height)
	if err := prog.Process(f, ix.Data); err != nil {
		return err
	}
	if err := f.verify(); err != nil {
		return err
	}
	f.commit()
	return nil
}

// snapshot is the state of an account when a frame last synchronized.
type snapshot struct {
	owner      types.Pubkey
	lamports   uint64
	data       []byte
	executable bool
}

// frame is the InvokeContext of one program invocation.
type frame struct {
	ex        *executor
	programID types.Pubkey
	height    int

	infos  []*AccountInfo
	unique []*AccountInfo
	pre    map[types.Pubkey]snapshot
}

func newFrame(ex *executor, ix Instruction, height int) *frame {
	f := &frame{
		ex:        ex,
		programID: ix.ProgramID,
		height:    height,
		infos:     make([]*AccountInfo, len(ix.Accounts)),
	}

	byKey := make(map[types.Pubkey]*AccountInfo, len(ix.Accounts))
	for i, meta := range ix.Accounts {
		if info, ok := byKey[meta.Pubkey]; ok {
			info.IsSigner = info.IsSigner || meta.IsSigner
			info.IsWritable = info.IsWritable || meta.IsWritable
			f.infos[i] = info
			continue
		}

		info := &AccountInfo{
			Key:        meta.Pubkey,
			IsSigner:   meta.IsSigner,
			IsWritable: meta.IsWritable,
		}
		byKey[meta.Pubkey] = info
		f.infos[i] = info
		f.unique = append(f.unique, info)
	}

	f.refresh()
	return f
}

// refresh reloads every account from the working set and resets the baseline
// used by verify.
func (f *frame) refresh() {
	f.pre = make(map[types.Pubkey]snapshot, len(f.unique))
	for _, info := range f.unique {
		acc := f.ex.accounts[info.Key]

		data := make([]byte, len(acc.Data))
		copy(data, acc.Data)

		info.Owner = acc.Owner
		info.Lamports = acc.Lamports
		info.Data = data
		info.Executable = acc.Executable
		info.RentEpoch = acc.RentEpoch

		f.pre[info.Key] = snapshot{
			owner:      acc.Owner,
			lamports:   acc.Lamports,
			data:       acc.Data,
			executable: acc.Executable,
		}
	}
}

// verify checks the changes the program made since the last refresh.
func (f *frame) verify() error {
	var preHi, preLo, postHi, postLo uint64
	var carry uint64

	for _, info := range f.unique {
		pre := f.pre[info.Key]
		owned := pre.owner == f.programID

		if info.Executable != pre.executable {
			return errors.Wrapf(ErrExecutableModified, "account %s", info.Key)
		}
		if info.Owner != pre.owner && (!owned || !info.IsWritable) {
			return errors.Wrapf(ErrModifiedProgramID, "account %s", info.Key)
		}
		if !bytes.Equal(info.Data, pre.data) {
			if !info.IsWritable {
				return errors.Wrapf(ErrReadonlyDataModified, "account %s", info.Key)
			}
			if !owned {
				return errors.Wrapf(ErrExternalAccountDataModified, "account %s", info.Key)
			}
		}
		if info.Lamports != pre.lamports {
			if !info.IsWritable {
				return errors.Wrapf(ErrReadonlyLamportChange, "account %s", info.Key)
			}
			if info.Lamports < pre.lamports && !owned {
				return errors.Wrapf(ErrExternalAccountLamportSpend, "account %s", info.Key)
			}
		}

		preLo, carry = bits.Add64(preLo, pre.lamports, 0)
		preHi += carry
		postLo, carry = bits.Add64(postLo, info.Lamports, 0)
		postHi += carry
	}

	if preHi != postHi || preLo != postLo {
		return ErrUnbalancedInstruction
	}
	return nil
}

// commit writes the frame's accounts back into the working set.
func (f *frame) commit() {
	for _, info := range f.unique {
		pre := f.pre[info.Key]
		if info.Owner == pre.owner && info.Lamports == pre.lamports && bytes.Equal(info.Data, pre.data) {
			continue
		}

		acc := f.ex.accounts[info.Key]
		acc.Owner = info.Owner
		acc.Lamports = info.Lamports
		acc.Data = make([]byte, len(info.Data))
		copy(acc.Data, info.Data)
		f.ex.dirty[info.Key] = true
	}
}

// lookup returns the frame's view of key, or nil if it was not passed in.
func (f *frame) lookup(key types.Pubkey) *AccountInfo {
	for _, info := range f.unique {
		if info.Key == key {
			return info
		}
	}
	return nil
}

// ProgramID implements InvokeContext.
func (f *frame) ProgramID() types.Pubkey {
	return f.programID
}

// Accounts implements InvokeContext.
func (f *frame) Accounts() []*AccountInfo {
	return f.infos
}

// GetAccount implements InvokeContext.
func (f *frame) GetAccount(index int) (*AccountInfo, error) {
	if index < 0 || index >= len(f.infos) {
		return nil, errors.Wrapf(ErrAccountNotFound, "index %d", index)
	}
	return f.infos[index], nil
}

// GetRentMinimum implements InvokeContext.
func (f *frame) GetRentMinimum(dataLen uint64) uint64 {
	return RentExemptMinimum(dataLen)
}

// ConsumeCU implements InvokeContext.
func (f *frame) ConsumeCU(cost uint64) error {
	return f.ex.meter.Consume(cost)
}

// Log implements InvokeContext.
func (f *frame) Log(msg string) {
	f.ex.logf("Program log: %s", msg)
}
