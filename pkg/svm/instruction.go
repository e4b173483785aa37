package svm

import (
	"github.com/fortiblox/x1-crowdfund/internal/types"
)

// AccountMeta describes an account referenced by an instruction.
type AccountMeta struct {
	Pubkey     types.Pubkey
	IsSigner   bool
	IsWritable bool
}

// NewAccountMeta creates a writable AccountMeta.
func NewAccountMeta(pubkey types.Pubkey, isSigner bool) AccountMeta {
	return AccountMeta{Pubkey: pubkey, IsSigner: isSigner, IsWritable: true}
}

// NewReadonlyAccountMeta creates a read-only AccountMeta.
func NewReadonlyAccountMeta(pubkey types.Pubkey, isSigner bool) AccountMeta {
	return AccountMeta{Pubkey: pubkey, IsSigner: isSigner, IsWritable: false}
}

// Instruction is a single program invocation.
type Instruction struct {
	ProgramID types.Pubkey
	Accounts  []AccountMeta
	Data      []byte
}

// NewInstruction creates a new instruction.
func NewInstruction(programID types.Pubkey, data []byte, accounts ...AccountMeta) Instruction {
	return Instruction{
		ProgramID: programID,
		Accounts:  accounts,
		Data:      data,
	}
}

// AccountInfo holds account state as seen by an executing program. Programs
// mutate Lamports, Data and Owner in place; the runtime validates the changes
// when the program returns.
type AccountInfo struct {
	Key        types.Pubkey
	Owner      types.Pubkey
	Lamports   uint64
	Data       []byte
	Executable bool
	RentEpoch  uint64
	IsSigner   bool
	IsWritable bool
}

// Program is a registered on-ledger program.
type Program interface {
	// Process executes one instruction addressed to the program.
	Process(ctx InvokeContext, data []byte) error
}

// ProgramFunc adapts a function to the Program interface.
type ProgramFunc func(ctx InvokeContext, data []byte) error

// Process implements Program.
func (f ProgramFunc) Process(ctx InvokeContext, data []byte) error {
	return f(ctx, data)
}

// InvokeContext provides context for program execution.
type InvokeContext interface {
	// ProgramID returns the address of the executing program.
	ProgramID() types.Pubkey

	// Accounts returns the instruction accounts in positional order.
	Accounts() []*AccountInfo

	// GetAccount returns the account at the given index.
	GetAccount(index int) (*AccountInfo, error)

	// GetRentMinimum returns the rent-exempt minimum for given data size.
	GetRentMinimum(dataLen uint64) uint64

	// ConsumeCU charges compute units against the transaction budget.
	ConsumeCU(cost uint64) error

	// InvokeSigned executes ix as a cross-program invocation. Each entry of
	// signerSeeds is the seed list of a program derived address of the calling
	// program; those addresses are treated as signers of ix.
	InvokeSigned(ix Instruction, signerSeeds ...[][]byte) error

	// Log records a program log message.
	Log(msg string)
}
