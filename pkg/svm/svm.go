// Package svm implements the host runtime that executes crowdfund and settlement
// programs.
//
// The runtime is responsible for:
// - Verifying transaction signatures
// - Loading accounts into a per-transaction working set
// - Dispatching instructions to registered programs
// - Enforcing account ownership and writability rules after every instruction
// - Cross-Program Invocation (CPI) with program derived signer seeds
// - Compute unit metering
// - Committing the working set atomically on success
//
// Programs are Go implementations of the Program interface registered under
// their address; there is no bytecode loader.
package svm

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/fortiblox/x1-crowdfund/internal/types"
)

var (
	// ErrAccountNotFound is returned when a required account is missing.
	ErrAccountNotFound = errors.New("account not found")

	// ErrInvalidInstruction is returned for malformed instructions.
	ErrInvalidInstruction = errors.New("invalid instruction")

	// ErrProgramNotFound is returned when an instruction targets an unknown program.
	ErrProgramNotFound = errors.New("program not found")

	// ErrProgramNotExecutable is returned when the program account is not executable.
	ErrProgramNotExecutable = errors.New("program account not executable")

	// ErrSignatureFailure is returned when a transaction signature does not verify.
	ErrSignatureFailure = errors.New("signature verification failed")

	// ErrMissingSignature is returned when a required signer did not sign.
	ErrMissingSignature = errors.New("missing signature for required signer")

	// ErrExternalAccountDataModified is returned when a program modifies data of
	// an account it does not own.
	ErrExternalAccountDataModified = errors.New("instruction modified data of an account it does not own")

	// ErrExternalAccountLamportSpend is returned when a program debits an account
	// it does not own.
	ErrExternalAccountLamportSpend = errors.New("instruction spent from the balance of an account it does not own")

	// ErrReadonlyDataModified is returned when a read-only account changes.
	ErrReadonlyDataModified = errors.New("instruction modified data of a read-only account")

	// ErrReadonlyLamportChange is returned when a read-only account balance changes.
	ErrReadonlyLamportChange = errors.New("instruction changed the balance of a read-only account")

	// ErrModifiedProgramID is returned when a program reassigns an account it does not own.
	ErrModifiedProgramID = errors.New("instruction illegally modified the program id of an account")

	// ErrExecutableModified is returned when an executable account changes.
	ErrExecutableModified = errors.New("instruction changed executable account")

	// ErrUnbalancedInstruction is returned when lamports are created or destroyed.
	ErrUnbalancedInstruction = errors.New("sum of account balances before and after instruction do not match")
)

// CustomError is the numerical error returned by a non-native program.
type CustomError uint32

func (c CustomError) Error() string {
	return fmt.Sprintf("custom program error: 0x%x", uint32(c))
}

// InstructionError indicates an instruction returned an error in a transaction.
type InstructionError struct {
	Index int
	Err   error
}

func (i InstructionError) Error() string {
	return fmt.Sprintf("Error processing Instruction %d: %v", i.Index, i.Err)
}

func (i InstructionError) Unwrap() error {
	return i.Err
}

// ExecutionResult contains the result of transaction execution.
type ExecutionResult struct {
	// Signature is the first transaction signature, used as its identifier.
	Signature types.Signature

	// Success indicates whether the transaction succeeded.
	Success bool

	// Err is the instruction error if execution failed.
	Err error

	// Logs contains program log messages.
	Logs []string

	// ComputeUnitsConsumed is the number of compute units used.
	ComputeUnitsConsumed uint64

	// ModifiedAccounts lists committed accounts, sorted by address.
	ModifiedAccounts []types.Pubkey

	// DeltaHash is the Merkle root of the committed ModifiedAccounts; zero when
	// nothing was committed.
	DeltaHash types.Hash
}

// Error returns the failure message, or "" for a successful execution.
func (r *ExecutionResult) Error() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}
