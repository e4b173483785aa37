package svm

import (
	"github.com/pkg/errors"

	"github.com/fortiblox/x1-crowdfund/internal/types"
)

// CPI errors.
var (
	ErrCPIDepthExceeded       = errors.New("cross-program invocation call depth too deep")
	ErrCPIAccountMismatch     = errors.New("cross-program invocation with unauthorized account")
	ErrCPIPrivilegeEscalation = errors.New("cross-program invocation with unauthorized signer or writable account")
)

// InvokeSigned implements InvokeContext.
//
// The callee and every account it references must have been passed to the
// calling program. An account may be a signer of ix only if it signed the
// caller, or if it is the program derived address of one of signerSeeds
// under the calling program's ID.
func (f *frame) InvokeSigned(ix Instruction, signerSeeds ...[][]byte) error {
	if f.height+1 > CPIDepthMax {
		return ErrCPIDepthExceeded
	}

	cost := CUInvokeBase +
		CUPerAccount*uint64(len(ix.Accounts)) +
		CUPerDataByte*uint64(len(ix.Data))
	if err := f.ConsumeCU(cost); err != nil {
		return err
	}

	pdaSigners := make(map[types.Pubkey]bool, len(signerSeeds))
	for _, seeds := range signerSeeds {
		if err := f.ConsumeCU(CUCreateProgramAddress); err != nil {
			return err
		}
		pda, err := CreateProgramAddress(seeds, f.programID)
		if err != nil {
			return errors.Wrap(err, "invalid signer seeds")
		}
		pdaSigners[pda] = true
	}

	if f.lookup(ix.ProgramID) == nil {
		return errors.Wrapf(ErrCPIAccountMismatch, "program %s", ix.ProgramID)
	}
	for _, meta := range ix.Accounts {
		info := f.lookup(meta.Pubkey)
		if info == nil {
			return errors.Wrapf(ErrCPIAccountMismatch, "account %s", meta.Pubkey)
		}
		if meta.IsWritable && !info.IsWritable {
			return errors.Wrapf(ErrCPIPrivilegeEscalation, "%s writable", meta.Pubkey)
		}
		if meta.IsSigner && !info.IsSigner && !pdaSigners[meta.Pubkey] {
			return errors.Wrapf(ErrCPIPrivilegeEscalation, "%s signer", meta.Pubkey)
		}
	}

	// The callee observes the caller's changes so far.
	if err := f.verify(); err != nil {
		return err
	}
	f.commit()

	if err := f.ex.invoke(ix, f.height+1); err != nil {
		return err
	}

	f.refresh()
	return nil
}
