// Package system implements the native system program: account creation,
// lamport transfers, owner assignment and space allocation.
package system

import (
	"bytes"

	bin "github.com/gagliardetto/binary"
	"github.com/pkg/errors"

	"github.com/fortiblox/x1-crowdfund/internal/types"
	"github.com/fortiblox/x1-crowdfund/pkg/accounts"
	"github.com/fortiblox/x1-crowdfund/pkg/svm"
)

// ProgramID is the address of the system program.
var ProgramID = types.SystemProgramAddr

// Instruction discriminants, a u32 LE prefix of the instruction data.
const (
	InstructionCreateAccount uint32 = 0
	InstructionAssign        uint32 = 1
	InstructionTransfer      uint32 = 2
	InstructionAllocate      uint32 = 8
)

var (
	ErrInvalidInstructionData   = errors.New("invalid instruction data")
	ErrInsufficientFunds        = errors.New("insufficient funds")
	ErrAccountAlreadyInUse      = errors.New("account already in use")
	ErrNotEnoughAccountKeys     = errors.New("not enough account keys")
	ErrInvalidAccountOwner      = errors.New("invalid account owner")
	ErrAccountNotRentExempt     = errors.New("account not rent exempt")
	ErrMissingRequiredSignature = errors.New("missing required signature")
	ErrAccountDataTooSmall      = errors.New("account data too small")
	ErrAccountDataTooLarge      = errors.New("account data too large")
	ErrAccountNotWritable       = errors.New("account not writable")
)

// Processor executes system program instructions.
type Processor struct{}

// NewProcessor creates a new system program processor.
func NewProcessor() *Processor {
	return &Processor{}
}

// Process implements svm.Program.
func (p *Processor) Process(ctx svm.InvokeContext, data []byte) error {
	if err := ctx.ConsumeCU(svm.CUSystemProgramDefault); err != nil {
		return err
	}

	dec := bin.NewBorshDecoder(data)
	tag, err := dec.ReadUint32(bin.LE)
	if err != nil {
		return ErrInvalidInstructionData
	}

	switch tag {
	case InstructionCreateAccount:
		return p.processCreateAccount(ctx, dec)
	case InstructionAssign:
		return p.processAssign(ctx, dec)
	case InstructionTransfer:
		return p.processTransfer(ctx, dec)
	case InstructionAllocate:
		return p.processAllocate(ctx, dec)
	default:
		return errors.Wrapf(ErrInvalidInstructionData, "unknown instruction %d", tag)
	}
}

func readPubkey(dec *bin.Decoder) (types.Pubkey, error) {
	b, err := dec.ReadBytes(types.PubkeySize)
	if err != nil {
		return types.Pubkey{}, ErrInvalidInstructionData
	}
	return types.PubkeyFromBytes(b)
}

// Accounts: [0] funder (signer, writable), [1] new account (signer, writable).
func (p *Processor) processCreateAccount(ctx svm.InvokeContext, dec *bin.Decoder) error {
	lamports, err := dec.ReadUint64(bin.LE)
	if err != nil {
		return ErrInvalidInstructionData
	}
	space, err := dec.ReadUint64(bin.LE)
	if err != nil {
		return ErrInvalidInstructionData
	}
	owner, err := readPubkey(dec)
	if err != nil {
		return err
	}
	if space > accounts.MaxAccountDataSize {
		return ErrAccountDataTooLarge
	}

	funder, err := ctx.GetAccount(0)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}
	newAccount, err := ctx.GetAccount(1)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}

	if !funder.IsSigner || !newAccount.IsSigner {
		return ErrMissingRequiredSignature
	}
	if funder.Lamports < lamports {
		return ErrInsufficientFunds
	}
	if newAccount.Owner != ProgramID || len(newAccount.Data) > 0 || newAccount.Lamports > 0 {
		return ErrAccountAlreadyInUse
	}
	if lamports < ctx.GetRentMinimum(space) {
		return ErrAccountNotRentExempt
	}

	funder.Lamports -= lamports
	newAccount.Lamports = lamports
	newAccount.Data = make([]byte, space)
	newAccount.Owner = owner

	ctx.Log("CreateAccount: success")
	return nil
}

// Accounts: [0] account (signer, writable).
func (p *Processor) processAssign(ctx svm.InvokeContext, dec *bin.Decoder) error {
	owner, err := readPubkey(dec)
	if err != nil {
		return err
	}

	account, err := ctx.GetAccount(0)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}
	if !account.IsSigner {
		return ErrMissingRequiredSignature
	}
	if account.Owner != ProgramID {
		return ErrInvalidAccountOwner
	}

	account.Owner = owner

	ctx.Log("Assign: success")
	return nil
}

// Accounts: [0] from (signer, writable), [1] to (writable).
func (p *Processor) processTransfer(ctx svm.InvokeContext, dec *bin.Decoder) error {
	lamports, err := dec.ReadUint64(bin.LE)
	if err != nil {
		return ErrInvalidInstructionData
	}

	from, err := ctx.GetAccount(0)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}
	to, err := ctx.GetAccount(1)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}

	if !from.IsSigner {
		return ErrMissingRequiredSignature
	}
	if !from.IsWritable || !to.IsWritable {
		return ErrAccountNotWritable
	}
	if from.Owner != ProgramID || len(from.Data) > 0 {
		return errors.Wrap(ErrInvalidAccountOwner, "from must not carry data")
	}
	if from.Lamports < lamports {
		return ErrInsufficientFunds
	}
	if to.Lamports > ^uint64(0)-lamports {
		return errors.New("lamport overflow")
	}

	from.Lamports -= lamports
	to.Lamports += lamports

	ctx.Log("Transfer: success")
	return nil
}

// Accounts: [0] account (signer, writable).
func (p *Processor) processAllocate(ctx svm.InvokeContext, dec *bin.Decoder) error {
	space, err := dec.ReadUint64(bin.LE)
	if err != nil {
		return ErrInvalidInstructionData
	}
	if space > accounts.MaxAccountDataSize {
		return ErrAccountDataTooLarge
	}

	account, err := ctx.GetAccount(0)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}
	if !account.IsSigner {
		return ErrMissingRequiredSignature
	}
	if account.Owner != ProgramID {
		return ErrInvalidAccountOwner
	}
	if uint64(len(account.Data)) > space {
		return ErrAccountDataTooSmall
	}

	if uint64(len(account.Data)) < space {
		data := make([]byte, space)
		copy(data, account.Data)
		account.Data = data
	}

	ctx.Log("Allocate: success")
	return nil
}

func encode(tag uint32, fn func(enc *bin.Encoder) error) []byte {
	buf := new(bytes.Buffer)
	enc := bin.NewBorshEncoder(buf)
	_ = enc.WriteUint32(tag, bin.LE)
	if fn != nil {
		_ = fn(enc)
	}
	return buf.Bytes()
}

// NewCreateAccountInstruction creates newAccount with space bytes owned by owner.
func NewCreateAccountInstruction(funder, newAccount types.Pubkey, lamports, space uint64, owner types.Pubkey) svm.Instruction {
	data := encode(InstructionCreateAccount, func(enc *bin.Encoder) error {
		_ = enc.WriteUint64(lamports, bin.LE)
		_ = enc.WriteUint64(space, bin.LE)
		return enc.WriteBytes(owner[:], false)
	})
	return svm.NewInstruction(ProgramID, data,
		svm.NewAccountMeta(funder, true),
		svm.NewAccountMeta(newAccount, true),
	)
}

// NewAssignInstruction reassigns account to owner.
func NewAssignInstruction(account, owner types.Pubkey) svm.Instruction {
	data := encode(InstructionAssign, func(enc *bin.Encoder) error {
		return enc.WriteBytes(owner[:], false)
	})
	return svm.NewInstruction(ProgramID, data, svm.NewAccountMeta(account, true))
}

// NewTransferInstruction moves lamports between system accounts.
func NewTransferInstruction(from, to types.Pubkey, lamports uint64) svm.Instruction {
	data := encode(InstructionTransfer, func(enc *bin.Encoder) error {
		return enc.WriteUint64(lamports, bin.LE)
	})
	return svm.NewInstruction(ProgramID, data,
		svm.NewAccountMeta(from, true),
		svm.NewAccountMeta(to, false),
	)
}

// NewAllocateInstruction grows account data to space bytes.
func NewAllocateInstruction(account types.Pubkey, space uint64) svm.Instruction {
	data := encode(InstructionAllocate, func(enc *bin.Encoder) error {
		return enc.WriteUint64(space, bin.LE)
	})
	return svm.NewInstruction(ProgramID, data, svm.NewAccountMeta(account, true))
}
