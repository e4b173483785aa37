// Package token implements an SPL token compatible settlement engine: token
// account and mint state, plus the instructions needed to create tokens and
// move them between accounts.
package token

import (
	"bytes"
	"fmt"
	"math"

	bin "github.com/gagliardetto/binary"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/fortiblox/x1-crowdfund/internal/types"
	"github.com/fortiblox/x1-crowdfund/pkg/svm"
)

// ProgramKey is the address the token program is deployed at.
//
// Current key: TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA
var ProgramKey = types.TokenProgramAddr

type Command byte

const (
	CommandInitializeMint Command = iota
	CommandInitializeAccount
	CommandInitializeMultisig
	CommandTransfer
	CommandApprove
	CommandRevoke
	CommandSetAuthority
	CommandMintTo

	CommandUnknown = Command(math.MaxUint8)
)

const (
	ErrorNotRentExempt svm.CustomError = iota
	ErrorInsufficientFunds
	ErrorInvalidMint
	ErrorMintMismatch
	ErrorOwnerMismatch
	ErrorFixedSupply
	ErrorAlreadyInUse
	ErrorInvalidNumberOfProvidedSigners
	ErrorInvalidNumberOfRequiredSigners
	ErrorUninitializedState
	ErrorNativeNotSupported
	ErrorNonNativeHasBalance
	ErrorInvalidInstruction
	ErrorInvalidState
	ErrorOverflow
	ErrorAuthorityTypeNotSupported
	ErrorMintCannotFreeze
	ErrorAccountFrozen
	ErrorMintDecimalsMismatch
)

var (
	ErrNotEnoughAccountKeys     = errors.New("not enough account keys")
	ErrMissingRequiredSignature = errors.New("missing required signature")
	ErrIncorrectProgramID       = errors.New("account not owned by the token program")
	ErrInvalidInstructionData   = errors.New("invalid instruction data")
)

// Processor executes token instructions.
type Processor struct {
	log *logrus.Entry
}

// NewProcessor creates a token program processor.
func NewProcessor() *Processor {
	return &Processor{
		log: logrus.StandardLogger().WithField("type", "svm/programs/token"),
	}
}

// Process implements svm.Program.
func (p *Processor) Process(ctx svm.InvokeContext, data []byte) error {
	if len(data) == 0 {
		return ErrorInvalidInstruction
	}

	dec := bin.NewBorshDecoder(data[1:])
	switch Command(data[0]) {
	case CommandInitializeMint:
		return p.processInitializeMint(ctx, dec)
	case CommandInitializeAccount:
		return p.processInitializeAccount(ctx)
	case CommandTransfer:
		return p.processTransfer(ctx, dec)
	case CommandMintTo:
		return p.processMintTo(ctx, dec)
	default:
		return ErrorInvalidInstruction
	}
}

// loadAccount decodes a token account owned by this program.
func loadAccount(ctx svm.InvokeContext, info *svm.AccountInfo) (*Account, error) {
	if info.Owner != ctx.ProgramID() {
		return nil, errors.Wrapf(ErrIncorrectProgramID, "%s", info.Key)
	}
	var acc Account
	if err := acc.Unmarshal(info.Data); err != nil {
		return nil, errors.Wrapf(err, "%s", info.Key)
	}
	if acc.State == AccountStateUninitialized {
		return nil, ErrorUninitializedState
	}
	return &acc, nil
}

func loadMint(ctx svm.InvokeContext, info *svm.AccountInfo) (*Mint, error) {
	if info.Owner != ctx.ProgramID() {
		return nil, errors.Wrapf(ErrIncorrectProgramID, "%s", info.Key)
	}
	var mint Mint
	if err := mint.Unmarshal(info.Data); err != nil {
		return nil, errors.Wrapf(err, "%s", info.Key)
	}
	if !mint.IsInitialized {
		return nil, ErrorUninitializedState
	}
	return &mint, nil
}

func getAccounts(ctx svm.InvokeContext, n int) ([]*svm.AccountInfo, error) {
	all := ctx.Accounts()
	if len(all) < n {
		return nil, ErrNotEnoughAccountKeys
	}
	return all[:n], nil
}

// Accounts: [0] mint (writable), [1] rent sysvar.
// Data: decimals u8, mint authority [32], freeze authority option.
func (p *Processor) processInitializeMint(ctx svm.InvokeContext, dec *bin.Decoder) error {
	decimals, err := dec.ReadUint8()
	if err != nil {
		return ErrorInvalidInstruction
	}
	authority, err := readKey(dec)
	if err != nil {
		return ErrorInvalidInstruction
	}
	hasFreeze, err := dec.ReadBool()
	if err != nil {
		return ErrorInvalidInstruction
	}
	var freeze *types.Pubkey
	if hasFreeze {
		key, err := readKey(dec)
		if err != nil {
			return ErrorInvalidInstruction
		}
		freeze = &key
	}

	accs, err := getAccounts(ctx, 1)
	if err != nil {
		return err
	}
	info := accs[0]
	if info.Owner != ctx.ProgramID() {
		return ErrIncorrectProgramID
	}
	if len(info.Data) != MintSize {
		return ErrorInvalidInstruction
	}

	var mint Mint
	if err := mint.Unmarshal(info.Data); err != nil {
		return err
	}
	if mint.IsInitialized {
		return ErrorAlreadyInUse
	}
	if info.Lamports < ctx.GetRentMinimum(MintSize) {
		return ErrorNotRentExempt
	}

	mint = Mint{
		MintAuthority:   &authority,
		Decimals:        decimals,
		IsInitialized:   true,
		FreezeAuthority: freeze,
	}
	copy(info.Data, mint.Marshal())

	ctx.Log("Instruction: InitializeMint")
	return nil
}

// Accounts: [0] account (writable), [1] mint, [2] owner, [3] rent sysvar.
func (p *Processor) processInitializeAccount(ctx svm.InvokeContext) error {
	accs, err := getAccounts(ctx, 3)
	if err != nil {
		return err
	}
	info, mintInfo, owner := accs[0], accs[1], accs[2]

	if info.Owner != ctx.ProgramID() {
		return ErrIncorrectProgramID
	}
	if len(info.Data) != AccountSize {
		return ErrorInvalidInstruction
	}

	var acc Account
	if err := acc.Unmarshal(info.Data); err != nil {
		return err
	}
	if acc.State != AccountStateUninitialized {
		return ErrorAlreadyInUse
	}
	if info.Lamports < ctx.GetRentMinimum(AccountSize) {
		return ErrorNotRentExempt
	}
	if _, err := loadMint(ctx, mintInfo); err != nil {
		return ErrorInvalidMint
	}

	acc = Account{
		Mint:  mintInfo.Key,
		Owner: owner.Key,
		State: AccountStateInitialized,
	}
	copy(info.Data, acc.Marshal())

	ctx.Log("Instruction: InitializeAccount")
	return nil
}

// Accounts: [0] source (writable), [1] destination (writable),
// [2] owner or delegate (signer). Additional signer accounts are accepted and
// ignored.
func (p *Processor) processTransfer(ctx svm.InvokeContext, dec *bin.Decoder) error {
	amount, err := dec.ReadUint64(bin.LE)
	if err != nil || dec.Remaining() != 0 {
		return ErrorInvalidInstruction
	}
	if err := ctx.ConsumeCU(svm.CUTokenTransfer); err != nil {
		return err
	}

	accs, err := getAccounts(ctx, 3)
	if err != nil {
		return err
	}
	srcInfo, dstInfo, authority := accs[0], accs[1], accs[2]

	src, err := loadAccount(ctx, srcInfo)
	if err != nil {
		return err
	}
	dst, err := loadAccount(ctx, dstInfo)
	if err != nil {
		return err
	}

	if src.State == AccountStateFrozen || dst.State == AccountStateFrozen {
		return ErrorAccountFrozen
	}
	if src.Amount < amount {
		return ErrorInsufficientFunds
	}
	if src.Mint != dst.Mint {
		return ErrorMintMismatch
	}

	switch {
	case src.Delegate != nil && *src.Delegate == authority.Key && authority.Key != src.Owner:
		if !authority.IsSigner {
			return ErrMissingRequiredSignature
		}
		if src.DelegatedAmount < amount {
			return ErrorInsufficientFunds
		}
		src.DelegatedAmount -= amount
		if src.DelegatedAmount == 0 {
			src.Delegate = nil
		}
	case authority.Key == src.Owner:
		if !authority.IsSigner {
			return ErrMissingRequiredSignature
		}
	default:
		return ErrorOwnerMismatch
	}

	if srcInfo.Key != dstInfo.Key && amount > 0 {
		if dst.Amount > math.MaxUint64-amount {
			return ErrorOverflow
		}
		src.Amount -= amount
		dst.Amount += amount
	}

	copy(srcInfo.Data, src.Marshal())
	if srcInfo.Key != dstInfo.Key {
		copy(dstInfo.Data, dst.Marshal())
	}

	ctx.Log("Instruction: Transfer")
	p.log.WithFields(logrus.Fields{
		"source":      srcInfo.Key.String(),
		"destination": dstInfo.Key.String(),
		"amount":      amount,
	}).Debug("transfer")
	return nil
}

// Accounts: [0] mint (writable), [1] destination (writable),
// [2] mint authority (signer).
func (p *Processor) processMintTo(ctx svm.InvokeContext, dec *bin.Decoder) error {
	amount, err := dec.ReadUint64(bin.LE)
	if err != nil || dec.Remaining() != 0 {
		return ErrorInvalidInstruction
	}

	accs, err := getAccounts(ctx, 3)
	if err != nil {
		return err
	}
	mintInfo, dstInfo, authority := accs[0], accs[1], accs[2]

	mint, err := loadMint(ctx, mintInfo)
	if err != nil {
		return err
	}
	dst, err := loadAccount(ctx, dstInfo)
	if err != nil {
		return err
	}

	if dst.State == AccountStateFrozen {
		return ErrorAccountFrozen
	}
	if dst.Mint != mintInfo.Key {
		return ErrorMintMismatch
	}
	if mint.MintAuthority == nil {
		return ErrorFixedSupply
	}
	if *mint.MintAuthority != authority.Key {
		return ErrorOwnerMismatch
	}
	if !authority.IsSigner {
		return ErrMissingRequiredSignature
	}
	if mint.Supply > math.MaxUint64-amount || dst.Amount > math.MaxUint64-amount {
		return ErrorOverflow
	}

	mint.Supply += amount
	dst.Amount += amount
	copy(mintInfo.Data, mint.Marshal())
	copy(dstInfo.Data, dst.Marshal())

	ctx.Log(fmt.Sprintf("Instruction: MintTo %d", amount))
	return nil
}

func encodeAmount(cmd Command, amount uint64) []byte {
	buf := new(bytes.Buffer)
	enc := bin.NewBorshEncoder(buf)
	_ = enc.WriteUint8(uint8(cmd))
	_ = enc.WriteUint64(amount, bin.LE)
	return buf.Bytes()
}

// Reference: https://github.com/solana-labs/solana-program-library/blob/b011698251981b5a12088acba18fad1d41c3719a/token/program/src/instruction.rs#L76-L91
//
// The instruction is addressed to programID so callers can target any
// deployment of a token program. extraSigners are appended as read-only
// signer accounts.
func NewTransferInstruction(programID, source, destination, owner types.Pubkey, amount uint64, extraSigners ...types.Pubkey) svm.Instruction {
	accounts := []svm.AccountMeta{
		svm.NewAccountMeta(source, false),
		svm.NewAccountMeta(destination, false),
		svm.NewReadonlyAccountMeta(owner, true),
	}
	for _, s := range extraSigners {
		accounts = append(accounts, svm.NewReadonlyAccountMeta(s, true))
	}
	return svm.NewInstruction(programID, encodeAmount(CommandTransfer, amount), accounts...)
}

// NewMintToInstruction mints amount into destination.
func NewMintToInstruction(mint, destination, authority types.Pubkey, amount uint64) svm.Instruction {
	return svm.NewInstruction(
		ProgramKey,
		encodeAmount(CommandMintTo, amount),
		svm.NewAccountMeta(mint, false),
		svm.NewAccountMeta(destination, false),
		svm.NewReadonlyAccountMeta(authority, true),
	)
}

// NewInitializeMintInstruction initializes a pre-allocated mint account.
func NewInitializeMintInstruction(mint, authority types.Pubkey, decimals uint8) svm.Instruction {
	buf := new(bytes.Buffer)
	enc := bin.NewBorshEncoder(buf)
	_ = enc.WriteUint8(uint8(CommandInitializeMint))
	_ = enc.WriteUint8(decimals)
	_ = enc.WriteBytes(authority[:], false)
	_ = enc.WriteBool(false)

	return svm.NewInstruction(
		ProgramKey,
		buf.Bytes(),
		svm.NewAccountMeta(mint, false),
		svm.NewReadonlyAccountMeta(types.SysvarRentAddr, false),
	)
}

// NewInitializeAccountInstruction initializes a pre-allocated token account.
func NewInitializeAccountInstruction(account, mint, owner types.Pubkey) svm.Instruction {
	return svm.NewInstruction(
		ProgramKey,
		[]byte{byte(CommandInitializeAccount)},
		svm.NewAccountMeta(account, false),
		svm.NewReadonlyAccountMeta(mint, false),
		svm.NewReadonlyAccountMeta(owner, false),
		svm.NewReadonlyAccountMeta(types.SysvarRentAddr, false),
	)
}
