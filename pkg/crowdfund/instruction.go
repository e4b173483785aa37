package crowdfund

import (
	"bytes"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/fortiblox/x1-crowdfund/internal/types"
	"github.com/fortiblox/x1-crowdfund/pkg/svm"
)

// InstructionTag identifies the variant of an encoded instruction.
type InstructionTag uint8

const (
	InstructionEnableCampaign InstructionTag = iota
)

// EnableCampaign activates a campaign by paying Amount to its fee vault.
type EnableCampaign struct {
	Amount uint64
}

// Marshal encodes the instruction: tag u8 | amount u64.
func (e EnableCampaign) Marshal() []byte {
	buf := new(bytes.Buffer)
	enc := bin.NewBorshEncoder(buf)
	_ = enc.WriteUint8(uint8(InstructionEnableCampaign))
	_ = enc.WriteUint64(e.Amount, bin.LE)
	return buf.Bytes()
}

// DecodeInstruction decodes instruction data. Any input other than a known
// tag followed by exactly its payload fails with ErrDecode.
func DecodeInstruction(data []byte) (interface{}, error) {
	dec := bin.NewBorshDecoder(data)

	tag, err := dec.ReadUint8()
	if err != nil {
		return nil, ErrDecode
	}

	switch InstructionTag(tag) {
	case InstructionEnableCampaign:
		amount, err := dec.ReadUint64(bin.LE)
		if err != nil {
			return nil, ErrDecode
		}
		if dec.Remaining() != 0 {
			return nil, ErrDecode
		}
		return EnableCampaign{Amount: amount}, nil
	default:
		return nil, ErrDecode
	}
}

// EnableCampaignAccounts are the accounts of an EnableCampaign instruction.
type EnableCampaignAccounts struct {
	Campaign     types.Pubkey
	Authority    types.Pubkey
	Creator      types.Pubkey
	CreatorToken types.Pubkey
	FeeVault     types.Pubkey
	TokenProgram types.Pubkey
}

func (a EnableCampaignAccounts) metas() []svm.AccountMeta {
	return []svm.AccountMeta{
		svm.NewAccountMeta(a.Campaign, false),
		svm.NewReadonlyAccountMeta(a.Authority, false),
		svm.NewAccountMeta(a.Creator, true),
		svm.NewAccountMeta(a.CreatorToken, false),
		svm.NewAccountMeta(a.FeeVault, false),
		svm.NewReadonlyAccountMeta(a.TokenProgram, false),
	}
}

// NewEnableCampaignInstruction builds an EnableCampaign instruction.
func NewEnableCampaignInstruction(programID types.Pubkey, accounts EnableCampaignAccounts, amount uint64) svm.Instruction {
	return svm.NewInstruction(programID, EnableCampaign{Amount: amount}.Marshal(), accounts.metas()...)
}

// ToSolanaInstruction converts ix for submission through solana-go clients.
func ToSolanaInstruction(ix svm.Instruction) solana.Instruction {
	metas := make(solana.AccountMetaSlice, 0, len(ix.Accounts))
	for _, m := range ix.Accounts {
		metas = append(metas, solana.NewAccountMeta(
			solana.PublicKeyFromBytes(m.Pubkey[:]),
			m.IsWritable,
			m.IsSigner,
		))
	}
	return solana.NewInstruction(
		solana.PublicKeyFromBytes(ix.ProgramID[:]),
		metas,
		ix.Data,
	)
}
