package token

import (
	"bytes"

	bin "github.com/gagliardetto/binary"
	"github.com/pkg/errors"

	"github.com/fortiblox/x1-crowdfund/internal/types"
)

type AccountState byte

const (
	AccountStateUninitialized AccountState = iota
	AccountStateInitialized
	AccountStateFrozen
)

// Reference: https://github.com/solana-labs/solana-program-library/blob/11b1e3eefdd4e523768d63f7c70a7aa391ea0d02/token/program/src/state.rs#L125
const AccountSize = 165

// Reference: https://github.com/solana-labs/solana-program-library/blob/11b1e3eefdd4e523768d63f7c70a7aa391ea0d02/token/program/src/state.rs#L47
const MintSize = 82

// ErrInvalidAccountData is returned when token state cannot be decoded.
var ErrInvalidAccountData = errors.New("invalid token account data")

// Account is a token account. Optional fields are encoded as a u32 presence
// tag followed by the value, which is always present in the layout.
type Account struct {
	Mint   types.Pubkey
	Owner  types.Pubkey
	Amount uint64

	// If set, DelegatedAmount may be moved by the delegate.
	Delegate *types.Pubkey
	State    AccountState

	// If set, the account holds wrapped native tokens and the value is the
	// rent-exempt reserve.
	IsNative        *uint64
	DelegatedAmount uint64
	CloseAuthority  *types.Pubkey
}

// Marshal encodes the account into its 165 byte layout.
func (a *Account) Marshal() []byte {
	buf := new(bytes.Buffer)
	buf.Grow(AccountSize)
	enc := bin.NewBorshEncoder(buf)

	_ = enc.WriteBytes(a.Mint[:], false)
	_ = enc.WriteBytes(a.Owner[:], false)
	_ = enc.WriteUint64(a.Amount, bin.LE)
	writeOptionalKey(enc, a.Delegate)
	_ = enc.WriteUint8(uint8(a.State))
	writeOptionalUint64(enc, a.IsNative)
	_ = enc.WriteUint64(a.DelegatedAmount, bin.LE)
	writeOptionalKey(enc, a.CloseAuthority)

	return buf.Bytes()
}

// Unmarshal decodes b, which must be exactly AccountSize bytes.
func (a *Account) Unmarshal(b []byte) error {
	if len(b) != AccountSize {
		return errors.Wrapf(ErrInvalidAccountData, "account size %d", len(b))
	}

	dec := bin.NewBorshDecoder(b)
	var err error
	if a.Mint, err = readKey(dec); err != nil {
		return err
	}
	if a.Owner, err = readKey(dec); err != nil {
		return err
	}
	if a.Amount, err = dec.ReadUint64(bin.LE); err != nil {
		return errors.Wrap(ErrInvalidAccountData, "amount")
	}
	if a.Delegate, err = readOptionalKey(dec); err != nil {
		return err
	}
	state, err := dec.ReadUint8()
	if err != nil {
		return errors.Wrap(ErrInvalidAccountData, "state")
	}
	if AccountState(state) > AccountStateFrozen {
		return errors.Wrapf(ErrInvalidAccountData, "state %d", state)
	}
	a.State = AccountState(state)
	if a.IsNative, err = readOptionalUint64(dec); err != nil {
		return err
	}
	if a.DelegatedAmount, err = dec.ReadUint64(bin.LE); err != nil {
		return errors.Wrap(ErrInvalidAccountData, "delegated amount")
	}
	if a.CloseAuthority, err = readOptionalKey(dec); err != nil {
		return err
	}
	return nil
}

// Mint describes a token.
type Mint struct {
	MintAuthority   *types.Pubkey
	Supply          uint64
	Decimals        uint8
	IsInitialized   bool
	FreezeAuthority *types.Pubkey
}

// Marshal encodes the mint into its 82 byte layout.
func (m *Mint) Marshal() []byte {
	buf := new(bytes.Buffer)
	buf.Grow(MintSize)
	enc := bin.NewBorshEncoder(buf)

	writeOptionalKey(enc, m.MintAuthority)
	_ = enc.WriteUint64(m.Supply, bin.LE)
	_ = enc.WriteUint8(m.Decimals)
	_ = enc.WriteBool(m.IsInitialized)
	writeOptionalKey(enc, m.FreezeAuthority)

	return buf.Bytes()
}

// Unmarshal decodes b, which must be exactly MintSize bytes.
func (m *Mint) Unmarshal(b []byte) error {
	if len(b) != MintSize {
		return errors.Wrapf(ErrInvalidAccountData, "mint size %d", len(b))
	}

	dec := bin.NewBorshDecoder(b)
	var err error
	if m.MintAuthority, err = readOptionalKey(dec); err != nil {
		return err
	}
	if m.Supply, err = dec.ReadUint64(bin.LE); err != nil {
		return errors.Wrap(ErrInvalidAccountData, "supply")
	}
	if m.Decimals, err = dec.ReadUint8(); err != nil {
		return errors.Wrap(ErrInvalidAccountData, "decimals")
	}
	if m.IsInitialized, err = dec.ReadBool(); err != nil {
		return errors.Wrap(ErrInvalidAccountData, "initialized")
	}
	if m.FreezeAuthority, err = readOptionalKey(dec); err != nil {
		return err
	}
	return nil
}

func writeOptionalKey(enc *bin.Encoder, key *types.Pubkey) {
	if key == nil {
		_ = enc.WriteUint32(0, bin.LE)
		_ = enc.WriteBytes(make([]byte, types.PubkeySize), false)
		return
	}
	_ = enc.WriteUint32(1, bin.LE)
	_ = enc.WriteBytes(key[:], false)
}

func writeOptionalUint64(enc *bin.Encoder, v *uint64) {
	if v == nil {
		_ = enc.WriteUint32(0, bin.LE)
		_ = enc.WriteUint64(0, bin.LE)
		return
	}
	_ = enc.WriteUint32(1, bin.LE)
	_ = enc.WriteUint64(*v, bin.LE)
}

func readKey(dec *bin.Decoder) (types.Pubkey, error) {
	b, err := dec.ReadBytes(types.PubkeySize)
	if err != nil {
		return types.Pubkey{}, errors.Wrap(ErrInvalidAccountData, "pubkey")
	}
	return types.PubkeyFromBytes(b)
}

func readOptionTag(dec *bin.Decoder) (bool, error) {
	tag, err := dec.ReadUint32(bin.LE)
	if err != nil {
		return false, errors.Wrap(ErrInvalidAccountData, "option tag")
	}
	switch tag {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, errors.Wrapf(ErrInvalidAccountData, "option tag %d", tag)
	}
}

func readOptionalKey(dec *bin.Decoder) (*types.Pubkey, error) {
	present, err := readOptionTag(dec)
	if err != nil {
		return nil, err
	}
	key, err := readKey(dec)
	if err != nil || !present {
		return nil, err
	}
	return &key, nil
}

func readOptionalUint64(dec *bin.Decoder) (*uint64, error) {
	present, err := readOptionTag(dec)
	if err != nil {
		return nil, err
	}
	v, err := dec.ReadUint64(bin.LE)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidAccountData, "optional u64")
	}
	if !present {
		return nil, nil
	}
	return &v, nil
}
