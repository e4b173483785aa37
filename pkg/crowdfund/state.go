package crowdfund

import (
	"bytes"

	bin "github.com/gagliardetto/binary"
	"github.com/pkg/errors"

	"github.com/fortiblox/x1-crowdfund/internal/types"
)

// CampaignSize is the encoded size of a Campaign:
//
//	enabled u8 | nonce u8 | goal_amount u64 | creator [32] | fee_vault [32]
const CampaignSize = 1 + 1 + 8 + 32 + 32

// Campaign is the state of one crowdfunding campaign. It is created by an
// external initializer; the program only ever flips Enabled.
type Campaign struct {
	Enabled    bool
	Nonce      uint8
	GoalAmount uint64
	Creator    types.Pubkey
	FeeVault   types.Pubkey
}

// Marshal encodes the campaign into a new CampaignSize buffer.
func (c *Campaign) Marshal() []byte {
	buf := new(bytes.Buffer)
	buf.Grow(CampaignSize)
	enc := bin.NewBorshEncoder(buf)

	var enabled uint8
	if c.Enabled {
		enabled = 1
	}
	_ = enc.WriteUint8(enabled)
	_ = enc.WriteUint8(c.Nonce)
	_ = enc.WriteUint64(c.GoalAmount, bin.LE)
	_ = enc.WriteBytes(c.Creator[:], false)
	_ = enc.WriteBytes(c.FeeVault[:], false)

	return buf.Bytes()
}

// MarshalInto overwrites the leading CampaignSize bytes of dst. Bytes past the
// record are left untouched.
func (c *Campaign) MarshalInto(dst []byte) error {
	if len(dst) < CampaignSize {
		return errors.Errorf("campaign buffer too small: %d < %d", len(dst), CampaignSize)
	}
	copy(dst, c.Marshal())
	return nil
}

// UnmarshalCampaign decodes a campaign from the start of data. Trailing bytes
// are ignored so accounts can be allocated larger than the record.
func UnmarshalCampaign(data []byte) (*Campaign, error) {
	dec := bin.NewBorshDecoder(data)

	enabled, err := dec.ReadUint8()
	if err != nil {
		return nil, errors.Wrap(err, "enabled")
	}
	if enabled > 1 {
		return nil, errors.Errorf("invalid enabled flag %d", enabled)
	}

	c := &Campaign{Enabled: enabled == 1}
	if c.Nonce, err = dec.ReadUint8(); err != nil {
		return nil, errors.Wrap(err, "nonce")
	}
	if c.GoalAmount, err = dec.ReadUint64(bin.LE); err != nil {
		return nil, errors.Wrap(err, "goal amount")
	}

	creator, err := dec.ReadBytes(types.PubkeySize)
	if err != nil {
		return nil, errors.Wrap(err, "creator")
	}
	copy(c.Creator[:], creator)

	feeVault, err := dec.ReadBytes(types.PubkeySize)
	if err != nil {
		return nil, errors.Wrap(err, "fee vault")
	}
	copy(c.FeeVault[:], feeVault)

	return c, nil
}
