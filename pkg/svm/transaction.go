package svm

import (
	"bytes"

	bin "github.com/gagliardetto/binary"
	"github.com/pkg/errors"

	"github.com/fortiblox/x1-crowdfund/internal/types"
)

const (
	metaFlagSigner   = 1 << 0
	metaFlagWritable = 1 << 1
)

// Message is the signed portion of a transaction.
type Message struct {
	// Signers lists the addresses that must sign, in first-use order.
	Signers []types.Pubkey

	// RecentBlockhash makes otherwise identical messages distinct.
	RecentBlockhash types.Hash

	Instructions []Instruction
}

// NewMessage collects the required signers of instructions.
func NewMessage(blockhash types.Hash, instructions ...Instruction) Message {
	var signers []types.Pubkey
	seen := make(map[types.Pubkey]bool)
	for _, ix := range instructions {
		for _, meta := range ix.Accounts {
			if meta.IsSigner && !seen[meta.Pubkey] {
				seen[meta.Pubkey] = true
				signers = append(signers, meta.Pubkey)
			}
		}
	}

	return Message{
		Signers:         signers,
		RecentBlockhash: blockhash,
		Instructions:    instructions,
	}
}

// Marshal encodes the message deterministically; signatures cover these bytes.
func (m Message) Marshal() ([]byte, error) {
	if len(m.Signers) > 255 || len(m.Instructions) > 255 {
		return nil, errors.New("message too large")
	}

	buf := new(bytes.Buffer)
	enc := bin.NewBorshEncoder(buf)

	if err := enc.WriteUint8(uint8(len(m.Signers))); err != nil {
		return nil, err
	}
	for _, s := range m.Signers {
		if err := enc.WriteBytes(s[:], false); err != nil {
			return nil, err
		}
	}
	if err := enc.WriteBytes(m.RecentBlockhash[:], false); err != nil {
		return nil, err
	}

	if err := enc.WriteUint8(uint8(len(m.Instructions))); err != nil {
		return nil, err
	}
	for i, ix := range m.Instructions {
		if len(ix.Accounts) > 255 {
			return nil, errors.Errorf("instruction %d: too many accounts", i)
		}
		if err := enc.WriteBytes(ix.ProgramID[:], false); err != nil {
			return nil, err
		}
		if err := enc.WriteUint8(uint8(len(ix.Accounts))); err != nil {
			return nil, err
		}
		for _, meta := range ix.Accounts {
			var flags uint8
			if meta.IsSigner {
				flags |= metaFlagSigner
			}
			if meta.IsWritable {
				flags |= metaFlagWritable
			}
			if err := enc.WriteBytes(meta.Pubkey[:], false); err != nil {
				return nil, err
			}
			if err := enc.WriteUint8(flags); err != nil {
				return nil, err
			}
		}
		if err := enc.WriteBytes(ix.Data, true); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

// Transaction is a message plus one signature per required signer.
type Transaction struct {
	Signatures []types.Signature
	Message    Message
}

// NewTransaction builds and signs a transaction. Every required signer must be
// present in keys; extra keys are ignored.
func NewTransaction(blockhash types.Hash, instructions []Instruction, keys ...types.Keypair) (*Transaction, error) {
	msg := NewMessage(blockhash, instructions...)

	tx := &Transaction{
		Signatures: make([]types.Signature, len(msg.Signers)),
		Message:    msg,
	}
	if err := tx.Sign(keys...); err != nil {
		return nil, err
	}
	return tx, nil
}

// Sign fills in the signature slots of the given keys.
func (t *Transaction) Sign(keys ...types.Keypair) error {
	data, err := t.Message.Marshal()
	if err != nil {
		return errors.Wrap(err, "failed to marshal message")
	}

	byKey := make(map[types.Pubkey]types.Keypair, len(keys))
	for _, k := range keys {
		byKey[k.Pubkey] = k
	}

	for i, signer := range t.Message.Signers {
		k, ok := byKey[signer]
		if !ok {
			return errors.Wrapf(ErrMissingSignature, "signer %s", signer)
		}
		t.Signatures[i] = k.Sign(data)
	}
	return nil
}

// Signature returns the first signature, the transaction identifier.
func (t *Transaction) Signature() types.Signature {
	if len(t.Signatures) == 0 {
		return types.Signature{}
	}
	return t.Signatures[0]
}

// requiredSigners reports whether the listed signers are exactly the accounts
// the instructions mark as signers, in first-use order.
func (m Message) requiredSigners() bool {
	want := NewMessage(m.RecentBlockhash, m.Instructions...).Signers
	if len(want) != len(m.Signers) {
		return false
	}
	for i := range want {
		if want[i] != m.Signers[i] {
			return false
		}
	}
	return true
}

// Verify checks every required signature against the message. An account
// flagged as a signer in any instruction must be listed and signed.
func (t *Transaction) Verify() error {
	if !t.Message.requiredSigners() {
		return ErrMissingSignature
	}
	if len(t.Signatures) != len(t.Message.Signers) {
		return ErrMissingSignature
	}

	data, err := t.Message.Marshal()
	if err != nil {
		return errors.Wrap(err, "failed to marshal message")
	}

	for i, signer := range t.Message.Signers {
		if !t.Signatures[i].Verify(signer, data) {
			return errors.Wrapf(ErrSignatureFailure, "signer %s", signer)
		}
	}
	return nil
}
