// Package accounts stores the ledger state the runtime executes against.
//
// Two implementations of DB are provided: MemoryDB for scenarios and tests,
// and BadgerDB for state that should survive between runs of the harness.
// Both apply SetAccounts atomically, which is what lets the runtime commit a
// transaction's working set all at once or not at all.
package accounts

import (
	"bytes"
	"sort"
	"sync"

	bin "github.com/gagliardetto/binary"
	"github.com/pkg/errors"

	"github.com/fortiblox/x1-crowdfund/internal/types"
)

// MaxAccountDataSize bounds the data of a single account.
const MaxAccountDataSize = 10 * 1024 * 1024

var (
	// ErrAccountNotFound is returned when an account doesn't exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrClosed is returned when operating on a closed database.
	ErrClosed = errors.New("database closed")

	// ErrInvalidData is returned when a stored account is malformed.
	ErrInvalidData = errors.New("invalid account data")
)

// Account is a single ledger account.
type Account struct {
	// Lamports is the native balance.
	Lamports uint64

	// Data is interpreted by the owning program.
	Data []byte

	// Owner is the only program allowed to modify Data or debit Lamports.
	Owner types.Pubkey

	// Executable marks program accounts.
	Executable bool

	RentEpoch uint64
}

// Clone creates a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	data := make([]byte, len(a.Data))
	copy(data, a.Data)
	return &Account{
		Lamports:   a.Lamports,
		Data:       data,
		Owner:      a.Owner,
		Executable: a.Executable,
		RentEpoch:  a.RentEpoch,
	}
}

// IsZero reports whether the account has no lamports and no data. Zero
// accounts are deleted on write.
func (a *Account) IsZero() bool {
	return a.Lamports == 0 && len(a.Data) == 0
}

// Equal reports whether two accounts hold identical state.
func (a *Account) Equal(o *Account) bool {
	return a.Lamports == o.Lamports &&
		a.Owner == o.Owner &&
		a.Executable == o.Executable &&
		a.RentEpoch == o.RentEpoch &&
		bytes.Equal(a.Data, o.Data)
}

// Serialize encodes the account for storage:
//
//	lamports u64 | data (u32 length prefixed) | owner [32] | executable u8 | rent_epoch u64
func (a *Account) Serialize() []byte {
	buf := new(bytes.Buffer)
	enc := bin.NewBorshEncoder(buf)

	// Writes to a bytes.Buffer cannot fail.
	_ = enc.WriteUint64(a.Lamports, bin.LE)
	_ = enc.WriteBytes(a.Data, true)
	_ = enc.WriteBytes(a.Owner[:], false)
	_ = enc.WriteBool(a.Executable)
	_ = enc.WriteUint64(a.RentEpoch, bin.LE)

	return buf.Bytes()
}

// DeserializeAccount decodes an account written by Serialize.
func DeserializeAccount(data []byte) (*Account, error) {
	dec := bin.NewBorshDecoder(data)

	lamports, err := dec.ReadUint64(bin.LE)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidData, "lamports")
	}
	dataLen, err := dec.ReadUint32(bin.LE)
	if err != nil || dataLen > MaxAccountDataSize {
		return nil, errors.Wrap(ErrInvalidData, "data length")
	}
	accData, err := dec.ReadBytes(int(dataLen))
	if err != nil {
		return nil, errors.Wrap(ErrInvalidData, "data")
	}
	owner, err := dec.ReadBytes(32)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidData, "owner")
	}
	executable, err := dec.ReadBool()
	if err != nil {
		return nil, errors.Wrap(ErrInvalidData, "executable")
	}
	rentEpoch, err := dec.ReadUint64(bin.LE)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidData, "rent epoch")
	}

	acc := &Account{
		Lamports:   lamports,
		Data:       make([]byte, len(accData)),
		Executable: executable,
		RentEpoch:  rentEpoch,
	}
	copy(acc.Data, accData)
	copy(acc.Owner[:], owner)
	return acc, nil
}

// DB is the accounts database interface. Implementations are safe for
// concurrent use and return copies, so callers may mutate what they read.
type DB interface {
	// GetAccount returns ErrAccountNotFound if the account doesn't exist.
	GetAccount(pubkey types.Pubkey) (*Account, error)

	// SetAccount stores an account, deleting it if it is zero.
	SetAccount(pubkey types.Pubkey, account *Account) error

	// SetAccounts stores a batch of accounts atomically.
	SetAccounts(updates map[types.Pubkey]*Account) error

	DeleteAccount(pubkey types.Pubkey) error
	HasAccount(pubkey types.Pubkey) (bool, error)

	// IterateAccounts visits every account in ascending pubkey order.
	IterateAccounts(fn func(pubkey types.Pubkey, account *Account) error) error

	// GetSlot returns the number of committed batches.
	GetSlot() uint64
	SetSlot(slot uint64) error

	AccountsCount() (uint64, error)
	Close() error
}

// MemoryDB is an in-memory implementation of DB.
type MemoryDB struct {
	mu       sync.RWMutex
	accounts map[types.Pubkey]*Account
	slot     uint64
	closed   bool
}

// NewMemoryDB creates a new in-memory accounts database.
func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		accounts: make(map[types.Pubkey]*Account),
	}
}

// GetAccount retrieves an account.
func (m *MemoryDB) GetAccount(pubkey types.Pubkey) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	acc, ok := m.accounts[pubkey]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return acc.Clone(), nil
}

// SetAccount stores an account.
func (m *MemoryDB) SetAccount(pubkey types.Pubkey, account *Account) error {
	return m.SetAccounts(map[types.Pubkey]*Account{pubkey: account})
}

// SetAccounts stores a batch of accounts and advances the slot.
func (m *MemoryDB) SetAccounts(updates map[types.Pubkey]*Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	for pubkey, account := range updates {
		if account.IsZero() {
			delete(m.accounts, pubkey)
			continue
		}
		m.accounts[pubkey] = account.Clone()
	}
	m.slot++
	return nil
}

// DeleteAccount removes an account.
func (m *MemoryDB) DeleteAccount(pubkey types.Pubkey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	delete(m.accounts, pubkey)
	return nil
}

// HasAccount checks if an account exists.
func (m *MemoryDB) HasAccount(pubkey types.Pubkey) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return false, ErrClosed
	}
	_, ok := m.accounts[pubkey]
	return ok, nil
}

// IterateAccounts visits accounts in ascending pubkey order.
func (m *MemoryDB) IterateAccounts(fn func(pubkey types.Pubkey, account *Account) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	keys := make([]types.Pubkey, 0, len(m.accounts))
	snapshot := make(map[types.Pubkey]*Account, len(m.accounts))
	for k, v := range m.accounts {
		keys = append(keys, k)
		snapshot[k] = v.Clone()
	}
	m.mu.RUnlock()

	SortPubkeys(keys)
	for _, k := range keys {
		if err := fn(k, snapshot[k]); err != nil {
			return err
		}
	}
	return nil
}

// GetSlot returns the current slot.
func (m *MemoryDB) GetSlot() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.slot
}

// SetSlot updates the current slot.
func (m *MemoryDB) SetSlot(slot uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	m.slot = slot
	return nil
}

// AccountsCount returns the number of accounts.
func (m *MemoryDB) AccountsCount() (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ErrClosed
	}
	return uint64(len(m.accounts)), nil
}

// Close closes the database.
func (m *MemoryDB) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.accounts = nil
	return nil
}

// SortPubkeys sorts pubkeys in ascending byte order.
func SortPubkeys(pubkeys []types.Pubkey) {
	sort.Slice(pubkeys, func(i, j int) bool {
		return pubkeys[i].Compare(pubkeys[j]) < 0
	})
}

var _ DB = (*MemoryDB)(nil)
