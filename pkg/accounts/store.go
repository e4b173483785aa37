package accounts

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/fortiblox/x1-crowdfund/internal/types"
)

// Key prefixes. Accounts are keyed by prefixAccount + pubkey so iteration
// over the prefix yields them in pubkey order.
var (
	prefixAccount = []byte{0x01}
	prefixMeta    = []byte{0x02}

	metaSlot = append(append([]byte{}, prefixMeta...), []byte("slot")...)
)

// BadgerDBConfig contains configuration for BadgerDB.
type BadgerDBConfig struct {
	// Path is the directory of the database. Ignored when InMemory is set.
	Path string

	InMemory   bool
	SyncWrites bool
}

// DefaultBadgerDBConfig returns the default configuration for path.
func DefaultBadgerDBConfig(path string) BadgerDBConfig {
	return BadgerDBConfig{
		Path:       path,
		SyncWrites: true,
	}
}

// BadgerDB is a BadgerDB-backed implementation of DB.
type BadgerDB struct {
	db *badger.DB

	// mu serializes writers so account counting stays exact.
	mu sync.Mutex

	slot          atomic.Uint64
	accountsCount atomic.Uint64
	closed        atomic.Bool

	log *logrus.Entry
}

// NewBadgerDB opens or creates a BadgerDB-backed accounts database.
func NewBadgerDB(cfg BadgerDBConfig) (*BadgerDB, error) {
	opts := badger.DefaultOptions(cfg.Path).
		WithInMemory(cfg.InMemory).
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(nil)
	if cfg.InMemory {
		opts = opts.WithDir("").WithValueDir("")
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open badger")
	}

	b := &BadgerDB{
		db:  db,
		log: logrus.StandardLogger().WithField("type", "accounts/badger"),
	}
	if err := b.loadMetadata(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to load metadata")
	}

	b.log.WithFields(logrus.Fields{
		"path":     cfg.Path,
		"slot":     b.slot.Load(),
		"accounts": b.accountsCount.Load(),
	}).Debug("opened accounts database")
	return b, nil
}

func (b *BadgerDB) loadMetadata() error {
	return b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metaSlot)
		if err == nil {
			err = item.Value(func(val []byte) error {
				if len(val) >= 8 {
					b.slot.Store(binary.LittleEndian.Uint64(val))
				}
				return nil
			})
		}
		if err != nil && err != badger.ErrKeyNotFound {
			return err
		}

		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixAccount
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		var count uint64
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		b.accountsCount.Store(count)
		return nil
	})
}

func accountKey(pubkey types.Pubkey) []byte {
	key := make([]byte, 1+32)
	key[0] = prefixAccount[0]
	copy(key[1:], pubkey[:])
	return key
}

// GetAccount retrieves an account by public key.
func (b *BadgerDB) GetAccount(pubkey types.Pubkey) (*Account, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	var account *Account
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(accountKey(pubkey))
		if err == badger.ErrKeyNotFound {
			return ErrAccountNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			account, err = DeserializeAccount(val)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// SetAccount stores an account.
func (b *BadgerDB) SetAccount(pubkey types.Pubkey, account *Account) error {
	return b.SetAccounts(map[types.Pubkey]*Account{pubkey: account})
}

// SetAccounts stores a batch of accounts in a single badger transaction and
// advances the slot.
func (b *BadgerDB) SetAccounts(updates map[types.Pubkey]*Account) error {
	if b.closed.Load() {
		return ErrClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var added, removed uint64
	slot := b.slot.Load() + 1

	err := b.db.Update(func(txn *badger.Txn) error {
		for pubkey, account := range updates {
			key := accountKey(pubkey)

			_, err := txn.Get(key)
			exists := err == nil
			if err != nil && err != badger.ErrKeyNotFound {
				return err
			}

			if account.IsZero() {
				if exists {
					if err := txn.Delete(key); err != nil {
						return err
					}
					removed++
				}
				continue
			}

			if err := txn.Set(key, account.Serialize()); err != nil {
				return err
			}
			if !exists {
				added++
			}
		}

		slotBuf := make([]byte, 8)
		binary.LittleEndian.PutUint64(slotBuf, slot)
		return txn.Set(metaSlot, slotBuf)
	})
	if err != nil {
		return errors.Wrap(err, "failed to write accounts")
	}

	b.accountsCount.Add(added)
	b.accountsCount.Add(-removed)
	b.slot.Store(slot)
	return nil
}

// DeleteAccount removes an account.
func (b *BadgerDB) DeleteAccount(pubkey types.Pubkey) error {
	return b.SetAccounts(map[types.Pubkey]*Account{pubkey: {}})
}

// HasAccount checks if an account exists.
func (b *BadgerDB) HasAccount(pubkey types.Pubkey) (bool, error) {
	_, err := b.GetAccount(pubkey)
	if err == ErrAccountNotFound {
		return false, nil
	}
	return err == nil, err
}

// IterateAccounts iterates over all accounts in sorted pubkey order.
// Returning an error from fn stops iteration.
func (b *BadgerDB) IterateAccounts(fn func(pubkey types.Pubkey, account *Account) error) error {
	if b.closed.Load() {
		return ErrClosed
	}

	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixAccount
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := item.Key()
			if len(key) != 33 {
				continue
			}
			var pubkey types.Pubkey
			copy(pubkey[:], key[1:])

			err := item.Value(func(val []byte) error {
				account, err := DeserializeAccount(val)
				if err != nil {
					return errors.Wrapf(err, "account %s", pubkey)
				}
				return fn(pubkey, account)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// GetSlot returns the current slot.
func (b *BadgerDB) GetSlot() uint64 {
	return b.slot.Load()
}

// SetSlot updates and persists the current slot.
func (b *BadgerDB) SetSlot(slot uint64) error {
	if b.closed.Load() {
		return ErrClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	err := b.db.Update(func(txn *badger.Txn) error {
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, slot)
		return txn.Set(metaSlot, buf)
	})
	if err != nil {
		return err
	}
	b.slot.Store(slot)
	return nil
}

// AccountsCount returns the total number of accounts.
func (b *BadgerDB) AccountsCount() (uint64, error) {
	if b.closed.Load() {
		return 0, ErrClosed
	}
	return b.accountsCount.Load(), nil
}

// Close closes the database.
func (b *BadgerDB) Close() error {
	if b.closed.Swap(true) {
		return ErrClosed
	}
	return b.db.Close()
}

var _ DB = (*BadgerDB)(nil)
