// Package journal persists the outcome of executed transactions.
//
// Entries are gob encoded, compressed with zstd and stored in BoltDB keyed by
// a sequence number, with a secondary index by transaction signature. Every
// stored value is prefixed with its blake3 digest, which is checked on read.
package journal

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/zeebo/blake3"
	bolt "go.etcd.io/bbolt"

	"github.com/fortiblox/x1-crowdfund/internal/types"
	"github.com/fortiblox/x1-crowdfund/pkg/svm"
)

var (
	// ErrEntryNotFound is returned when no entry matches a lookup.
	ErrEntryNotFound = errors.New("journal entry not found")

	// ErrCorrupted is returned when a stored entry fails its digest check.
	ErrCorrupted = errors.New("journal entry corrupted")

	// ErrClosed is returned when operating on a closed journal.
	ErrClosed = errors.New("journal closed")
)

var (
	bucketEntries = []byte("entries")
	bucketBySig   = []byte("by_sig")
)

const digestSize = 32

// Config holds journal configuration options.
type Config struct {
	// Path is the database file.
	Path string

	// NoSync disables fsync after each write.
	NoSync bool

	ReadOnly bool
}

// DefaultConfig returns the default journal configuration.
func DefaultConfig(path string) Config {
	return Config{Path: path}
}

// Entry records one executed transaction.
type Entry struct {
	Seq        uint64
	Label      string
	RecordedAt time.Time

	Signature    types.Signature
	Success      bool
	Error        string
	Logs         []string
	ComputeUnits uint64
	Modified     []types.Pubkey

	// DeltaHash covers only the accounts the transaction committed.
	DeltaHash types.Hash

	// StateHash is the accounts state hash after execution.
	StateHash types.Hash
}

// NewEntry creates an entry from an execution result.
func NewEntry(label string, result *svm.ExecutionResult, stateHash types.Hash) *Entry {
	return &Entry{
		Label:        label,
		RecordedAt:   time.Now().UTC(),
		Signature:    result.Signature,
		Success:      result.Success,
		Error:        result.Error(),
		Logs:         result.Logs,
		ComputeUnits: result.ComputeUnitsConsumed,
		Modified:     result.ModifiedAccounts,
		DeltaHash:    result.DeltaHash,
		StateHash:    stateHash,
	}
}

// Store is a BoltDB-backed journal.
type Store struct {
	db  *bolt.DB
	enc *zstd.Encoder
	dec *zstd.Decoder

	mu     sync.RWMutex
	closed bool

	log *logrus.Entry
}

// Open creates or opens a journal.
func Open(cfg Config) (*Store, error) {
	if !cfg.ReadOnly {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
			return nil, errors.Wrap(err, "failed to create journal directory")
		}
	}

	db, err := bolt.Open(cfg.Path, 0600, &bolt.Options{
		Timeout:  5 * time.Second,
		NoSync:   cfg.NoSync,
		ReadOnly: cfg.ReadOnly,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to open journal")
	}

	if !cfg.ReadOnly {
		err = db.Update(func(tx *bolt.Tx) error {
			for _, name := range [][]byte{bucketEntries, bucketBySig} {
				if _, err := tx.CreateBucketIfNotExists(name); err != nil {
					return errors.Wrapf(err, "failed to create bucket %s", name)
				}
			}
			return nil
		})
		if err != nil {
			db.Close()
			return nil, err
		}
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to create zstd encoder")
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		db.Close()
		return nil, errors.Wrap(err, "failed to create zstd decoder")
	}

	return &Store{
		db:  db,
		enc: enc,
		dec: dec,
		log: logrus.StandardLogger().WithField("type", "journal/store"),
	}, nil
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

func (s *Store) encode(e *Entry) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		return nil, errors.Wrap(err, "failed to encode entry")
	}
	payload := s.enc.EncodeAll(buf.Bytes(), nil)

	sum := blake3.Sum256(payload)
	return append(sum[:], payload...), nil
}

func (s *Store) decode(value []byte) (*Entry, error) {
	if len(value) < digestSize {
		return nil, ErrCorrupted
	}
	payload := value[digestSize:]
	sum := blake3.Sum256(payload)
	if !bytes.Equal(sum[:], value[:digestSize]) {
		return nil, ErrCorrupted
	}

	raw, err := s.dec.DecodeAll(payload, nil)
	if err != nil {
		return nil, errors.Wrap(ErrCorrupted, err.Error())
	}

	var e Entry
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&e); err != nil {
		return nil, errors.Wrap(ErrCorrupted, err.Error())
	}
	return &e, nil
}

// Append stores e, assigning its sequence number.
func (s *Store) Append(e *Entry) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		entries := tx.Bucket(bucketEntries)
		seq, err := entries.NextSequence()
		if err != nil {
			return err
		}
		e.Seq = seq

		value, err := s.encode(e)
		if err != nil {
			return err
		}
		if err := entries.Put(seqKey(seq), value); err != nil {
			return err
		}
		if e.Signature.IsZero() {
			return nil
		}
		return tx.Bucket(bucketBySig).Put(e.Signature[:], seqKey(seq))
	})
	if err != nil {
		return 0, errors.Wrap(err, "failed to append entry")
	}

	s.log.WithFields(logrus.Fields{
		"seq":     e.Seq,
		"label":   e.Label,
		"success": e.Success,
	}).Debug("appended entry")
	return e.Seq, nil
}

// Get returns the entry with the given sequence number.
func (s *Store) Get(seq uint64) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	var value []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEntries)
		if b == nil {
			return ErrEntryNotFound
		}
		v := b.Get(seqKey(seq))
		if v == nil {
			return ErrEntryNotFound
		}
		value = append([]byte{}, v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.decode(value)
}

// GetBySignature returns the entry of a transaction.
func (s *Store) GetBySignature(sig types.Signature) (*Entry, error) {
	var seq uint64
	err := func() error {
		s.mu.RLock()
		defer s.mu.RUnlock()
		if s.closed {
			return ErrClosed
		}
		return s.db.View(func(tx *bolt.Tx) error {
			b := tx.Bucket(bucketBySig)
			if b == nil {
				return ErrEntryNotFound
			}
			v := b.Get(sig[:])
			if v == nil {
				return ErrEntryNotFound
			}
			seq = binary.BigEndian.Uint64(v)
			return nil
		})
	}()
	if err != nil {
		return nil, err
	}
	return s.Get(seq)
}

// Iterate visits entries in sequence order. Returning an error from fn stops
// iteration.
func (s *Store) Iterate(fn func(e *Entry) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEntries)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			e, err := s.decode(v)
			if err != nil {
				return errors.Wrapf(err, "entry %d", binary.BigEndian.Uint64(k))
			}
			return fn(e)
		})
	})
}

// Count returns the number of entries.
func (s *Store) Count() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}

	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket(bucketEntries); b != nil {
			n = b.Stats().KeyN
		}
		return nil
	})
	return n, err
}

// Close closes the journal.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.closed = true

	s.enc.Close()
	s.dec.Close()
	return s.db.Close()
}
