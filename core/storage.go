package core

// Persistent node storage: one embedded key-value store with logical trees
// separated by key prefixes. Sensitive trees are wrapped in an authenticated
// encryption envelope keyed from the process master key; every mutation on
// identity, secrets and claims appends an audit entry. Flush must be called
// on shutdown or unflushed writes may be lost on abrupt termination.

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/hkdf"
)

// TreeName identifies a logical tree inside the store.
type TreeName string

const (
	TreeIdentity TreeName = "identity"
	TreePeers    TreeName = "peers"
	TreeMetrics  TreeName = "metrics"
	TreeEpochs   TreeName = "epochs"
	TreeConfig   TreeName = "config"
	TreeClaims   TreeName = "claims"
	TreeSecrets  TreeName = "secrets"
	TreeAuditLog TreeName = "audit_log"
)

// MaxBatchSize bounds a single write batch; larger writes are split.
const MaxBatchSize = 256

// encryptedTrees are wrapped in the AEAD envelope.
var encryptedTrees = map[TreeName]bool{
	TreeIdentity: true,
	TreeSecrets:  true,
}

// auditedTrees get an audit entry on every mutation.
var auditedTrees = map[TreeName]bool{
	TreeIdentity: true,
	TreeSecrets:  true,
	TreeClaims:   true,
}

// AuditLogEntry records a mutation on a sensitive tree.
type AuditLogEntry struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
	Tree      string `json:"tree"`
	Op        string `json:"op"`
	Details   string `json:"details,omitempty"`
}

// StorageMetrics counts operations for observability.
type StorageMetrics struct {
	Reads      atomic.Uint64
	Writes     atomic.Uint64
	ReadBytes  atomic.Uint64
	WriteBytes atomic.Uint64
	Errors     atomic.Uint64
}

// StoredEpochSummary is the per-epoch record under the epochs tree.
type StoredEpochSummary struct {
	Epoch          uint64  `json:"epoch"`
	TotalWorkScore float64 `json:"total_work_score"`
	BytesRelayed   uint64  `json:"bytes_relayed"`
	ZkOps          uint64  `json:"zk_ops"`
	MixerOps       uint64  `json:"mixer_ops"`
	Submitted      bool    `json:"submitted"`
	SubmittedTx    string  `json:"submitted_tx,omitempty"`
}

// StoredClaim records a reward claim.
type StoredClaim struct {
	Epoch     uint64 `json:"epoch"`
	Amount    string `json:"amount"`
	TxHash    string `json:"tx_hash"`
	ClaimedAt int64  `json:"claimed_at"`
}

// NodeStorage is the process-wide storage service.
type NodeStorage struct {
	db       *badger.DB
	treeKeys map[TreeName][32]byte
	Metrics  StorageMetrics
}

// OpenNodeStorage opens (or creates) the store under dataDir/data. The
// master key seeds one derived key per encrypted tree.
func OpenNodeStorage(dataDir string, masterKey *[32]byte) (*NodeStorage, error) {
	opts := badger.DefaultOptions(filepath.Join(dataDir, "data")).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, wrapErr(ErrStorageIO, "open store: %v", err)
	}

	s := &NodeStorage{db: db, treeKeys: make(map[TreeName][32]byte)}
	for tree := range encryptedTrees {
		var key [32]byte
		r := hkdf.New(sha256.New, masterKey[:], nil, []byte("nonos-tree-"+string(tree)))
		if _, err := io.ReadFull(r, key[:]); err != nil {
			db.Close()
			return nil, wrapErr(ErrKdfFailure, "tree key %s: %v", tree, err)
		}
		s.treeKeys[tree] = key
	}
	logrus.Infof("storage opened at %s", filepath.Join(dataDir, "data"))
	return s, nil
}

func treeKey(tree TreeName, key []byte) []byte {
	out := make([]byte, 0, len(tree)+1+len(key))
	out = append(out, tree...)
	out = append(out, '/')
	return append(out, key...)
}

func (s *NodeStorage) encode(tree TreeName, value interface{}) ([]byte, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		s.Metrics.Errors.Add(1)
		return nil, wrapErr(ErrStorageSerialization, "%v", err)
	}
	if encryptedTrees[tree] {
		key := s.treeKeys[tree]
		sealed, err := EncryptWithAAD(&key, raw, []byte(tree))
		Zeroize(raw)
		if err != nil {
			s.Metrics.Errors.Add(1)
			return nil, err
		}
		return sealed, nil
	}
	return raw, nil
}

func (s *NodeStorage) decode(tree TreeName, raw []byte, out interface{}) error {
	if encryptedTrees[tree] {
		key := s.treeKeys[tree]
		plain, err := DecryptWithAAD(&key, raw, []byte(tree))
		if err != nil {
			s.Metrics.Errors.Add(1)
			s.auditBestEffort(tree, "integrity_failure", "")
			return wrapErr(ErrStorageIntegrity, "tree %s: envelope rejected", tree)
		}
		defer Zeroize(plain)
		if err := json.Unmarshal(plain, out); err != nil {
			s.Metrics.Errors.Add(1)
			s.auditBestEffort(tree, "integrity_failure", "")
			return wrapErr(ErrStorageIntegrity, "tree %s: %v", tree, err)
		}
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		s.Metrics.Errors.Add(1)
		s.auditBestEffort(tree, "integrity_failure", "")
		return wrapErr(ErrStorageIntegrity, "tree %s: %v", tree, err)
	}
	return nil
}

// Put stores value under tree/key.
func (s *NodeStorage) Put(tree TreeName, key []byte, value interface{}) error {
	data, err := s.encode(tree, value)
	if err != nil {
		return err
	}
	s.Metrics.Writes.Add(1)
	s.Metrics.WriteBytes.Add(uint64(len(data)))

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(treeKey(tree, key), data)
	})
	if err != nil {
		s.Metrics.Errors.Add(1)
		return wrapErr(ErrStorageIO, "put %s: %v", tree, err)
	}
	if auditedTrees[tree] {
		s.auditBestEffort(tree, "put", fmt.Sprintf("key=%x", key))
	}
	return nil
}

// Get loads tree/key into out. Returns false when the key is absent.
func (s *NodeStorage) Get(tree TreeName, key []byte, out interface{}) (bool, error) {
	s.Metrics.Reads.Add(1)
	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(treeKey(tree, key))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		s.Metrics.Errors.Add(1)
		return false, wrapErr(ErrStorageIO, "get %s: %v", tree, err)
	}
	s.Metrics.ReadBytes.Add(uint64(len(raw)))
	return true, s.decode(tree, raw, out)
}

// Delete removes tree/key.
func (s *NodeStorage) Delete(tree TreeName, key []byte) error {
	s.Metrics.Writes.Add(1)
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(treeKey(tree, key))
	})
	if err != nil {
		s.Metrics.Errors.Add(1)
		return wrapErr(ErrStorageIO, "delete %s: %v", tree, err)
	}
	if auditedTrees[tree] {
		s.auditBestEffort(tree, "delete", fmt.Sprintf("key=%x", key))
	}
	return nil
}

// BatchEntry is one element of a batched write.
type BatchEntry struct {
	Key   []byte
	Value interface{}
}

// PutBatch writes entries, splitting into chunks of MaxBatchSize.
func (s *NodeStorage) PutBatch(tree TreeName, entries []BatchEntry) error {
	for start := 0; start < len(entries); start += MaxBatchSize {
		end := start + MaxBatchSize
		if end > len(entries) {
			end = len(entries)
		}
		wb := s.db.NewWriteBatch()
		for _, e := range entries[start:end] {
			data, err := s.encode(tree, e.Value)
			if err != nil {
				wb.Cancel()
				return err
			}
			s.Metrics.Writes.Add(1)
			s.Metrics.WriteBytes.Add(uint64(len(data)))
			if err := wb.Set(treeKey(tree, e.Key), data); err != nil {
				wb.Cancel()
				s.Metrics.Errors.Add(1)
				return wrapErr(ErrStorageIO, "batch set %s: %v", tree, err)
			}
		}
		if err := wb.Flush(); err != nil {
			s.Metrics.Errors.Add(1)
			return wrapErr(ErrStorageIO, "batch flush %s: %v", tree, err)
		}
	}
	if auditedTrees[tree] {
		s.auditBestEffort(tree, "put_batch", fmt.Sprintf("entries=%d", len(entries)))
	}
	return nil
}

// Iterate walks a tree in key order, stopping when fn returns false.
func (s *NodeStorage) Iterate(tree TreeName, fn func(key, value []byte) bool) error {
	prefix := treeKey(tree, nil)
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			raw, err := item.ValueCopy(nil)
			if err != nil {
				s.Metrics.Errors.Add(1)
				return wrapErr(ErrStorageIO, "iterate %s: %v", tree, err)
			}
			s.Metrics.Reads.Add(1)
			s.Metrics.ReadBytes.Add(uint64(len(raw)))
			if !fn(item.Key()[len(prefix):], raw) {
				return nil
			}
		}
		return nil
	})
}

func (s *NodeStorage) auditBestEffort(tree TreeName, op, details string) {
	entry := AuditLogEntry{
		ID:        uuid.New().String(),
		Timestamp: time.Now().Unix(),
		Tree:      string(tree),
		Op:        op,
		Details:   details,
	}
	raw, err := json.Marshal(&entry)
	if err != nil {
		return
	}
	key := make([]byte, 8, 8+len(entry.ID))
	binary.BigEndian.PutUint64(key, uint64(entry.Timestamp))
	key = append(key, entry.ID...)
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(treeKey(TreeAuditLog, key), raw)
	}); err != nil {
		logrus.Warnf("audit append failed: %v", err)
	}
}

// AuditEntries returns up to limit most recently appended audit entries.
func (s *NodeStorage) AuditEntries(limit int) ([]AuditLogEntry, error) {
	var out []AuditLogEntry
	err := s.Iterate(TreeAuditLog, func(_, value []byte) bool {
		var entry AuditLogEntry
		if err := json.Unmarshal(value, &entry); err == nil {
			out = append(out, entry)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

//---------------------------------------------------------------------
// Epoch records — keyed big-endian so iteration is naturally ordered
//---------------------------------------------------------------------

func epochKey(epoch uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, epoch)
	return key
}

// StoreEpoch persists the summary for an epoch.
func (s *NodeStorage) StoreEpoch(epoch uint64, summary *StoredEpochSummary) error {
	return s.Put(TreeEpochs, epochKey(epoch), summary)
}

// LoadEpoch loads one epoch summary, or nil when absent.
func (s *NodeStorage) LoadEpoch(epoch uint64) (*StoredEpochSummary, error) {
	var summary StoredEpochSummary
	found, err := s.Get(TreeEpochs, epochKey(epoch), &summary)
	if err != nil || !found {
		return nil, err
	}
	return &summary, nil
}

// LatestEpoch returns the highest stored epoch number.
func (s *NodeStorage) LatestEpoch() (uint64, bool, error) {
	var latest uint64
	found := false
	err := s.Iterate(TreeEpochs, func(key, _ []byte) bool {
		if len(key) == 8 {
			latest = binary.BigEndian.Uint64(key)
			found = true
		}
		return true
	})
	return latest, found, err
}

// LoadEpochRange returns summaries for epochs in [start, end].
func (s *NodeStorage) LoadEpochRange(start, end uint64) ([]StoredEpochSummary, error) {
	var out []StoredEpochSummary
	err := s.Iterate(TreeEpochs, func(key, value []byte) bool {
		if len(key) != 8 {
			return true
		}
		epoch := binary.BigEndian.Uint64(key)
		if epoch < start {
			return true
		}
		if epoch > end {
			return false
		}
		var summary StoredEpochSummary
		if err := json.Unmarshal(value, &summary); err == nil {
			out = append(out, summary)
		}
		return true
	})
	return out, err
}

// StoreClaim persists a reward claim keyed by epoch.
func (s *NodeStorage) StoreClaim(epoch uint64, claim *StoredClaim) error {
	return s.Put(TreeClaims, epochKey(epoch), claim)
}

// LoadClaims returns every stored claim in epoch order.
func (s *NodeStorage) LoadClaims() ([]StoredClaim, error) {
	var out []StoredClaim
	err := s.Iterate(TreeClaims, func(_, value []byte) bool {
		var claim StoredClaim
		if err := json.Unmarshal(value, &claim); err == nil {
			out = append(out, claim)
		}
		return true
	})
	return out, err
}

// Flush forces pending writes to disk.
func (s *NodeStorage) Flush() error {
	if err := s.db.Sync(); err != nil {
		return wrapErr(ErrStorageIO, "sync: %v", err)
	}
	return nil
}

// Close flushes and closes the store, wiping derived tree keys.
func (s *NodeStorage) Close() error {
	err := s.db.Close()
	for tree := range s.treeKeys {
		delete(s.treeKeys, tree)
	}
	if err != nil {
		return wrapErr(ErrStorageIO, "close: %v", err)
	}
	return nil
}
