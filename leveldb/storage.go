// Package leveldb provides a feedkit.Storage implementation using leveldb.
// Records, the natural-key index, and the append-only sighting log each live
// in their own db under one directory.
package leveldb

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"hash/fnv"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"

	"github.com/feedkit/feedkit"
)

var _ feedkit.Storage = &Storage{}

// Storage stores records by id, an index from natural key to record id, and
// sightings keyed by a monotonic sequence so the audit log reads back in
// append order.
type Storage struct {
	records   *leveldb.DB
	keys      *leveldb.DB
	sightings *leveldb.DB

	seq  *uint64
	lock valueLocker
}

type errorList []error

func (errs errorList) Error() string {
	errstrings := make([]string, len(errs))
	for i, err := range errs {
		errstrings[i] = err.Error()
	}
	return strings.Join(errstrings, "; ")
}

// NewStorage opens (or creates) the three dbs under dirname.
func NewStorage(dirname string) (*Storage, error) {
	err := os.MkdirAll(dirname, 0700)
	if err != nil {
		return nil, errors.Wrap(err, "making directory")
	}
	var seq uint64
	s := &Storage{
		seq:  &seq,
		lock: newBucketVLock(),
	}
	s.records, err = leveldb.OpenFile(filepath.Join(dirname, "records"), &opt.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "opening leveldb at %v", filepath.Join(dirname, "records"))
	}
	s.keys, err = leveldb.OpenFile(filepath.Join(dirname, "keys"), &opt.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "opening leveldb at %v", filepath.Join(dirname, "keys"))
	}
	s.sightings, err = leveldb.OpenFile(filepath.Join(dirname, "sightings"), &opt.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "opening leveldb at %v", filepath.Join(dirname, "sightings"))
	}

	// resume the sighting sequence from the last stored key
	iter := s.sightings.NewIterator(nil, nil)
	if iter.Last() {
		seq = binary.BigEndian.Uint64(iter.Key()) + 1
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return nil, errors.Wrap(err, "scanning sighting log")
	}
	return s, nil
}

// Close closes all of the underlying leveldb instances.
func (s *Storage) Close() error {
	errs := make(errorList, 0)
	for name, db := range map[string]*leveldb.DB{
		"records": s.records, "keys": s.keys, "sightings": s.sightings,
	} {
		if err := db.Close(); err != nil {
			errs = append(errs, errors.Wrapf(err, "closing %s", name))
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

type keyExistsError struct {
	key string
}

func (e *keyExistsError) Error() string {
	return "key '" + e.key + "' already exists"
}

func (e *keyExistsError) KeyExists() bool { return true }

// FindByKey returns the record owning the natural key, or nil if the key has
// never been stored.
func (s *Storage) FindByKey(_ context.Context, key string) (*feedkit.Record, error) {
	id, err := s.keys.Get([]byte(key), &opt.ReadOptions{})
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "reading key index")
	}
	data, err := s.records.Get(id, &opt.ReadOptions{})
	if err != nil {
		return nil, errors.Wrapf(err, "reading record %s", id)
	}
	rec := &feedkit.Record{}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, errors.Wrap(err, "decoding record")
	}
	return rec, nil
}

// Insert stores r, enforcing natural-key uniqueness. Leveldb has no unique
// constraint of its own, so the key index is guarded by striped locks with a
// re-check after locking - two concurrent inserts of the same key serialize,
// and the loser gets a uniqueness violation.
func (s *Storage) Insert(_ context.Context, r *feedkit.Record) error {
	kb := []byte(r.Key)
	s.lock.Lock(kb)
	defer s.lock.Unlock(kb)
	return s.insertLocked(r)
}

func (s *Storage) insertLocked(r *feedkit.Record) error {
	_, err := s.keys.Get([]byte(r.Key), &opt.ReadOptions{})
	if err == nil {
		return &keyExistsError{key: r.Key}
	}
	if err != leveldb.ErrNotFound {
		return errors.Wrap(err, "checking key index")
	}
	data, err := json.Marshal(r)
	if err != nil {
		return errors.Wrap(err, "encoding record")
	}
	if err := s.records.Put([]byte(r.ID), data, &opt.WriteOptions{}); err != nil {
		return errors.Wrap(err, "putting record")
	}
	if err := s.keys.Put([]byte(r.Key), []byte(r.ID), &opt.WriteOptions{}); err != nil {
		return errors.Wrap(err, "putting key index entry")
	}
	return nil
}

// BatchInsert stores the records in one leveldb batch. Uniqueness is checked
// up front under the same striped locks Insert uses; a violation anywhere
// rejects the whole batch.
func (s *Storage) BatchInsert(_ context.Context, rs []*feedkit.Record) error {
	keys := make([][]byte, len(rs))
	for i, r := range rs {
		keys[i] = []byte(r.Key)
	}
	unlock := s.lock.LockMany(keys)
	defer unlock()
	recBatch := new(leveldb.Batch)
	keyBatch := new(leveldb.Batch)
	seen := make(map[string]struct{}, len(rs))
	for _, r := range rs {
		if _, ok := seen[r.Key]; ok {
			return &keyExistsError{key: r.Key}
		}
		seen[r.Key] = struct{}{}
		_, err := s.keys.Get([]byte(r.Key), &opt.ReadOptions{})
		if err == nil {
			return &keyExistsError{key: r.Key}
		}
		if err != leveldb.ErrNotFound {
			return errors.Wrap(err, "checking key index")
		}
		data, err := json.Marshal(r)
		if err != nil {
			return errors.Wrap(err, "encoding record")
		}
		recBatch.Put([]byte(r.ID), data)
		keyBatch.Put([]byte(r.Key), []byte(r.ID))
	}
	if err := s.records.Write(recBatch, &opt.WriteOptions{}); err != nil {
		return errors.Wrap(err, "writing record batch")
	}
	if err := s.keys.Write(keyBatch, &opt.WriteOptions{}); err != nil {
		return errors.Wrap(err, "writing key index batch")
	}
	return nil
}

// AppendSighting appends to the sighting log under the next sequence number.
func (s *Storage) AppendSighting(_ context.Context, sight *feedkit.Sighting) error {
	data, err := json.Marshal(sight)
	if err != nil {
		return errors.Wrap(err, "encoding sighting")
	}
	seqBytes := make([]byte, 8)
	next := atomic.AddUint64(s.seq, 1)
	binary.BigEndian.PutUint64(seqBytes, next-1)
	if err := s.sightings.Put(seqBytes, data, &opt.WriteOptions{}); err != nil {
		return errors.Wrap(err, "putting sighting")
	}
	return nil
}

// Sightings reads the whole audit log back in append order.
func (s *Storage) Sightings() ([]*feedkit.Sighting, error) {
	var out []*feedkit.Sighting
	iter := s.sightings.NewIterator(nil, nil)
	for iter.Next() {
		sight := &feedkit.Sighting{}
		if err := json.Unmarshal(iter.Value(), sight); err != nil {
			iter.Release()
			return nil, errors.Wrap(err, "decoding sighting")
		}
		out = append(out, sight)
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return nil, errors.Wrap(err, "iterating sighting log")
	}
	return out, nil
}

type valueLocker interface {
	Lock(val []byte)
	Unlock(val []byte)
	LockMany(vals [][]byte) (unlock func())
}

type bucketVLock struct {
	ms []sync.Mutex
}

func newBucketVLock() bucketVLock {
	return bucketVLock{
		ms: make([]sync.Mutex, 1000),
	}
}

func bucketIdx(val []byte) uint32 {
	hsh := fnv.New32a()
	hsh.Write(val) // never returns error for hash
	return hsh.Sum32() % 1000
}

func (b bucketVLock) Lock(val []byte) {
	b.ms[bucketIdx(val)].Lock()
}

func (b bucketVLock) Unlock(val []byte) {
	b.ms[bucketIdx(val)].Unlock()
}

// LockMany locks the stripes covering vals, each stripe once, in index order
// so concurrent batches can't deadlock against each other.
func (b bucketVLock) LockMany(vals [][]byte) func() {
	seen := make(map[uint32]struct{}, len(vals))
	idxs := make([]int, 0, len(vals))
	for _, val := range vals {
		idx := bucketIdx(val)
		if _, ok := seen[idx]; ok {
			continue
		}
		seen[idx] = struct{}{}
		idxs = append(idxs, int(idx))
	}
	sort.Ints(idxs)
	for _, idx := range idxs {
		b.ms[idx].Lock()
	}
	return func() {
		for i := len(idxs) - 1; i >= 0; i-- {
			b.ms[idxs[i]].Unlock()
		}
	}
}
