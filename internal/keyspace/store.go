// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package keyspace owns the process-wide typed keyspace: string/list/
// sorted-set/stream values with lazy expiry, the pub/sub channel registry,
// the blocking-waiter queues, the replica registry and the running
// replication byte counter.
//
// The primary map is sharded by xxhash(key) so that keys contend on a
// mutex only when they hash to the same shard, the way the memorystore package shards
// metric data by a Level tree instead of one global lock.
package keyspace

import (
	"container/list"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Kind is the tagged-union discriminant for a keyspace value.
type Kind int

const (
	KindNone Kind = iota
	KindString
	KindList
	KindZSet
	KindStream
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindZSet:
		return "zset"
	case KindStream:
		return "stream"
	default:
		return "none"
	}
}

// ErrWrongType is returned whenever an operation targets a key holding a
// different value kind than it expects.
var ErrWrongType = errors.New("WRONGTYPE Operation against a key holding the wrong kind of value")

// entry is the value stored for one key. Exactly one of the payload fields
// is populated, selected by kind.
type entry struct {
	kind   Kind
	str    []byte
	list   *list.List // of []byte, for KindList
	zset   *zsetData
	stream *streamData
}

const numShards = 32

type shard struct {
	mu      sync.RWMutex
	data    map[string]*entry
	expires map[string]int64 // absolute unix ms; absent means no TTL
}

// Store is the single shared keyspace root handed to every connection
// task; there is no ambient global state anywhere else in the process.
type Store struct {
	shards [numShards]*shard

	pubsub   *pubsubRegistry
	waiters  *waiterRegistry
	replicas *ReplicaRegistry
	acl      *aclTable

	mu            sync.RWMutex // guards cfgDir/cfgDBFile/cfgDirMissing/role only
	cfgDir        string
	cfgDBFile     string
	cfgDirMissing bool
	replID        string
	role          string
}

func New() *Store {
	s := &Store{
		pubsub:   newPubSubRegistry(),
		waiters:  newWaiterRegistry(),
		replicas: NewReplicaRegistry(),
		acl:      newACLTable(),
		replID:   generateReplID(),
		role:     "master",
	}
	for i := range s.shards {
		s.shards[i] = &shard{data: make(map[string]*entry), expires: make(map[string]int64)}
	}
	return s
}

// generateReplID mints a 40-hex-character run ID, the same shape (if not
// the same algorithm) as the identifier a leader hands a follower during
// the PSYNC handshake.
func generateReplID() string {
	buf := make([]byte, 20)
	if _, err := rand.Read(buf); err != nil {
		return "0000000000000000000000000000000000000000"
	}
	return hex.EncodeToString(buf)
}

// ReplID returns this server's run ID, included in the leader's
// +FULLRESYNC reply.
func (s *Store) ReplID() string { return s.replID }

// SetRole records whether this instance is acting as a replication master
// or a replica of another server, reported by INFO's "# Replication"
// section.
func (s *Store) SetRole(role string) {
	s.mu.Lock()
	s.role = role
	s.mu.Unlock()
}

func (s *Store) Role() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.role
}

func (s *Store) shardFor(key string) *shard {
	h := xxhash.Sum64String(key)
	return s.shards[h%numShards]
}

// SetConfigPaths records the dir/dbfilename CONFIG GET reports.
func (s *Store) SetConfigPaths(dir, dbfile string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfgDir, s.cfgDBFile = dir, dbfile
	s.cfgDirMissing = false
}

// ConfigPaths returns the configured dir/dbfilename, except dir falls back
// to "." while the configured directory is known to be missing (see
// markDirMissing, driven by the dirWatchListener in dirwatch.go).
func (s *Store) ConfigPaths() (dir, dbfile string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cfgDirMissing {
		return ".", s.cfgDBFile
	}
	return s.cfgDir, s.cfgDBFile
}

// markDirMissing flips whether ConfigPaths falls back to "." for dir.
func (s *Store) markDirMissing(missing bool) {
	s.mu.Lock()
	s.cfgDirMissing = missing
	s.mu.Unlock()
}

// Replicas exposes the leader-side replica bookkeeping to the replication
// and dispatch layers.
func (s *Store) Replicas() *ReplicaRegistry { return s.replicas }

func nowMs() int64 { return time.Now().UnixMilli() }

// expireIfNeeded performs lazy expiration under the shard lock the caller
// already holds. Returns true if the key was removed.
func (sh *shard) expireIfNeeded(key string, now int64) bool {
	deadline, ok := sh.expires[key]
	if !ok || deadline > now {
		return false
	}
	delete(sh.data, key)
	delete(sh.expires, key)
	return true
}

// getIfValid returns the live entry for key, or nil if absent/expired.
// Performs lazy expiry.
func (s *Store) getIfValid(key string) *entry {
	sh := s.shardFor(key)
	now := nowMs()
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if sh.expireIfNeeded(key, now) {
		return nil
	}
	return sh.data[key]
}

// TypeOf returns the value kind at key, or KindNone if absent/expired.
func (s *Store) TypeOf(key string) Kind {
	sh := s.shardFor(key)
	now := nowMs()
	sh.mu.RLock()
	e, ok := sh.data[key]
	expired := false
	if ok {
		if deadline, has := sh.expires[key]; has && deadline <= now {
			expired = true
		}
	}
	sh.mu.RUnlock()
	if !ok || expired {
		return KindNone
	}
	return e.kind
}

// Exists reports whether key is live (not absent, not expired).
func (s *Store) Exists(key string) bool {
	return s.getIfValid(key) != nil
}

// GetString returns the string value at key. ok is false if the key is
// absent/expired; err is ErrWrongType if it holds another kind.
func (s *Store) GetString(key string) (val []byte, ok bool, err error) {
	e := s.getIfValid(key)
	if e == nil {
		return nil, false, nil
	}
	if e.kind != KindString {
		return nil, false, ErrWrongType
	}
	return e.str, true, nil
}

// SetString creates or overwrites key as a string, replacing whatever kind
// was there before (SET always succeeds regardless of prior type).
func (s *Store) SetString(key string, val []byte, expiresAt int64) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.data[key] = &entry{kind: KindString, str: val}
	if expiresAt > 0 {
		sh.expires[key] = expiresAt
	} else {
		delete(sh.expires, key)
	}
}

// Incr atomically increments the integer stored at key (creating it at 0
// first if absent) and returns the new value.
func (s *Store) Incr(key string) (int64, error) {
	sh := s.shardFor(key)
	now := nowMs()
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.expireIfNeeded(key, now)

	e, ok := sh.data[key]
	if !ok {
		e = &entry{kind: KindString, str: []byte("0")}
		sh.data[key] = e
	}
	if e.kind != KindString {
		return 0, ErrWrongType
	}
	n, err := parseInt64(e.str)
	if err != nil {
		return 0, errors.New("ERR value is not an integer or out of range")
	}
	n++
	e.str = []byte(formatInt64(n))
	return n, nil
}

// Del removes keys unconditionally (whatever kind they hold) and returns
// how many were actually present.
func (s *Store) Del(keys ...string) int {
	removed := 0
	now := nowMs()
	for _, key := range keys {
		sh := s.shardFor(key)
		sh.mu.Lock()
		if sh.expireIfNeeded(key, now) {
			sh.mu.Unlock()
			continue
		}
		if _, ok := sh.data[key]; ok {
			delete(sh.data, key)
			delete(sh.expires, key)
			removed++
		}
		sh.mu.Unlock()
	}
	return removed
}

// Keys returns every live key matching the glob pattern "*" (the only
// pattern this server needs to support).
func (s *Store) Keys(pattern string) []string {
	now := nowMs()
	var out []string
	for _, sh := range s.shards {
		sh.mu.Lock()
		for k := range sh.data {
			if sh.expireIfNeeded(k, now) {
				continue
			}
			if pattern == "*" || pattern == k {
				out = append(out, k)
			}
		}
		sh.mu.Unlock()
	}
	return out
}

// Size returns the number of live keys, evicting every expired key that
// has a TTL along the way (used by INFO's keyspace section and by the
// scheduler's active-expire job for the keys gauge).
func (s *Store) Size() int {
	now := nowMs()
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for k := range sh.expires {
			sh.expireIfNeeded(k, now)
		}
		n += len(sh.data)
		sh.mu.Unlock()
	}
	return n
}

// ActiveExpireCycle evicts up to budget expired keys across all shards, an
// optional background sweep that complements lazy expiration.
func (s *Store) ActiveExpireCycle(budget int) int {
	now := nowMs()
	evicted := 0
	for _, sh := range s.shards {
		if evicted >= budget {
			break
		}
		sh.mu.Lock()
		for k := range sh.expires {
			if evicted >= budget {
				break
			}
			if sh.expireIfNeeded(k, now) {
				evicted++
			}
		}
		sh.mu.Unlock()
	}
	return evicted
}

// removeIfEmptyLocked deletes key from sh if its list/stream container is
// now empty: an empty container has no observable existence. Caller holds
// sh.mu.
func removeIfEmptyLocked(sh *shard, key string, e *entry) {
	empty := false
	switch e.kind {
	case KindList:
		empty = e.list.Len() == 0
	case KindStream:
		empty = len(e.stream.entries) == 0
	}
	if empty {
		delete(sh.data, key)
		delete(sh.expires, key)
	}
}
