// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package keyspace

import (
	"bufio"
	"bytes"
	"path/filepath"

	"github.com/cc-kv/cc-kvstore/internal/rdb"
	cclog "github.com/cc-kv/cc-kvstore/log"
)

// LoadSnapshot reads dir/dbfile (if present) and installs its string
// entries into the keyspace. Loading on-the-fly persistence of the other
// value kinds is explicitly out of scope; only the string entries a
// snapshot file can represent are restored.
func (s *Store) LoadSnapshot(dir, dbfile string) error {
	path := filepath.Join(dir, dbfile)
	entries, err := rdb.Load(path)
	if err != nil {
		return err
	}
	for _, e := range entries {
		s.SetString(string(e.Key), e.Value, e.ExpiresAt)
	}
	cclog.Infof("[KEYSPACE]> restored %d string keys from %s", len(entries), path)
	return nil
}

// LoadSnapshotBytes installs the string entries encoded in payload, the
// in-memory counterpart to LoadSnapshot used for a replica's full-resync
// handover rather than a file on disk.
func (s *Store) LoadSnapshotBytes(payload []byte) error {
	entries, err := rdb.Read(bufio.NewReader(bytes.NewReader(payload)))
	if err != nil {
		return err
	}
	for _, e := range entries {
		s.SetString(string(e.Key), e.Value, e.ExpiresAt)
	}
	return nil
}

// stringEntries walks every shard and collects the live (unexpired) string
// keys as rdb.Entry values, the same representation LoadSnapshot consumes.
func (s *Store) stringEntries() []rdb.Entry {
	var entries []rdb.Entry
	now := nowMs()
	for _, sh := range s.shards {
		sh.mu.RLock()
		for key, e := range sh.data {
			if e.kind != KindString {
				continue
			}
			if exp, ok := sh.expires[key]; ok && exp != 0 && exp <= now {
				continue
			}
			var expiresAt int64
			if exp, ok := sh.expires[key]; ok {
				expiresAt = exp
			}
			entries = append(entries, rdb.Entry{Key: []byte(key), Value: e.str, ExpiresAt: expiresAt})
		}
		sh.mu.RUnlock()
	}
	return entries
}

// SnapshotBytes renders the current string keyspace as a binary snapshot,
// used as the replica full-resync handover payload. The on-disk dump file
// is written by SaveSnapshot through rdb.Save.
func (s *Store) SnapshotBytes() []byte {
	var buf bytes.Buffer
	rdb.Write(&buf, s.stringEntries())
	return buf.Bytes()
}

// SaveSnapshot persists the current string keyspace to dir/dbfile.
func (s *Store) SaveSnapshot(dir, dbfile string) error {
	path := filepath.Join(dir, dbfile)
	entries := s.stringEntries()
	if err := rdb.Save(path, entries); err != nil {
		return err
	}
	cclog.Infof("[KEYSPACE]> saved %d string keys to %s", len(entries), path)
	return nil
}
