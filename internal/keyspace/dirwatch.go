// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package keyspace

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/cc-kv/cc-kvstore/internal/util"
	cclog "github.com/cc-kv/cc-kvstore/log"
)

// dirWatchListener keeps CONFIG GET honest about the snapshot directory:
// if dir disappears, ConfigPaths falls back to "." until it comes back; if
// dbfile is removed or replaced underneath a running server, that's logged
// but does not otherwise change behavior (on-the-fly snapshot writing
// stays out of scope).
type dirWatchListener struct {
	store  *Store
	dir    string
	dbfile string
}

func (l *dirWatchListener) EventMatch(event string) bool {
	return strings.Contains(event, l.dir)
}

func (l *dirWatchListener) EventCallback() {
	if _, err := os.Stat(l.dir); err != nil {
		cclog.Warnf("[KEYSPACE]> snapshot directory %s is gone, CONFIG GET dir will report \".\" until it returns", l.dir)
		l.store.markDirMissing(true)
		return
	}
	l.store.markDirMissing(false)

	dbPath := filepath.Join(l.dir, l.dbfile)
	if _, err := os.Stat(dbPath); err != nil {
		cclog.Warnf("[KEYSPACE]> snapshot file %s was removed or replaced", dbPath)
	}
}

// WatchConfigDir starts watching the currently configured snapshot
// directory for changes, per SPEC_FULL.md's config hot-watch component.
// A no-op if dir is empty.
func (s *Store) WatchConfigDir() {
	dir, dbfile := s.ConfigPaths()
	if dir == "" {
		return
	}
	util.AddListener(dir, &dirWatchListener{store: s, dir: dir, dbfile: dbfile})
}
