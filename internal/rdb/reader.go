// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package rdb parses the on-disk binary snapshot format into typed entries
// with optional expiry: a sequential byte-cursor walk over a small,
// explicit opcode grammar, the same style internal/avro uses for its own
// checkpoint format.
package rdb

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	cclog "github.com/cc-kv/cc-kvstore/log"
)

const (
	opAux          = 0xFA
	opSelectDB     = 0xFE
	opResizeDB     = 0xFB
	opExpireMs     = 0xFC
	opExpireSec    = 0xFD
	opEOF          = 0xFF
	typeString     = 0x00
	magic          = "REDIS"
	versionLength  = 4
	checksumLength = 8
)

// Entry is one key loaded from a snapshot: a string value with an optional
// absolute millisecond expiry deadline.
type Entry struct {
	Key       []byte
	Value     []byte
	ExpiresAt int64 // absolute unix ms; 0 means no expiry
}

// Load reads the snapshot at path and returns its entries in file order.
// A missing file is not an error: the caller starts with an empty
// keyspace.
func Load(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	entries, err := Read(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("rdb: %s: %w", path, err)
	}
	cclog.Infof("[RDB]> loaded %d keys from %s", len(entries), path)
	return entries, nil
}

// Read parses the snapshot grammar directly off r.
func Read(r *bufio.Reader) ([]Entry, error) {
	var header [len(magic) + versionLength]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	if string(header[:len(magic)]) != magic {
		return nil, fmt.Errorf("bad magic %q", header[:len(magic)])
	}

	var entries []Entry
	var pendingExpiry int64

	for {
		op, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return entries, nil
			}
			return entries, err
		}

		switch op {
		case opEOF:
			var checksum [checksumLength]byte
			// Checksum is present but intentionally not verified.
			io.ReadFull(r, checksum[:])
			return entries, nil

		case opAux:
			if _, err := readString(r); err != nil {
				return entries, fmt.Errorf("aux key: %w", err)
			}
			if _, err := readString(r); err != nil {
				return entries, fmt.Errorf("aux value: %w", err)
			}

		case opSelectDB:
			if _, _, err := readLength(r); err != nil {
				return entries, fmt.Errorf("db index: %w", err)
			}
			opFB, err := r.ReadByte()
			if err != nil {
				return entries, err
			}
			if opFB != opResizeDB {
				return entries, fmt.Errorf("expected resizedb opcode 0x%02x, got 0x%02x", opResizeDB, opFB)
			}
			nEntries, _, err := readLength(r)
			if err != nil {
				return entries, fmt.Errorf("n-entries: %w", err)
			}
			if _, _, err := readLength(r); err != nil { // n-with-expiry, unused by this reader
				return entries, fmt.Errorf("n-with-expiry: %w", err)
			}
			for i := uint64(0); i < nEntries; i++ {
				e, err := readEntry(r, &pendingExpiry)
				if err != nil {
					return entries, fmt.Errorf("entry %d: %w", i, err)
				}
				entries = append(entries, e)
			}

		default:
			return entries, fmt.Errorf("unexpected top-level opcode 0x%02x", op)
		}
	}
}

// readEntry consumes one optional expiry marker followed by a 0x00 typed
// key/value pair.
func readEntry(r *bufio.Reader, pendingExpiry *int64) (Entry, error) {
	*pendingExpiry = 0

	op, err := r.ReadByte()
	if err != nil {
		return Entry{}, err
	}

	switch op {
	case opExpireMs:
		var buf [8]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return Entry{}, err
		}
		*pendingExpiry = int64(binary.LittleEndian.Uint64(buf[:]))
		op, err = r.ReadByte()
		if err != nil {
			return Entry{}, err
		}
	case opExpireSec:
		var buf [4]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return Entry{}, err
		}
		*pendingExpiry = int64(binary.LittleEndian.Uint32(buf[:])) * 1000
		op, err = r.ReadByte()
		if err != nil {
			return Entry{}, err
		}
	}

	if op != typeString {
		return Entry{}, fmt.Errorf("unsupported value type opcode 0x%02x", op)
	}

	key, err := readString(r)
	if err != nil {
		return Entry{}, fmt.Errorf("key: %w", err)
	}
	value, err := readString(r)
	if err != nil {
		return Entry{}, fmt.Errorf("value: %w", err)
	}

	return Entry{Key: key, Value: value, ExpiresAt: *pendingExpiry}, nil
}
