// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package rdb

import (
	"encoding/binary"
	"io"
	"os"
)

// Write serializes entries in the same grammar Read parses: a "REDIS0011"
// header, one SELECTDB/RESIZEDB pair, each entry with its optional
// EXPIRETIME_MS marker, and a trailing EOF opcode with an 8-byte checksum
// field left as zero (verification is intentionally skipped on read too).
func Write(w io.Writer, entries []Entry) error {
	if _, err := w.Write([]byte(magic + "0011")); err != nil {
		return err
	}
	if err := writeByte(w, opSelectDB); err != nil {
		return err
	}
	if err := writeLength(w, 0); err != nil {
		return err
	}
	if err := writeByte(w, opResizeDB); err != nil {
		return err
	}
	if err := writeLength(w, uint64(len(entries))); err != nil {
		return err
	}
	nWithExpiry := uint64(0)
	for _, e := range entries {
		if e.ExpiresAt != 0 {
			nWithExpiry++
		}
	}
	if err := writeLength(w, nWithExpiry); err != nil {
		return err
	}

	for _, e := range entries {
		if e.ExpiresAt != 0 {
			if err := writeByte(w, opExpireMs); err != nil {
				return err
			}
			var buf [8]byte
			binary.LittleEndian.PutUint64(buf[:], uint64(e.ExpiresAt))
			if _, err := w.Write(buf[:]); err != nil {
				return err
			}
		}
		if err := writeByte(w, typeString); err != nil {
			return err
		}
		if err := writeString(w, e.Key); err != nil {
			return err
		}
		if err := writeString(w, e.Value); err != nil {
			return err
		}
	}

	if err := writeByte(w, opEOF); err != nil {
		return err
	}
	var checksum [checksumLength]byte
	_, err := w.Write(checksum[:])
	return err
}

// Save writes entries to path, replacing any existing file atomically via
// a temp-file-then-rename, matching the on-disk safety behaviour real RDB
// persistence uses to avoid leaving a half-written snapshot after a crash.
func Save(path string, entries []Entry) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := Write(f, entries); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func writeByte(w io.Writer, b byte) error {
	_, err := w.Write([]byte{b})
	return err
}

// writeLength always emits the 32-bit-big-endian length form; simple to
// write, and readLength accepts it unconditionally.
func writeLength(w io.Writer, n uint64) error {
	var buf [5]byte
	buf[0] = 0b10000000
	binary.BigEndian.PutUint32(buf[1:], uint32(n))
	_, err := w.Write(buf[:])
	return err
}

func writeString(w io.Writer, b []byte) error {
	if err := writeLength(w, uint64(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}
