// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package rdb

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// appendLength writes the 6-bit small-length encoding used throughout
// these fixtures; every length here fits in 6 bits.
func appendLength(buf *bytes.Buffer, n byte) {
	buf.WriteByte(n & 0x3f)
}

func appendString(buf *bytes.Buffer, s string) {
	appendLength(buf, byte(len(s)))
	buf.WriteString(s)
}

func buildSnapshot(t *testing.T, withExpiry bool) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString("REDIS0011")
	buf.WriteByte(opAux)
	appendString(&buf, "redis-ver")
	appendString(&buf, "7.0.0")

	buf.WriteByte(opSelectDB)
	appendLength(&buf, 0)
	buf.WriteByte(opResizeDB)
	nWithExpiry := byte(0)
	if withExpiry {
		nWithExpiry = 1
	}
	appendLength(&buf, 2)
	appendLength(&buf, nWithExpiry)

	if withExpiry {
		buf.WriteByte(opExpireMs)
		var ts [8]byte
		binary.LittleEndian.PutUint64(ts[:], 1700000000000)
		buf.Write(ts[:])
	}
	buf.WriteByte(typeString)
	appendString(&buf, "foo")
	appendString(&buf, "bar")

	buf.WriteByte(typeString)
	appendString(&buf, "baz")
	appendString(&buf, "qux")

	buf.WriteByte(opEOF)
	buf.Write(make([]byte, 8))
	return buf.Bytes()
}

func TestReadSnapshotBasic(t *testing.T) {
	data := buildSnapshot(t, true)
	entries, err := Read(bufio.NewReader(bytes.NewReader(data)))
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "foo", string(entries[0].Key))
	assert.Equal(t, "bar", string(entries[0].Value))
	assert.EqualValues(t, 1700000000000, entries[0].ExpiresAt)

	assert.Equal(t, "baz", string(entries[1].Key))
	assert.Equal(t, "qux", string(entries[1].Value))
	assert.EqualValues(t, 0, entries[1].ExpiresAt)
}

func TestReadSnapshotBadMagic(t *testing.T) {
	_, err := Read(bufio.NewReader(bytes.NewReader([]byte("GARBAGE01"))))
	assert.Error(t, err)
}

func TestLoadMissingFileReturnsEmpty(t *testing.T) {
	entries, err := Load("/nonexistent/path/dump.rdb")
	require.NoError(t, err)
	assert.Nil(t, entries)
}

func TestReadRejectsCompressedString(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("REDIS0011")
	buf.WriteByte(opSelectDB)
	appendLength(&buf, 0)
	buf.WriteByte(opResizeDB)
	appendLength(&buf, 1)
	appendLength(&buf, 0)
	buf.WriteByte(typeString)
	buf.WriteByte(0xC3) // special encoding selector 3 == LZF compressed
	buf.WriteString("anything")

	_, err := Read(bufio.NewReader(bytes.NewReader(buf.Bytes())))
	assert.ErrorIs(t, err, ErrCompressedString)
}
