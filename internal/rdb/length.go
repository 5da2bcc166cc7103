// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package rdb

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// ErrCompressedString is returned when a snapshot entry uses the
// LZF-compressed special encoding. Decoding LZF is out of scope, so this
// encoding is rejected explicitly rather than silently misread.
var ErrCompressedString = errors.New("rdb: LZF-compressed strings are not supported")

// readLength decodes the first-byte-selected length prefix: the top two
// bits select a 6-bit, 14-bit, 32-bit-big-endian, or special-encoding
// length. isSpecial reports whether the special-encoding form was picked,
// in which case n holds that encoding's selector (0, 1 or 2) rather than
// a length.
func readLength(r io.ByteReader) (n uint64, isSpecial bool, err error) {
	b0, err := r.ReadByte()
	if err != nil {
		return 0, false, err
	}
	switch b0 >> 6 {
	case 0b00:
		return uint64(b0 & 0x3f), false, nil
	case 0b01:
		b1, err := r.ReadByte()
		if err != nil {
			return 0, false, err
		}
		return uint64(b0&0x3f)<<8 | uint64(b1), false, nil
	case 0b10:
		var buf [4]byte
		for i := range buf {
			b, err := r.ReadByte()
			if err != nil {
				return 0, false, err
			}
			buf[i] = b
		}
		return uint64(binary.BigEndian.Uint32(buf[:])), false, nil
	default: // 0b11: special encoding
		return uint64(b0 & 0x3f), true, nil
	}
}

// readString decodes a length-prefixed or specially-encoded opaque byte
// run. Integer special encodings are rendered as their minimal decimal
// string, matching real RDB client behaviour.
func readString(r io.Reader) ([]byte, error) {
	br, ok := r.(io.ByteReader)
	if !ok {
		return nil, errors.New("rdb: reader must implement io.ByteReader")
	}
	n, special, err := readLength(br)
	if err != nil {
		return nil, err
	}
	if !special {
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		return buf, nil
	}
	switch n {
	case 0: // 8-bit signed int
		b, err := br.ReadByte()
		if err != nil {
			return nil, err
		}
		return []byte(strconv.FormatInt(int64(int8(b)), 10)), nil
	case 1: // 16-bit signed int, little-endian
		var buf [2]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return nil, err
		}
		return []byte(strconv.FormatInt(int64(int16(binary.LittleEndian.Uint16(buf[:]))), 10)), nil
	case 2: // 32-bit signed int, little-endian
		var buf [4]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return nil, err
		}
		return []byte(strconv.FormatInt(int64(int32(binary.LittleEndian.Uint32(buf[:]))), 10)), nil
	case 3:
		return nil, ErrCompressedString
	default:
		return nil, fmt.Errorf("rdb: unknown special string encoding %d", n)
	}
}
