// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package resp

import (
	"fmt"
	"strconv"
)

// Encode serializes v in the RESP2 grammar, appending to dst and returning
// the grown slice. Kept allocation-light by reusing the caller's buffer.
func Encode(dst []byte, v Value) []byte {
	switch v.Kind {
	case SimpleString:
		dst = append(dst, '+')
		dst = append(dst, v.Str...)
		return append(dst, '\r', '\n')
	case Error:
		dst = append(dst, '-')
		dst = append(dst, v.Str...)
		return append(dst, '\r', '\n')
	case Integer:
		dst = append(dst, ':')
		dst = strconv.AppendInt(dst, v.Int, 10)
		return append(dst, '\r', '\n')
	case BulkString:
		if v.Null {
			return append(dst, '$', '-', '1', '\r', '\n')
		}
		dst = append(dst, '$')
		dst = strconv.AppendInt(dst, int64(len(v.Str)), 10)
		dst = append(dst, '\r', '\n')
		dst = append(dst, v.Str...)
		return append(dst, '\r', '\n')
	case Array:
		if v.Null {
			return append(dst, '*', '-', '1', '\r', '\n')
		}
		dst = append(dst, '*')
		dst = strconv.AppendInt(dst, int64(len(v.Items)), 10)
		dst = append(dst, '\r', '\n')
		for _, item := range v.Items {
			dst = Encode(dst, item)
		}
		return dst
	default:
		panic(fmt.Sprintf("resp: unknown Kind %v", v.Kind))
	}
}

// Bytes is a convenience wrapper around Encode for callers that don't want
// to manage their own reusable buffer.
func Bytes(v Value) []byte {
	return Encode(nil, v)
}

// Len reports the exact number of bytes Encode(nil, v) would produce,
// without allocating. The replication byte counter does not call it; it
// adds the length of each already-encoded frame.
func Len(v Value) int {
	switch v.Kind {
	case SimpleString, Error:
		return 1 + len(v.Str) + 2
	case Integer:
		return 1 + len(strconv.FormatInt(v.Int, 10)) + 2
	case BulkString:
		if v.Null {
			return 5
		}
		return 1 + len(strconv.Itoa(len(v.Str))) + 2 + len(v.Str) + 2
	case Array:
		if v.Null {
			return 5
		}
		n := 1 + len(strconv.Itoa(len(v.Items))) + 2
		for _, item := range v.Items {
			n += Len(item)
		}
		return n
	default:
		panic(fmt.Sprintf("resp: unknown Kind %v", v.Kind))
	}
}

// WriteRawSnapshotFrame encodes the leader's full-resync handover frame:
// "$<len>\r\n<payload>" with no trailing CRLF, distinct from an ordinary
// bulk string reply.
func WriteRawSnapshotFrame(payload []byte) []byte {
	dst := append([]byte{'$'}, []byte(strconv.Itoa(len(payload)))...)
	dst = append(dst, '\r', '\n')
	return append(dst, payload...)
}
