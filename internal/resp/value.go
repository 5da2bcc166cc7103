// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package resp implements the wire codec for the RESP2 protocol: framing
// values out of a byte stream and serializing them back.
package resp

import "fmt"

// Kind identifies which of the five RESP2 frame types a Value holds.
type Kind byte

const (
	SimpleString Kind = '+'
	Error        Kind = '-'
	Integer      Kind = ':'
	BulkString   Kind = '$'
	Array        Kind = '*'
)

// Value is a decoded (or to-be-encoded) RESP2 value. Exactly one of the
// fields is meaningful depending on Kind:
//   - SimpleString / Error: Str
//   - Integer: Int
//   - BulkString: Str (Null true means a $-1 null bulk string)
//   - Array: Items (Null true means a *-1 null array)
type Value struct {
	Kind  Kind
	Str   []byte
	Int   int64
	Items []Value
	Null  bool
}

func Simple(s string) Value { return Value{Kind: SimpleString, Str: []byte(s)} }
func Err(s string) Value    { return Value{Kind: Error, Str: []byte(s)} }
func Int(n int64) Value     { return Value{Kind: Integer, Int: n} }
func Bulk(b []byte) Value   { return Value{Kind: BulkString, Str: b} }
func BulkStr(s string) Value {
	return Value{Kind: BulkString, Str: []byte(s)}
}

func NullBulk() Value { return Value{Kind: BulkString, Null: true} }
func NullArray() Value {
	return Value{Kind: Array, Null: true}
}

func Arr(items ...Value) Value { return Value{Kind: Array, Items: items} }

// Equal reports deep equality, used by the round-trip property tests.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind || v.Null != o.Null {
		return false
	}
	switch v.Kind {
	case Integer:
		return v.Int == o.Int
	case Array:
		if v.Null {
			return true
		}
		if len(v.Items) != len(o.Items) {
			return false
		}
		for i := range v.Items {
			if !v.Items[i].Equal(o.Items[i]) {
				return false
			}
		}
		return true
	default:
		if v.Null {
			return true
		}
		return string(v.Str) == string(o.Str)
	}
}

func (v Value) String() string {
	switch v.Kind {
	case Integer:
		return fmt.Sprintf(":%d", v.Int)
	case Array:
		if v.Null {
			return "*-1"
		}
		return fmt.Sprintf("*%d%v", len(v.Items), v.Items)
	default:
		if v.Null {
			return "$-1"
		}
		return fmt.Sprintf("%c%q", v.Kind, v.Str)
	}
}
