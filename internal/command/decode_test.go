// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bs(ss ...string) [][]byte {
	out := make([][]byte, len(ss))
	for i, s := range ss {
		out[i] = []byte(s)
	}
	return out
}

func TestDecodeUnknownCommand(t *testing.T) {
	_, err := Decode(bs("FROBNICATE", "x"))
	assert.Error(t, err)
}

func TestDecodeWrongArity(t *testing.T) {
	_, err := Decode(bs("GET"))
	assert.Error(t, err)
}

func TestDecodeCaseInsensitive(t *testing.T) {
	c, err := Decode(bs("set", "foo", "bar"))
	require.NoError(t, err)
	assert.Equal(t, Set, c.Kind)
	assert.Equal(t, "SET", c.Name)
}

func TestParseSetWithPX(t *testing.T) {
	c, err := Decode(bs("SET", "foo", "bar", "PX", "50"))
	require.NoError(t, err)
	opt, err := ParseSet(c.Args)
	require.NoError(t, err)
	assert.True(t, opt.HasExpiry)
	assert.EqualValues(t, 50, opt.ExpiryMs)
}

func TestParseXReadBlockStreams(t *testing.T) {
	c, err := Decode(bs("XREAD", "BLOCK", "100", "STREAMS", "s1", "s2", "0", "$"))
	require.NoError(t, err)
	opt, err := ParseXRead(c.Args)
	require.NoError(t, err)
	assert.True(t, opt.Blocking)
	assert.EqualValues(t, 100, opt.BlockMs)
	assert.Equal(t, [][]byte{[]byte("s1"), []byte("s2")}, opt.Streams)
	assert.Equal(t, [][]byte{[]byte("0"), []byte("$")}, opt.IDs)
}

func TestParseGeoSearch(t *testing.T) {
	c, err := Decode(bs("GEOSEARCH", "k", "FROMLONLAT", "15", "37", "BYRADIUS", "200", "km"))
	require.NoError(t, err)
	opt, err := ParseGeoSearch(c.Args)
	require.NoError(t, err)
	assert.InDelta(t, 15, opt.Longitude, 1e-9)
	assert.InDelta(t, 200000, opt.RadiusMeter, 1e-9)
}
