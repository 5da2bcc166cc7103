// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package keyspace

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func field(name, value string) [2][]byte {
	return [2][]byte{[]byte(name), []byte(value)}
}

func TestXAddAutoIDIsMonotonic(t *testing.T) {
	s := New()
	id1, err := s.XAdd("events", "*", [][2][]byte{field("k", "v1")})
	require.NoError(t, err)
	id2, err := s.XAdd("events", "*", [][2][]byte{field("k", "v2")})
	require.NoError(t, err)
	assert.True(t, id1.less(id2))
}

func TestXAddRejectsNonIncreasingID(t *testing.T) {
	s := New()
	_, err := s.XAdd("events", "5-0", [][2][]byte{field("k", "v")})
	require.NoError(t, err)

	_, err = s.XAdd("events", "5-0", [][2][]byte{field("k", "v")})
	assert.Error(t, err)

	_, err = s.XAdd("events", "4-0", [][2][]byte{field("k", "v")})
	assert.Error(t, err)
}

func TestXAddRejectsZeroID(t *testing.T) {
	s := New()
	_, err := s.XAdd("events", "0-0", [][2][]byte{field("k", "v")})
	assert.Error(t, err)
}

func TestXRangeReturnsInclusiveBounds(t *testing.T) {
	s := New()
	_, _ = s.XAdd("events", "1-0", [][2][]byte{field("a", "1")})
	_, _ = s.XAdd("events", "2-0", [][2][]byte{field("a", "2")})
	_, _ = s.XAdd("events", "3-0", [][2][]byte{field("a", "3")})

	entries, err := s.XRange("events", StreamID{1, 0}, StreamID{2, 0}, false)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "1-0", entries[0].ID.String())
	assert.Equal(t, "2-0", entries[1].ID.String())
}

func TestXReadOnlyReturnsNewerEntries(t *testing.T) {
	s := New()
	_, _ = s.XAdd("events", "1-0", [][2][]byte{field("a", "1")})
	_, _ = s.XAdd("events", "2-0", [][2][]byte{field("a", "2")})

	results, err := s.XRead([]string{"events"}, []StreamID{{1, 0}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Len(t, results[0].Entries, 1)
	assert.Equal(t, "2-0", results[0].Entries[0].ID.String())
}

func TestXReadBlockWakesOnAppend(t *testing.T) {
	s := New()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan []XReadResult, 1)
	go func() {
		res, err := s.XReadBlock(ctx, []string{"events"}, []StreamID{s.LastID("events")}, 0)
		require.NoError(t, err)
		done <- res
	}()

	time.Sleep(20 * time.Millisecond)
	_, err := s.XAdd("events", "*", [][2][]byte{field("k", "v")})
	require.NoError(t, err)

	select {
	case res := <-done:
		require.Len(t, res, 1)
		assert.Equal(t, "events", res[0].Key)
	case <-time.After(time.Second):
		t.Fatal("XReadBlock did not wake up after XAdd")
	}
}

func TestXAddAgainstWrongTypeFails(t *testing.T) {
	s := New()
	s.SetString("k", []byte("v"), 0)
	_, err := s.XAdd("k", "*", [][2][]byte{field("a", "1")})
	assert.Error(t, err)
}
