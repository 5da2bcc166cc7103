// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package keyspace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZAddNewMemberThenUpdateScore(t *testing.T) {
	s := New()

	n, err := s.ZAdd("leaderboard", "alice", 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.ZAdd("leaderboard", "alice", 20)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "updating an existing member's score adds no new members")

	score, found, err := s.ZScore("leaderboard", "alice")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 20.0, score)
}

func TestZRangeOrdersByScoreThenMember(t *testing.T) {
	s := New()
	_, _ = s.ZAdd("z", "b", 5)
	_, _ = s.ZAdd("z", "a", 5)
	_, _ = s.ZAdd("z", "c", 1)

	members, err := s.ZRange("z", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a", "b"}, members)
}

func TestZRankReflectsOrdering(t *testing.T) {
	s := New()
	_, _ = s.ZAdd("z", "low", 1)
	_, _ = s.ZAdd("z", "high", 100)

	rank, found, err := s.ZRank("z", "low")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 0, rank)

	_, found, err = s.ZRank("z", "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestZRangeByScore(t *testing.T) {
	s := New()
	_, _ = s.ZAdd("z", "a", 1)
	_, _ = s.ZAdd("z", "b", 5)
	_, _ = s.ZAdd("z", "c", 10)

	members, err := s.ZRangeByScore("z", 2, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, members)
}

func TestZCardOnMissingKeyIsZero(t *testing.T) {
	s := New()
	n, err := s.ZCard("nope")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestZAddAgainstWrongTypeFails(t *testing.T) {
	s := New()
	s.SetString("k", []byte("v"), 0)

	_, err := s.ZAdd("k", "m", 1)
	assert.Error(t, err)
}
