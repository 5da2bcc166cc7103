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

func TestPushRightAppendsInOrder(t *testing.T) {
	s := New()
	n, err := s.Push("q", true, []byte("a"), []byte("b"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	vals, err := s.Range("q", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b")}, vals)
}

func TestPushLeftPrependsEachReversingOrder(t *testing.T) {
	s := New()
	_, err := s.Push("q", false, []byte("a"), []byte("b"))
	require.NoError(t, err)

	vals, err := s.Range("q", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("b"), []byte("a")}, vals)
}

func TestPushAgainstWrongTypeFails(t *testing.T) {
	s := New()
	s.SetString("k", []byte("v"), 0)

	_, err := s.Push("k", true, []byte("v"))
	assert.ErrorIs(t, err, ErrWrongType)
}

func TestRangeClampsOutOfBoundIndices(t *testing.T) {
	s := New()
	_, err := s.Push("q", true, []byte("a"), []byte("b"), []byte("c"))
	require.NoError(t, err)

	vals, err := s.Range("q", -100, 100)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b"), []byte("c")}, vals)
}

func TestRangeOnMissingKeyReturnsNilWithoutError(t *testing.T) {
	s := New()
	vals, err := s.Range("nope", 0, -1)
	assert.NoError(t, err)
	assert.Nil(t, vals)
}

func TestLenReflectsPushesAndPops(t *testing.T) {
	s := New()
	_, err := s.Push("q", true, []byte("a"), []byte("b"))
	require.NoError(t, err)

	n, err := s.Len("q")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = s.Pop("q", 1)
	require.NoError(t, err)

	n, err = s.Len("q")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLenOnMissingKeyIsZero(t *testing.T) {
	s := New()
	n, err := s.Len("nope")
	assert.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestPopRemovesFromHeadAndClearsEmptyList(t *testing.T) {
	s := New()
	_, err := s.Push("q", true, []byte("a"), []byte("b"))
	require.NoError(t, err)

	vals, err := s.Pop("q", 2)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b")}, vals)
	assert.False(t, s.Exists("q"), "an emptied list key must no longer exist")
}

func TestPopMoreThanAvailableReturnsWhatExists(t *testing.T) {
	s := New()
	_, err := s.Push("q", true, []byte("a"))
	require.NoError(t, err)

	vals, err := s.Pop("q", 5)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("a")}, vals)
}

func TestBLPopReturnsImmediatelyWhenValueAlreadyPresent(t *testing.T) {
	s := New()
	_, err := s.Push("q", true, []byte("a"))
	require.NoError(t, err)

	key, val, ok, err := s.BLPop(context.Background(), "q", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "q", key)
	assert.Equal(t, []byte("a"), val)
}

func TestBLPopWakesOnLaterPush(t *testing.T) {
	s := New()
	type result struct {
		key string
		val []byte
		ok  bool
		err error
	}
	resultCh := make(chan result, 1)

	go func() {
		key, val, ok, err := s.BLPop(context.Background(), "q", 0)
		resultCh <- result{key, val, ok, err}
	}()

	time.Sleep(50 * time.Millisecond)
	_, err := s.Push("q", true, []byte("late"))
	require.NoError(t, err)

	select {
	case r := <-resultCh:
		require.NoError(t, r.err)
		assert.True(t, r.ok)
		assert.Equal(t, "q", r.key)
		assert.Equal(t, []byte("late"), r.val)
	case <-time.After(time.Second):
		t.Fatal("BLPop did not wake up after a matching push")
	}
}

func TestBLPopTimesOutWhenNothingArrives(t *testing.T) {
	s := New()
	_, _, ok, err := s.BLPop(context.Background(), "q", 50*time.Millisecond)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestBLPopReturnsContextErrorOnCancellation(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())

	resultCh := make(chan error, 1)
	go func() {
		_, _, _, err := s.BLPop(ctx, "q", 0)
		resultCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-resultCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("BLPop did not return after context cancellation")
	}
}
