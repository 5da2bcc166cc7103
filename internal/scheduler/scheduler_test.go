// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cc-kv/cc-kvstore/internal/keyspace"
)

func TestStartActivelyExpiresKeys(t *testing.T) {
	store := keyspace.New()
	store.SetString("k", []byte("v"), 1) // already expired (epoch ms 1)

	s, err := Start(store, func() {})
	require.NoError(t, err)
	defer s.Shutdown()

	require.Eventually(t, func() bool {
		_, ok, _ := store.GetString("k")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestStartSendsGetAckOnlyWhenReplicasConnected(t *testing.T) {
	store := keyspace.New()
	var calls int32

	s, err := Start(store, func() { atomic.AddInt32(&calls, 1) })
	require.NoError(t, err)
	defer s.Shutdown()

	time.Sleep(1200 * time.Millisecond)
	assert.EqualValues(t, 0, atomic.LoadInt32(&calls), "no replicas registered yet")

	store.Replicas().Register()
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) > 0
	}, 2*time.Second, 50*time.Millisecond)
}
