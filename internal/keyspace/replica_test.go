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

func TestRegisterStartsAtCurrentOffset(t *testing.T) {
	r := NewReplicaRegistry()
	r.Propagate([]byte("*1\r\n$4\r\nPING\r\n"))

	d := r.Register()
	assert.Equal(t, r.Offset(), d.SentOffset())
	assert.Equal(t, 1, r.Count())
}

func TestPropagateFansOutAndAdvancesOffset(t *testing.T) {
	r := NewReplicaRegistry()
	d1 := r.Register()
	d2 := r.Register()

	raw := []byte("*1\r\n$4\r\nPING\r\n")
	r.Propagate(raw)

	assert.EqualValues(t, len(raw), r.Offset())
	got1 := <-d1.Outbound
	got2 := <-d2.Outbound
	assert.Equal(t, raw, got1)
	assert.Equal(t, raw, got2)
}

func TestPropagateDropsOnFullQueueRatherThanBlocking(t *testing.T) {
	r := NewReplicaRegistry()
	d := r.Register()
	// Fill the bounded queue completely without draining it.
	for i := 0; i < cap(d.Outbound); i++ {
		d.Outbound <- []byte("x")
	}

	done := make(chan struct{})
	go func() {
		r.Propagate([]byte("overflow"))
		close(done)
	}()
	select {
	case <-done:
	default:
	}
	<-done // Propagate must return even though the queue stayed full.
}

func TestAckedAtLeastCountsQualifyingReplicas(t *testing.T) {
	r := NewReplicaRegistry()
	d1 := r.Register()
	d2 := r.Register()

	d1.SetAcked(100)
	d2.SetAcked(50)

	assert.Equal(t, 2, r.AckedAtLeast(50))
	assert.Equal(t, 1, r.AckedAtLeast(100))
	assert.Equal(t, 0, r.AckedAtLeast(101))
}

func TestUnregisterRemovesFromCount(t *testing.T) {
	r := NewReplicaRegistry()
	d := r.Register()
	require.Equal(t, 1, r.Count())

	r.Unregister(d.ID)
	assert.Equal(t, 0, r.Count())
}

func TestSetAckedNeverGoesBackwards(t *testing.T) {
	d := &ReplicaDescriptor{}
	d.SetAcked(100)
	d.SetAcked(50)
	assert.EqualValues(t, 100, d.AckedOffset())
}
