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

func TestWaiterTryDeliverOnlySucceedsOnce(t *testing.T) {
	w := newWaiter()
	assert.True(t, w.tryDeliver("first"))
	assert.False(t, w.tryDeliver("second"), "a waiter can only be delivered to once")
	assert.Equal(t, "first", <-w.ch)
}

func TestWaiterCancelPreventsLaterDelivery(t *testing.T) {
	w := newWaiter()
	w.cancel()
	assert.False(t, w.tryDeliver("too late"))
}

func TestWaiterCancelAfterDeliveryIsANoOp(t *testing.T) {
	w := newWaiter()
	require.True(t, w.tryDeliver("v"))
	assert.NotPanics(t, func() { w.cancel() })
}

func TestWaiterQueueIsFIFO(t *testing.T) {
	q := &waiterQueue{}
	w1, w2 := newWaiter(), newWaiter()
	q.push(w1)
	q.push(w2)

	got, ok := q.pop()
	require.True(t, ok)
	assert.Same(t, w1, got)

	got, ok = q.pop()
	require.True(t, ok)
	assert.Same(t, w2, got)

	_, ok = q.pop()
	assert.False(t, ok)
}

func TestWaiterQueueLenTracksPushesAndPops(t *testing.T) {
	q := &waiterQueue{}
	assert.Equal(t, 0, q.len())

	q.push(newWaiter())
	q.push(newWaiter())
	assert.Equal(t, 2, q.len())

	q.pop()
	assert.Equal(t, 1, q.len())
}

func TestWaiterQueueRemoveDropsTargetByIdentity(t *testing.T) {
	q := &waiterQueue{}
	w1, w2, w3 := newWaiter(), newWaiter(), newWaiter()
	q.push(w1)
	q.push(w2)
	q.push(w3)

	q.remove(w2)
	assert.Equal(t, 2, q.len())

	got, _ := q.pop()
	assert.Same(t, w1, got)
	got, _ = q.pop()
	assert.Same(t, w3, got)
}

func TestWaiterQueueRemoveMissingTargetIsANoOp(t *testing.T) {
	q := &waiterQueue{}
	q.push(newWaiter())
	assert.NotPanics(t, func() { q.remove(newWaiter()) })
	assert.Equal(t, 1, q.len())
}

func TestWaiterRegistryReturnsSameQueueForSameKey(t *testing.T) {
	r := newWaiterRegistry()
	assert.Same(t, r.listQueue("k"), r.listQueue("k"))
	assert.Same(t, r.streamQueue("k"), r.streamQueue("k"))
}

func TestWaiterRegistryListAndStreamQueuesAreIndependent(t *testing.T) {
	r := newWaiterRegistry()
	assert.NotSame(t, r.listQueue("k"), r.streamQueue("k"))
}
