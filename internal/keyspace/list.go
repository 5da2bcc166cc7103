// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package keyspace

import (
	"container/list"
	"context"
	"errors"
	"time"
)

// ErrNotFound is a sentinel for "absent"; no function in this package
// returns it.
var ErrNotFound = errors.New("keyspace: not found")

func (s *Store) listEntry(key string, createIfAbsent bool) (*shard, *entry, error) {
	sh := s.shardFor(key)
	now := nowMs()
	sh.expireIfNeeded(key, now)
	e, ok := sh.data[key]
	if !ok {
		if !createIfAbsent {
			return sh, nil, nil
		}
		e = &entry{kind: KindList, list: list.New()}
		sh.data[key] = e
		return sh, e, nil
	}
	if e.kind != KindList {
		return sh, nil, ErrWrongType
	}
	return sh, e, nil
}

// Push appends (right=true) or prepends (right=false) values in argument
// order. LPUSH with multiple arguments prepends each successively, so the
// final head order is reversed relative to the argument list.
func (s *Store) Push(key string, right bool, values ...[]byte) (int, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	_, e, err := s.listEntry(key, true)
	if err != nil {
		sh.mu.Unlock()
		return 0, err
	}
	for _, v := range values {
		if right {
			e.list.PushBack(v)
		} else {
			e.list.PushFront(v)
		}
	}
	length := e.list.Len()
	sh.mu.Unlock()

	s.runListWaiterMatch(key)
	return length, nil
}

// runListWaiterMatch: while the list is non-empty and the waiter queue is
// non-empty, pop a value from the head and hand it to the next live
// waiter, retrying on dead waiters. popListHeadLocked takes and releases
// the shard lock before the waiter queue is touched, so the two are never
// held together.
func (s *Store) runListWaiterMatch(key string) {
	q := s.waiters.listQueue(key)
	for {
		if q.len() == 0 {
			return
		}
		val, ok := s.popListHeadLocked(key)
		if !ok {
			return
		}
		for {
			w, ok := q.pop()
			if !ok {
				// No live waiter took it: put it back and stop.
				s.pushListFrontLocked(key, val)
				return
			}
			if w.tryDeliver([]any{key, val}) {
				break
			}
			// Dead waiter: try the next one with the same value.
		}
	}
}

func (s *Store) popListHeadLocked(key string) ([]byte, bool) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.data[key]
	if !ok || e.kind != KindList || e.list.Len() == 0 {
		return nil, false
	}
	front := e.list.Remove(e.list.Front()).([]byte)
	removeIfEmptyLocked(sh, key, e)
	return front, true
}

func (s *Store) pushListFrontLocked(key string, val []byte) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.data[key]
	if !ok {
		e = &entry{kind: KindList, list: list.New()}
		sh.data[key] = e
	}
	e.list.PushFront(val)
}

// Range returns a copy of the inclusive, clamped sub-range LRANGE needs.
func (s *Store) Range(key string, start, stop int) ([][]byte, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	_, e, err := s.listEntryLockedNoCreate(sh, key)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, nil
	}
	n := e.list.Len()
	lo, hi := clampRange(start, stop, n)
	if lo > hi {
		return nil, nil
	}
	out := make([][]byte, 0, hi-lo+1)
	i := 0
	for el := e.list.Front(); el != nil; el = el.Next() {
		if i > hi {
			break
		}
		if i >= lo {
			out = append(out, el.Value.([]byte))
		}
		i++
	}
	return out, nil
}

func (s *Store) listEntryLockedNoCreate(sh *shard, key string) (*shard, *entry, error) {
	now := nowMs()
	if sh.expireIfNeeded(key, now) {
		return sh, nil, nil
	}
	e, ok := sh.data[key]
	if !ok {
		return sh, nil, nil
	}
	if e.kind != KindList {
		return sh, nil, ErrWrongType
	}
	return sh, e, nil
}

// clampRange normalizes negative indices and out-of-range bounds into a
// valid [lo,hi] slice window.
func clampRange(start, stop, n int) (lo, hi int) {
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	return start, stop
}

// Len returns the list length, 0 if absent, ErrWrongType if another kind.
func (s *Store) Len(key string) (int, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	_, e, err := s.listEntryLockedNoCreate(sh, key)
	if err != nil {
		return 0, err
	}
	if e == nil {
		return 0, nil
	}
	return e.list.Len(), nil
}

// Pop removes up to n elements from the head. n == 1 (the "no count given"
// case) is distinguished by the caller so it can reply with a bulk string
// instead of an array.
func (s *Store) Pop(key string, n int) ([][]byte, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	_, e, err := s.listEntryLockedNoCreate(sh, key)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, nil
	}
	out := make([][]byte, 0, n)
	for i := 0; i < n && e.list.Len() > 0; i++ {
		out = append(out, e.list.Remove(e.list.Front()).([]byte))
	}
	removeIfEmptyLocked(sh, key, e)
	return out, nil
}

// BLPop implements BLPOP: immediate pop if possible, else register a FIFO
// waiter and suspend until signalled or the deadline passes. timeout <= 0
// means wait forever.
func (s *Store) BLPop(ctx context.Context, key string, timeout time.Duration) (resultKey string, value []byte, ok bool, err error) {
	vals, err := s.Pop(key, 1)
	if err != nil {
		return "", nil, false, err
	}
	if len(vals) == 1 {
		return key, vals[0], true, nil
	}

	w := newWaiter()
	q := s.waiters.listQueue(key)
	q.push(w)

	var timer *time.Timer
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer = time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case v := <-w.ch:
		pair := v.([]any)
		return pair[0].(string), pair[1].([]byte), true, nil
	case <-timeoutCh:
		w.cancel()
		q.remove(w)
		return "", nil, false, nil
	case <-ctx.Done():
		w.cancel()
		q.remove(w)
		return "", nil, false, ctx.Err()
	}
}
