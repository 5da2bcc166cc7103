// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package keyspace

import "sync"

// ReplicaDescriptor tracks one connected follower from the leader's side:
// its outbound command queue and the byte offset it has been sent up to.
type ReplicaDescriptor struct {
	ID           uint64
	Outbound     chan []byte // bounded; a full queue means a stuck replica
	mu           sync.Mutex
	sentOffset   int64
	ackedOffset  int64
}

func (r *ReplicaDescriptor) SentOffset() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sentOffset
}

func (r *ReplicaDescriptor) addSent(n int64) {
	r.mu.Lock()
	r.sentOffset += n
	r.mu.Unlock()
}

func (r *ReplicaDescriptor) SetAcked(off int64) {
	r.mu.Lock()
	if off > r.ackedOffset {
		r.ackedOffset = off
	}
	r.mu.Unlock()
}

func (r *ReplicaDescriptor) AckedOffset() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ackedOffset
}

// ReplicaRegistry is the leader-side bookkeeping for every connected
// follower plus the running replication stream byte counter that backs
// WAIT and the REPLCONF GETACK offset convention.
type ReplicaRegistry struct {
	mu       sync.Mutex
	replicas map[uint64]*ReplicaDescriptor
	nextID   uint64
	offset   int64
}

func NewReplicaRegistry() *ReplicaRegistry {
	return &ReplicaRegistry{replicas: make(map[uint64]*ReplicaDescriptor)}
}

// Register adds a newly handshaken replica with a bounded outbound queue.
func (r *ReplicaRegistry) Register() *ReplicaDescriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	d := &ReplicaDescriptor{ID: r.nextID, Outbound: make(chan []byte, 4096)}
	d.sentOffset = r.offset
	r.replicas[d.ID] = d
	return d
}

func (r *ReplicaRegistry) Unregister(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.replicas, id)
}

// Offset returns the total bytes ever written to the replication stream.
func (r *ReplicaRegistry) Offset() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.offset
}

// Count returns the number of currently connected replicas.
func (r *ReplicaRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.replicas)
}

// Propagate fans a raw encoded command out to every connected replica's
// outbound queue (dropping it for any replica whose queue is full, rather
// than blocking the whole keyspace on one slow follower) and advances the
// running byte counter by len(raw).
func (r *ReplicaRegistry) Propagate(raw []byte) {
	r.mu.Lock()
	r.offset += int64(len(raw))
	replicas := make([]*ReplicaDescriptor, 0, len(r.replicas))
	for _, d := range r.replicas {
		replicas = append(replicas, d)
	}
	r.mu.Unlock()

	for _, d := range replicas {
		select {
		case d.Outbound <- raw:
			d.addSent(int64(len(raw)))
		default:
		}
	}
}

// AckedAtLeast counts how many replicas have acknowledged at least
// offset bytes, the core of WAIT's polling predicate.
func (r *ReplicaRegistry) AckedAtLeast(offset int64) int {
	r.mu.Lock()
	replicas := make([]*ReplicaDescriptor, 0, len(r.replicas))
	for _, d := range r.replicas {
		replicas = append(replicas, d)
	}
	r.mu.Unlock()

	n := 0
	for _, d := range replicas {
		if d.AckedOffset() >= offset {
			n++
		}
	}
	return n
}
