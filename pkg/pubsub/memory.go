// Copyright 2026 The Actor Engine Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pubsub

import (
	"context"
	"sync"
)

// memoryChannelBuffer bounds how many undelivered messages a single
// subscription buffers before Publish starts blocking; sized generously
// since subjects in this system (one per runner, one per workflow) have
// few concurrent subscribers.
const memoryChannelBuffer = 256

// MemoryBus is an in-process Bus for single-binary deployments and tests.
// Every message published to a subject is fanned out to every current
// subscriber across every group, so it satisfies Bus's "at least once"
// contract trivially: delivery only fails if the process itself dies.
type MemoryBus struct {
	mu   sync.Mutex
	subs map[string]map[*memorySub]struct{}
}

// NewMemoryBus constructs an empty in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string]map[*memorySub]struct{})}
}

// Close implements Bus.
func (b *MemoryBus) Close() error { return nil }

// Publish implements Bus.
func (b *MemoryBus) Publish(ctx context.Context, subject string, data []byte) error {
	b.mu.Lock()
	subs := make([]*memorySub, 0, len(b.subs[subject]))
	for s := range b.subs[subject] {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		msg := &Message{Subject: subject, Data: append([]byte(nil), data...)}
		select {
		case s.ch <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Subscribe implements Bus. group is accepted for interface parity with
// Bus but unused: the in-memory bus always fans out to every subscriber,
// since it has no persistence layer over which to load-balance.
func (b *MemoryBus) Subscribe(ctx context.Context, subject, group string) (Subscription, error) {
	s := &memorySub{
		bus:     b,
		subject: subject,
		ch:      make(chan *Message, memoryChannelBuffer),
	}

	b.mu.Lock()
	if b.subs[subject] == nil {
		b.subs[subject] = make(map[*memorySub]struct{})
	}
	b.subs[subject][s] = struct{}{}
	b.mu.Unlock()

	return s, nil
}

type memorySub struct {
	bus     *MemoryBus
	subject string
	ch      chan *Message

	closeOnce sync.Once
}

func (s *memorySub) Messages() <-chan *Message { return s.ch }

func (s *memorySub) Unsubscribe() error {
	s.closeOnce.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs[s.subject], s)
		s.bus.mu.Unlock()
		close(s.ch)
	})
	return nil
}
