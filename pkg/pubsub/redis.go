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
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisField is the single field every stream entry carries its payload
// under.
const redisField = "data"

// redisBlockInterval bounds how long a single XREADGROUP call blocks
// waiting for new entries before looping to check ctx.Done().
const redisBlockInterval = 2 * time.Second

// RedisBus is a Bus backed by Redis Streams with consumer groups, giving
// genuine cross-process at-least-once delivery with redeliverable,
// acknowledgeable messages — the durable transport for runner tunnel
// frames and cross-worker workflow signals.
type RedisBus struct {
	client *redis.Client
}

// NewRedisBus wraps an existing Redis client. The caller owns the
// client's lifecycle except that Close will also close it.
func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{client: client}
}

// Close implements Bus.
func (b *RedisBus) Close() error { return b.client.Close() }

// Publish implements Bus via XADD.
func (b *RedisBus) Publish(ctx context.Context, subject string, data []byte) error {
	return b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: subject,
		Values: map[string]any{redisField: data},
	}).Err()
}

// Subscribe implements Bus by creating (if absent) a consumer group named
// group on the subject's stream, then launching a background reader that
// fans deliveries into the returned Subscription's channel.
func (b *RedisBus) Subscribe(ctx context.Context, subject, group string) (Subscription, error) {
	if group == "" {
		group = "default"
	}

	err := b.client.XGroupCreateMkStream(ctx, subject, group, "0").Err()
	if err != nil && !isBusyGroupErr(err) {
		return nil, fmt.Errorf("pubsub: create consumer group: %w", err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	s := &redisSub{
		bus:      b,
		subject:  subject,
		group:    group,
		consumer: fmt.Sprintf("consumer-%d", time.Now().UnixNano()),
		ch:       make(chan *Message, memoryChannelBuffer),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go s.run(subCtx)
	return s, nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "BUSYGROUP")
}

type redisSub struct {
	bus      *RedisBus
	subject  string
	group    string
	consumer string

	ch     chan *Message
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *redisSub) Messages() <-chan *Message { return s.ch }

func (s *redisSub) Unsubscribe() error {
	s.cancel()
	<-s.done
	return nil
}

func (s *redisSub) run(ctx context.Context) {
	defer close(s.done)
	defer close(s.ch)

	for {
		if ctx.Err() != nil {
			return
		}

		streams, err := s.bus.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    s.group,
			Consumer: s.consumer,
			Streams:  []string{s.subject, ">"},
			Count:    32,
			Block:    redisBlockInterval,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
				continue
			}
			// Transient network errors: back off briefly and retry rather
			// than tearing down the subscription.
			select {
			case <-time.After(200 * time.Millisecond):
			case <-ctx.Done():
				return
			}
			continue
		}

		for _, stream := range streams {
			for _, entry := range stream.Messages {
				raw, _ := entry.Values[redisField].(string)
				entryID := entry.ID
				msg := &Message{
					Subject: s.subject,
					Data:    []byte(raw),
					ackFn: func(ctx context.Context) error {
						return s.bus.client.XAck(ctx, s.subject, s.group, entryID).Err()
					},
				}
				select {
				case s.ch <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}
