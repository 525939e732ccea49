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

// Package pubsub implements the at-least-once named-subject message bus
// collaborator from spec.md §2: the transport the workflow runtime uses to
// deliver signals, and the gateway/tunnel uses for runner.receiver.<id>
// frames.
package pubsub

import "context"

// Message is a single delivered payload on a subject, carrying an
// acknowledgement handle so an at-least-once consumer group can retry
// unacked deliveries.
type Message struct {
	Subject string
	Data    []byte

	// ackFn is called by Ack; nil for implementations that do not require
	// an explicit ack (e.g. the in-memory bus's single-subscriber mode).
	ackFn func(ctx context.Context) error
}

// Ack acknowledges successful processing, allowing the backend to advance
// the subject's delivery cursor.
func (m *Message) Ack(ctx context.Context) error {
	if m.ackFn == nil {
		return nil
	}
	return m.ackFn(ctx)
}

// Subscription is a live consumer of a subject.
type Subscription interface {
	// Messages returns the channel new deliveries arrive on. Closed after
	// Unsubscribe or when the subscription's context is canceled.
	Messages() <-chan *Message

	// Unsubscribe stops delivery and releases resources.
	Unsubscribe() error
}

// Bus is the at-least-once pub/sub collaborator.
type Bus interface {
	// Publish delivers data to every current subscriber of subject at
	// least once.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe creates a named consumer group subscription to subject.
	// Two subscribers with the same group on the same subject load-balance
	// deliveries (used by multiple workflow-runtime workers polling the
	// same signal subject); distinct groups each receive every message.
	Subscribe(ctx context.Context, subject, group string) (Subscription, error)

	// Close releases the bus's resources.
	Close() error
}
