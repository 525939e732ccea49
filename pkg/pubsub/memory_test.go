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
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryBus_PublishSubscribe(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()
	ctx := context.Background()

	sub, err := bus.Subscribe(ctx, "runner.receiver.r1", "")
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, bus.Publish(ctx, "runner.receiver.r1", []byte("hello")))

	select {
	case msg := <-sub.Messages():
		require.Equal(t, "hello", string(msg.Data))
		require.NoError(t, msg.Ack(ctx))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestMemoryBus_FanOutToMultipleSubscribers(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()
	ctx := context.Background()

	sub1, err := bus.Subscribe(ctx, "workflow.signals", "")
	require.NoError(t, err)
	defer sub1.Unsubscribe()

	sub2, err := bus.Subscribe(ctx, "workflow.signals", "")
	require.NoError(t, err)
	defer sub2.Unsubscribe()

	require.NoError(t, bus.Publish(ctx, "workflow.signals", []byte("sig")))

	for _, s := range []Subscription{sub1, sub2} {
		select {
		case msg := <-s.Messages():
			require.Equal(t, "sig", string(msg.Data))
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for fan-out message")
		}
	}
}

func TestMemoryBus_UnsubscribeClosesChannel(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()
	ctx := context.Background()

	sub, err := bus.Subscribe(ctx, "subject", "")
	require.NoError(t, err)
	require.NoError(t, sub.Unsubscribe())

	_, ok := <-sub.Messages()
	require.False(t, ok)
}

func TestMemoryBus_DifferentSubjectsDoNotCrossDeliver(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()
	ctx := context.Background()

	subA, err := bus.Subscribe(ctx, "a", "")
	require.NoError(t, err)
	defer subA.Unsubscribe()

	require.NoError(t, bus.Publish(ctx, "b", []byte("for b")))

	select {
	case <-subA.Messages():
		t.Fatal("subscriber to subject a should not receive messages for subject b")
	case <-time.After(50 * time.Millisecond):
	}
}
