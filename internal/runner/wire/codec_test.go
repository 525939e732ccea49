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

package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_RoundTrips(t *testing.T) {
	b, err := EncodeFrame(V2, KindToServerPong, ToServerPong{Ts: 12345})
	require.NoError(t, err)

	frame, err := Decode(b)
	require.NoError(t, err)
	require.Equal(t, V2, frame.Version)
	require.Equal(t, KindToServerPong, frame.Kind)

	var pong ToServerPong
	require.NoError(t, json.Unmarshal(frame.Payload, &pong))
	require.Equal(t, int64(12345), pong.Ts)
}

func TestDecode_RejectsTruncatedFrame(t *testing.T) {
	_, err := Decode([]byte{0, 1})
	require.Error(t, err)
}

func TestDecode_RejectsTrailingBytes(t *testing.T) {
	b, err := EncodeFrame(V1, KindToServerPong, ToServerPong{})
	require.NoError(t, err)
	_, err = Decode(append(b, 0xFF))
	require.Error(t, err)
}

func TestConvert_SameVersionIsNoop(t *testing.T) {
	b, err := EncodeFrame(V2, KindToServerPong, ToServerPong{Ts: 1})
	require.NoError(t, err)
	frame, err := Decode(b)
	require.NoError(t, err)

	out, err := Convert(frame, V2)
	require.NoError(t, err)
	require.Equal(t, frame, out)
}

func TestConvert_WebSocketOpenDowngradeZeroesHibernationFields(t *testing.T) {
	b, err := EncodeFrame(V2, KindToServerWebSocketOpen, ToServerWebSocketOpen{CanHibernate: true, LastMsgIndex: 42})
	require.NoError(t, err)
	frame, err := Decode(b)
	require.NoError(t, err)

	out, err := Convert(frame, V1)
	require.NoError(t, err)
	require.Equal(t, V1, out.Version)

	var open ToServerWebSocketOpen
	require.NoError(t, json.Unmarshal(out.Payload, &open))
	require.False(t, open.CanHibernate)
	require.Zero(t, open.LastMsgIndex)
}

func TestConvert_MessageAckHasNoV1Equivalent(t *testing.T) {
	b, err := EncodeFrame(V2, KindToServerWebSocketMsgAck, ToServerWebSocketMessageAck{Index: 7})
	require.NoError(t, err)
	frame, err := Decode(b)
	require.NoError(t, err)

	_, err = Convert(frame, V1)
	require.ErrorIs(t, err, ErrLossyDowngrade)
}

func TestConvert_CloseDowngradeClearsRetry(t *testing.T) {
	b, err := EncodeFrame(V2, KindToServerWebSocketClose, ToServerWebSocketClose{Retry: true, Code: 1000})
	require.NoError(t, err)
	frame, err := Decode(b)
	require.NoError(t, err)

	out, err := Convert(frame, V1)
	require.NoError(t, err)

	var closeFrame ToServerWebSocketClose
	require.NoError(t, json.Unmarshal(out.Payload, &closeFrame))
	require.False(t, closeFrame.Retry)
	require.Equal(t, 1000, closeFrame.Code)
}

func TestConvert_OrdinaryFrameOnlyRestampsVersion(t *testing.T) {
	b, err := EncodeFrame(V1, KindToServerPong, ToServerPong{Ts: 99})
	require.NoError(t, err)
	frame, err := Decode(b)
	require.NoError(t, err)

	out, err := Convert(frame, V2)
	require.NoError(t, err)
	require.Equal(t, V2, out.Version)
	require.JSONEq(t, string(frame.Payload), string(out.Payload))
}

func TestNegotiateVersion_PicksHighestCommon(t *testing.T) {
	v, err := NegotiateVersion([]Version{V1, V2}, []Version{V1})
	require.NoError(t, err)
	require.Equal(t, V1, v)

	v, err = NegotiateVersion([]Version{V1, V2}, []Version{V1, V2})
	require.NoError(t, err)
	require.Equal(t, V2, v)

	_, err = NegotiateVersion([]Version{V2}, []Version{V1})
	require.Error(t, err)
}
