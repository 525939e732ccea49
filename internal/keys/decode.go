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

package keys

import (
	"encoding/binary"

	"github.com/rivet-gg/actor-engine/internal/id"
)

// DecodeRunnerActor splits a RunnerActor key back into its runner and
// actor ids, for the drain sweep that lists every actor a runner owns.
func DecodeRunnerActor(key []byte) (runnerID, actorID id.ID, err error) {
	if len(key) != 1+16+16 || key[0] != tagRunnerActor {
		return id.Nil, id.Nil, ErrInvalidKey
	}
	copy(runnerID[:], key[1:17])
	copy(actorID[:], key[17:33])
	return runnerID, actorID, nil
}

// DecodePendingActor splits a NsPendingActor key's (ts, actor_id) suffix
// back out, given the already-known (namespace, runnerName) prefix length.
func DecodePendingActor(key []byte, prefixLen int) (ts int64, actorID id.ID, err error) {
	rest := key[prefixLen:]
	if len(rest) != 8+16 {
		return 0, id.Nil, ErrInvalidKey
	}
	ts = int64(binary.BigEndian.Uint64(rest[:8]))
	copy(actorID[:], rest[8:])
	return ts, actorID, nil
}

// DecodeRunnerAlloc splits a NsRunnerAlloc key's variable-prefix suffix
// back into its components, given the already-known (namespace,
// runnerName) prefix length. Version and remaining_millislots are
// un-bit-flipped back to their natural ascending order.
func DecodeRunnerAlloc(key []byte, prefixLen int) (version, remainingMillislots uint32, lastPingTs int64, runnerID id.ID, err error) {
	rest := key[prefixLen:]
	if len(rest) != 4+4+8+16 {
		return 0, 0, 0, id.Nil, ErrInvalidKey
	}
	version = ^binary.BigEndian.Uint32(rest[0:4])
	remainingMillislots = ^binary.BigEndian.Uint32(rest[4:8])
	lastPingTs = int64(binary.BigEndian.Uint64(rest[8:16]))
	copy(runnerID[:], rest[16:32])
	return version, remainingMillislots, lastPingTs, runnerID, nil
}
