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
	"fmt"
)

// ErrLossyDowngrade is returned by Convert when a V2 frame carries
// information V1 has no way to represent.
var ErrLossyDowngrade = fmt.Errorf("wire: frame cannot be represented in the target protocol version")

// Convert re-encodes f for target, applying spec.md §4.5's V1↔V2 rules:
// peers negotiate by picking the highest commonly-supported version, and
// most frames carry across unchanged but for the version tag. The two
// exceptions are the tunnel websocket handshake/ack frames, where V1
// simply lacks a field (a downgrade zeroes it) or lacks the frame kind
// entirely (a downgrade errors).
func Convert(f Frame, target Version) (Frame, error) {
	if f.Version == target {
		return f, nil
	}

	switch f.Kind {
	case KindToServerWebSocketOpen:
		if target == V1 {
			var open ToServerWebSocketOpen
			if err := json.Unmarshal(f.Payload, &open); err != nil {
				return Frame{}, fmt.Errorf("wire: decode %s: %w", f.Kind, err)
			}
			// V1 has no notion of hibernation; downgrading clears both
			// fields rather than reporting capabilities the runner
			// process's actual protocol version cannot back up.
			open.CanHibernate = false
			open.LastMsgIndex = 0
			payload, err := json.Marshal(open)
			if err != nil {
				return Frame{}, fmt.Errorf("wire: encode %s: %w", f.Kind, err)
			}
			return Frame{Version: target, Kind: f.Kind, Payload: payload}, nil
		}

	case KindToServerWebSocketMsgAck:
		if target == V1 {
			// V1 has no frame for this at all: a V1 runner process never
			// sends one, so a caller asking to downgrade one made a
			// negotiation error upstream.
			return Frame{}, fmt.Errorf("%w: %s has no V1 equivalent", ErrLossyDowngrade, f.Kind)
		}

	case KindToServerWebSocketClose:
		if target == V1 {
			var closeFrame ToServerWebSocketClose
			if err := json.Unmarshal(f.Payload, &closeFrame); err != nil {
				return Frame{}, fmt.Errorf("wire: decode %s: %w", f.Kind, err)
			}
			// Retry only makes sense paired with hibernation support,
			// which V1 never has.
			closeFrame.Retry = false
			payload, err := json.Marshal(closeFrame)
			if err != nil {
				return Frame{}, fmt.Errorf("wire: encode %s: %w", f.Kind, err)
			}
			return Frame{Version: target, Kind: f.Kind, Payload: payload}, nil
		}
	}

	// Every other frame's payload shape is identical across V1 and V2;
	// only the version tag itself changes.
	return Frame{Version: target, Kind: f.Kind, Payload: f.Payload}, nil
}

// NegotiateVersion picks the highest version both peers advertise as
// supported, per spec.md §4.5. supported must be non-empty and is not
// assumed sorted.
func NegotiateVersion(supported []Version, peerSupported []Version) (Version, error) {
	peer := make(map[Version]bool, len(peerSupported))
	for _, v := range peerSupported {
		peer[v] = true
	}
	var best Version
	found := false
	for _, v := range supported {
		if peer[v] && (!found || v > best) {
			best = v
			found = true
		}
	}
	if !found {
		return 0, fmt.Errorf("wire: no common protocol version between %v and %v", supported, peerSupported)
	}
	return best, nil
}
