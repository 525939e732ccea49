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

package runner

import (
	"context"

	"github.com/rivet-gg/actor-engine/internal/actor"
	"github.com/rivet-gg/actor-engine/internal/id"
)

// Dispatcher delivers commands to a runner's connected process and tells
// it when to close. internal/runner/wire implements this by encoding a
// versioned ToClientCommands/ToClientClose frame and publishing it on the
// runner's receiver subject (spec.md §4.5, §6); the wire listener bridging
// the actual websocket connection is the thing that actually writes it
// down the wire and, symmetrically, decodes ToServerEvents back into the
// actor.SendEvent/SendLost calls this package's activities issue.
type Dispatcher interface {
	// StartActor relays a StartActorCommand to runnerID's connected
	// process (the listener side of internal/actor/runnercmds.go's
	// RunnerSignalStartActor contract).
	StartActor(ctx context.Context, runnerID id.ID, cmd actor.StartActorCommand) error

	// StopActor relays a StopActorCommand, symmetrically.
	StopActor(ctx context.Context, runnerID id.ID, cmd actor.StopActorCommand) error

	// Close tells the connected process its runner workflow has finished
	// (spec.md §4.4's "publish ToRunnerClose").
	Close(ctx context.Context, runnerID id.ID) error
}
