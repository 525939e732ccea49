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

package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rivet-gg/actor-engine/internal/id"
	"github.com/rivet-gg/actor-engine/internal/keys"
	"github.com/rivet-gg/actor-engine/pkg/kvstore"
)

// loadedHistory holds every history event committed by prior attempts of
// this run, indexed by location, plus any new events this attempt
// appends. Events are flushed to the store at the end of a successful (or
// cleanly suspended) attempt.
type loadedHistory struct {
	byLocation map[string]HistoryEvent
	appended   []HistoryEvent
}

func loadHistory(ctx context.Context, tx kvstore.Tx, workflowID id.ID) (*loadedHistory, error) {
	rows, err := tx.GetRange(ctx, kvstore.RangeOptions{
		Begin: keys.HistoryPrefix(workflowID),
		End:   keys.HistoryEnd(workflowID),
	}, kvstore.Serializable)
	if err != nil {
		return nil, fmt.Errorf("workflow: load history: %w", err)
	}

	h := &loadedHistory{byLocation: make(map[string]HistoryEvent, len(rows))}
	for _, row := range rows {
		var ev HistoryEvent
		if err := json.Unmarshal(row.Value, &ev); err != nil {
			return nil, fmt.Errorf("workflow: decode history event: %w", err)
		}
		h.byLocation[ev.Location] = ev
	}
	return h, nil
}

func (h *loadedHistory) get(location string) (HistoryEvent, bool) {
	ev, ok := h.byLocation[location]
	return ev, ok
}

func (h *loadedHistory) append(ev HistoryEvent) {
	h.byLocation[ev.Location] = ev
	h.appended = append(h.appended, ev)
}

func (h *loadedHistory) flush(workflowID id.ID, tx kvstore.Tx) error {
	for _, ev := range h.appended {
		b, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("workflow: encode history event: %w", err)
		}
		tx.Set(keys.History(workflowID, ev.Location), b)
	}
	return nil
}
