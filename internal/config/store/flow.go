// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package store

import (
	"context"

	"landscape.router/core/internal/eventbus"
	"landscape.router/core/internal/flowengine"
)

// NewFlowController wires the canonical Flow effect hook (§4.9): on
// any change, reconcile the full set against the flow engine (which
// diffs against its own previously-installed state) and publish a
// FlowEvent::Updated for the affected flow.
func NewFlowController(repo *Repository[flowengine.FlowConfig], engine *flowengine.Engine, bus *eventbus.Bus) *Controller[flowengine.FlowConfig] {
	var ctrl *Controller[flowengine.FlowConfig]
	hook := func(ctx context.Context, updated, previous *flowengine.FlowConfig) {
		all, err := ctrl.List(ctx)
		if err != nil {
			return
		}
		engine.Reconcile(all)
		if bus == nil {
			return
		}
		flowID := uint8(0)
		removed := updated == nil
		switch {
		case updated != nil:
			flowID = updated.FlowID
		case previous != nil:
			flowID = previous.FlowID
		}
		bus.Publish(eventbus.KindFlow, eventbus.FlowEvent{FlowID: flowID, Removed: removed})
	}
	ctrl = NewController(repo, hook)
	return ctrl
}


