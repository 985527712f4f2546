// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package store

import (
	"context"

	"landscape.router/core/internal/wanipctl"
)

// NewDstIpRuleController wires the canonical DstIpRule effect hook
// (§4.9): on any change, recompile every affected flow's per-flow LPM
// table. The geo-update half of the same trigger is handled separately
// by wanipctl.Controller.Run subscribing to GeoUpdated directly.
func NewDstIpRuleController(repo *Repository[wanipctl.WanIpRule], compiler *wanipctl.Controller) *Controller[wanipctl.WanIpRule] {
	var ctrl *Controller[wanipctl.WanIpRule]
	hook := func(ctx context.Context, updated, previous *wanipctl.WanIpRule) {
		all, err := ctrl.List(ctx)
		if err != nil {
			return
		}
		compiler.SetRules(all)
	}
	ctrl = NewController(repo, hook)
	return ctrl
}


