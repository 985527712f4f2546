// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package store

import (
	"context"

	"landscape.router/core/internal/ifctl"
)

// NewInterfaceController wires the canonical Interface effect hook
// (§4.9): on boot and on any change, reconcile OS link state to match
// the full configured set (create bridges, enslave members, bring up
// or down, record Wi-Fi mode).
func NewInterfaceController(repo *Repository[ifctl.Interface], reconciler *ifctl.Controller) *Controller[ifctl.Interface] {
	var ctrl *Controller[ifctl.Interface]
	hook := func(ctx context.Context, updated, previous *ifctl.Interface) {
		all, err := ctrl.List(ctx)
		if err != nil {
			return
		}
		reconciler.Reconcile(all)
	}
	ctrl = NewController(repo, hook)
	return ctrl
}


