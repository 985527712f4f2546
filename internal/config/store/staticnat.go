// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package store

import (
	"context"

	"landscape.router/core/internal/staticnat"
)

// NewStaticNatController wires the canonical StaticNat effect hook
// (§4.9): on any change, recompute every enabled mapping's ingress+egress
// entries and diff the result against the mapper's previously-installed
// set, issuing the symmetric diff as a batch add/del.
func NewStaticNatController(repo *Repository[staticnat.StaticNatMapping], mapper *staticnat.Mapper) *Controller[staticnat.StaticNatMapping] {
	var ctrl *Controller[staticnat.StaticNatMapping]
	hook := func(ctx context.Context, updated, previous *staticnat.StaticNatMapping) {
		all, err := ctrl.List(ctx)
		if err != nil {
			return
		}
		mapper.Reconcile(all)
	}
	ctrl = NewController(repo, hook)
	return ctrl
}


