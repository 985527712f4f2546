// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package store

import (
	"context"

	"landscape.router/core/internal/geo"
)

// NewGeoSourceController wires the canonical GeoIp/GeoSite effect hook
// (§4.9): a source mutation has no immediate datapath effect beyond
// pushing the updated source list to the cache and scheduling a
// refresh; GeoUpdated itself is published by the cache once the
// refresh actually lands new data (internal/geo.ingestIPBundle/
// ingestSiteBundle), not by this hook.
func NewGeoSourceController(repo *Repository[geo.SourceConfig], cache *geo.Cache) *Controller[geo.SourceConfig] {
	var ctrl *Controller[geo.SourceConfig]
	hook := func(ctx context.Context, updated, previous *geo.SourceConfig) {
		all, err := ctrl.List(ctx)
		if err != nil {
			return
		}
		cache.SetSources(all)
		cache.Refresh(ctx)
	}
	ctrl = NewController(repo, hook)
	return ctrl
}


