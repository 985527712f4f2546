// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package wanipctl

import "landscape.router/core/internal/geo"

// geoCacheLookup adapts *geo.Cache to GeoLookup.
type geoCacheLookup struct {
	cache *geo.Cache
}

// NewGeoCacheLookup returns the production GeoLookup, backed by the
// Geo cache (§4.2).
func NewGeoCacheLookup(cache *geo.Cache) GeoLookup {
	return geoCacheLookup{cache: cache}
}

func (g geoCacheLookup) CIDRs(source, country string) ([]string, bool) {
	v, ok := g.cache.Get(source, country)
	if !ok {
		return nil, false
	}
	return v.CIDRs, true
}
