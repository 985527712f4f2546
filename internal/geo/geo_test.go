// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package geo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"landscape.router/core/internal/eventbus"
)

func TestIngestSiteBundleAndGet(t *testing.T) {
	bus := eventbus.New()
	sub := bus.Subscribe(eventbus.KindGeoUpdated, 4)
	defer sub.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"cn":["example.cn","qq.com"],"us":["example.com"]}`))
	}))
	defer srv.Close()

	c, err := New(t.TempDir(), bus)
	require.NoError(t, err)

	c.SetSources([]SourceConfig{{Name: "geosite", URL: srv.URL, Kind: KindSite}})
	c.Refresh(context.Background())

	val, ok := c.Get("geosite", "cn")
	require.True(t, ok)
	require.ElementsMatch(t, []string{"example.cn", "qq.com"}, val.Domains)

	val, ok = c.Get("geosite", "CN")
	require.True(t, ok, "country code lookup must be case-insensitive")
	require.Equal(t, []string{"example.cn", "qq.com"}, val.Domains)

	select {
	case ev := <-sub.Events():
		g := ev.(eventbus.GeoUpdated)
		require.Equal(t, "geosite", g.Source)
		require.True(t, g.IsSite)
	case <-time.After(time.Second):
		t.Fatal("expected a GeoUpdated event")
	}
}

func TestListKeysAndPersistenceRoundTrip(t *testing.T) {
	bus := eventbus.New()
	dir := t.TempDir()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"cn":["a.example"]}`))
	}))
	defer srv.Close()

	c, err := New(dir, bus)
	require.NoError(t, err)
	c.SetSources([]SourceConfig{{Name: "geosite", URL: srv.URL, Kind: KindSite}})
	c.Refresh(context.Background())
	require.Len(t, c.ListKeys(), 1)

	reopened, err := New(dir, bus)
	require.NoError(t, err)
	val, ok := reopened.Get("geosite", "cn")
	require.True(t, ok)
	require.Equal(t, []string{"a.example"}, val.Domains)
}

func TestGetMissingKey(t *testing.T) {
	bus := eventbus.New()
	c, err := New(t.TempDir(), bus)
	require.NoError(t, err)

	_, ok := c.Get("nope", "zz")
	require.False(t, ok)
}
