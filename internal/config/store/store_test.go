// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type widget struct {
	ID    string `json:"id"`
	Count int    `json:"count"`
}

func (w widget) EntityID() string { return w.ID }

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRepositorySetGetDeleteRoundTrip(t *testing.T) {
	db := openTestDB(t)
	repo, err := NewRepository[widget](db, "widgets")
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, repo.Set(ctx, widget{ID: "a", Count: 1}))
	got, ok, err := repo.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, got.Count)

	require.NoError(t, repo.Set(ctx, widget{ID: "a", Count: 2}))
	got, _, _ = repo.Get(ctx, "a")
	require.Equal(t, 2, got.Count, "Set must insert-or-update")

	require.NoError(t, repo.Delete(ctx, "a"))
	_, ok, err = repo.Get(ctx, "a")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestControllerFiresAfterUpdateOnSetAndDelete(t *testing.T) {
	db := openTestDB(t)
	repo, err := NewRepository[widget](db, "widgets2")
	require.NoError(t, err)

	var updates []string
	ctrl := NewController(repo, func(ctx context.Context, updated, previous *widget) {
		switch {
		case updated != nil && previous == nil:
			updates = append(updates, "insert:"+updated.ID)
		case updated != nil && previous != nil:
			updates = append(updates, "update:"+updated.ID)
		case updated == nil && previous != nil:
			updates = append(updates, "delete:"+previous.ID)
		}
	})

	ctx := context.Background()
	require.NoError(t, ctrl.Set(ctx, widget{ID: "x", Count: 1}))
	require.NoError(t, ctrl.Set(ctx, widget{ID: "x", Count: 2}))
	require.NoError(t, ctrl.Delete(ctx, "x"))

	require.Equal(t, []string{"insert:x", "update:x", "delete:x"}, updates)
}

func TestSetListComputesAddRemoveChangeDiff(t *testing.T) {
	db := openTestDB(t)
	repo, err := NewRepository[widget](db, "widgets3")
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, repo.Set(ctx, widget{ID: "keep", Count: 1}))
	require.NoError(t, repo.Set(ctx, widget{ID: "stale", Count: 1}))
	require.NoError(t, repo.Set(ctx, widget{ID: "change", Count: 1}))

	var fired []string
	ctrl := NewController(repo, func(ctx context.Context, updated, previous *widget) {
		switch {
		case updated != nil && previous == nil:
			fired = append(fired, "add:"+updated.ID)
		case updated != nil && previous != nil:
			fired = append(fired, "change:"+updated.ID)
		case updated == nil:
			fired = append(fired, "remove:"+previous.ID)
		}
	})

	equal := func(a, b widget) bool { return a.Count == b.Count }
	err = ctrl.SetList(ctx, []widget{
		{ID: "keep", Count: 1},
		{ID: "change", Count: 2},
		{ID: "new", Count: 9},
	}, equal)
	require.NoError(t, err)

	require.ElementsMatch(t, []string{"remove:stale", "change:change", "add:new"}, fired)

	list, err := ctrl.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
}

func TestSeedInitLockRoundTrip(t *testing.T) {
	dir := t.TempDir()

	need, err := NeedsSeed(dir)
	require.NoError(t, err)
	require.True(t, need)

	require.NoError(t, WriteInitLock(dir))

	need, err = NeedsSeed(dir)
	require.NoError(t, err)
	require.False(t, need)
}

func TestDecodeManifestMissingFileIsNotError(t *testing.T) {
	var out struct{}
	found, err := DecodeManifest(filepath.Join(t.TempDir(), "landscape_init.hcl"), &out)
	require.NoError(t, err)
	require.False(t, found)
}


