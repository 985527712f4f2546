// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package store

import "context"

// AfterUpdate is the component-specific effect hook (§4.9): called
// once per mutation with the new and old values. old is the zero value
// on insert; new is the zero value on delete.
type AfterUpdate[T Entity] func(ctx context.Context, updated, previous *T)

// Controller implements the generic list/get/set/delete/set-list
// contract every config kind shares (§4.9), invoking AfterUpdate after
// every mutation.
type Controller[T Entity] struct {
	repo  *Repository[T]
	after AfterUpdate[T]
}

// NewController wraps repo with the generic CRUD contract, invoking
// after (if non-nil) on every mutation.
func NewController[T Entity](repo *Repository[T], after AfterUpdate[T]) *Controller[T] {
	return &Controller[T]{repo: repo, after: after}
}

func (c *Controller[T]) List(ctx context.Context) ([]T, error) { return c.repo.List(ctx) }

func (c *Controller[T]) Get(ctx context.Context, id string) (T, bool, error) {
	return c.repo.Get(ctx, id)
}

// Set inserts-or-updates v and fires AfterUpdate(v, previous).
func (c *Controller[T]) Set(ctx context.Context, v T) error {
	previous, had, err := c.repo.Get(ctx, v.EntityID())
	if err != nil {
		return err
	}
	if err := c.repo.Set(ctx, v); err != nil {
		return err
	}
	c.fire(ctx, &v, prevPtr(previous, had))
	return nil
}

// Delete removes id and fires AfterUpdate(nil, previous).
func (c *Controller[T]) Delete(ctx context.Context, id string) error {
	previous, had, err := c.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if !had {
		return nil
	}
	if err := c.repo.Delete(ctx, id); err != nil {
		return err
	}
	c.fire(ctx, nil, &previous)
	return nil
}

// SetList replaces the entire entity set with desired, computing the
// diff against the previous set by stable id — removed = old − new,
// changed = new ∩ old where !equal, added = new − old — and applying
// removes first, then adds/replaces (§4.9's diff algorithm), firing
// AfterUpdate once per mutated id.
func (c *Controller[T]) SetList(ctx context.Context, desired []T, equal func(a, b T) bool) error {
	existing, err := c.repo.List(ctx)
	if err != nil {
		return err
	}

	oldByID := make(map[string]T, len(existing))
	for _, v := range existing {
		oldByID[v.EntityID()] = v
	}
	newByID := make(map[string]T, len(desired))
	for _, v := range desired {
		newByID[v.EntityID()] = v
	}

	for id, old := range oldByID {
		if _, ok := newByID[id]; !ok {
			if err := c.repo.Delete(ctx, id); err != nil {
				return err
			}
			c.fire(ctx, nil, &old)
		}
	}
	for id, v := range newByID {
		old, had := oldByID[id]
		if had && equal(old, v) {
			continue
		}
		if err := c.repo.Set(ctx, v); err != nil {
			return err
		}
		c.fire(ctx, &v, prevPtr(old, had))
	}
	return nil
}

func (c *Controller[T]) fire(ctx context.Context, updated, previous *T) {
	if c.after != nil {
		c.after(ctx, updated, previous)
	}
}

func prevPtr[T any](v T, had bool) *T {
	if !had {
		return nil
	}
	return &v
}


