// Package reconcile provides the reconciliation engine that makes a guild
// match its blueprint. It only ever creates and updates.
package reconcile

import (
	"context"
	"fmt"
	"time"
)

// Summary counts what one Apply did.
type Summary struct {
	RolesCreated      int `json:"roles_created"`
	CategoriesCreated int `json:"categories_created"`
	ChannelsCreated   int `json:"channels_created"`
	ChannelsUpdated   int `json:"channels_updated"`
}

// Created returns the total number of created entities.
func (s Summary) Created() int {
	return s.RolesCreated + s.CategoriesCreated + s.ChannelsCreated
}

func (s Summary) String() string {
	return fmt.Sprintf("roles_created=%d categories_created=%d channels_created=%d channels_updated=%d",
		s.RolesCreated, s.CategoriesCreated, s.ChannelsCreated, s.ChannelsUpdated)
}

// Op names a gateway mutation.
type Op string

// Mutations
const (
	OpCreateRole     Op = "create role"
	OpCreateCategory Op = "create category"
	OpCreateChannel  Op = "create channel"
	OpEditChannel    Op = "edit channel"
)

// MutationError reports a mutation the platform rejected.
type MutationError struct {
	Op   Op
	Name string
	Err  error
}

func (e *MutationError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Op, e.Name, e.Err)
}

func (e *MutationError) Unwrap() error { return e.Err }

// Pacer is invoked after every mutation to stay under the platform quota.
type Pacer interface {
	Pace(ctx context.Context) error
}

// FixedPacer waits a fixed duration. Zero or negative does not wait.
type FixedPacer time.Duration

// Pace implements Pacer.
func (p FixedPacer) Pace(ctx context.Context) error {
	if p <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(time.Duration(p))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
