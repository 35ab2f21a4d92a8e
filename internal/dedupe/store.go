package dedupe

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/catalogue/internal/diff"
	"github.com/smallbiznis/catalogue/internal/formation/domain"
	"github.com/smallbiznis/catalogue/internal/history"
	"gorm.io/gorm"
)

// group identifies rows sharing a key. label is the printable key; key is
// what members queries with.
type group struct {
	label string
	key   any
}

type member struct {
	id     snowflake.ID
	values map[string]any
}

// collection is one deduplicated table: how its groups are found and how a
// survivor is patched.
type collection interface {
	entity() string
	excluded() []string
	groups(ctx context.Context, db *gorm.DB) ([]group, error)
	// members lists a group in survivor order: the first member survives.
	members(ctx context.Context, db *gorm.DB, g group) ([]member, error)
	patch(ctx context.Context, tx *gorm.DB, id snowflake.ID, changes diff.Changes, at time.Time) error
	remove(ctx context.Context, tx *gorm.DB, id snowflake.ID) error
}

type formations struct {
	repo domain.Repository
}

func (formations) entity() string { return history.EntityFormation }

func (formations) excluded() []string {
	return []string{"id", "_id", "__v", "created_at", "last_update_at", "updates_history", "converted_to_mna", "conversion_error"}
}

func (c formations) groups(ctx context.Context, db *gorm.DB) ([]group, error) {
	keys, err := c.repo.DuplicateKeys(ctx, db)
	if err != nil {
		return nil, err
	}
	out := make([]group, len(keys))
	for i, k := range keys {
		out[i] = group{label: k.String(), key: k}
	}
	return out, nil
}

func (c formations) members(ctx context.Context, db *gorm.DB, g group) ([]member, error) {
	k, ok := g.key.(domain.NaturalKey)
	if !ok {
		return nil, fmt.Errorf("unexpected group key %T", g.key)
	}
	rows, err := c.repo.ListByKey(ctx, db, k)
	if err != nil {
		return nil, err
	}
	out := make([]member, len(rows))
	for i, f := range rows {
		out[i] = member{id: f.ID, values: f.Values()}
	}
	return out, nil
}

func (c formations) patch(ctx context.Context, tx *gorm.DB, id snowflake.ID, changes diff.Changes, at time.Time) error {
	p := domain.PatchFromChanges(changes, at)
	p.ResetConversion = !changes.Empty()
	_, err := c.repo.ApplyPatch(ctx, tx, id, p)
	return err
}

func (c formations) remove(ctx context.Context, tx *gorm.DB, id snowflake.ID) error {
	return c.repo.Delete(ctx, tx, id)
}

type converted struct {
	repo domain.ConvertedRepository
}

func (converted) entity() string { return history.EntityConvertedFormation }

func (converted) excluded() []string {
	return []string{"id", "created_at", "last_update_at"}
}

func (c converted) groups(ctx context.Context, db *gorm.DB) ([]group, error) {
	ids, err := c.repo.DuplicateRcoIDs(ctx, db)
	if err != nil {
		return nil, err
	}
	out := make([]group, len(ids))
	for i, id := range ids {
		out[i] = group{label: id, key: id}
	}
	return out, nil
}

func (c converted) members(ctx context.Context, db *gorm.DB, g group) ([]member, error) {
	rows, err := c.repo.FindByRcoID(ctx, db, g.label)
	if err != nil {
		return nil, err
	}
	out := make([]member, len(rows))
	for i, r := range rows {
		out[i] = member{id: r.ID, values: r.Values()}
	}
	return out, nil
}

func (c converted) patch(ctx context.Context, tx *gorm.DB, id snowflake.ID, changes diff.Changes, at time.Time) error {
	return c.repo.UpdateFields(ctx, tx, id, changes, at)
}

func (c converted) remove(ctx context.Context, tx *gorm.DB, id snowflake.ID) error {
	return c.repo.Delete(ctx, tx, id)
}
