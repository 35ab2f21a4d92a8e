// Package scan walks a filtered collection page by page using keyset
// pagination.
package scan

import (
	"context"
	"errors"

	"github.com/smallbiznis/catalogue/pkg/db/pagination"
	"golang.org/x/sync/errgroup"
)

const DefaultPageSize = 100

var ErrInvalidPager = errors.New("invalid_pager")

// Pager fetches rows strictly after a cursor in stable key order.
type Pager[T any] interface {
	Page(ctx context.Context, after pagination.Cursor, limit int) ([]T, error)
	CursorOf(item T) pagination.Cursor
}

// PagerFunc adapts a pair of functions to Pager.
type PagerFunc[T any] struct {
	Fetch  func(ctx context.Context, after pagination.Cursor, limit int) ([]T, error)
	Cursor func(item T) pagination.Cursor
}

func (p PagerFunc[T]) Page(ctx context.Context, after pagination.Cursor, limit int) ([]T, error) {
	return p.Fetch(ctx, after, limit)
}

func (p PagerFunc[T]) CursorOf(item T) pagination.Cursor {
	return p.Cursor(item)
}

type Options struct {
	PageSize int
	// Workers bounds how many rows of a page are visited concurrently.
	// Pages themselves are always fetched one after another.
	Workers int
}

func (o Options) withDefaults() Options {
	if o.PageSize <= 0 {
		o.PageSize = DefaultPageSize
	}
	if o.Workers <= 0 {
		o.Workers = 1
	}
	return o
}

type Stats struct {
	Pages   int
	Visited int
	// Resume is the token of the last completed page.
	Resume string
}

// Scan visits every row of pager exactly once. A visitor error aborts the scan
// after the in-flight rows of the current page finish.
func Scan[T any](ctx context.Context, pager Pager[T], opts Options, visit func(context.Context, T) error) (Stats, error) {
	var stats Stats
	if pager == nil || visit == nil {
		return stats, ErrInvalidPager
	}
	opts = opts.withDefaults()

	cursor := pagination.Start
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		items, err := pager.Page(ctx, cursor, opts.PageSize)
		if err != nil {
			return stats, err
		}
		if len(items) == 0 {
			break
		}
		stats.Pages++

		if err := visitPage(ctx, items, opts.Workers, visit); err != nil {
			return stats, err
		}
		stats.Visited += len(items)

		next := pager.CursorOf(items[len(items)-1])
		if next == cursor {
			return stats, ErrInvalidPager
		}
		cursor = next
		stats.Resume, _ = pagination.EncodeCursor(cursor)

		if len(items) < opts.PageSize {
			break
		}
	}
	return stats, nil
}

func visitPage[T any](ctx context.Context, items []T, workers int, visit func(context.Context, T) error) error {
	if workers == 1 {
		for _, item := range items {
			if err := visit(ctx, item); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, item := range items {
		item := item
		g.Go(func() error {
			return visit(gctx, item)
		})
	}
	return g.Wait()
}

// Collect gathers every row of pager in order.
func Collect[T any](ctx context.Context, pager Pager[T], pageSize int) ([]T, error) {
	var out []T
	_, err := Scan(ctx, pager, Options{PageSize: pageSize}, func(_ context.Context, item T) error {
		out = append(out, item)
		return nil
	})
	return out, err
}
