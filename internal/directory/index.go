// Package directory provides the reference establishment directory used by
// the matcher.
package directory

import (
	"context"
	"strings"

	"github.com/smallbiznis/catalogue/internal/directory/domain"
	"github.com/smallbiznis/catalogue/internal/directory/repository"
	"github.com/smallbiznis/catalogue/internal/scan"
	"github.com/smallbiznis/catalogue/pkg/db/pagination"
)

// Index is an in-memory directory built from a complete list of
// establishments. It is read-only once built.
type Index struct {
	byUAI map[string][]domain.Establishment
	size  int
}

func NewIndex(entries []domain.Establishment) *Index {
	idx := &Index{byUAI: make(map[string][]domain.Establishment), size: len(entries)}
	for _, e := range entries {
		uai := strings.TrimSpace(e.UAI)
		if uai == "" {
			continue
		}
		idx.byUAI[uai] = append(idx.byUAI[uai], e)
	}
	return idx
}

// Load reads the whole directory from store into an Index.
func Load(ctx context.Context, store *repository.Store, pageSize int) (*Index, error) {
	pager := scan.PagerFunc[domain.Establishment]{
		Fetch: store.List,
		Cursor: func(e domain.Establishment) pagination.Cursor {
			return pagination.After(e.ID)
		},
	}
	entries, err := scan.Collect[domain.Establishment](ctx, pager, pageSize)
	if err != nil {
		return nil, err
	}
	return NewIndex(entries), nil
}

func (i *Index) LookupByUAI(_ context.Context, uai string) ([]domain.Establishment, error) {
	hits := i.byUAI[strings.TrimSpace(uai)]
	if len(hits) == 0 {
		return nil, nil
	}
	return append([]domain.Establishment(nil), hits...), nil
}

func (i *Index) Len() int { return i.size }

var (
	_ domain.Directory = (*Index)(nil)
	_ domain.Directory = (*repository.Store)(nil)
)
