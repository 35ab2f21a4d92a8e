package convert

import (
	"context"
	"strings"

	"github.com/smallbiznis/catalogue/internal/formation/domain"
	"github.com/smallbiznis/catalogue/internal/scan"
	"github.com/smallbiznis/catalogue/pkg/db/pagination"
)

// ZipWarning flags a catalogue record whose postal code and INSEE commune
// code point at different departments.
type ZipWarning struct {
	IDRcoFormation   string
	CodePostal       string
	CodeCommuneInsee string
}

// CheckZipCodes walks the catalogue and reports every record whose postal
// code and commune code disagree on the department. Records missing either
// code are skipped.
func (s *Service) CheckZipCodes(ctx context.Context) ([]ZipWarning, error) {
	pager := scan.PagerFunc[domain.ConvertedFormation]{
		Fetch: func(ctx context.Context, after pagination.Cursor, limit int) ([]domain.ConvertedFormation, error) {
			return s.converted.List(ctx, s.db, after, limit)
		},
		Cursor: func(c domain.ConvertedFormation) pagination.Cursor {
			return pagination.After(c.ID)
		},
	}

	var warnings []ZipWarning
	_, err := scan.Scan(ctx, pager, scan.Options{PageSize: s.pipeline.Get().PageSize}, func(_ context.Context, c domain.ConvertedFormation) error {
		if !SameDepartment(c.CodePostal, c.CodeCommuneInsee) {
			warnings = append(warnings, ZipWarning{
				IDRcoFormation:   c.IDRcoFormation,
				CodePostal:       c.CodePostal,
				CodeCommuneInsee: c.CodeCommuneInsee,
			})
		}
		return nil
	})
	return warnings, err
}

// SameDepartment reports whether a postal code and an INSEE commune code
// belong to the same department. Empty codes are never reported as a
// mismatch.
func SameDepartment(codePostal, codeInsee string) bool {
	codePostal = strings.TrimSpace(codePostal)
	codeInsee = strings.ToUpper(strings.TrimSpace(codeInsee))
	if len(codePostal) < 3 || len(codeInsee) < 3 {
		return true
	}

	switch {
	case strings.HasPrefix(codePostal, "97"), strings.HasPrefix(codePostal, "98"):
		return codePostal[:3] == codeInsee[:3]
	case strings.HasPrefix(codePostal, "20"):
		// Corsica: 2A and 2B commune codes, 20xxx postal codes.
		return codeInsee[:2] == "2A" || codeInsee[:2] == "2B" || codeInsee[:2] == "20"
	default:
		return codePostal[:2] == codeInsee[:2]
	}
}
