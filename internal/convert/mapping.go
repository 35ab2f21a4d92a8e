package convert

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/smallbiznis/catalogue/internal/formation/domain"
)

const Source = "WS RCO"

var (
	ErrMissingCFD     = errors.New("missing_cfd")
	ErrInvalidCFD     = errors.New("invalid_cfd")
	ErrInvalidUAI     = errors.New("invalid_uai")
	ErrInvalidSIRET   = errors.New("invalid_siret")
	ErrInvalidPeriode = errors.New("invalid_periode")
)

var (
	cfdPattern   = regexp.MustCompile(`^[0-9A-Z]{8}$`)
	uaiPattern   = regexp.MustCompile(`^[0-9]{7}[A-Z]$`)
	siretPattern = regexp.MustCompile(`^[0-9]{14}$`)
)

// Map projects a formation onto the catalogue schema. Identity and
// timestamps are left to the caller.
func Map(f domain.Formation) (domain.ConvertedFormation, error) {
	periode, err := renderPeriode(f.Fields["periode"])
	if err != nil {
		return domain.ConvertedFormation{}, err
	}

	c := domain.ConvertedFormation{
		IDRcoFormation: f.Key().String(),
		Source:         Source,
		Published:      f.Published,

		CFD:              strings.ToUpper(f.Field("cfd")),
		RNCPCode:         f.Field("rncp_code"),
		Periode:          periode,
		Capacite:         f.Field("capacite"),
		Email:            f.Field("email"),
		UAI:              strings.ToUpper(f.Field("etablissement_lieu_formation_uai")),
		CodePostal:       f.Field("etablissement_lieu_formation_code_postal"),
		CodeCommuneInsee: f.Field("etablissement_lieu_formation_code_insee"),

		LieuFormationAdresse:        f.Field("etablissement_lieu_formation_adresse"),
		LieuFormationSiret:          f.Field("etablissement_lieu_formation_siret"),
		LieuFormationGeoCoordonnees: f.Field("etablissement_lieu_formation_geo_coordonnees"),

		GestionnaireSiret:            f.Field("etablissement_gestionnaire_siret"),
		GestionnaireUAI:              strings.ToUpper(f.Field("etablissement_gestionnaire_uai")),
		GestionnaireAdresse:          f.Field("etablissement_gestionnaire_adresse"),
		GestionnaireCodePostal:       f.Field("etablissement_gestionnaire_code_postal"),
		GestionnaireCodeCommuneInsee: f.Field("etablissement_gestionnaire_code_insee"),
		GestionnaireGeoCoordonnees:   f.Field("etablissement_gestionnaire_geo_coordonnees"),

		FormateurSiret:            f.Field("etablissement_formateur_siret"),
		FormateurUAI:              strings.ToUpper(f.Field("etablissement_formateur_uai")),
		FormateurAdresse:          f.Field("etablissement_formateur_adresse"),
		FormateurCodePostal:       f.Field("etablissement_formateur_code_postal"),
		FormateurCodeCommuneInsee: f.Field("etablissement_formateur_code_insee"),
		FormateurGeoCoordonnees:   f.Field("etablissement_formateur_geo_coordonnees"),
	}

	if err := validate(c); err != nil {
		return domain.ConvertedFormation{}, err
	}
	return c, nil
}

func validate(c domain.ConvertedFormation) error {
	if c.CFD == "" {
		return ErrMissingCFD
	}
	if !cfdPattern.MatchString(c.CFD) {
		return fmt.Errorf("%w: %s", ErrInvalidCFD, c.CFD)
	}

	uais := []struct{ field, value string }{
		{"uai_formation", c.UAI},
		{"etablissement_gestionnaire_uai", c.GestionnaireUAI},
		{"etablissement_formateur_uai", c.FormateurUAI},
	}
	for _, u := range uais {
		if u.value != "" && !uaiPattern.MatchString(u.value) {
			return fmt.Errorf("%w: %s=%s", ErrInvalidUAI, u.field, u.value)
		}
	}

	sirets := []struct{ field, value string }{
		{"lieu_formation_siret", c.LieuFormationSiret},
		{"etablissement_gestionnaire_siret", c.GestionnaireSiret},
		{"etablissement_formateur_siret", c.FormateurSiret},
	}
	for _, s := range sirets {
		if s.value != "" && !siretPattern.MatchString(s.value) {
			return fmt.Errorf("%w: %s=%s", ErrInvalidSIRET, s.field, s.value)
		}
	}
	return nil
}

// renderPeriode renders a non-empty list as ["a", "b"]. A missing or empty
// list renders as nil.
func renderPeriode(v any) (*string, error) {
	if v == nil {
		return nil, nil
	}

	var items []string
	switch t := v.(type) {
	case []string:
		items = t
	case []any:
		items = make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %v", ErrInvalidPeriode, item)
			}
			items = append(items, s)
		}
	default:
		return nil, fmt.Errorf("%w: %v", ErrInvalidPeriode, v)
	}
	if len(items) == 0 {
		return nil, nil
	}

	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = `"` + item + `"`
	}
	out := "[" + strings.Join(quoted, ", ") + "]"
	return &out, nil
}
