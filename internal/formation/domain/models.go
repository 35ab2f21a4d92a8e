package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/catalogue/internal/diff"
	"gorm.io/datatypes"
)

// ConversionPending marks a formation converted during the current pass. The
// pass flips every marked row to converted once its page loop is done.
const ConversionPending = "success"

const (
	FieldPublished = "published"
)

// SystemFields are bookkeeping attributes. They are never taken from the feed
// and never compared, merged or converted.
var SystemFields = []string{
	"_id",
	"id",
	"__v",
	FieldPublished,
	"created_at",
	"last_update_at",
	"updates_history",
	"converted_to_mna",
	"conversion_error",
}

func isSystemField(key string) bool {
	for _, f := range SystemFields {
		if f == key {
			return true
		}
	}
	return false
}

// SourceRecord is one entry of an external feed snapshot.
type SourceRecord struct {
	Key    NaturalKey
	Fields map[string]any
}

// NewSourceRecord splits a raw feed object into its natural key and the
// remaining domain fields. Key parts may be strings or numbers. System fields
// are dropped.
func NewSourceRecord(raw map[string]any) SourceRecord {
	rec := SourceRecord{Fields: make(map[string]any, len(raw))}
	for k, v := range raw {
		switch k {
		case "id_formation":
			rec.Key.IDFormation = keyPart(v)
		case "id_action":
			rec.Key.IDAction = keyPart(v)
		case "id_certifinfo":
			rec.Key.IDCertifinfo = keyPart(v)
		default:
			if !isSystemField(k) {
				rec.Fields[k] = v
			}
		}
	}
	return rec
}

func keyPart(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strings.TrimSpace(fmt.Sprintf("%.0f", t))
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

// Formation is the persisted copy of a feed entry.
type Formation struct {
	ID              snowflake.ID `json:"id" gorm:"primaryKey;autoIncrement:false"`
	NaturalKey      `gorm:"embedded"`
	Published       bool              `json:"published" gorm:"column:published"`
	Fields          datatypes.JSONMap `json:"fields" gorm:"column:fields"`
	Converted       bool              `json:"converted_to_mna" gorm:"column:converted"`
	ConversionError *string           `json:"conversion_error" gorm:"column:conversion_error"`
	CreatedAt       time.Time         `json:"created_at" gorm:"column:created_at"`
	LastUpdateAt    time.Time         `json:"last_update_at" gorm:"column:last_update_at"`
}

func (Formation) TableName() string { return "rco_formations" }

func (f Formation) Key() NaturalKey {
	return f.NaturalKey
}

// Values returns the domain fields plus the published flag: everything that
// is diffed, merged and recorded in the update history.
func (f Formation) Values() map[string]any {
	out := make(map[string]any, len(f.Fields)+1)
	for k, v := range f.Fields {
		out[k] = v
	}
	out[FieldPublished] = f.Published
	return out
}

// Field returns a domain field as trimmed text, empty when absent or null.
func (f Formation) Field(key string) string {
	v, ok := f.Fields[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

// Patch is a field-level update applied to a formation by identity.
type Patch struct {
	Fields          map[string]any
	Published       *bool
	LastUpdateAt    time.Time
	ResetConversion bool
}

// PatchFromChanges splits a change set into domain fields and the published
// flag.
func PatchFromChanges(changes map[string]any, at time.Time) Patch {
	p := Patch{Fields: map[string]any{}, LastUpdateAt: at}
	for k, v := range changes {
		if k == FieldPublished {
			if b, ok := v.(bool); ok {
				p.Published = &b
			}
			continue
		}
		p.Fields[k] = v
	}
	return p
}

func (p Patch) Apply(f *Formation) {
	if f.Fields == nil {
		f.Fields = datatypes.JSONMap{}
	}
	for k, v := range p.Fields {
		f.Fields[k] = v
	}
	if p.Published != nil {
		f.Published = *p.Published
	}
	if !p.LastUpdateAt.IsZero() {
		f.LastUpdateAt = p.LastUpdateAt
	}
	if p.ResetConversion {
		f.Converted = false
		f.ConversionError = nil
	}
}

// ConvertedFormation is the canonical catalogue projection of a formation.
type ConvertedFormation struct {
	ID             snowflake.ID `json:"id" gorm:"primaryKey;autoIncrement:false"`
	IDRcoFormation string       `json:"id_rco_formation" gorm:"column:id_rco_formation"`
	Source         string       `json:"source" gorm:"column:source"`
	Published      bool         `json:"published" gorm:"column:published"`

	CFD              string  `json:"cfd" gorm:"column:cfd"`
	RNCPCode         string  `json:"rncp_code" gorm:"column:rncp_code"`
	Periode          *string `json:"periode" gorm:"column:periode"`
	Capacite         string  `json:"capacite" gorm:"column:capacite"`
	Email            string  `json:"email" gorm:"column:email"`
	UAI              string  `json:"uai_formation" gorm:"column:uai_formation"`
	CodePostal       string  `json:"code_postal" gorm:"column:code_postal"`
	CodeCommuneInsee string  `json:"code_commune_insee" gorm:"column:code_commune_insee"`

	LieuFormationAdresse        string `json:"lieu_formation_adresse" gorm:"column:lieu_formation_adresse"`
	LieuFormationSiret          string `json:"lieu_formation_siret" gorm:"column:lieu_formation_siret"`
	LieuFormationGeoCoordonnees string `json:"lieu_formation_geo_coordonnees" gorm:"column:lieu_formation_geo_coordonnees"`

	GestionnaireSiret            string `json:"etablissement_gestionnaire_siret" gorm:"column:etablissement_gestionnaire_siret"`
	GestionnaireUAI              string `json:"etablissement_gestionnaire_uai" gorm:"column:etablissement_gestionnaire_uai"`
	GestionnaireAdresse          string `json:"etablissement_gestionnaire_adresse" gorm:"column:etablissement_gestionnaire_adresse"`
	GestionnaireCodePostal       string `json:"etablissement_gestionnaire_code_postal" gorm:"column:etablissement_gestionnaire_code_postal"`
	GestionnaireCodeCommuneInsee string `json:"etablissement_gestionnaire_code_commune_insee" gorm:"column:etablissement_gestionnaire_code_commune_insee"`
	GestionnaireGeoCoordonnees   string `json:"geo_coordonnees_etablissement_gestionnaire" gorm:"column:geo_coordonnees_etablissement_gestionnaire"`

	FormateurSiret            string `json:"etablissement_formateur_siret" gorm:"column:etablissement_formateur_siret"`
	FormateurUAI              string `json:"etablissement_formateur_uai" gorm:"column:etablissement_formateur_uai"`
	FormateurAdresse          string `json:"etablissement_formateur_adresse" gorm:"column:etablissement_formateur_adresse"`
	FormateurCodePostal       string `json:"etablissement_formateur_code_postal" gorm:"column:etablissement_formateur_code_postal"`
	FormateurCodeCommuneInsee string `json:"etablissement_formateur_code_commune_insee" gorm:"column:etablissement_formateur_code_commune_insee"`
	FormateurGeoCoordonnees   string `json:"geo_coordonnees_etablissement_formateur" gorm:"column:geo_coordonnees_etablissement_formateur"`

	CreatedAt    time.Time `json:"created_at" gorm:"column:created_at"`
	LastUpdateAt time.Time `json:"last_update_at" gorm:"column:last_update_at"`
}

func (ConvertedFormation) TableName() string { return "converted_formations" }

// Values returns the record keyed by column name.
func (c ConvertedFormation) Values() map[string]any {
	out, _ := diff.ToAny(diff.FromAny(c)).(map[string]any)
	return out
}
