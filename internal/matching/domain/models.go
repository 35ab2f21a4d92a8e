package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	directorydomain "github.com/smallbiznis/catalogue/internal/directory/domain"
	"github.com/smallbiznis/catalogue/pkg/db/pagination"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("ps_formation_not_found")

// Role is the identifier slot through which an establishment was matched.
type Role string

const (
	RoleFormation    Role = "UAI_FORMATION"
	RoleFormateur    Role = "UAI_FORMATEUR"
	RoleGestionnaire Role = "UAI_GESTIONNAIRE"
)

// MatchCandidate is a catalogue formation previously matched to a third-party
// formation. Each UAI slot is looked up under its own role.
type MatchCandidate struct {
	CFD                          string `json:"cfd"`
	UAIFormation                 string `json:"uai_formation,omitempty"`
	EtablissementFormateurUAI    string `json:"etablissement_formateur_uai,omitempty"`
	EtablissementGestionnaireUAI string `json:"etablissement_gestionnaire_uai,omitempty"`
}

// Slots returns the non-empty identifiers of c with their role, in lookup
// order.
func (c MatchCandidate) Slots() []Slot {
	all := []Slot{
		{Role: RoleFormation, UAI: c.UAIFormation},
		{Role: RoleFormateur, UAI: c.EtablissementFormateurUAI},
		{Role: RoleGestionnaire, UAI: c.EtablissementGestionnaireUAI},
	}
	out := all[:0]
	for _, s := range all {
		if s.UAI != "" {
			out = append(out, s)
		}
	}
	return out
}

type Slot struct {
	Role Role
	UAI  string
}

// MatchedEstablishment is a directory entry found for a formation together
// with every role it was found through.
type MatchedEstablishment struct {
	IDMnaEtablissement snowflake.ID `json:"id_mna_etablissement"`
	UAI                string       `json:"uai"`
	Siret              string       `json:"siret,omitempty"`
	RaisonSociale      string       `json:"raison_sociale,omitempty"`
	Adresse            string       `json:"adresse,omitempty"`
	CodePostal         string       `json:"code_postal,omitempty"`
	CodeCommuneInsee   string       `json:"code_commune_insee,omitempty"`
	MatchedUAI         []Role       `json:"matched_uai"`
}

func NewMatchedEstablishment(e directorydomain.Establishment, role Role) MatchedEstablishment {
	return MatchedEstablishment{
		IDMnaEtablissement: e.ID,
		UAI:                e.UAI,
		Siret:              e.Siret,
		RaisonSociale:      e.RaisonSociale,
		Adresse:            e.Adresse,
		CodePostal:         e.CodePostal,
		CodeCommuneInsee:   e.CodeCommuneInsee,
		MatchedUAI:         []Role{role},
	}
}

// HasRole reports whether r is already in the role set.
func (m MatchedEstablishment) HasRole(r Role) bool {
	for _, existing := range m.MatchedUAI {
		if existing == r {
			return true
		}
	}
	return false
}

// PsFormation is a formation of the third-party (Parcoursup) catalogue.
type PsFormation struct {
	ID                       snowflake.ID                              `json:"id" gorm:"primaryKey;autoIncrement:false"`
	LibelleFormation         string                                    `json:"libelle_formation" gorm:"column:libelle_formation"`
	CodeCFD                  string                                    `json:"code_cfd" gorm:"column:code_cfd"`
	UAIGestionnaire          string                                    `json:"uai_gestionnaire" gorm:"column:uai_gestionnaire"`
	UAIComposante            string                                    `json:"uai_composante" gorm:"column:uai_composante"`
	UAIAffilie               string                                    `json:"uai_affilie" gorm:"column:uai_affilie"`
	MatchingType             *string                                   `json:"matching_type" gorm:"column:matching_type"`
	MatchingMnaFormation     datatypes.JSONSlice[MatchCandidate]       `json:"matching_mna_formation" gorm:"column:matching_mna_formation"`
	MatchingMnaEtablissement datatypes.JSONSlice[MatchedEstablishment] `json:"matching_mna_etablissement" gorm:"column:matching_mna_etablissement"`
	LastUpdateAt             time.Time                                 `json:"last_update_at" gorm:"column:last_update_at"`
}

func (PsFormation) TableName() string { return "ps_formations" }

type Repository interface {
	// ListMatchable pages formations that carry a matching type.
	ListMatchable(ctx context.Context, db *gorm.DB, after pagination.Cursor, limit int) ([]PsFormation, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*PsFormation, error)
	Insert(ctx context.Context, db *gorm.DB, f *PsFormation) error
	// ReplaceMatches overwrites the whole matched-establishment collection.
	ReplaceMatches(ctx context.Context, db *gorm.DB, id snowflake.ID, matches []MatchedEstablishment, at time.Time) error
}
