package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var ErrDirectoryUnavailable = errors.New("directory_unavailable")

// Establishment is one entry of the reference establishment directory.
type Establishment struct {
	ID               snowflake.ID `json:"id" gorm:"primaryKey;autoIncrement:false"`
	UAI              string       `json:"uai" gorm:"column:uai;index"`
	Siret            string       `json:"siret" gorm:"column:siret"`
	RaisonSociale    string       `json:"raison_sociale" gorm:"column:raison_sociale"`
	Adresse          string       `json:"adresse" gorm:"column:adresse"`
	CodePostal       string       `json:"code_postal" gorm:"column:code_postal"`
	CodeCommuneInsee string       `json:"code_commune_insee" gorm:"column:code_commune_insee"`
	CreatedAt        time.Time    `json:"created_at" gorm:"column:created_at"`
}

func (Establishment) TableName() string { return "establishments" }

// Directory looks establishments up by identifier. Lookups are exact.
type Directory interface {
	LookupByUAI(ctx context.Context, uai string) ([]Establishment, error)
}
