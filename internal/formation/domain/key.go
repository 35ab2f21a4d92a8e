package domain

import (
	"errors"
	"strings"
)

const keySeparator = "|"

var ErrIncompleteKey = errors.New("incomplete_natural_key")

// NaturalKey identifies a formation in the external feed.
type NaturalKey struct {
	IDFormation  string `json:"id_formation" gorm:"column:id_formation"`
	IDAction     string `json:"id_action" gorm:"column:id_action"`
	IDCertifinfo string `json:"id_certifinfo" gorm:"column:id_certifinfo"`
}

// String joins the key parts with "|". The result is also the identifier of
// the converted formation.
func (k NaturalKey) String() string {
	return k.IDFormation + keySeparator + k.IDAction + keySeparator + k.IDCertifinfo
}

func (k NaturalKey) Complete() bool {
	return k.IDFormation != "" && k.IDAction != "" && k.IDCertifinfo != ""
}

func ParseKey(s string) (NaturalKey, error) {
	parts := strings.Split(s, keySeparator)
	if len(parts) != 3 {
		return NaturalKey{}, ErrIncompleteKey
	}
	key := NaturalKey{
		IDFormation:  strings.TrimSpace(parts[0]),
		IDAction:     strings.TrimSpace(parts[1]),
		IDCertifinfo: strings.TrimSpace(parts[2]),
	}
	if !key.Complete() {
		return key, ErrIncompleteKey
	}
	return key, nil
}
