package history

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const (
	EntityFormation          = "rco_formation"
	EntityConvertedFormation = "converted_formation"
)

// Ref addresses the entity whose history is appended to.
type Ref struct {
	Type string
	ID   snowflake.ID
}

// Entry is one immutable record of a field mutation: the prior values of
// exactly the keys in To, and the values written.
type Entry struct {
	ID         snowflake.ID      `json:"id" gorm:"primaryKey;autoIncrement:false"`
	EntityType string            `json:"entity_type" gorm:"column:entity_type"`
	EntityID   snowflake.ID      `json:"entity_id" gorm:"column:entity_id"`
	Seq        int               `json:"seq" gorm:"column:seq"`
	From       datatypes.JSONMap `json:"from" gorm:"column:from_values"`
	To         datatypes.JSONMap `json:"to" gorm:"column:to_values"`
	UpdatedAt  time.Time         `json:"updated_at" gorm:"column:updated_at"`
}

func (Entry) TableName() string { return "update_history" }

// BuildFrom captures the current value of every key of to. Keys absent from
// current are recorded as null.
func BuildFrom(current, to map[string]any) map[string]any {
	from := make(map[string]any, len(to))
	for key := range to {
		from[key] = current[key]
	}
	return from
}
