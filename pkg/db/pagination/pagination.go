package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"

	"github.com/bwmarrin/snowflake"
)

var ErrInvalidPageToken = errors.New("invalid_page_token")

// Cursor is a keyset position: rows strictly after ID are returned next.
type Cursor struct {
	ID snowflake.ID `json:"id,omitempty"`
}

// Start is the cursor positioned before the first row.
var Start = Cursor{}

func After(id snowflake.ID) Cursor {
	return Cursor{ID: id}
}

func (c Cursor) IsZero() bool {
	return c.ID == 0
}

// EncodeCursor renders the cursor as an opaque resume token.
func EncodeCursor(data Cursor) (string, error) {
	if data.IsZero() {
		return "", nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return "", err
	}

	return base64.RawURLEncoding.EncodeToString(b), nil
}

func DecodeCursor(data string) (Cursor, error) {
	if data == "" {
		return Start, nil
	}
	b, err := base64.RawURLEncoding.DecodeString(data)
	if err != nil {
		return Start, ErrInvalidPageToken
	}

	var cursor Cursor
	if err := json.Unmarshal(b, &cursor); err != nil {
		return Start, ErrInvalidPageToken
	}

	return cursor, nil
}
