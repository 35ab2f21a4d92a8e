// Package feed loads the formation snapshot published by the external
// catalogue feed.
package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/smallbiznis/catalogue/internal/formation/domain"
)

var (
	ErrSourceNotConfigured = errors.New("feed_source_not_configured")
	ErrInvalidSnapshot     = errors.New("invalid_feed_snapshot")
	ErrUnexpectedStatus    = errors.New("feed_unexpected_status")
)

// Source returns the full current list of formations. Every call fetches a
// fresh snapshot.
type Source interface {
	Snapshot(ctx context.Context) ([]domain.SourceRecord, error)
}

// Format selects the payload decoder.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath guesses the payload format from a file extension.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Decode parses a snapshot payload. Both a bare list of formation objects and
// an object wrapping the list under "formations" are accepted.
func Decode(data []byte, format Format) ([]domain.SourceRecord, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidSnapshot)
	}

	var doc any
	var err error
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(data, &doc)
	default:
		err = json.Unmarshal(data, &doc)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}

	if wrapper, ok := doc.(map[string]any); ok {
		list, found := wrapper["formations"]
		if !found {
			return nil, fmt.Errorf("%w: missing formations", ErrInvalidSnapshot)
		}
		doc = list
	}
	items, ok := doc.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected a list of formations", ErrInvalidSnapshot)
	}

	records := make([]domain.SourceRecord, 0, len(items))
	for i, item := range items {
		raw, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: entry %d is not an object", ErrInvalidSnapshot, i)
		}
		records = append(records, domain.NewSourceRecord(raw))
	}
	return records, nil
}

// Static serves a fixed snapshot.
type Static []domain.SourceRecord

func (s Static) Snapshot(context.Context) ([]domain.SourceRecord, error) {
	out := make([]domain.SourceRecord, len(s))
	copy(out, s)
	return out, nil
}

type unconfigured struct{}

func (unconfigured) Snapshot(context.Context) ([]domain.SourceRecord, error) {
	return nil, ErrSourceNotConfigured
}
