package report

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var monthNames = [...]string{
	"janvier", "février", "mars", "avril", "mai", "juin",
	"juillet", "août", "septembre", "octobre", "novembre", "décembre",
}

var periodeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05.000Z",
	"2006-01-02",
	"2006-01",
}

// FormatPeriode renders each session date as "<month> <year>". Values that
// do not parse as dates are kept as they are.
func FormatPeriode(values []any) []any {
	out := make([]any, len(values))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			out[i] = v
			continue
		}
		out[i] = formatMonthYear(s)
	}
	return out
}

func formatMonthYear(value string) string {
	trimmed := strings.TrimSpace(value)
	for _, layout := range periodeLayouts {
		t, err := time.Parse(layout, trimmed)
		if err != nil {
			continue
		}
		return fmt.Sprintf("%s %d", monthNames[t.Month()-1], t.Year())
	}
	return value
}

// ReadableUpdates copies updates with the session dates rendered for humans.
func ReadableUpdates(updates map[string]any) map[string]any {
	if updates == nil {
		return nil
	}
	out := make(map[string]any, len(updates))
	for k, v := range updates {
		out[k] = v
	}
	switch list := out["periode"].(type) {
	case []any:
		out["periode"] = FormatPeriode(list)
	case []string:
		values := make([]any, len(list))
		for i, s := range list {
			values[i] = s
		}
		out["periode"] = FormatPeriode(values)
	}
	return out
}

func formatDateKey(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
