package utils

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	DateLayout      = "2006-01-02"
	TimestampLayout = "2006-01-02 15:04:05"
)

// accepted input layouts for date-like strings, most specific first
var dateInputLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	TimestampLayout,
	DateLayout,
}

// FormatValue turns a submitted scalar into its stored/rendered string.
// nil becomes "", dates become ISO dates and timestamps YYYY-MM-DD HH:MM:SS.
func FormatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "Yes"
		}
		return "No"
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case time.Time:
		return FormatTime(t)
	case *time.Time:
		if t == nil {
			return ""
		}
		return FormatTime(*t)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// FormatTime renders midnight values as a date and everything else as a timestamp.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
		return t.Format(DateLayout)
	}
	return t.Format(TimestampLayout)
}

// NormalizeDate parses the usual client date encodings and returns an ISO date.
func NormalizeDate(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", true
	}
	for _, layout := range dateInputLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(DateLayout), true
		}
	}
	return s, false
}

// NormalizeFields converts a decoded JSON object into a string field map. Nested arrays
// and objects are returned separately so callers can treat them as repeated groups.
func NormalizeFields(in map[string]any) (map[string]string, map[string][]map[string]string) {
	fields := make(map[string]string, len(in))
	var groups map[string][]map[string]string
	for k, v := range in {
		switch t := v.(type) {
		case []any:
			rows := make([]map[string]string, 0, len(t))
			for _, item := range t {
				obj, ok := item.(map[string]any)
				if !ok {
					continue
				}
				row, _ := NormalizeFields(obj)
				rows = append(rows, row)
			}
			if groups == nil {
				groups = map[string][]map[string]string{}
			}
			groups[k] = rows
		case map[string]any:
			b, _ := json.Marshal(t)
			fields[k] = string(b)
		default:
			fields[k] = FormatValue(v)
		}
	}
	return fields, groups
}

// Truncate cuts s to limit runes and appends marker when it had to cut.
func Truncate(s string, limit int, marker string) string {
	r := []rune(s)
	if limit <= 0 || len(r) <= limit {
		return s
	}
	return string(r[:limit]) + marker
}

// SanitizeFilename replaces characters that are invalid in filenames
func SanitizeFilename(filename string) string {
	replacements := map[rune]rune{
		'/':  '_',
		'\\': '_',
		':':  '_',
		'*':  '_',
		'?':  '_',
		'"':  '_',
		'<':  '_',
		'>':  '_',
		'|':  '_',
		' ':  '_',
	}

	var b strings.Builder
	for _, ch := range filename {
		if r, ok := replacements[ch]; ok {
			b.WriteRune(r)
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

// Slug lowercases s and keeps only letters and digits, joining words with '_'.
func Slug(s string) string {
	var b strings.Builder
	lastSep := true
	for _, ch := range strings.ToLower(s) {
		if (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') {
			b.WriteRune(ch)
			lastSep = false
			continue
		}
		if !lastSep {
			b.WriteByte('_')
			lastSep = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}
