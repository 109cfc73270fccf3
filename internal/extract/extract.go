// Package extract pulls candidate Projects-system identifiers out of CRM field
// values whose shape is not known ahead of time: plain strings, numbers,
// lookup objects, arrays and nested records.
package extract

import (
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// MaxDepth bounds recursion into nested values.
const MaxDepth = 6

// preferredKeys are read from objects before falling back to every value.
var preferredKeys = []string{"id", "project_id", "projectId", "value", "display_value", "displayValue"}

var (
	genericIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{6,}$`)
	pathPattern      = regexp.MustCompile(`(?i)[/#]projects?/([A-Za-z0-9_-]+)`)
	queryPattern     = regexp.MustCompile(`(?i)project[_-]?id=([A-Za-z0-9_-]+)`)
	digitRunPattern  = regexp.MustCompile(`\d{6,}`)
	tokenSeparators  = regexp.MustCompile(`[,;\r\n]+`)
)

// ParseProjectIDs walks v and returns the normalized identifiers it holds,
// de-duplicated in first-seen order. Unknown shapes contribute nothing.
func ParseProjectIDs(v any) []string {
	w := walker{seen: make(map[string]bool)}
	w.walk(v, 0)
	return w.out
}

// NormalizeCandidateProjectID reduces a raw token to an identifier, or "" if
// the token holds none. The result is always accepted unchanged by a second
// call.
func NormalizeCandidateProjectID(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if genericIDPattern.MatchString(s) {
		return s
	}
	if m := pathPattern.FindStringSubmatch(s); m != nil && genericIDPattern.MatchString(m[1]) {
		return m[1]
	}
	if m := queryPattern.FindStringSubmatch(s); m != nil && genericIDPattern.MatchString(m[1]) {
		return m[1]
	}

	runs := digitRunPattern.FindAllString(s, -1)
	switch {
	case len(runs) == 1:
		return runs[0]
	case len(runs) > 1 && strings.Contains(strings.ToLower(s), "project"):
		return runs[0]
	}
	return ""
}

type walker struct {
	seen map[string]bool
	out  []string
}

func (w *walker) add(raw string) {
	id := NormalizeCandidateProjectID(raw)
	if id == "" || w.seen[id] {
		return
	}
	w.seen[id] = true
	w.out = append(w.out, id)
}

func (w *walker) walk(v any, depth int) {
	if depth > MaxDepth {
		return
	}
	switch t := v.(type) {
	case string:
		for _, tok := range tokenSeparators.Split(t, -1) {
			w.add(tok)
		}
	case json.Number:
		w.add(t.String())
	case float64:
		w.add(strconv.FormatFloat(t, 'f', -1, 64))
	case int:
		w.add(strconv.Itoa(t))
	case int64:
		w.add(strconv.FormatInt(t, 10))
	case []any:
		for _, item := range t {
			w.walk(item, depth+1)
		}
	case []string:
		for _, item := range t {
			w.walk(item, depth+1)
		}
	case map[string]any:
		w.walkObject(t, depth)
	}
}

func (w *walker) walkObject(m map[string]any, depth int) {
	found := false
	for _, k := range preferredKeys {
		if v, ok := m[k]; ok && v != nil {
			found = true
			w.walk(v, depth+1)
		}
	}
	if found {
		return
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		w.walk(m[k], depth+1)
	}
}
