package match

import (
	"github.com/sells-group/project-link/internal/extract"
	"github.com/sells-group/project-link/internal/model"
)

// Result is an accepted match.
type Result struct {
	ProjectID string
	Score     int
}

// DealCandidates returns the normalized names a deal may be known by in the
// Projects system: the deal name, the deal name without a trailing date, the
// linked contact's name and text found in project reference fields.
func DealCandidates(d model.Deal, fields []string) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(s string) {
		n := Normalize(s)
		if n == "" || seen[n] {
			return
		}
		seen[n] = true
		out = append(out, n)
	}

	add(d.Name())
	add(StripDateSuffix(d.Name()))
	add(d.ContactName())
	for _, s := range FieldTexts(d, fields) {
		add(s)
	}
	return out
}

// ExactCandidates is DealCandidates without the contact name, which is too
// loose to count as an exact project name.
func ExactCandidates(d model.Deal, fields []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, s := range append([]string{d.Name(), StripDateSuffix(d.Name())}, FieldTexts(d, fields)...) {
		n := Normalize(s)
		if n != "" && !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

// textKeys are read from lookup objects in project fields.
var textKeys = []string{"name", "display_value", "displayValue", "value"}

// FieldTexts returns text-like values of a deal's project reference fields:
// strings containing a letter and names of lookup objects.
func FieldTexts(d model.Deal, fields []string) []string {
	var out []string
	var visit func(v any, depth int)
	visit = func(v any, depth int) {
		if depth > 3 {
			return
		}
		switch t := v.(type) {
		case string:
			if hasLetter(t) {
				out = append(out, t)
			}
		case []any:
			for _, item := range t {
				visit(item, depth+1)
			}
		case map[string]any:
			for _, k := range textKeys {
				if s, ok := t[k].(string); ok && hasLetter(s) {
					out = append(out, s)
				}
			}
		}
	}
	for _, f := range extract.ProjectFields(d, fields) {
		visit(d[f], 0)
	}
	return out
}

func hasLetter(s string) bool {
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			return true
		}
	}
	return false
}

// BestScores rates every unused project against the deal and returns the
// best and second-best scores together with the best project.
func BestScores(candidates []string, projects []model.Project, used map[string]bool) (best Result, second int) {
	for _, p := range projects {
		if used[p.ID] {
			continue
		}
		name := Normalize(p.Name)
		top := 0
		for _, c := range candidates {
			if s := Score(c, name); s > top {
				top = s
			}
		}
		if top > best.Score {
			second = best.Score
			best = Result{ProjectID: p.ID, Score: top}
		} else if top > second {
			second = top
		}
	}
	return best, second
}

// Accept applies the acceptance gate. Scores below 80 are rejected. Below 90
// the best must lead the runner-up by at least 5 points. At 90 and above the
// gap is not checked, so identically named projects still match; this is a
// policy choice, not a derived invariant.
func Accept(best, second int) bool {
	if best < MinAcceptScore {
		return false
	}
	if best < HighConfidenceScore && best-second < MinAmbiguityGap {
		return false
	}
	return true
}

// BestMatch returns the accepted best project for the deal, or nil.
func BestMatch(d model.Deal, projects []model.Project, used map[string]bool, fields []string) *Result {
	best, second := BestScores(DealCandidates(d, fields), projects, used)
	if best.ProjectID == "" || !Accept(best.Score, second) {
		return nil
	}
	return &best
}
