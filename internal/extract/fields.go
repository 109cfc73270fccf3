package extract

import (
	"sort"
	"strings"

	"github.com/sells-group/project-link/internal/model"
)

// DefaultDealFields are the project reference field API names seen across
// tenants. Tenants can add their own through configuration.
var DefaultDealFields = []string{
	"Zoho_Projects_ID",
	"Zoho_Project_ID",
	"Project_ID",
	"Projects_ID",
	"Project_Id",
	"Zoho_Projects",
	"Project",
	"Projects",
	"Project_Link",
	"Project_URL",
}

// IsProjectField reports whether a field API name looks project related.
func IsProjectField(name string) bool {
	return strings.Contains(strings.ToLower(name), "project")
}

// ProjectFields returns the union of known field names and any key on the
// deal that looks project related, in a stable order: known names first,
// then heuristic matches sorted.
func ProjectFields(d model.Deal, known []string) []string {
	seen := make(map[string]bool, len(known))
	out := make([]string, 0, len(known))
	for _, f := range known {
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}

	var extra []string
	for k := range d {
		if !seen[k] && IsProjectField(k) {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	return append(out, extra...)
}

// DealProjectIDs extracts identifiers from every project field of the deal.
func DealProjectIDs(d model.Deal, known []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, f := range ProjectFields(d, known) {
		v, ok := d[f]
		if !ok || v == nil {
			continue
		}
		for _, id := range ParseProjectIDs(v) {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}
