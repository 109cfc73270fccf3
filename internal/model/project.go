package model

import "strings"

// Project is a project in the external Projects system.
type Project struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Status string         `json:"status,omitempty"`
	Raw    map[string]any `json:"-"`
}

// ProjectFromMap builds a Project from an API payload row. Returns false if
// the row carries no usable id.
func ProjectFromMap(m map[string]any) (Project, bool) {
	id := Text(m["id_string"])
	if id == "" {
		id = Text(m["id"])
	}
	if id == "" {
		return Project{}, false
	}
	status := Text(m["status"])
	if status == "" {
		if cs, ok := m["custom_status"].(map[string]any); ok {
			status = Text(cs["name"])
		}
	}
	return Project{
		ID:     id,
		Name:   Text(m["name"]),
		Status: status,
		Raw:    m,
	}, true
}

// IsActive reports whether the free-text status reads as active. An empty
// status is treated as active.
func (p Project) IsActive() bool {
	s := strings.ToLower(strings.TrimSpace(p.Status))
	if s == "" {
		return true
	}
	if strings.Contains(s, "archiv") || strings.Contains(s, "inactive") ||
		strings.Contains(s, "closed") || strings.Contains(s, "cancel") {
		return false
	}
	return true
}

// Task is a task record from the Projects system.
type Task map[string]any

// Route is a resolved API host and portal pair for the Projects system.
type Route struct {
	Base     string `json:"base"`
	PortalID string `json:"portal_id"`
}

// URL joins the route with an endpoint path such as "/projects/".
func (r Route) URL(endpoint string) string {
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	return strings.TrimRight(r.Base, "/") + "/portal/" + r.PortalID + endpoint
}

// String returns a compact form used in logs and aggregated errors.
func (r Route) String() string {
	return r.Base + " portal=" + r.PortalID
}
