package model

import "time"

// Link associates a project with the deal it was resolved from. Deal fields
// are empty for deal-less links.
type Link struct {
	ProjectID    string `json:"project_id" yaml:"project_id"`
	DealID       string `json:"deal_id,omitempty" yaml:"deal_id,omitempty"`
	DealName     string `json:"deal_name,omitempty" yaml:"deal_name,omitempty"`
	Stage        string `json:"stage,omitempty" yaml:"stage,omitempty"`
	ModifiedTime string `json:"modified_time,omitempty" yaml:"modified_time,omitempty"`
}

// LinkForDeal builds a link carrying the deal's descriptive fields.
func LinkForDeal(projectID string, d Deal) Link {
	return Link{
		ProjectID:    projectID,
		DealID:       d.ID(),
		DealName:     d.Name(),
		Stage:        d.Stage(),
		ModifiedTime: d.ModifiedTime(),
	}
}

// Modified parses ModifiedTime. Unparseable values return the zero time.
func (l Link) Modified() time.Time {
	if l.ModifiedTime == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, l.ModifiedTime)
	if err != nil {
		return time.Time{}
	}
	return t
}

// CachedResponse is a row of the persistent response cache.
type CachedResponse struct {
	Key       string    `json:"key"`
	Data      []byte    `json:"data"`
	StaleAt   time.Time `json:"stale_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IsStale reports whether the row should be revalidated.
func (c *CachedResponse) IsStale(now time.Time) bool {
	return !now.Before(c.StaleAt)
}

// IsExpired reports whether the row must not be served.
func (c *CachedResponse) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// FolderEntry is a row of the deal folder cache.
type FolderEntry struct {
	DealID     string    `json:"deal_id"`
	FolderType string    `json:"folder_type"`
	FolderID   string    `json:"folder_id"`
	UpdatedAt  time.Time `json:"updated_at"`
}
