package models

import "time"

// ResourceVersion is a named, versioned snapshot of the opaque resource
// bundle a rollout can pin itself to via Rollout.ResourcesID (spec §6's
// resource_versions table).
type ResourceVersion struct {
	VersionID   string         `json:"version_id"`
	Label       string         `json:"label"`
	IsActive    bool           `json:"is_active"`
	Resources   map[string]any `json:"resources"`
	Description string         `json:"description,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}
