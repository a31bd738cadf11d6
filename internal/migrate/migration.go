// Package migrate discovers, validates, applies, and rolls back
// versioned SQL migrations per namespace. Migration files are named
// NNN_description.sql and contain an up section and a down section
// split by "-- migrate:up" / "-- migrate:down" markers. Applied
// migrations are recorded in a per-namespace records table and their
// file checksums are treated as immutable history.
package migrate

import "time"

// Migration is a discovered migration file, parsed into sections.
type Migration struct {
	Namespace string
	Version   int
	Name      string
	UpSQL     string
	DownSQL   string
	// Checksum is the hex sha256 of the raw file bytes.
	Checksum string
}

// Record is a persisted row for one applied migration.
type Record struct {
	Version   int       `json:"version"`
	Name      string    `json:"name"`
	Checksum  string    `json:"checksum"`
	AppliedAt time.Time `json:"applied_at"`
}

// Status describes the migration state of a namespace.
type Status struct {
	Namespace      string   `json:"namespace"`
	CurrentVersion int      `json:"current_version"`
	Applied        []Record `json:"applied_migrations"`
	Pending        []int    `json:"pending_migrations"`
	// Discrepancies lists versions whose file content no longer
	// matches the checksum recorded at apply time.
	Discrepancies []int `json:"checksum_discrepancies,omitempty"`
}

// Applied reports the versions that are recorded as applied.
func (s *Status) AppliedVersions() []int {
	versions := make([]int, len(s.Applied))
	for i, rec := range s.Applied {
		versions[i] = rec.Version
	}
	return versions
}
