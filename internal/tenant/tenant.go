package tenant

import (
	"regexp"
	"time"
)

// Tenant represents an isolated customer account. Every other entity in the
// system is scoped to exactly one tenant.
type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Status constants
const (
	StatusActive    = "active"
	StatusInactive  = "inactive"
	StatusSuspended = "suspended"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// ValidSlug reports whether s is a well-formed tenant slug: lowercase
// alphanumeric segments separated by single hyphens.
func ValidSlug(s string) bool {
	return s != "" && len(s) <= 64 && slugPattern.MatchString(s)
}

// ValidStatus reports whether s is a recognized tenant status.
func ValidStatus(s string) bool {
	switch s {
	case StatusActive, StatusInactive, StatusSuspended:
		return true
	}
	return false
}

// Operational reports whether the tenant may serve authorization decisions.
func (t *Tenant) Operational() bool {
	return t.Status == StatusActive
}
