// Package contacts defines the contact service that audiences are written to
// and its RapidPro binding.
package contacts

import (
	"context"
	"errors"
)

//go:generate mockgen -destination=mocks/mock_service.go -package=mocks -source=types.go Service

// ErrContactNotFound is returned when no contact has the requested URN
var ErrContactNotFound = errors.New("contact not found")

// Field is a workspace contact field
type Field struct {
	Key       string `json:"key"`
	Label     string `json:"label"`
	ValueType string `json:"value_type,omitempty"`
}

// Group is a workspace contact group
type Group struct {
	UUID string `json:"uuid"`
	Name string `json:"name"`
}

// Contact is a workspace contact
type Contact struct {
	UUID   string             `json:"uuid"`
	Name   string             `json:"name,omitempty"`
	URNs   []string           `json:"urns"`
	Groups []Group            `json:"groups"`
	Fields map[string]*string `json:"fields"`
}

// HasGroup reports whether the contact belongs to the group with the given uuid
func (c *Contact) HasGroup(uuid string) bool {
	for _, g := range c.Groups {
		if g.UUID == uuid {
			return true
		}
	}
	return false
}

// GroupUUIDs returns the uuids of the contact's groups
func (c *Contact) GroupUUIDs() []string {
	out := make([]string, 0, len(c.Groups))
	for _, g := range c.Groups {
		out = append(out, g.UUID)
	}
	return out
}

// ContactUpdate is a partial contact update. Nil members are left unchanged;
// Groups replaces the contact's full group list when set.
type ContactUpdate struct {
	Fields map[string]string `json:"fields,omitempty"`
	Groups []string          `json:"groups,omitempty"`
}

// Service is the contact-management surface the reconciler depends on
type Service interface {
	// ListFields returns every contact field in the workspace
	ListFields(ctx context.Context) ([]Field, error)

	// CreateField creates a text field with the given label
	CreateField(ctx context.Context, label string) (*Field, error)

	// ListGroups returns the groups with the given name
	ListGroups(ctx context.Context, name string) ([]Group, error)

	// CreateGroup creates a group with the given name
	CreateGroup(ctx context.Context, name string) (*Group, error)

	// GetContact returns the contact with the given URN or ErrContactNotFound
	GetContact(ctx context.Context, urn string) (*Contact, error)

	// UpdateContact applies update to the contact with the given URN
	UpdateContact(ctx context.Context, urn string, update ContactUpdate) error
}

// FindFieldByLabel returns the field with the given label, or nil
func FindFieldByLabel(fields []Field, label string) *Field {
	for i := range fields {
		if fields[i].Label == label {
			return &fields[i]
		}
	}
	return nil
}
