// Package tenant defines the isolation key threaded explicitly through every
// engine and store call. There is no package-level "current tenant" — callers
// always carry their own ID, and no store mutates it behind their back.
package tenant

import "github.com/google/uuid"

// ID identifies a tenant. The zero value is not a valid ID.
type ID struct {
	uuid uuid.UUID
}

// New generates a fresh random tenant ID.
func New() ID {
	return ID{uuid: uuid.New()}
}

// Parse validates s as a UUID and returns the corresponding tenant ID.
func Parse(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ID{}, err
	}
	return ID{uuid: u}, nil
}

// String returns the canonical UUID string form.
func (id ID) String() string { return id.uuid.String() }

// Equal reports whether id and other denote the same tenant.
func (id ID) Equal(other ID) bool { return id.uuid == other.uuid }

// IsZero reports whether id is the unset zero value.
func (id ID) IsZero() bool { return id.uuid == uuid.Nil }
