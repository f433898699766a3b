// Package identity converts between de-identified participant uuids and the
// contact URNs they stand for.
package identity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a handle or uuid has no mapping
var ErrNotFound = errors.New("identity: not found")

// Resolver re-identifies participant uuids
type Resolver interface {
	// ResolveBatch maps every uuid to its handle in one call. It fails with a
	// *MissingError naming the uuids that have no mapping.
	ResolveBatch(ctx context.Context, uuids []string) (map[string]string, error)

	// Reverse returns the uuid of a handle, or ErrNotFound
	Reverse(ctx context.Context, handle string) (string, error)
}

// Table is a Resolver that can also de-identify new handles
type Table interface {
	Resolver
	io.Closer

	// Register returns the uuid of handle, minting one when the handle is new
	Register(ctx context.Context, handle string) (string, error)
}

// MissingError lists uuids that could not be resolved
type MissingError struct {
	UUIDs []string
}

func (e *MissingError) Error() string {
	const shown = 5
	ids := e.UUIDs
	suffix := ""
	if len(ids) > shown {
		suffix = fmt.Sprintf(" and %d more", len(ids)-shown)
		ids = ids[:shown]
	}
	return fmt.Sprintf("%d uuids have no mapping: %s%s", len(e.UUIDs), strings.Join(ids, ", "), suffix)
}

// Is lets MissingError match ErrNotFound
func (*MissingError) Is(target error) bool {
	return target == ErrNotFound
}

func newMissingError(missing []string) error {
	sort.Strings(missing)
	return &MissingError{UUIDs: missing}
}

// NewUUID mints a participant uuid with the given prefix
func NewUUID(prefix string) string {
	return prefix + uuid.New().String()
}
