package groups

import (
	"context"
	"errors"
)

// IDPrefix is the document-id namespace the store uses for access groups.
const IDPrefix = "_.groups."

// DocumentType is the store's type discriminator for access groups.
const DocumentType = "system.group"

// ReservedNames are group names the store treats specially; they must never
// be created, joined, or left through reconciliation, regardless of what the
// identity provider asserts.
var ReservedNames = map[string]struct{}{
	"administrator":  {},
	"create-session": {},
	"public":         {},
	"read":           {},
	"write":          {},
}

// IsReserved reports whether a (lower-cased) group name is reserved.
func IsReserved(name string) bool {
	_, ok := ReservedNames[name]
	return ok
}

// IDForName maps an asserted group name to its store document id.
func IDForName(name string) string {
	return IDPrefix + name
}

// Document is an access group as stored. Members is a set semantically,
// though the store represents it as an appended sequence.
type Document struct {
	ID      string   `json:"_id"`
	Type    string   `json:"_type"`
	Grants  []any    `json:"grants"`
	Members []string `json:"members"`
}

// ErrNotFound is returned by Store implementations when a group document
// does not exist.
var ErrNotFound = errors.New("group not found")

// Store abstracts the document store's group operations so the backend is
// swappable and mockable.
type Store interface {
	// GroupsContaining returns the ids of all groups whose members include
	// userID.
	GroupsContaining(ctx context.Context, userID string) ([]string, error)

	// Members returns the membership list of a group, or ErrNotFound.
	Members(ctx context.Context, groupID string) ([]string, error)

	// CreateIfAbsent creates a blank group document if none exists and
	// returns the (existing or new) document. Idempotent.
	CreateIfAbsent(ctx context.Context, groupID string) (*Document, error)

	// AddMember appends userID to the group's members.
	AddMember(ctx context.Context, groupID, userID string) error

	// RemoveMemberAt unsets the member at the given index. The caller must
	// have just read the membership list; this is a read-then-write
	// pattern, not atomic.
	RemoveMemberAt(ctx context.Context, groupID string, index int) error
}
