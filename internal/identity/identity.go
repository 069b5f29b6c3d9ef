// Package identity maps (role, site id) pairs to the peer identifiers
// registered with the rendezvous service. The mapping is pure: for one site
// exactly two identifiers exist, one per role, and they never collide with
// each other or with another site's identifiers.
package identity

import (
	"errors"
	"fmt"
	"strings"
)

// Role represents which endpoint of a site this process is.
type Role string

const (
	RoleConsole Role = "console"
	RoleField   Role = "field"
)

// ConsoleSuffix is appended to the site id to form the console identifier.
// The field identifier is the site id verbatim.
const ConsoleSuffix = "-console"

var (
	ErrEmptySiteID    = errors.New("site id must not be empty")
	ErrReservedSuffix = errors.New("site id must not end with the reserved console suffix")
	ErrUnknownRole    = errors.New("unknown role")
)

// Identity is the resolved peer identity for one endpoint. Computed once at
// session start, immutable thereafter.
type Identity struct {
	Role   Role
	SiteID string
	PeerID string
}

// Valid reports whether r is one of the two known roles.
func (r Role) Valid() bool {
	return r == RoleConsole || r == RoleField
}

// Other returns the counterpart role.
func (r Role) Other() Role {
	if r == RoleConsole {
		return RoleField
	}
	return RoleConsole
}

// Resolve derives the peer identifier for (role, siteID).
//
// A site id that already ends in ConsoleSuffix is rejected: it would make the
// field identifier of one site collide with the console identifier of another.
func Resolve(role Role, siteID string) (Identity, error) {
	if !role.Valid() {
		return Identity{}, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	if siteID == "" {
		return Identity{}, ErrEmptySiteID
	}
	if strings.HasSuffix(siteID, ConsoleSuffix) {
		return Identity{}, fmt.Errorf("%w (%s): %q", ErrReservedSuffix, ConsoleSuffix, siteID)
	}

	id := Identity{Role: role, SiteID: siteID, PeerID: siteID}
	if role == RoleConsole {
		id.PeerID = siteID + ConsoleSuffix
	}
	return id, nil
}

// Counterpart returns the identity of the opposite endpoint at the same site.
func (id Identity) Counterpart() Identity {
	other, _ := Resolve(id.Role.Other(), id.SiteID)
	return other
}
