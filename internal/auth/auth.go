// Package auth gates access to ledger reads and reports. Identity itself
// is owned by an external provider; this package only consumes the
// minimal {id, admin} view of the current caller and decides what that
// caller may query.
package auth

import (
	"fmt"
	"net/http"
	"strings"

	"kitty/internal/core"
)

// Identity is the external identity record attached to a request.
type Identity struct {
	ID      string
	IsAdmin bool
	// MemberID is the caller's own member record, empty for identities
	// without one (e.g. a treasurer account that is not a member).
	MemberID string
}

// Headers set by the upstream identity proxy. The service trusts these
// blindly; terminating authentication is the proxy's job.
const (
	HeaderIdentityID   = "X-Identity-Id"
	HeaderIdentityRole = "X-Identity-Role"
	HeaderMemberID     = "X-Member-Id"

	roleAdmin = "admin"
)

// FromRequest extracts the caller identity from proxy headers.
// Requests without an identity header are anonymous and fail with
// core.ErrUnauthorized.
func FromRequest(r *http.Request) (Identity, error) {
	id := strings.TrimSpace(r.Header.Get(HeaderIdentityID))
	if id == "" {
		return Identity{}, fmt.Errorf("missing %s header: %w", HeaderIdentityID, core.ErrUnauthorized)
	}
	return Identity{
		ID:       id,
		IsAdmin:  strings.EqualFold(strings.TrimSpace(r.Header.Get(HeaderIdentityRole)), roleAdmin),
		MemberID: strings.TrimSpace(r.Header.Get(HeaderMemberID)),
	}, nil
}

// Guard performs capability checks before requests reach the aggregation
// engine or the ledger.
type Guard struct{}

// AuthorizeMember checks whether the requester may read data scoped to
// memberID. Admins may query any member; everyone else only their own.
func (Guard) AuthorizeMember(requester Identity, memberID string) error {
	if requester.IsAdmin {
		return nil
	}
	if requester.MemberID != "" && requester.MemberID == memberID {
		return nil
	}
	return fmt.Errorf("identity %s may not query member %s: %w", requester.ID, memberID, core.ErrUnauthorized)
}

// AuthorizeAdmin checks for treasurer-level access: group totals, arrears
// reports, member registration and raw ledger listings.
func (Guard) AuthorizeAdmin(requester Identity) error {
	if requester.IsAdmin {
		return nil
	}
	return fmt.Errorf("identity %s is not an admin: %w", requester.ID, core.ErrUnauthorized)
}
