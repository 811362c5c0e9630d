// Package auth resolves caller identities and governance roles. The core
// only ever consumes an already-authenticated caller identity; transport
// authentication (JWT) happens in the server middleware.
package auth

import (
	"CreditLedger/internal/token"
)

// Role names a governance capability.
type Role string

const (
	// RoleGovernor may forgive loans and administer terms.
	RoleGovernor Role = "governor"
	// RoleGuardian may deprecate terms in an emergency.
	RoleGuardian Role = "guardian"
	// RoleSurplusManager may withdraw from the surplus buffer.
	RoleSurplusManager Role = "surplus-manager"
	// RoleTermAdmin may register new loan books.
	RoleTermAdmin Role = "term-admin"
)

// Registry maps addresses to granted roles. Not safe for concurrent
// mutation; grants are applied during wiring and via the admin surface,
// both serialized by the core.
type Registry struct {
	grants map[token.Address]map[Role]struct{}
}

func NewRegistry() *Registry {
	return &Registry{grants: make(map[token.Address]map[Role]struct{})}
}

func (r *Registry) Grant(addr token.Address, role Role) {
	roles, ok := r.grants[addr]
	if !ok {
		roles = make(map[Role]struct{})
		r.grants[addr] = roles
	}
	roles[role] = struct{}{}
}

func (r *Registry) Revoke(addr token.Address, role Role) {
	delete(r.grants[addr], role)
}

func (r *Registry) Has(addr token.Address, role Role) bool {
	_, ok := r.grants[addr][role]
	return ok
}

// RolesOf returns the roles granted to addr, for token issuance.
func (r *Registry) RolesOf(addr token.Address) []Role {
	out := make([]Role, 0, len(r.grants[addr]))
	for role := range r.grants[addr] {
		out = append(out, role)
	}
	return out
}
