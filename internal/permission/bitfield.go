// Copyright 2026 The Keyline Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package permission

import (
	"fmt"
	"strconv"
	"strings"
)

// Action is a bitmask of operations a permission grants on a resource.
// Each named constant is a single bit; composites are bitwise unions.
type Action uint32

const (
	ActionRead    Action = 1
	ActionWrite   Action = 2
	ActionUpdate  Action = 4
	ActionDelete  Action = 8
	ActionExecute Action = 16

	ActionReadWrite Action = ActionRead | ActionWrite
	ActionCRUD      Action = ActionRead | ActionWrite | ActionUpdate | ActionDelete
	ActionAll       Action = ActionCRUD | ActionExecute
)

// Scope is a bitmask selecting which slice of a resource a permission
// applies to. Scope bits are resource-specific; the constants below are
// the scopes of the identity resource.
type Scope uint32

const (
	ScopeSelf          Scope = 1
	ScopeUsers         Scope = 2
	ScopeRoles         Scope = 4
	ScopeGroups        Scope = 8
	ScopeOrganizations Scope = 16
	ScopeRegions       Scope = 32
	ScopeStats         Scope = 64

	ScopeAll Scope = ScopeSelf | ScopeUsers | ScopeRoles | ScopeGroups |
		ScopeOrganizations | ScopeRegions | ScopeStats
)

// ResourceIdentity is the resource all identity-core permissions attach to.
const ResourceIdentity = "identity"

// NewAction validates raw bits into an Action. Bits outside ActionAll are
// rejected rather than silently accepted.
func NewAction(bits uint32) (Action, error) {
	if bits&^uint32(ActionAll) != 0 {
		return 0, fmt.Errorf("action bits out of range: %d", bits)
	}
	return Action(bits), nil
}

// NewScope validates raw bits into a Scope.
func NewScope(bits uint32) (Scope, error) {
	if bits&^uint32(ScopeAll) != 0 {
		return 0, fmt.Errorf("scope bits out of range: %d", bits)
	}
	return Scope(bits), nil
}

// HasFlags reports whether value contains every bit of required.
// required == 0 is vacuously true; real guards must never pass zero.
func HasFlags(value, required uint32) bool {
	return value&required == required
}

// Has reports whether a contains every bit of required.
func (a Action) Has(required Action) bool {
	return HasFlags(uint32(a), uint32(required))
}

// Has reports whether s contains every bit of required.
func (s Scope) Has(required Scope) bool {
	return HasFlags(uint32(s), uint32(required))
}

// Permission grants a set of actions over a set of scopes of one resource.
// An empty OrgID means the grant is global; otherwise it applies only
// inside that organization.
type Permission struct {
	Resource string `json:"resource"`
	Scope    Scope  `json:"scope"`
	Action   Action `json:"action"`
	OrgID    string `json:"org_id,omitempty"`
}

// Grants reports whether p satisfies required: same resource, and both
// the action and the scope bitmasks independently contain the required bits.
func (p Permission) Grants(required Permission) bool {
	if p.Resource != required.Resource {
		return false
	}
	return p.Action.Has(required.Action) && p.Scope.Has(required.Scope)
}

// String serializes as "<resource>.<scope>.<action>" with numeric bitmasks.
func (p Permission) String() string {
	return fmt.Sprintf("%s.%d.%d", p.Resource, uint32(p.Scope), uint32(p.Action))
}

// Parse parses the "<resource>.<scope>.<action>" wire form. The resource
// segment may itself contain dots; scope and action are the last two
// numeric segments.
func Parse(s string) (Permission, error) {
	idx := strings.LastIndex(s, ".")
	if idx <= 0 {
		return Permission{}, fmt.Errorf("malformed permission %q", s)
	}
	actionPart := s[idx+1:]
	rest := s[:idx]

	idx = strings.LastIndex(rest, ".")
	if idx <= 0 {
		return Permission{}, fmt.Errorf("malformed permission %q", s)
	}
	scopePart := rest[idx+1:]
	resource := rest[:idx]

	scopeBits, err := strconv.ParseUint(scopePart, 10, 32)
	if err != nil {
		return Permission{}, fmt.Errorf("malformed scope in %q: %w", s, err)
	}
	actionBits, err := strconv.ParseUint(actionPart, 10, 32)
	if err != nil {
		return Permission{}, fmt.Errorf("malformed action in %q: %w", s, err)
	}

	scope, err := NewScope(uint32(scopeBits))
	if err != nil {
		return Permission{}, err
	}
	action, err := NewAction(uint32(actionBits))
	if err != nil {
		return Permission{}, err
	}

	return Permission{Resource: resource, Scope: scope, Action: action}, nil
}

var actionNames = []struct {
	bit  Action
	name string
}{
	{ActionRead, "read"},
	{ActionWrite, "write"},
	{ActionUpdate, "update"},
	{ActionDelete, "delete"},
	{ActionExecute, "execute"},
}

var scopeNames = []struct {
	bit  Scope
	name string
}{
	{ScopeSelf, "self"},
	{ScopeUsers, "users"},
	{ScopeRoles, "roles"},
	{ScopeGroups, "groups"},
	{ScopeOrganizations, "organizations"},
	{ScopeRegions, "regions"},
	{ScopeStats, "stats"},
}

// Humanize renders p with symbolic bit names for logs and admin UIs,
// e.g. "identity.users|roles.read|write". Unknown bits fall back to
// their numeric value.
func (p Permission) Humanize() string {
	return fmt.Sprintf("%s.%s.%s", p.Resource, humanizeScope(p.Scope), humanizeAction(p.Action))
}

func humanizeAction(a Action) string {
	var parts []string
	seen := Action(0)
	for _, n := range actionNames {
		if a&n.bit != 0 {
			parts = append(parts, n.name)
			seen |= n.bit
		}
	}
	if rest := a &^ seen; rest != 0 {
		parts = append(parts, strconv.FormatUint(uint64(rest), 10))
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

func humanizeScope(s Scope) string {
	var parts []string
	seen := Scope(0)
	for _, n := range scopeNames {
		if s&n.bit != 0 {
			parts = append(parts, n.name)
			seen |= n.bit
		}
	}
	if rest := s &^ seen; rest != 0 {
		parts = append(parts, strconv.FormatUint(uint64(rest), 10))
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}
