package pdp

import "context"

// Role-facing operations (spec §4.8): thin wrappers over the "g"
// grouping policy type and its backing rbac.Manager, covering the
// common 2-ary (no domain) case. Domain-parameterised variants take an
// explicit domain argument.

// AddRoleForUser adds a user -> role grouping rule.
func (e *Enforcer) AddRoleForUser(user, role string) error {
	return e.AddNamedPolicy("g", []string{user, role})
}

// AddRoleForUserInDomain adds a user -> role grouping rule scoped to
// domain.
func (e *Enforcer) AddRoleForUserInDomain(user, role, domain string) error {
	return e.AddNamedPolicy("g", []string{user, role, domain})
}

// DeleteRoleForUser removes a user -> role grouping rule.
func (e *Enforcer) DeleteRoleForUser(user, role string) error {
	return e.RemoveNamedPolicy("g", []string{user, role})
}

// DeleteRoleForUserInDomain removes a domain-scoped user -> role
// grouping rule.
func (e *Enforcer) DeleteRoleForUserInDomain(user, role, domain string) error {
	return e.RemoveNamedPolicy("g", []string{user, role, domain})
}

// GetRolesForUser returns the roles directly assigned to user.
func (e *Enforcer) GetRolesForUser(user string, domain ...string) []string {
	rm, ok := e.roleManagers["g"]
	if !ok {
		return nil
	}
	return rm.GetRoles(user, domain...)
}

// GetUsersForRole returns the users directly assigned role.
func (e *Enforcer) GetUsersForRole(role string, domain ...string) []string {
	rm, ok := e.roleManagers["g"]
	if !ok {
		return nil
	}
	return rm.GetUsers(role, domain...)
}

// HasRoleForUser reports whether user is assigned role, directly or
// transitively (reachability, not just a direct edge).
func (e *Enforcer) HasRoleForUser(ctx context.Context, user, role string, domain ...string) bool {
	rm, ok := e.roleManagers["g"]
	if !ok {
		return false
	}
	return rm.HasLink(ctx, user, role, domain...)
}

// AddConditionalRoleForUser adds a user -> role grouping rule whose edge
// is only traversable while the named condition function (registered via
// RegisterCondition) evaluates true against params. The condition is
// recorded by name, never as a closure, so the grouping rule itself stays
// a plain persistable tuple.
func (e *Enforcer) AddConditionalRoleForUser(user, role, domain, conditionName string, params []string) error {
	rule := []string{user, role}
	if domain != "" {
		rule = append(rule, domain)
	}
	if err := e.AddNamedPolicy("g", rule); err != nil {
		return err
	}
	if rm, ok := e.roleManagers["g"]; ok {
		rm.AddConditionalLink(user, role, domain, conditionName, params)
	}
	e.invalidateCache()
	return nil
}

// DeleteUser removes every grouping rule (and role-graph edge) touching
// user as either endpoint, across every role definition.
func (e *Enforcer) DeleteUser(user string) error {
	for ptype, rm := range e.roleManagers {
		for _, rule := range e.grouping.Get(ptype) {
			if len(rule) > 1 && (rule[0] == user || rule[1] == user) {
				if err := e.RemoveNamedPolicy(ptype, rule); err != nil {
					return err
				}
			}
		}
		rm.DeleteUser(user)
	}
	return nil
}

// DeleteRole removes every grouping rule (and role-graph edge) touching
// role as either endpoint, across every role definition, and every "p"
// rule whose subject field is role. Other policy types are not swept.
func (e *Enforcer) DeleteRole(role string) error {
	for ptype, rm := range e.roleManagers {
		for _, rule := range e.grouping.Get(ptype) {
			if len(rule) > 1 && (rule[0] == role || rule[1] == role) {
				if err := e.RemoveNamedPolicy(ptype, rule); err != nil {
					return err
				}
			}
		}
		rm.DeleteRole(role)
	}
	return e.RemoveFilteredPolicy("p", 0, role)
}

// DeleteAllUsersByDomain removes every grouping rule scoped to domain,
// across every domain-aware role definition.
func (e *Enforcer) DeleteAllUsersByDomain(domain string) error {
	for ptype, rm := range e.roleManagers {
		if !rm.SupportsDomain() {
			continue
		}
		for _, rule := range e.grouping.Get(ptype) {
			if len(rule) > 2 && rule[2] == domain {
				if err := e.RemoveNamedPolicy(ptype, rule); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// DeleteDomains removes every grouping rule and role-graph edge scoped
// to any of domains.
func (e *Enforcer) DeleteDomains(domains ...string) error {
	for _, d := range domains {
		if err := e.DeleteAllUsersByDomain(d); err != nil {
			return err
		}
		for _, rm := range e.roleManagers {
			rm.DeleteDomain(d)
		}
	}
	return nil
}

// --- Permission-facing operations ---

// AddPermissionForUser grants user direct access to the given policy
// fields (object, action, ...), by adding a "p" rule whose subject is
// user.
func (e *Enforcer) AddPermissionForUser(user string, fields ...string) error {
	rule := append([]string{user}, fields...)
	return e.AddNamedPolicy("p", rule)
}

// GetPermissionsForUser returns every "p" rule whose subject is user.
func (e *Enforcer) GetPermissionsForUser(user string) [][]string {
	return e.policies.Filter("p", 0, []string{user})
}

// GetImplicitRolesForUser composes direct role assignment with role-graph
// reachability: every role user holds, directly or transitively.
func (e *Enforcer) GetImplicitRolesForUser(user string, domain ...string) []string {
	rm, ok := e.roleManagers["g"]
	if !ok {
		return nil
	}
	seen := make(map[string]bool)
	var result []string
	frontier := rm.GetRoles(user, domain...)
	for len(frontier) > 0 {
		next := frontier[:0:0]
		for _, r := range frontier {
			if seen[r] {
				continue
			}
			seen[r] = true
			result = append(result, r)
			next = append(next, rm.GetRoles(r, domain...)...)
		}
		frontier = next
	}
	return result
}

// GetImplicitPermissionsForUser returns every "p" rule reachable by user
// either directly or through any implicit role.
func (e *Enforcer) GetImplicitPermissionsForUser(user string, domain ...string) [][]string {
	subjects := append([]string{user}, e.GetImplicitRolesForUser(user, domain...)...)
	var perms [][]string
	for _, s := range subjects {
		perms = append(perms, e.policies.Filter("p", 0, []string{s})...)
	}
	return perms
}

// GetImplicitUsersForRole is the inverse of GetImplicitRolesForUser:
// every user reachable to role, directly or transitively.
func (e *Enforcer) GetImplicitUsersForRole(role string, domain ...string) []string {
	rm, ok := e.roleManagers["g"]
	if !ok {
		return nil
	}
	seen := make(map[string]bool)
	var result []string
	frontier := rm.GetUsers(role, domain...)
	for len(frontier) > 0 {
		next := frontier[:0:0]
		for _, u := range frontier {
			if seen[u] {
				continue
			}
			seen[u] = true
			result = append(result, u)
			next = append(next, rm.GetUsers(u, domain...)...)
		}
		frontier = next
	}
	return result
}

// GetImplicitUsersForPermission returns every user who can reach a "p"
// rule matching fields, directly or through role inheritance.
func (e *Enforcer) GetImplicitUsersForPermission(fields ...string) []string {
	var users []string
	for _, rule := range e.policies.Get("p") {
		if len(rule) < len(fields)+1 {
			continue
		}
		match := true
		for i, f := range fields {
			if f != "" && rule[i+1] != f {
				match = false
				break
			}
		}
		if !match {
			continue
		}
		subject := rule[0]
		users = append(users, subject)
		users = append(users, e.GetImplicitUsersForRole(subject)...)
	}
	return dedupe(users)
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
