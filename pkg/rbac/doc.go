// Package rbac resolves a user's effective permissions from role memberships
// and per-user overrides, and exposes the administration surface that changes them.
//
// # Overview
//
// A permission is a catalog entry named "<Resource>.<Action>" (for example
// "Product.Read"). Roles bundle permissions and users hold roles. On top of
// role membership an administrator can place an override on a single
// (user, permission) slot:
//
//	Grant  - the user holds the permission even if no role provides it
//	Deny   - the user does not hold the permission even if a role or grant provides it
//	Revoke - the active override is retired and the slot falls back to roles
//
// # Resolution
//
// For one user the Resolver computes
//
//	effective = (permissions of active roles ∪ granted) − denied
//	missing   = catalog − effective
//
// Deny always wins. Every catalog permission lands in exactly one of the two
// sets, and the output is ordered by permission name so it does not depend on
// query order. The detail view also lists denied permissions with the reason
// and the acting user, so an administrator can see why a role-provided
// permission disappeared.
//
// # Override history
//
// Overrides are never deleted. At most one row per slot is active
// (revoked_at IS NULL), enforced by a partial unique index. Grant or Deny on
// a slot that already has an active row retires that row and inserts the new
// one in the same transaction, so a slot accumulates one row per decision.
// Every change is also appended to the override_events log, which the
// maintenance jobs archive.
//
// Racing writers on one slot surface as ErrConflict; the caller retries.
//
// # Caching
//
// Checker fronts the Resolver with a permcache.Cache. Every Administrator
// mutation invalidates the affected users after its transaction commits.
// Cache failures are logged and never returned: the caller gets a freshly
// resolved answer instead.
//
// # Usage
//
//	manager := rbac.NewManager(db, cache, auditLogger, metrics, logger, rbac.Config{SeedPath: "seed.yaml"})
//	if err := manager.Initialize(ctx, dialect); err != nil {
//		return err
//	}
//	manager.RegisterRoutes(apiRouter)
//
//	ok, err := manager.CheckPermission(ctx, userID, "Product.Read")
//
// Routes are gated by the permissions in GatePermissions. The seed always
// creates them along with the Administrator system role, which holds every
// catalog permission.
package rbac
