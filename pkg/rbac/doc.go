// Package rbac provides group-based permission evaluation for hrcore.
//
// # Model
//
// Users belong to groups through memberships; groups are granted permissions.
// A permission is a (resource, action) pair named by its codename:
//
//	rbac.Codename("demande_conge", rbac.ActionUpdate) // "demande_conge.UPDATE"
//
// A user's effective set is the union of the granted permissions of every
// active group it is an active member of. A GroupPermission row with
// granted=false contributes nothing; it does not override a grant coming from
// another group. Superusers bypass every check.
//
// # Resolution and caching
//
// PermissionService resolves sets through a Cache in front of a PermissionStore:
//
//	store := rbac.NewSQLStore(db)
//	service := rbac.NewPermissionService(store, rbac.NewMemoryCache(10000, rbac.DefaultCacheTTL), rbac.ServiceOptions{
//		Logger:  log,
//		Metrics: metrics,
//	})
//
//	if service.CheckPermission(ctx, user, "demande_conge", rbac.ActionCreate) {
//		// ...
//	}
//
// On a miss the store is asked for the user's active memberships, then for the
// granted permissions of those groups; the projected set is cached for
// DefaultCacheTTL. Concurrent misses for the same user share one refill.
// RedisCache shares sets between processes under the hrcore:perms: prefix.
//
// Any change to group permissions or memberships made through Manager clears
// the whole cache. Membership changes cannot be attributed to a single user
// cheaply, and the TTL bounds staleness for changes made elsewhere.
//
// # Gates
//
// Handlers declare a Requirement; the five kinds are:
//
//	rbac.ModelPermission("demande_conge")           // verb mapped to CREATE/READ/UPDATE/DELETE
//	rbac.UserGroupAdmin()                           // user_group.READ or user_group.UPDATE
//	rbac.SpecificPermission("payroll", rbac.ActionRead)
//	rbac.GroupMember("rh", "direction")
//	rbac.PermissionAdmin()                          // group_permission.READ or group_permission.UPDATE
//
// Requirements are validated when the guard is built, so a malformed table
// fails at startup:
//
//	pm := rbac.NewPermissionMiddleware(service, log)
//	router.Handle("/api/demandes", pm.MustGuard(rbac.ModelPermission("demande_conge"))(h))
//
// A request with no principal gets 401. A denied request gets 403
// {"error":"forbidden"} and never reaches the handler. Resolver failures deny.
//
// # Policy files
//
// Route requirements of the admin API can be overridden from YAML, see Policy.
//
// # Database Schema
//
// RunMigrations creates hr_groups, permissions, group_permissions and user_groups
// (PostgreSQL). UNIQUE(group_id, permission_id) backs the upsert in
// SQLStore.UpsertGroupPermission, so a pair exists at most once.
package rbac
