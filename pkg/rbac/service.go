package rbac

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rhdesk/hrcore/pkg/observability"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

const tracerName = "github.com/rhdesk/hrcore/pkg/rbac"

// Checker is what the gates need from the resolver
type Checker interface {
	// CheckPermission reports whether user holds resource.action
	CheckPermission(ctx context.Context, user *User, resource string, action Action) bool

	// HasAnyGroup reports whether user is an active member of any of the groups
	HasAnyGroup(ctx context.Context, user *User, codes []string) bool

	// CanManageUserGroups reports whether actor may change target's memberships
	CanManageUserGroups(ctx context.Context, actor, target *User) bool
}

// ServiceOptions configures a PermissionService
type ServiceOptions struct {
	CacheTTL time.Duration
	Logger   logrus.FieldLogger
	Metrics  *observability.Metrics
}

// PermissionService resolves effective permissions through a cache in front
// of the store. Concurrent misses for one user share a single store round trip.
type PermissionService struct {
	store   PermissionStore
	cache   Cache
	ttl     time.Duration
	log     logrus.FieldLogger
	metrics *observability.Metrics
	tracer  trace.Tracer
	loads   singleflight.Group

	// generation is bumped by every invalidation. A load started under an
	// older generation is neither shared with later callers nor cached.
	generation atomic.Uint64
}

// NewPermissionService creates a resolver. A nil cache gets an in-memory one.
func NewPermissionService(store PermissionStore, cache Cache, opts ServiceOptions) *PermissionService {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if cache == nil {
		cache = NewMemoryCache(0, opts.CacheTTL)
	}
	return &PermissionService{
		store:   store,
		cache:   cache,
		ttl:     opts.CacheTTL,
		log:     observability.OrDefault(opts.Logger),
		metrics: opts.Metrics,
		tracer:  otel.Tracer(tracerName),
	}
}

// UserPermissions returns the codenames granted to user through its active groups.
// Nil and inactive users get an empty set. On a store error nothing is cached.
// The returned set belongs to the caller.
func (s *PermissionService) UserPermissions(ctx context.Context, user *User) (PermissionSet, error) {
	perms, err := s.permissions(ctx, user)
	if err != nil {
		return nil, err
	}
	return perms.Clone(), nil
}

// permissions is UserPermissions without the copy; the result must not be modified
func (s *PermissionService) permissions(ctx context.Context, user *User) (PermissionSet, error) {
	if !user.active() {
		return PermissionSet{}, nil
	}

	if perms, ok := s.cache.Get(ctx, user.ID); ok {
		s.metrics.CacheHit()
		return perms, nil
	}
	s.metrics.CacheMiss()

	gen := s.generation.Load()
	key := strconv.FormatUint(gen, 10) + ":" + strconv.FormatInt(user.ID, 10)
	v, err, _ := s.loads.Do(key, func() (interface{}, error) {
		// shared by every waiter, so the first caller's cancellation must not abort it
		loadCtx := context.WithoutCancel(ctx)

		perms, err := s.load(loadCtx, user.ID)
		if err != nil {
			return nil, err
		}
		s.remember(loadCtx, gen, user.ID, perms)
		return perms, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(PermissionSet), nil
}

// remember caches perms unless an invalidation ran since the load began
func (s *PermissionService) remember(ctx context.Context, gen uint64, userID int64, perms PermissionSet) {
	if s.generation.Load() != gen {
		return
	}
	if err := s.cache.Set(ctx, userID, perms, s.ttl); err != nil {
		s.log.WithError(err).WithField("user_id", userID).Warn("failed to cache permission set")
		return
	}
	// an invalidation may have cleared the cache between the check and Set
	if s.generation.Load() != gen {
		if err := s.cache.Delete(ctx, userID); err != nil {
			s.log.WithError(err).WithField("user_id", userID).Warn("failed to drop stale permission set")
		}
	}
}

// load runs the two refill queries
func (s *PermissionService) load(ctx context.Context, userID int64) (PermissionSet, error) {
	ctx, span := s.tracer.Start(ctx, "rbac.LoadPermissions",
		trace.WithAttributes(attribute.Int64("user.id", userID)))
	defer span.End()

	start := time.Now()
	defer func() { s.metrics.ObserveResolve(time.Since(start)) }()

	memberships, err := s.store.ActiveMemberships(ctx, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "memberships")
		return nil, err
	}

	perms := PermissionSet{}
	if len(memberships) == 0 {
		return perms, nil
	}

	granted, err := s.store.GrantedPermissions(ctx, groupIDs(memberships))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "grants")
		return nil, err
	}

	for _, gp := range granted {
		perms[Codename(gp.Resource, gp.Action)] = struct{}{}
	}
	span.SetAttributes(attribute.Int("permissions.count", len(perms)))
	return perms, nil
}

// CheckPermission reports whether user holds resource.action. Superusers always
// pass. Store failures deny.
func (s *PermissionService) CheckPermission(ctx context.Context, user *User, resource string, action Action) bool {
	if !user.active() {
		s.metrics.PermissionCheck("denied")
		return false
	}
	if user.IsSuperuser {
		s.metrics.PermissionCheck("allowed")
		return true
	}

	perms, err := s.permissions(ctx, user)
	if err != nil {
		s.metrics.PermissionCheck("error")
		observability.WithTraceContext(ctx, s.log).WithError(err).WithFields(logrus.Fields{
			"user_id":  user.ID,
			"resource": resource,
			"action":   action,
		}).Error("permission resolution failed, denying")
		return false
	}

	if perms.Has(Codename(resource, action)) {
		s.metrics.PermissionCheck("allowed")
		return true
	}
	s.metrics.PermissionCheck("denied")
	return false
}

// HasAnyGroup reports whether user has an active membership in an active group
// whose code is listed. It always reads the store.
func (s *PermissionService) HasAnyGroup(ctx context.Context, user *User, codes []string) bool {
	if !user.active() || len(codes) == 0 {
		return false
	}

	memberships, err := s.store.ActiveMemberships(ctx, user.ID)
	if err != nil {
		s.log.WithError(err).WithField("user_id", user.ID).Error("group membership lookup failed, denying")
		return false
	}

	wanted := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		wanted[c] = struct{}{}
	}
	for _, m := range memberships {
		if _, ok := wanted[m.GroupCode]; ok {
			return true
		}
	}
	return false
}

// CanManageUserGroups requires user_management.UPDATE. target is accepted for
// finer actor/target rules; none apply today.
func (s *PermissionService) CanManageUserGroups(ctx context.Context, actor, target *User) bool {
	if !actor.active() {
		return false
	}
	if actor.IsSuperuser {
		return true
	}
	return s.CheckPermission(ctx, actor, ResourceUserManagement, ActionUpdate)
}

// EffectivePermissions builds the detailed report for user. It never fails:
// nil or inactive users and store errors yield an empty report.
func (s *PermissionService) EffectivePermissions(ctx context.Context, user *User) EffectivePermissions {
	report := EffectivePermissions{
		Groups:      []EffectiveGroup{},
		Permissions: []EffectiveGrant{},
	}
	if !user.active() {
		return report
	}
	report.UserID = user.ID

	memberships, err := s.store.ActiveMemberships(ctx, user.ID)
	if err != nil {
		s.log.WithError(err).WithField("user_id", user.ID).Error("failed to build effective permissions")
		return report
	}
	if len(memberships) == 0 {
		return report
	}

	granted, err := s.store.GrantedPermissions(ctx, groupIDs(memberships))
	if err != nil {
		s.log.WithError(err).WithField("user_id", user.ID).Error("failed to build effective permissions")
		return report
	}

	codeByGroup := make(map[int64]string, len(memberships))
	for _, m := range memberships {
		codeByGroup[m.GroupID] = m.GroupCode
		report.Groups = append(report.Groups, EffectiveGroup{
			Code:       m.GroupCode,
			Name:       m.GroupName,
			AssignedAt: m.AssignedAt,
		})
	}
	sort.SliceStable(report.Groups, func(i, j int) bool {
		return report.Groups[i].Code < report.Groups[j].Code
	})

	for _, gp := range granted {
		report.Permissions = append(report.Permissions, EffectiveGrant{
			Codename:  Codename(gp.Resource, gp.Action),
			Resource:  gp.Resource,
			Action:    gp.Action,
			Name:      gp.Name,
			GrantedBy: codeByGroup[gp.GroupID],
		})
	}
	sort.SliceStable(report.Permissions, func(i, j int) bool {
		a, b := report.Permissions[i], report.Permissions[j]
		if a.Resource != b.Resource {
			return a.Resource < b.Resource
		}
		if a.Action != b.Action {
			return a.Action < b.Action
		}
		return a.GrantedBy < b.GrantedBy
	})

	report.GroupCount = len(report.Groups)
	report.PermissionCount = len(report.Permissions)
	return report
}

// InvalidateUserCache drops one user's cached set. Deleting a missing entry is a no-op.
func (s *PermissionService) InvalidateUserCache(ctx context.Context, userID int64) error {
	s.generation.Add(1)
	s.metrics.Invalidation("user")
	if err := s.cache.Delete(ctx, userID); err != nil {
		return fmt.Errorf("failed to invalidate permissions of user %d: %w", userID, err)
	}
	return nil
}

// InvalidateAllCache drops every cached set. Called after any change to
// group permissions or memberships.
func (s *PermissionService) InvalidateAllCache(ctx context.Context) error {
	s.generation.Add(1)
	s.metrics.Invalidation("all")
	if err := s.cache.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear permission cache: %w", err)
	}
	return nil
}

func groupIDs(memberships []Membership) []int64 {
	seen := make(map[int64]struct{}, len(memberships))
	ids := make([]int64, 0, len(memberships))
	for _, m := range memberships {
		if _, ok := seen[m.GroupID]; ok {
			continue
		}
		seen[m.GroupID] = struct{}{}
		ids = append(ids, m.GroupID)
	}
	return ids
}
