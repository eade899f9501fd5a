package rbac

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/warden/pkg/observability"
)

// Resolver computes a user's effective permissions from roles and overrides.
// It reads store state and has no side effects.
type Resolver struct {
	catalog   *Catalog
	store     *Store
	overrides *OverrideStore
	metrics   *observability.Metrics
}

// NewResolver creates a new resolver
func NewResolver(catalog *Catalog, store *Store, overrides *OverrideStore, metrics *observability.Metrics) *Resolver {
	return &Resolver{
		catalog:   catalog,
		store:     store,
		overrides: overrides,
		metrics:   metrics,
	}
}

// Resolve computes the effective set, the missing set and per-permission
// provenance for a user. Deny dominates both role and grant.
func (r *Resolver) Resolve(ctx context.Context, userID int64) (res *Resolution, err error) {
	ctx, span := observability.Tracer().Start(ctx, "rbac.Resolve")
	span.SetAttributes(attribute.Int64("user.id", userID))
	start := time.Now()
	defer func() {
		r.metrics.ObserveResolve(time.Since(start), err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if _, err := r.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}

	var (
		roleNames []string
		grants    []roleGrant
		active    []PermissionOverride
		catalog   []Permission
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		roleNames, grants, err = r.store.activeRoleGrants(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		active, err = r.overrides.ActiveForUser(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		catalog, err = r.catalog.List(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res = resolve(userID, roleNames, grants, active, catalog)
	span.SetAttributes(
		attribute.Int("permissions.effective", len(res.Effective)),
		attribute.Int("permissions.denied", len(res.Details)-len(res.Effective)),
	)
	return res, nil
}

// resolve is the pure combination step. Catalog order (by name) drives the
// output order so results do not depend on query order.
func resolve(userID int64, roleNames []string, grants []roleGrant, active []PermissionOverride, catalog []Permission) *Resolution {
	rolesByPermission := make(map[int64][]string)
	for _, g := range grants {
		rolesByPermission[g.PermissionID] = append(rolesByPermission[g.PermissionID], g.RoleName)
	}
	for id := range rolesByPermission {
		names := rolesByPermission[id]
		sort.Strings(names)
		rolesByPermission[id] = dedupe(names)
	}

	granted := make(map[int64]*PermissionOverride)
	denied := make(map[int64]*PermissionOverride)
	for i := range active {
		o := &active[i]
		if o.IsGranted {
			granted[o.PermissionID] = o
		} else {
			denied[o.PermissionID] = o
		}
	}

	sorted := append([]Permission(nil), catalog...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	res := &Resolution{
		UserID:     userID,
		Roles:      append([]string{}, roleNames...),
		Effective:  []EffectivePermission{},
		Missing:    []Permission{},
		Details:    []PermissionSource{},
		ResolvedAt: time.Now().UTC(),
	}
	sort.Strings(res.Roles)

	for _, p := range sorted {
		if d, ok := denied[p.ID]; ok {
			actor := d.AssignedByUserID
			res.Details = append(res.Details, PermissionSource{
				PermissionID: p.ID,
				Name:         p.Name,
				Resource:     p.Resource,
				Action:       p.Action,
				Source:       SourceDenied,
				Detail:       d.Reason,
				Reason:       d.Reason,
				ActorID:      &actor,
			})
			res.Missing = append(res.Missing, p)
			continue
		}

		if g, ok := granted[p.ID]; ok {
			actor := g.AssignedByUserID
			res.Effective = append(res.Effective, EffectivePermission{
				PermissionID: p.ID,
				Name:         p.Name,
				Resource:     p.Resource,
				Action:       p.Action,
				Source:       SourceGrant,
			})
			res.Details = append(res.Details, PermissionSource{
				PermissionID: p.ID,
				Name:         p.Name,
				Resource:     p.Resource,
				Action:       p.Action,
				Source:       SourceGranted,
				Detail:       g.Reason,
				Reason:       g.Reason,
				ActorID:      &actor,
			})
			res.Stats.FromGrants++
			continue
		}

		if roles, ok := rolesByPermission[p.ID]; ok {
			label := SourceRole + ":" + strings.Join(roles, ",")
			res.Effective = append(res.Effective, EffectivePermission{
				PermissionID: p.ID,
				Name:         p.Name,
				Resource:     p.Resource,
				Action:       p.Action,
				Source:       SourceRole,
				Detail:       label,
			})
			res.Details = append(res.Details, PermissionSource{
				PermissionID: p.ID,
				Name:         p.Name,
				Resource:     p.Resource,
				Action:       p.Action,
				Source:       SourceRole,
				Detail:       label,
			})
			res.Stats.FromRoles++
			continue
		}

		res.Missing = append(res.Missing, p)
	}

	res.Stats.TotalUnique = len(res.Effective)
	return res
}

func dedupe(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i == 0 || s != sorted[i-1] {
			out = append(out, s)
		}
	}
	return out
}
