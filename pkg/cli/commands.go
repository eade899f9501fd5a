package cli

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/rbac"
)

func (e *env) newMigrateCommand() *Command {
	cmd := &Command{
		Name:        "migrate",
		Description: "Apply database migrations",
		Flags:       flag.NewFlagSet("migrate", flag.ContinueOnError),
	}
	conn := addConnFlags(cmd.Flags)

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}

		ctx := context.Background()
		s, err := e.open(ctx, conn)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := rbac.RunMigrations(ctx, s.db, s.dialect); err != nil {
			return err
		}
		e.log.Info("migrations applied")
		return nil
	}
	return cmd
}

func (e *env) newSeedCommand() *Command {
	cmd := &Command{
		Name:        "seed",
		Description: "Apply a YAML seed file (catalog, roles, users)",
		Flags:       flag.NewFlagSet("seed", flag.ContinueOnError),
	}
	conn := addConnFlags(cmd.Flags)
	file := cmd.Flags.String("file", "", "Seed file path")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *file == "" {
			return fmt.Errorf("file is required")
		}

		seed, err := rbac.LoadSeed(*file)
		if err != nil {
			return err
		}

		ctx := context.Background()
		s, err := e.open(ctx, conn)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := rbac.RunMigrations(ctx, s.db, s.dialect); err != nil {
			return err
		}
		res, err := seed.Apply(ctx, s.db)
		if err != nil {
			return err
		}
		s.manager.GetChecker().InvalidateUsers(ctx, res.AffectedUsers, "seed")

		e.log.WithFields(logrus.Fields{
			"permissions": res.PermissionsCreated,
			"roles":       res.RolesCreated,
			"links":       res.LinksCreated,
			"users":       res.UsersCreated,
			"memberships": res.MembershipsCreated,
		}).Info("seed applied")
		return nil
	}
	return cmd
}

// newOverrideCommand builds grant (isGranted) or deny
func (e *env) newOverrideCommand(name, description string, isGranted bool) *Command {
	cmd := &Command{
		Name:        name,
		Description: description,
		Flags:       flag.NewFlagSet(name, flag.ContinueOnError),
	}
	conn := addConnFlags(cmd.Flags)
	user := cmd.Flags.String("user", "", "Target username or id")
	permission := cmd.Flags.String("permission", "", "Permission name, e.g. Product.Delete")
	actor := cmd.Flags.String("actor", "", "Username or id recorded as the actor")
	reason := cmd.Flags.String("reason", "", "Why the override is needed")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}

		ctx := context.Background()
		s, err := e.open(ctx, conn)
		if err != nil {
			return err
		}
		defer s.Close()

		req, err := s.overrideRequest(ctx, *user, *permission, *actor)
		if err != nil {
			return err
		}
		req.Reason = *reason

		admin := s.manager.GetAdministrator()
		var o *rbac.PermissionOverride
		if isGranted {
			o, err = admin.Grant(ctx, req)
		} else {
			o, err = admin.Deny(ctx, req)
		}
		if err != nil {
			return err
		}

		fmt.Fprintf(e.out, "%s %s for %s (override %d)\n", pastTense(name), *permission, *user, o.ID)
		return nil
	}
	return cmd
}

func (e *env) newRevokeCommand() *Command {
	cmd := &Command{
		Name:        "revoke",
		Description: "Revoke a user's active grant or deny",
		Flags:       flag.NewFlagSet("revoke", flag.ContinueOnError),
	}
	conn := addConnFlags(cmd.Flags)
	user := cmd.Flags.String("user", "", "Target username or id")
	permission := cmd.Flags.String("permission", "", "Permission name")
	actor := cmd.Flags.String("actor", "", "Username or id recorded as the actor")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}

		ctx := context.Background()
		s, err := e.open(ctx, conn)
		if err != nil {
			return err
		}
		defer s.Close()

		req, err := s.overrideRequest(ctx, *user, *permission, *actor)
		if err != nil {
			return err
		}
		o, err := s.manager.GetAdministrator().Revoke(ctx, req.UserID, req.PermissionID, req.ActorID)
		if err != nil {
			return err
		}

		kind := "deny"
		if o.IsGranted {
			kind = "grant"
		}
		fmt.Fprintf(e.out, "revoked %s of %s for %s (override %d)\n", kind, *permission, *user, o.ID)
		return nil
	}
	return cmd
}

func (e *env) newExplainCommand() *Command {
	cmd := &Command{
		Name:        "explain",
		Description: "Show why each permission is or is not effective for a user",
		Flags:       flag.NewFlagSet("explain", flag.ContinueOnError),
	}
	conn := addConnFlags(cmd.Flags)
	user := cmd.Flags.String("user", "", "Username or id")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}

		ctx := context.Background()
		s, err := e.open(ctx, conn)
		if err != nil {
			return err
		}
		defer s.Close()

		u, err := s.user(ctx, *user)
		if err != nil {
			return err
		}
		res, err := s.manager.GetChecker().Resolve(ctx, u.ID)
		if err != nil {
			return err
		}

		fmt.Fprintf(e.out, "User: %s (%d)\n", u.Username, u.ID)
		fmt.Fprintf(e.out, "Roles: %s\n", strings.Join(res.Roles, ", "))
		fmt.Fprintf(e.out, "Effective: %d (roles %d, grants %d)\n\n",
			res.Stats.TotalUnique, res.Stats.FromRoles, res.Stats.FromGrants)

		effective := make(map[string]bool, len(res.Effective))
		for _, p := range res.Effective {
			effective[p.Name] = true
		}

		w := tabwriter.NewWriter(e.out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "PERMISSION\tEFFECTIVE\tSOURCE\tDETAIL")
		for _, d := range res.Details {
			fmt.Fprintf(w, "%s\t%t\t%s\t%s\n", d.Name, effective[d.Name], d.Source, d.Detail)
		}
		return w.Flush()
	}
	return cmd
}

func (e *env) newTokenCommand() *Command {
	cmd := &Command{
		Name:        "token",
		Description: "Issue an API token for a user",
		Flags:       flag.NewFlagSet("token", flag.ContinueOnError),
	}
	conn := addConnFlags(cmd.Flags)
	user := cmd.Flags.String("user", "", "Username or id")
	name := cmd.Flags.String("name", "cli", "Token name")
	ttl := cmd.Flags.Duration("ttl", 0, "Token lifetime; zero never expires")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *ttl < 0 {
			return fmt.Errorf("ttl must not be negative")
		}

		ctx := context.Background()
		s, err := e.open(ctx, conn)
		if err != nil {
			return err
		}
		defer s.Close()

		u, err := s.user(ctx, *user)
		if err != nil {
			return err
		}
		token, issued, err := auth.NewTokenStore(s.db).Issue(ctx, u.ID, *name, *ttl)
		if err != nil {
			return err
		}

		fields := logrus.Fields{"user": u.Username, "token_id": issued.ID}
		if issued.ExpiresAt != nil {
			fields["expires_at"] = issued.ExpiresAt.Format(time.RFC3339)
		}
		e.log.WithFields(fields).Info("token issued")

		// The plaintext token is only shown once
		fmt.Fprintln(e.out, token)
		return nil
	}
	return cmd
}

func (s *session) overrideRequest(ctx context.Context, userRef, permissionName, actorRef string) (rbac.OverrideRequest, error) {
	if strings.TrimSpace(actorRef) == "" {
		return rbac.OverrideRequest{}, fmt.Errorf("actor is required")
	}
	u, err := s.user(ctx, userRef)
	if err != nil {
		return rbac.OverrideRequest{}, fmt.Errorf("user %q: %w", userRef, err)
	}
	p, err := s.permission(ctx, permissionName)
	if err != nil {
		return rbac.OverrideRequest{}, fmt.Errorf("permission %q: %w", permissionName, err)
	}
	actor, err := s.user(ctx, actorRef)
	if err != nil {
		return rbac.OverrideRequest{}, fmt.Errorf("actor %q: %w", actorRef, err)
	}
	return rbac.OverrideRequest{UserID: u.ID, PermissionID: p.ID, ActorID: actor.ID}, nil
}

func pastTense(verb string) string {
	if verb == "deny" {
		return "denied"
	}
	return verb + "ed"
}
