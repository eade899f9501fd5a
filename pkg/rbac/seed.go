package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/storage"
)

// Seed describes the catalog, roles and users to bootstrap. Applying a seed
// only adds: nothing already in the database is changed or removed.
type Seed struct {
	Permissions []SeedPermission `yaml:"permissions"`
	Roles       []SeedRole       `yaml:"roles"`
	Users       []SeedUser       `yaml:"users"`
}

// SeedPermission is a catalog entry in a seed file
type SeedPermission struct {
	Resource    string `yaml:"resource"`
	Action      string `yaml:"action"`
	Description string `yaml:"description"`
}

// SeedRole is a role in a seed file. Permissions are referenced by name.
type SeedRole struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	System      bool     `yaml:"system"`
	Inactive    bool     `yaml:"inactive"`
	Permissions []string `yaml:"permissions"`
}

// SeedUser is a user and the role names assigned to it
type SeedUser struct {
	Username string   `yaml:"username"`
	Roles    []string `yaml:"roles"`
}

// SeedResult counts what an Apply created
type SeedResult struct {
	PermissionsCreated int
	RolesCreated       int
	LinksCreated       int
	UsersCreated       int
	MembershipsCreated int
	// AffectedUsers holds every user whose effective set may have changed
	AffectedUsers []int64
}

// ParseSeed decodes a YAML seed document
func ParseSeed(data []byte) (*Seed, error) {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed: %w", err)
	}
	if err := seed.Validate(); err != nil {
		return nil, err
	}
	return &seed, nil
}

// LoadSeed reads and parses a seed file
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return ParseSeed(data)
}

// Validate checks the seed for missing names
func (s *Seed) Validate() error {
	for i, p := range s.Permissions {
		if strings.TrimSpace(p.Resource) == "" || strings.TrimSpace(p.Action) == "" {
			return invalid("seed permission %d: resource and action are required", i)
		}
	}
	for i, r := range s.Roles {
		if strings.TrimSpace(r.Name) == "" {
			return invalid("seed role %d: name is required", i)
		}
		if strings.EqualFold(r.Name, AdminRoleName) && !r.System {
			return invalid("seed role %q must be a system role", r.Name)
		}
	}
	for i, u := range s.Users {
		if strings.TrimSpace(u.Username) == "" {
			return invalid("seed user %d: username is required", i)
		}
	}
	return nil
}

// Apply writes the seed in a single transaction. The gate permissions and the
// Administrator system role are always ensured, and the Administrator role is
// linked to every catalog permission.
func (s *Seed) Apply(ctx context.Context, db *sql.DB) (*SeedResult, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	result := &SeedResult{}
	err := storage.WithTx(ctx, db, nil, func(tx *sql.Tx) error {
		permissions := GatePermissions()
		for _, sp := range s.Permissions {
			permissions = append(permissions, Permission{
				Resource:    strings.TrimSpace(sp.Resource),
				Action:      strings.TrimSpace(sp.Action),
				Description: sp.Description,
			})
		}
		for i := range permissions {
			created, err := ensurePermission(ctx, tx, &permissions[i])
			if err != nil {
				return err
			}
			if created {
				result.PermissionsCreated++
			}
		}

		roles := s.Roles
		if !s.hasRole(AdminRoleName) {
			roles = append([]SeedRole{{Name: AdminRoleName, Description: "Full access", System: true}}, roles...)
		}

		affectedRoles := make(map[int64]bool)
		for _, sr := range roles {
			role, created, err := ensureRole(ctx, tx, sr)
			if err != nil {
				return err
			}
			if created {
				result.RolesCreated++
			}

			names := sr.Permissions
			if strings.EqualFold(role.Name, AdminRoleName) {
				all, err := listPermissions(ctx, tx)
				if err != nil {
					return err
				}
				names = make([]string, 0, len(all))
				for _, p := range all {
					names = append(names, p.Name)
				}
			}

			for _, name := range names {
				p, err := getPermissionByName(ctx, tx, strings.TrimSpace(name))
				if errors.Is(err, ErrNotFound) {
					return invalid("role %q references unknown permission %q", role.Name, name)
				}
				if err != nil {
					return err
				}
				linked, err := attachPermission(ctx, tx, role.ID, p.ID)
				if err != nil {
					return err
				}
				if linked {
					result.LinksCreated++
					affectedRoles[role.ID] = true
				}
			}
		}

		affected := make(map[int64]bool)
		for roleID := range affectedRoles {
			members, err := roleMembers(ctx, tx, roleID)
			if err != nil {
				return err
			}
			for _, id := range members {
				affected[id] = true
			}
		}

		for _, su := range s.Users {
			user, created, err := ensureUser(ctx, tx, strings.TrimSpace(su.Username))
			if err != nil {
				return err
			}
			if created {
				result.UsersCreated++
			}

			for _, roleName := range su.Roles {
				role, err := getRoleByName(ctx, tx, strings.TrimSpace(roleName))
				if errors.Is(err, ErrNotFound) {
					return invalid("user %q references unknown role %q", user.Username, roleName)
				}
				if err != nil {
					return err
				}
				assigned, err := assignRole(ctx, tx, user.ID, role.ID, nil)
				if err != nil {
					return err
				}
				if assigned {
					result.MembershipsCreated++
					affected[user.ID] = true
				}
			}
		}

		for id := range affected {
			result.AffectedUsers = append(result.AffectedUsers, id)
		}
		sort.Slice(result.AffectedUsers, func(i, j int) bool { return result.AffectedUsers[i] < result.AffectedUsers[j] })
		return nil
	})
	if err != nil {
		return nil, classifyWriteError("apply seed", err)
	}
	return result, nil
}

func (s *Seed) hasRole(name string) bool {
	for _, r := range s.Roles {
		if strings.EqualFold(strings.TrimSpace(r.Name), name) {
			return true
		}
	}
	return false
}

func ensurePermission(ctx context.Context, q querier, p *Permission) (bool, error) {
	if p.Name == "" {
		p.Name = PermissionName(p.Resource, p.Action)
	}
	existing, err := getPermissionByName(ctx, q, p.Name)
	if err == nil {
		*p = *existing
		return false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return false, err
	}
	return true, createPermission(ctx, q, p)
}

func ensureRole(ctx context.Context, q querier, sr SeedRole) (*Role, bool, error) {
	name := strings.TrimSpace(sr.Name)
	existing, err := getRoleByName(ctx, q, name)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	role := &Role{
		Name:         name,
		Description:  sr.Description,
		IsActive:     !sr.Inactive,
		IsSystemRole: sr.System,
	}
	if err := createRole(ctx, q, role); err != nil {
		return nil, false, err
	}
	return role, true, nil
}

func ensureUser(ctx context.Context, q querier, username string) (*User, bool, error) {
	existing, err := getUserByUsername(ctx, q, username)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	user := &User{Username: username, IsActive: true}
	if err := createUser(ctx, q, user); err != nil {
		return nil, false, err
	}
	return user, true, nil
}

// seedDebounce coalesces the burst of events an editor save produces
const seedDebounce = 500 * time.Millisecond

// WatchSeed re-reads the seed file whenever it changes and passes it to apply.
// The parent directory is watched so atomic rename-on-save is seen. The
// watcher stops when ctx is done.
func WatchSeed(ctx context.Context, path string, logger *observability.Logger, apply func(context.Context, *Seed) error) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve seed path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	log := logger.WithField("seed_file", abs)
	observability.Go(log, "seed watcher", func() {
		defer watcher.Close()

		timer := time.NewTimer(seedDebounce)
		if !timer.Stop() {
			<-timer.C
		}

		for {
			select {
			case <-ctx.Done():
				timer.Stop()
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != abs {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				timer.Reset(seedDebounce)

			case <-timer.C:
				seed, err := LoadSeed(abs)
				if err != nil {
					log.WithError(err).Error("seed reload failed")
					continue
				}
				if err := apply(ctx, seed); err != nil {
					log.WithError(err).Error("seed apply failed")
					continue
				}
				log.Info("seed re-applied")

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.WithError(err).Warn("seed watcher error")
			}
		}
	})

	return nil
}
