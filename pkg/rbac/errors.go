package rbac

import (
	"errors"
	"fmt"

	"github.com/platinummonkey/warden/pkg/storage"
)

var (
	// ErrNotFound is returned when a user, permission, role or active override does not exist
	ErrNotFound = errors.New("not found")
	// ErrValidation is returned for malformed input
	ErrValidation = errors.New("validation failed")
	// ErrConflict is returned when a concurrent writer changed the same slot
	ErrConflict = errors.New("conflict: concurrent modification, retry")
	// ErrImmutableRole is returned when modifying or deleting a system role
	ErrImmutableRole = errors.New("system role is immutable")
)

func notFound(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrValidation)
}

// classifyWriteError maps driver conflicts to ErrConflict
func classifyWriteError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrValidation) || errors.Is(err, ErrImmutableRole) {
		return err
	}
	if storage.IsConflict(err) {
		return fmt.Errorf("failed to %s: %w (%v)", op, ErrConflict, err)
	}
	if storage.IsForeignKeyViolation(err) {
		return fmt.Errorf("failed to %s: %w (%v)", op, ErrNotFound, err)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
