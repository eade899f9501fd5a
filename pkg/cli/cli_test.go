package cli

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/rbac"
)

const testSeed = `
permissions:
  - resource: Product
    action: Read
  - resource: Product
    action: Delete
roles:
  - name: Manager
    permissions: [Product.Read]
users:
  - username: alice
    roles: [Manager]
  - username: root
    roles: [Administrator]
`

type harness struct {
	t    *testing.T
	root *Command
	out  *bytes.Buffer
	conn []string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	seedPath := filepath.Join(dir, "seed.yaml")
	require.NoError(t, os.WriteFile(seedPath, []byte(testSeed), 0o600))

	out := &bytes.Buffer{}
	h := &harness{
		t:    t,
		root: newRootCommand(out, io.Discard),
		out:  out,
		conn: []string{
			"-driver", "sqlite3",
			"-db", "file:" + filepath.Join(dir, "warden.db") + "?_foreign_keys=on",
			"-redis", "",
		},
	}
	require.NoError(t, h.run("migrate"))
	require.NoError(t, h.run("seed", "-file", seedPath))
	return h
}

// run executes a subcommand with connection flags and returns its error
func (h *harness) run(name string, args ...string) error {
	h.out.Reset()
	full := append([]string{name}, h.conn...)
	return h.root.ExecuteArgs(append(full, args...))
}

func TestNewRootCommand(t *testing.T) {
	root := NewRootCommand()

	assert.Equal(t, "warden-cli", root.Name)
	for _, name := range []string{"migrate", "seed", "grant", "deny", "revoke", "explain", "token"} {
		assert.Contains(t, root.Subcommands, name)
	}
	assert.Len(t, root.Subcommands, 7)
}

func TestCommandUsage(t *testing.T) {
	root := newRootCommand(io.Discard, io.Discard)
	var buf bytes.Buffer
	root.Flags.SetOutput(&buf)

	require.NoError(t, root.ExecuteArgs(nil))
	output := buf.String()
	assert.Contains(t, output, "Usage: warden-cli <command> [args]")
	assert.Less(t, strings.Index(output, "deny"), strings.Index(output, "grant"), "commands are listed alphabetically")

	buf.Reset()
	require.NoError(t, root.ExecuteArgs([]string{"--help"}))
	assert.Contains(t, buf.String(), "Commands:")
}

func TestCommandExecute_Unknown(t *testing.T) {
	root := newRootCommand(io.Discard, io.Discard)
	err := root.ExecuteArgs([]string{"frobnicate"})
	assert.EqualError(t, err, "unknown command: frobnicate")
}

func TestOverrideLifecycle(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.run("explain", "-user", "alice"))
	assert.Contains(t, h.out.String(), "Roles: Manager")
	assert.Regexp(t, `Product\.Read\s+true\s+Role\s+Role:Manager`, h.out.String())
	assert.NotContains(t, h.out.String(), "Product.Delete")

	require.NoError(t, h.run("grant", "-user", "alice", "-permission", "Product.Delete", "-actor", "root", "-reason", "temporary coverage"))
	assert.Contains(t, h.out.String(), "granted Product.Delete for alice")

	require.NoError(t, h.run("deny", "-user", "alice", "-permission", "Product.Read", "-actor", "root", "-reason", "policy violation"))
	assert.Contains(t, h.out.String(), "denied Product.Read for alice")

	require.NoError(t, h.run("explain", "-user", "alice"))
	assert.Regexp(t, `Product\.Delete\s+true\s+Granted\s+temporary coverage`, h.out.String())
	assert.Regexp(t, `Product\.Read\s+false\s+Denied\s+policy violation`, h.out.String())

	require.NoError(t, h.run("revoke", "-user", "alice", "-permission", "Product.Read", "-actor", "root"))
	assert.Contains(t, h.out.String(), "revoked deny of Product.Read")

	err := h.run("revoke", "-user", "alice", "-permission", "Product.Read", "-actor", "root")
	assert.ErrorIs(t, err, rbac.ErrNotFound)

	require.NoError(t, h.run("explain", "-user", "alice"))
	assert.Regexp(t, `Product\.Read\s+true\s+Role`, h.out.String())
}

func TestOverrideErrors(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{
			name: "missing actor",
			args: []string{"-user", "alice", "-permission", "Product.Delete", "-reason", "r"},
			want: "actor is required",
		},
		{
			name: "unknown user",
			args: []string{"-user", "mallory", "-permission", "Product.Delete", "-actor", "root", "-reason", "r"},
			want: `user "mallory"`,
		},
		{
			name: "unknown permission",
			args: []string{"-user", "alice", "-permission", "Product.Fly", "-actor", "root", "-reason", "r"},
			want: `permission "Product.Fly"`,
		},
		{
			name: "missing reason",
			args: []string{"-user", "alice", "-permission", "Product.Delete", "-actor", "root"},
			want: "reason",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.run("grant", tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestUserByID(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.run("explain", "-user", "alice"))
	var id string
	for _, line := range strings.Split(h.out.String(), "\n") {
		if strings.HasPrefix(line, "User: alice (") {
			id = strings.TrimSuffix(strings.TrimPrefix(line, "User: alice ("), ")")
		}
	}
	require.NotEmpty(t, id)

	require.NoError(t, h.run("explain", "-user", id))
	assert.Contains(t, h.out.String(), "User: alice")
}

func TestTokenCommand(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.run("token", "-user", "root", "-name", "bootstrap", "-ttl", "1h"))
	token := strings.TrimSpace(h.out.String())
	assert.True(t, strings.HasPrefix(token, auth.TokenPrefix))

	err := h.run("token", "-user", "root", "-ttl", "-1h")
	assert.EqualError(t, err, "ttl must not be negative")

	err = h.run("token", "-user", "nobody")
	assert.ErrorIs(t, err, rbac.ErrNotFound)
}

func TestSeedRequiresFile(t *testing.T) {
	root := newRootCommand(io.Discard, io.Discard)
	err := root.ExecuteArgs([]string{"seed", "-driver", "sqlite3", "-db", "file::memory:"})
	assert.EqualError(t, err, "file is required")
}

func TestMissingDatabaseURL(t *testing.T) {
	t.Setenv("WARDEN_DB_URL", "")
	root := newRootCommand(io.Discard, io.Discard)
	err := root.ExecuteArgs([]string{"migrate"})
	assert.ErrorContains(t, err, "database URL is required")
}
