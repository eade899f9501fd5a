package cli

import (
	"flag"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/sirupsen/logrus"
)

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet
}

// env is shared by every subcommand
type env struct {
	out io.Writer
	log *logrus.Logger
}

// NewRootCommand creates the root command writing to stdout
func NewRootCommand() *Command {
	return newRootCommand(os.Stdout, os.Stderr)
}

func newRootCommand(out, logOut io.Writer) *Command {
	logger := logrus.New()
	logger.SetOutput(logOut)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	e := &env{out: out, log: logger}

	root := &Command{
		Name:        "warden-cli",
		Description: "Warden - permission administration CLI",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("warden-cli", flag.ContinueOnError),
	}

	for _, cmd := range []*Command{
		e.newMigrateCommand(),
		e.newSeedCommand(),
		e.newOverrideCommand("grant", "Grant a permission to a user", true),
		e.newOverrideCommand("deny", "Deny a permission to a user", false),
		e.newRevokeCommand(),
		e.newExplainCommand(),
		e.newTokenCommand(),
	} {
		root.Subcommands[cmd.Name] = cmd
	}

	return root
}

// Execute runs the command with the process arguments
func (c *Command) Execute() error {
	return c.ExecuteArgs(os.Args[1:])
}

// ExecuteArgs runs the command with the given arguments
func (c *Command) ExecuteArgs(args []string) error {
	if len(args) == 0 {
		return c.usage()
	}

	// Check for help flag
	if args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		return c.usage()
	}

	if subcmd, ok := c.Subcommands[args[0]]; ok {
		return subcmd.Run(args[1:])
	}

	return fmt.Errorf("unknown command: %s", args[0])
}

// usage prints the command usage
func (c *Command) usage() error {
	out := c.Flags.Output()
	fmt.Fprintf(out, "Usage: %s <command> [args]\n\n", c.Name)
	fmt.Fprintf(out, "Commands:\n")

	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "  %-15s %s\n", name, c.Subcommands[name].Description)
	}
	return nil
}
