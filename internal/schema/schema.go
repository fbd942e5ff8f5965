package schema

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/GabrielCartier/noir-monorepo-sub000/internal/policy"
)

// CommandSchema is the machine-readable description of one CLI command,
// intended for agent frameworks that plan calls without parsing help text.
type CommandSchema struct {
	Path        string          `json:"path"`
	Use         string          `json:"use"`
	Short       string          `json:"short"`
	Aliases     []string        `json:"aliases,omitempty"`
	MovesFunds  bool            `json:"moves_funds"`
	Flags       []FlagSchema    `json:"flags,omitempty"`
	Subcommands []CommandSchema `json:"subcommands,omitempty"`
}

type FlagSchema struct {
	Name      string `json:"name"`
	Shorthand string `json:"shorthand,omitempty"`
	Type      string `json:"type"`
	Usage     string `json:"usage"`
	Default   string `json:"default,omitempty"`
	Required  bool   `json:"required,omitempty"`
}

// Build serializes the command tree rooted at commandPath, or the whole tree
// when commandPath is empty.
func Build(root *cobra.Command, commandPath string) (CommandSchema, error) {
	cmd := root
	if strings.TrimSpace(commandPath) != "" {
		parts := strings.Fields(strings.TrimSpace(commandPath))
		for _, p := range parts {
			found := false
			for _, c := range cmd.Commands() {
				if c.Name() == p || contains(c.Aliases, p) {
					cmd = c
					found = true
					break
				}
			}
			if !found {
				return CommandSchema{}, fmt.Errorf("command not found: %s", commandPath)
			}
		}
	}
	return serialize(root, cmd), nil
}

func serialize(root, cmd *cobra.Command) CommandSchema {
	path := strings.TrimSpace(cmd.CommandPath())
	relative := path
	if fields := strings.Fields(path); len(fields) > 1 {
		relative = strings.Join(fields[1:], " ")
	}
	s := CommandSchema{
		Path:       path,
		Use:        cmd.Use,
		Short:      cmd.Short,
		Aliases:    cmd.Aliases,
		MovesFunds: policy.IsWriteCommand(relative),
		Flags:      collectFlags(cmd),
	}
	for _, sub := range cmd.Commands() {
		if sub.Hidden {
			continue
		}
		s.Subcommands = append(s.Subcommands, serialize(root, sub))
	}
	return s
}

func collectFlags(cmd *cobra.Command) []FlagSchema {
	items := []FlagSchema{}
	cmd.NonInheritedFlags().VisitAll(func(f *pflag.Flag) {
		items = append(items, FlagSchema{
			Name:      f.Name,
			Shorthand: f.Shorthand,
			Type:      f.Value.Type(),
			Usage:     f.Usage,
			Default:   f.DefValue,
			Required:  isRequired(f),
		})
	})
	return items
}

func isRequired(f *pflag.Flag) bool {
	if f.Annotations == nil {
		return false
	}
	values, ok := f.Annotations[cobra.BashCompOneRequiredFlag]
	return ok && len(values) > 0 && values[0] == "true"
}

func contains(items []string, target string) bool {
	for _, item := range items {
		if item == target {
			return true
		}
	}
	return false
}
