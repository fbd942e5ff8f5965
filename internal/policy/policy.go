package policy

import (
	"strings"

	clierr "github.com/GabrielCartier/noir-monorepo-sub000/internal/errors"
)

// writeCommands are the command paths that move funds. Everything else is a
// read or lifecycle query and stays available in read-only deployments.
var writeCommands = map[string]struct{}{
	"vault create": {},
	"deposit":      {},
	"stake":        {},
	"unstake":      {},
	"withdraw-all": {},
}

// IsWriteCommand reports whether the command path submits transactions.
func IsWriteCommand(commandPath string) bool {
	_, ok := writeCommands[normalize(commandPath)]
	return ok
}

// CheckCommandAllowed enforces the deployment policy: an optional allowlist
// of exact command paths, and an optional read-only switch that blocks every
// fund-moving command regardless of the allowlist.
func CheckCommandAllowed(allowlist []string, readOnly bool, commandPath string) error {
	normPath := normalize(commandPath)
	if readOnly && IsWriteCommand(normPath) {
		return clierr.New(clierr.CodeNotAuthorized, "command blocked: deployment is read-only")
	}
	if len(allowlist) == 0 {
		return nil
	}
	for _, allowed := range allowlist {
		if normalize(allowed) == normPath {
			return nil
		}
	}
	return clierr.New(clierr.CodeNotAuthorized, "command blocked by --enable-commands policy")
}

func normalize(v string) string {
	parts := strings.Fields(strings.ToLower(strings.TrimSpace(v)))
	return strings.Join(parts, " ")
}
