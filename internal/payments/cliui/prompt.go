package cliui

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// PromptSecret reads a secret from the controlling terminal without
// echoing it, used for the vault's static master secret when no
// VAULT_STATIC_MASTER_SECRET env var is set. Returns an error if stdin is
// not a terminal.
func PromptSecret(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("cliui: stdin is not a terminal; set the value via environment variable instead")
	}

	fmt.Print(label)
	raw, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("cliui: read secret: %w", err)
	}

	trimmed := strings.TrimSpace(string(raw))
	for i := range raw {
		raw[i] = 0
	}
	return trimmed, nil
}
