package cliui

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPromptSecretRejectsNonTerminalStdin(t *testing.T) {
	// go test's stdin is never a controlling terminal, so PromptSecret
	// must fail closed rather than silently reading (and echoing) a
	// secret from a pipe.
	_, err := PromptSecret("enter secret: ")
	assert.Error(t, err)
}
