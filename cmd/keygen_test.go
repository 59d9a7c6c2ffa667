package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailgrant/mailgrant/internal/crypt"
)

func TestKeygenProducesUsableKey(t *testing.T) {
	cmd := newKeygenCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)

	require.NoError(t, cmd.Execute())

	decoded, err := crypt.KeyFromBase64(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Len(t, decoded, crypt.KeySize)
}

func TestRootCommandHasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["serve"])
	assert.True(t, names["keygen"])
	assert.True(t, names["version"])
}
