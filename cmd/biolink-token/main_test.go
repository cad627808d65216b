package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgellow/biolink/internal/crypto"
)

func TestGenerateToken(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, generateToken(&out))

	values := map[string]string{}
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		name, value, ok := strings.Cut(line, ":")
		require.True(t, ok, "line %q", line)
		values[name] = strings.TrimSpace(value)
	}

	token, hash := values["token"], values["hash"]
	require.NotEmpty(t, token)
	require.NotEmpty(t, hash)
	assert.True(t, crypto.CompareTokenHash([]byte(hash), token), "printed hash verifies the printed token")
	assert.False(t, crypto.CompareTokenHash([]byte(hash), token+"x"))

	var again bytes.Buffer
	require.NoError(t, generateToken(&again))
	assert.NotEqual(t, out.String(), again.String(), "every run draws a new token")
}
