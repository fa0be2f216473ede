package main

import (
	"bytes"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenSecret(t *testing.T) {
	cmd := newGenSecretCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--bytes", "64"})

	require.NoError(t, cmd.Execute())
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Len(t, raw, 64)
}

func TestGenSecret_TooShort(t *testing.T) {
	cmd := newGenSecretCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--bytes", "16"})

	assert.ErrorContains(t, cmd.Execute(), "at least 32 bytes")
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"sweep", "create-superuser", "gen-secret", "migrate"} {
		assert.True(t, names[want], want)
	}
}
