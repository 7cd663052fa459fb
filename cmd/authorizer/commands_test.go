package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dpup/authorizer"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func runCmd(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	err := cmd.Execute()
	return out.String(), err
}

func TestHash(t *testing.T) {
	out, err := runCmd(t, "", "hash", "s3cret")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(strings.TrimSpace(out)), []byte("s3cret")))
}

func TestHash_Stdin(t *testing.T) {
	out, err := runCmd(t, "from-stdin\n", "hash")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(strings.TrimSpace(out)), []byte("from-stdin")))
}

func TestHash_Empty(t *testing.T) {
	_, err := runCmd(t, "", "hash")
	assert.EqualError(t, err, "no secret given")
}

func TestHash_TooManyArgs(t *testing.T) {
	_, err := runCmd(t, "", "hash", "a", "b")
	assert.Error(t, err)
}

func TestServe_RefusesDanglingLoginEndpoint(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "authorizer.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte(`
session:
  signingKey: 0123456789abcdef0123456789abcdef
storage:
  driver: memory
`), 0o600))

	_, err := runCmd(t, "", "serve", "--config", cfg, "--env-file", filepath.Join(dir, "missing.env"))
	assert.ErrorIs(t, err, authorizer.ErrNoLoginHandler)
}
