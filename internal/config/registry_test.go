package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKeys() []KeyInfo {
	return []KeyInfo{
		{Key: "storage.driver", Type: "string", Default: "memory"},
		{Key: "storage.redis.addr", Type: "string", Default: "localhost:6379"},
		{Key: "storage.redis.keyPrefix", Type: "string"},
		{Key: "session.signingKey", Type: "string"},
		{Key: "clients", Type: "[]map", Namespace: true},
	}
}

func TestLookup(t *testing.T) {
	resetForTest(testKeys()...)

	info, ok := Lookup("storage.driver")
	require.True(t, ok)
	assert.Equal(t, "memory", info.Default)

	_, ok = Lookup("storage.nope")
	assert.False(t, ok)

	assert.Equal(t, "clients", Keys()[0])
}

func TestDefaults(t *testing.T) {
	resetForTest(testKeys()...)

	assert.Equal(t, map[string]interface{}{
		"storage.driver":     "memory",
		"storage.redis.addr": "localhost:6379",
	}, Defaults())
}

func TestFindSimilarKeys(t *testing.T) {
	resetForTest(testKeys()...)

	assert.Equal(t, []string{"storage.driver"}, FindSimilarKeys("storage.drivr", 3))
	assert.Equal(t, []string{"session.signingKey"}, FindSimilarKeys("session.signingkey", 3))
	assert.Empty(t, FindSimilarKeys("completely.unrelated", 3))
}

func TestValidate(t *testing.T) {
	resetForTest(testKeys()...)
	RegisterDeprecated("storage.redisAddr", "storage.redis.addr")

	k := koanf.New(".")
	require.NoError(t, k.Load(confmap.Provider(map[string]interface{}{
		"storage.driver":    "redis",
		"storage.drivr":     "sqlite",
		"storage.redisAddr": "localhost:6380",
		"clients.0.id":      "client-1",
	}, "."), nil))

	warnings := Validate(k)
	require.Len(t, warnings, 2)

	byKey := map[string]Warning{}
	for _, w := range warnings {
		byKey[w.Key] = w
	}

	assert.True(t, byKey["storage.redisAddr"].Deprecated)
	assert.Equal(t, "'storage.redisAddr' is deprecated, use 'storage.redis.addr'", byKey["storage.redisAddr"].String())
	assert.Equal(t, "'storage.drivr' is not a known config key. Did you mean 'storage.driver'?", byKey["storage.drivr"].String())
}

func TestTransformEnv(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{input: "AZ__STORAGE__DRIVER", want: "storage.driver"},
		{input: "AZ__SESSION__SIGNING_KEY", want: "session.signingKey"},
		{input: "AZ__OAUTH__AUTHENTICATION_ENDPOINT", want: "oauth.authenticationEndpoint"},
		{input: "AZ__STORAGE__REDIS__KEY_PREFIX", want: "storage.redis.keyPrefix"},
		{input: "AZ__NAME", want: "name"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, TransformEnv(tt.input))
		})
	}
}

func TestSearchForConfig(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "authorizer.yaml"), []byte("name: test\n"), 0o600))

	assert.Equal(t, filepath.Join(root, "authorizer.yaml"), SearchForConfig("authorizer.yaml", nested))
	assert.Equal(t, "", SearchForConfig("authorizer-missing-1234.yaml", nested))
}
