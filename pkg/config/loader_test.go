package config

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandEnv(t *testing.T) {
	t.Setenv("STORYWEAVE_TEST_HOST", "db.internal")

	got := ExpandEnv([]byte("host: {{.STORYWEAVE_TEST_HOST}}\nport: 5432\n"))
	assert.Equal(t, "host: db.internal\nport: 5432\n", string(got))
}

func TestExpandEnvMissingVariableIsEmpty(t *testing.T) {
	got := ExpandEnv([]byte("token: {{.STORYWEAVE_TEST_DEFINITELY_UNSET}}\n"))
	assert.Equal(t, "token: \n", string(got))
}

func TestExpandEnvLeavesDollarSignsAlone(t *testing.T) {
	in := []byte("password: pa$$word\n")
	assert.Equal(t, in, ExpandEnv(in))
}

func TestLoadEncryptionKeys(t *testing.T) {
	key1 := hex.EncodeToString(make([]byte, 32))
	key2 := hex.EncodeToString(append(make([]byte, 31), 1))

	t.Run("empty environment yields empty keyring", func(t *testing.T) {
		t.Setenv("CONTEXT_ENCRYPTION_KEYS", "")
		enc, err := loadEncryptionKeys()
		require.NoError(t, err)
		assert.Empty(t, enc.Keys)
	})

	t.Run("first key is the default active key", func(t *testing.T) {
		t.Setenv("CONTEXT_ENCRYPTION_KEYS", "k1:"+key1+",k2:"+key2)
		t.Setenv("CONTEXT_ACTIVE_KEY_ID", "")
		enc, err := loadEncryptionKeys()
		require.NoError(t, err)
		assert.Len(t, enc.Keys, 2)
		assert.Equal(t, "k1", enc.ActiveKeyID)
	})

	t.Run("explicit active key id", func(t *testing.T) {
		t.Setenv("CONTEXT_ENCRYPTION_KEYS", "k1:"+key1+",k2:"+key2)
		t.Setenv("CONTEXT_ACTIVE_KEY_ID", "k2")
		enc, err := loadEncryptionKeys()
		require.NoError(t, err)
		assert.Equal(t, "k2", enc.ActiveKeyID)
	})

	t.Run("active key must be in the keyring", func(t *testing.T) {
		t.Setenv("CONTEXT_ENCRYPTION_KEYS", "k1:"+key1)
		t.Setenv("CONTEXT_ACTIVE_KEY_ID", "k9")
		_, err := loadEncryptionKeys()
		assert.Error(t, err)
	})

	t.Run("wrong key length is rejected", func(t *testing.T) {
		t.Setenv("CONTEXT_ENCRYPTION_KEYS", "k1:"+hex.EncodeToString(make([]byte, 16)))
		t.Setenv("CONTEXT_ACTIVE_KEY_ID", "")
		_, err := loadEncryptionKeys()
		assert.Error(t, err)
	})

	t.Run("malformed entry is rejected", func(t *testing.T) {
		t.Setenv("CONTEXT_ENCRYPTION_KEYS", "not-a-pair")
		_, err := loadEncryptionKeys()
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:     DefaultServerConfig(),
			Continuity: DefaultContinuityConfig(),
			Pipeline:   DefaultPipelineConfig(),
			LLM:        DefaultLLMConfig(),
			Budgets:    DefaultBudgetConfig(),
		}
	}

	t.Run("defaults validate", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("zero compress threshold is rejected", func(t *testing.T) {
		cfg := valid()
		cfg.Continuity.CompressThreshold = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("turn budget must cover classification", func(t *testing.T) {
		cfg := valid()
		cfg.Budgets.Turn = cfg.Budgets.Classification / 2
		assert.Error(t, cfg.Validate())
	})
}
