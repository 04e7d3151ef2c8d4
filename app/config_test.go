package teamboard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	config := &Config{
		Port:     8080,
		Hostname: "0.0.0.0",
	}
	config.Auth.Secret = []byte("0123456789abcdef0123456789abcdef")
	config.SQLite.File = "./test.db"
	config.SQLite.Migrations = "./migrations"
	return config
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	t.Run("port out of range", func(t *testing.T) {
		config := validConfig()
		config.Port = 70000
		err := config.Validate()
		require.Error(t, err)
		assert.Contains(t, FormatValidationErrors(err), "port")
	})

	t.Run("missing secret", func(t *testing.T) {
		config := validConfig()
		config.Auth.Secret = nil
		assert.Error(t, config.Validate())
	})

	t.Run("missing sqlite file", func(t *testing.T) {
		config := validConfig()
		config.SQLite.File = ""
		assert.Error(t, config.Validate())
	})
}

func TestBase64Encoded(t *testing.T) {
	var secret Base64Encoded
	require.NoError(t, secret.UnmarshalText([]byte("aGVsbG8=")))
	assert.Equal(t, []byte("hello"), []byte(secret))

	assert.Error(t, secret.UnmarshalText([]byte("not base64!!")))
}
