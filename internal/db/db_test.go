package db

import (
	"net/url"
	"testing"

	"github.com/authgate/apiserver/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresURL(t *testing.T) {
	t.Parallel()

	raw := PostgresURL(config.DatabaseConfig{
		Host:     "db.internal",
		Port:     5433,
		User:     "auth",
		Password: "p@ss/word",
		DBName:   "authgate",
		UseSSL:   true,
	})

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "postgres", u.Scheme)
	assert.Equal(t, "db.internal:5433", u.Host)
	assert.Equal(t, "/authgate", u.Path)
	assert.Equal(t, "require", u.Query().Get("sslmode"))

	password, ok := u.User.Password()
	require.True(t, ok)
	assert.Equal(t, "p@ss/word", password)
}

func TestPostgresURL_DisablesSSLByDefault(t *testing.T) {
	t.Parallel()

	u, err := url.Parse(PostgresURL(config.DatabaseConfig{Host: "localhost", Port: 5432, DBName: "x"}))
	require.NoError(t, err)
	assert.Equal(t, "disable", u.Query().Get("sslmode"))
}
