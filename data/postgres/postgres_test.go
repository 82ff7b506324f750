package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/ncobase/telemetry/config"
	"github.com/ncobase/telemetry/data"
	"github.com/ncobase/telemetry/data/sqlstore"
	"github.com/ncobase/telemetry/data/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Set TELEMETRY_TEST_POSTGRES_DSN to a disposable database to run these.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("TELEMETRY_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TELEMETRY_TEST_POSTGRES_DSN not set")
	}
	return dsn
}

func TestStoreConformance(t *testing.T) {
	dsn := testDSN(t)
	storetest.Run(t, func(t *testing.T) data.Store {
		s, err := data.Open(context.Background(), &config.Data{Driver: "postgres", Source: dsn})
		require.NoError(t, err)
		_, err = s.(*sqlstore.Store).DB().Exec("TRUNCATE metrics, errors RESTART IDENTITY")
		require.NoError(t, err)
		return s
	})
}

func TestPlaceholder(t *testing.T) {
	assert.Equal(t, "$1", Dialect.Placeholder(1))
	assert.Equal(t, "$12", Dialect.Placeholder(12))
	assert.Equal(t, "tags::text", Dialect.JSONColumn("tags"))
}

func TestOpenRequiresSource(t *testing.T) {
	_, err := Open(context.Background(), &config.Data{})
	assert.Error(t, err)
}
