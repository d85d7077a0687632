package util

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomString(t *testing.T) {
	code, err := RandomString(8, InviteCodeAlphabet)
	require.NoError(t, err)
	assert.Len(t, code, 8)
	for _, r := range code {
		assert.True(t, strings.ContainsRune(InviteCodeAlphabet, r))
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("SC_TEST_INT", "42")
	t.Setenv("SC_TEST_BOOL", "true")
	t.Setenv("SC_TEST_DUR", "90s")
	t.Setenv("SC_TEST_SECS", "30")

	assert.Equal(t, int64(42), GetIntEnv("SC_TEST_INT"))
	assert.True(t, GetBoolEnv("SC_TEST_BOOL"))
	assert.Equal(t, 90*time.Second, GetDurationEnv("SC_TEST_DUR"))
	assert.Equal(t, 30*time.Second, GetDurationEnv("SC_TEST_SECS"))
	assert.Equal(t, time.Duration(0), GetDurationEnv("SC_TEST_MISSING"))
}

func TestInitDatabaseSqlite(t *testing.T) {
	fixed := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	db, err := InitDatabase("", "file:util_test?mode=memory&cache=shared", func() time.Time { return fixed })
	require.NoError(t, err)
	assert.Equal(t, fixed, db.Config.NowFunc())
}
