package migrations_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-donasi/internal/donation"
	"github.com/noah-isme/backend-donasi/migrations"
)

func TestDonationTypeDefaultMatchesModel(t *testing.T) {
	sql, err := migrations.FS.ReadFile("000001_donations.up.sql")
	require.NoError(t, err)
	require.Contains(t, string(sql), "DEFAULT '"+donation.DonationTypeOneTime+"'")
}

func TestEveryUpMigrationHasDown(t *testing.T) {
	ups, err := migrations.FS.ReadDir(".")
	require.NoError(t, err)
	names := map[string]bool{}
	for _, e := range ups {
		names[e.Name()] = true
	}
	for name := range names {
		if base, ok := strings.CutSuffix(name, ".up.sql"); ok {
			require.True(t, names[base+".down.sql"], "missing %s.down.sql", base)
		}
	}
}
