package migrations

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	ups, err := fs.Glob(FS, "*.up.sql")
	require.NoError(t, err)
	downs, err := fs.Glob(FS, "*.down.sql")
	require.NoError(t, err)

	assert.NotEmpty(t, ups)
	assert.Len(t, downs, len(ups))
}

func TestAppointmentsHaveOverlapConstraint(t *testing.T) {
	data, err := fs.ReadFile(FS, "000002_appointments.up.sql")
	require.NoError(t, err)
	assert.Contains(t, string(data), "appointments_no_overlap")
}
