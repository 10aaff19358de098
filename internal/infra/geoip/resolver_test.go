package geoip

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenWithoutPathDisablesLookups(t *testing.T) {
	r, err := Open("  ")
	require.NoError(t, err)
	assert.Nil(t, r)
	assert.Nil(t, r.Lookup())
	assert.NoError(t, r.Close())

	_, err = r.Country("8.8.8.8")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestOpenMissingDatabase(t *testing.T) {
	_, err := Open(t.TempDir() + "/missing.mmdb")
	assert.Error(t, err)
}
