package geoip

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenWithoutPath(t *testing.T) {
	r, err := Open("  ")
	require.NoError(t, err)
	assert.Nil(t, r)
	assert.NoError(t, r.Close())

	_, err = r.CountryCode("203.0.113.7")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.mmdb"))
	assert.Error(t, err)
}

func TestCountryCodeSkipsLocalAddresses(t *testing.T) {
	var r *Resolver
	for _, ip := range []string{"127.0.0.1", "10.1.2.3", "192.168.0.4", "::1", "0.0.0.0", "fe80::1", "::ffff:10.0.0.1"} {
		code, err := r.CountryCode(ip)
		assert.NoError(t, err, ip)
		assert.Empty(t, code, ip)
	}

	_, err := r.CountryCode("not-an-ip")
	assert.Error(t, err)
}
