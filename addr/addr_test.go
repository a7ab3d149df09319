package addr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseForms(t *testing.T) {
	testCases := []struct {
		in   string
		kind Kind
		str  string
	}{
		{"50000", KindPortOnly, "50000"},
		{"0", KindPortOnly, "0"},
		{"localhost:50000", KindHost, "localhost:50000"},
		{"db.example.com:1234", KindHost, "db.example.com:1234"},
		{"127.0.0.1:50000", KindIP, "127.0.0.1:50000"},
		{"[::1]:50000", KindIP, "[::1]:50000"},
		{"[2001:db8::1]:443", KindIP, "[2001:db8::1]:443"},
		{"/tmp/.s.monetdb.50000", KindUnix, "/tmp/.s.monetdb.50000"},
		{"./db.sock", KindUnix, "./db.sock"},
		{`C:\sockets\db`, KindUnix, `C:\sockets\db`},
	}

	for _, tc := range testCases {
		a, err := Parse(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.kind, a.Kind(), tc.in)
		assert.Equal(t, tc.str, a.String(), tc.in)
	}
}

func TestParseErrors(t *testing.T) {
	bad := []string{
		"",
		"99999",
		"localhost:99999",
		"localhost:port",
		"[::1:50000",
		"::1]:50000",
		"-nope:1234",
		"just a name",
	}
	for _, in := range bad {
		_, err := Parse(in)
		require.Error(t, err, in)
		assert.True(t, errors.Is(err, ErrParse), in)
	}
}

func TestResolveUnixPath(t *testing.T) {
	a, err := Parse("/tmp/db.sock")
	require.NoError(t, err)

	addrs, err := a.Resolve()
	require.NoError(t, err)
	require.Len(t, addrs, 1)
	assert.True(t, addrs[0].IsUnix())
	assert.Equal(t, "unix", addrs[0].Network())
	assert.Equal(t, "/tmp/db.sock", addrs[0].Target())
}

func TestResolvePortOnly(t *testing.T) {
	a, err := Parse("50000")
	require.NoError(t, err)

	addrs, err := a.Resolve()
	require.NoError(t, err)
	require.NotEmpty(t, addrs)

	// The Unix candidate comes first.
	assert.True(t, addrs[0].IsUnix())
	assert.Equal(t, "/tmp/.s.monetdb.50000", addrs[0].Target())
	for _, candidate := range addrs[1:] {
		assert.Equal(t, "tcp", candidate.Network())
		assert.Contains(t, candidate.Target(), ":50000")
	}
}

func TestResolveIP(t *testing.T) {
	a, err := Parse("127.0.0.1:1234")
	require.NoError(t, err)

	addrs, err := a.Resolve()
	require.NoError(t, err)
	require.Len(t, addrs, 1)
	assert.Equal(t, "tcp", addrs[0].Network())
	assert.Equal(t, "127.0.0.1:1234", addrs[0].Target())
}
