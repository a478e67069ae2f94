package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemDBRoundTrip(t *testing.T) {
	db := NewMemDB()
	defer db.Close()

	require.NoError(t, db.Put([]byte("listing:1"), []byte("payload")))

	got, err := db.Get([]byte("listing:1"))
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), got)

	ok, err := db.Has([]byte("listing:1"))
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, db.Delete([]byte("listing:1")))
	ok, err = db.Has([]byte("listing:1"))
	require.NoError(t, err)
	require.False(t, ok)

	_, err = db.Get([]byte("listing:1"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemDBCopiesValues(t *testing.T) {
	db := NewMemDB()
	defer db.Close()

	value := []byte("original")
	require.NoError(t, db.Put([]byte("k"), value))
	value[0] = 'X'

	got, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("original"), got)

	got[0] = 'Y'
	again, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("original"), again)
}
