package database_test

import (
	"testing"

	"github.com/hbomb79/Lyre/internal/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJsonColumn_RoundTrip(t *testing.T) {
	col := database.NewJsonColumn([]string{"Intro.mp3", "Outro.mp3"})
	val, err := col.Value()
	require.NoError(t, err)
	assert.Equal(t, []byte(`["Intro.mp3","Outro.mp3"]`), val)

	var scanned database.JsonColumn[[]string]
	require.NoError(t, scanned.Scan(val))
	assert.Equal(t, []string{"Intro.mp3", "Outro.mp3"}, scanned.Get())

	require.NoError(t, scanned.Scan(`["x"]`))
	assert.Equal(t, []string{"x"}, scanned.Get())

	require.NoError(t, scanned.Scan(nil))
	assert.Nil(t, scanned.Get())

	assert.Error(t, scanned.Scan(42))
}
