package storage

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"abceats/models"
	"abceats/utils"
)

func TestCSVWriterArchivesPages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "raw.csv")
	w := NewCSVWriter(path, utils.NewNopLogger())

	require.NoError(t, w.Begin())
	require.NoError(t, w.WriteRows([]models.InspectionRecord{{Camis: "1", Dba: "ONE, INC"}}))
	require.NoError(t, w.WriteRows([]models.InspectionRecord{{Camis: "2", Dba: "TWO"}}))
	require.NoError(t, w.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, records, 3)
	assert.Equal(t, models.SelectColumns, records[0])
	assert.Equal(t, "ONE, INC", records[1][1])
	assert.Equal(t, "2", records[2][0])
}

func TestCSVWriterBeginTruncates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raw.csv")
	w := NewCSVWriter(path, utils.NewNopLogger())

	require.NoError(t, w.Begin())
	require.NoError(t, w.WriteRows([]models.InspectionRecord{{Camis: "1"}, {Camis: "2"}}))
	require.NoError(t, w.Close())

	require.NoError(t, w.Begin())
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestCSVWriterRejectsWritesWhenClosed(t *testing.T) {
	w := NewCSVWriter(filepath.Join(t.TempDir(), "raw.csv"), utils.NewNopLogger())
	assert.Error(t, w.WriteRows([]models.InspectionRecord{{Camis: "1"}}))
	assert.NoError(t, w.Close())
}
