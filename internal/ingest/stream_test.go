package ingest

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func createTestXLSX(t *testing.T, rows [][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Sheet1")
	require.NoError(t, err)
	for _, rowData := range rows {
		row := sheet.AddRow()
		for _, cellData := range rowData {
			cell := row.AddCell()
			cell.SetString(cellData)
		}
	}
	path := filepath.Join(t.TempDir(), "test.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func collect(t *testing.T, rows <-chan []string, errs <-chan error) ([][]string, error) {
	t.Helper()
	var out [][]string
	for row := range rows {
		out = append(out, row)
	}
	return out, <-errs
}

func TestStreamCSV_TrimsAndSkipsComments(t *testing.T) {
	input := "contract_id, metric\n# exported 2025-05-01\nppa-1 , availability_percent\n"
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input))
	rows, err := collect(t, rowCh, errCh)
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"contract_id", "metric"},
		{"ppa-1", "availability_percent"},
	}, rows)
}

func TestStreamCSV_MalformedQuote(t *testing.T) {
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader("a,\"b\n"))
	_, err := collect(t, rowCh, errCh)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "csv: read row")
}

func TestStreamCSV_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rowCh, errCh := StreamCSV(ctx, strings.NewReader("a,b\n"))
	_, err := collect(t, rowCh, errCh)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "context cancelled")
}

func TestStreamXLSX_FirstSheet(t *testing.T) {
	path := createTestXLSX(t, [][]string{
		{"id", "type"},
		{" ev-1 ", "weather"},
	})

	rowCh, errCh := StreamXLSX(context.Background(), path)
	rows, err := collect(t, rowCh, errCh)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"id", "type"}, {"ev-1", "weather"}}, rows)
}

func TestStreamXLSX_MissingFile(t *testing.T) {
	rowCh, errCh := StreamXLSX(context.Background(), filepath.Join(t.TempDir(), "nope.xlsx"))
	_, err := collect(t, rowCh, errCh)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "xlsx: open file")
}

type item struct {
	ID string `json:"id"`
}

func TestDecodeJSONArray(t *testing.T) {
	items, errs := DecodeJSONArray[item](context.Background(), strings.NewReader(`[{"id":"a"},{"id":"b"}]`))
	var ids []string
	for it := range items {
		ids = append(ids, it.ID)
	}
	require.NoError(t, <-errs)
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestDecodeJSONArray_NotArray(t *testing.T) {
	items, errs := DecodeJSONArray[item](context.Background(), strings.NewReader(`{"id":"a"}`))
	for range items {
	}
	err := <-errs
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected '['")
}

func TestDecodeJSONArray_Empty(t *testing.T) {
	items, errs := DecodeJSONArray[item](context.Background(), strings.NewReader(""))
	for range items {
	}
	assert.NoError(t, <-errs)
}
