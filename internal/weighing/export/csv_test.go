package export

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"

	"github.com/chaquecarne/pesajes/internal/weighing"
)

func sampleRows() []weighing.WeighIn {
	return []weighing.WeighIn{
		{
			ID:          7,
			ProductCode: "P002",
			ProductName: "Lomo fino",
			WeightKg:    decimal.RequireFromString("1.5"),
			SellerCode:  "V002",
			SellerName:  "María González",
			PricePerKg:  decimal.NewNullDecimal(decimal.RequireFromString("12.75")),
			Total:       decimal.NewNullDecimal(decimal.RequireFromString("19.13")),
			RecordedAt:  time.Date(2024, 3, 15, 14, 5, 59, 0, time.UTC),
			Notes:       "para asado, sin hueso",
		},
		{
			ID:          8,
			ProductCode: "0234567",
			ProductName: "Chorizo",
			WeightKg:    decimal.RequireFromString("12.034"),
			SellerCode:  "V001",
			SellerName:  "Juan Pérez",
			RecordedAt:  time.Date(2024, 3, 15, 3, 0, 0, 0, time.UTC),
		},
	}
}

func TestWriteWeighInsCSV(t *testing.T) {
	var buf bytes.Buffer
	n, err := WriteWeighInsCSV(&buf, sampleRows(), Options{Location: time.UTC})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, Header, records[0])
	assert.Equal(t, []string{"7", "15/03/2024 14:05", "P002", "Lomo fino", "1.50", "V002", "María González", "12.75", "19.13", "para asado, sin hueso"}, records[1])
	assert.Equal(t, []string{"8", "15/03/2024 03:00", "0234567", "Chorizo", "12.03", "V001", "Juan Pérez", "", "", ""}, records[2])
}

func TestWriteWeighInsCSVUsesLocation(t *testing.T) {
	loc := time.FixedZone("ART", -3*60*60)
	var buf bytes.Buffer
	_, err := WriteWeighInsCSV(&buf, sampleRows()[1:], Options{Location: loc})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "15/03/2024 00:00")
}

func TestWriteWeighInsCSVEmptyWritesHeaderOnly(t *testing.T) {
	var buf bytes.Buffer
	n, err := WriteWeighInsCSV(&buf, nil, Options{})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, strings.Join(Header, ",")+"\n", buf.String())
}

func TestWriteWeighInsCSVWindows1252(t *testing.T) {
	var buf bytes.Buffer
	_, err := WriteWeighInsCSV(&buf, sampleRows(), Options{Location: time.UTC, Encoding: Windows1252})
	require.NoError(t, err)

	raw := buf.Bytes()
	assert.False(t, bytes.Contains(raw, []byte("Código")), "output must not be utf-8")
	assert.True(t, bytes.Contains(raw, []byte{'C', 0xF3, 'd', 'i', 'g', 'o'}))

	decoded, err := charmap.Windows1252.NewDecoder().Bytes(raw)
	require.NoError(t, err)
	assert.Contains(t, string(decoded), "María González")
}

func TestParseEncoding(t *testing.T) {
	enc, err := ParseEncoding("")
	require.NoError(t, err)
	assert.Equal(t, UTF8, enc)

	enc, err = ParseEncoding("CP1252")
	require.NoError(t, err)
	assert.Equal(t, Windows1252, enc)

	_, err = ParseEncoding("ebcdic")
	require.Error(t, err)
}

func TestFileName(t *testing.T) {
	id := uuid.MustParse("1f0c2a9b-0000-4000-8000-000000000000")
	name := FileName(time.Date(2024, 3, 15, 10, 30, 12, 0, time.UTC), id)
	assert.Equal(t, "pesajes_20240315_103012_1f0c2a9b.csv", name)
}
