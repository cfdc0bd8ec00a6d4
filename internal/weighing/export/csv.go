// Package export writes weigh-in listings as CSV files for spreadsheet tools.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"github.com/chaquecarne/pesajes/internal/weighing"
)

// Header is the fixed column order of a weigh-in export.
var Header = []string{
	"ID", "Fecha", "Código Producto", "Producto", "Peso (kg)",
	"Código Vendedor", "Vendedor", "Precio/kg", "Total", "Observaciones",
}

// DateLayout formats the Fecha column.
const DateLayout = "02/01/2006 15:04"

// Encoding is the character set of the written file.
type Encoding string

const (
	UTF8        Encoding = "utf-8"
	Windows1252 Encoding = "windows-1252"
)

// ParseEncoding accepts the EXPORT_ENCODING values. Empty means UTF-8.
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "utf-8", "utf8":
		return UTF8, nil
	case "windows-1252", "cp1252", "latin1":
		return Windows1252, nil
	default:
		return "", fmt.Errorf("export: unsupported encoding %q", s)
	}
}

// Options controls formatting.
type Options struct {
	// Location renders Fecha in the shop time zone. Nil means time.Local.
	Location *time.Location
	Encoding Encoding
}

// WriteWeighInsCSV writes the header and one record per weigh-in, returning
// the number of data rows written.
func WriteWeighInsCSV(w io.Writer, rows []weighing.WeighIn, opts Options) (n int, err error) {
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	if opts.Encoding == Windows1252 {
		enc := encoding.ReplaceUnsupported(charmap.Windows1252.NewEncoder())
		tw := transform.NewWriter(w, enc)
		w = tw
		defer func() {
			if cerr := tw.Close(); err == nil {
				err = cerr
			}
		}()
	}

	writer := csv.NewWriter(w)
	if err := writer.Write(Header); err != nil {
		return 0, err
	}
	for _, row := range rows {
		if err := writer.Write(record(row, loc)); err != nil {
			return n, err
		}
		n++
	}
	writer.Flush()
	return n, writer.Error()
}

func record(w weighing.WeighIn, loc *time.Location) []string {
	return []string{
		strconv.FormatInt(w.ID, 10),
		w.RecordedAt.In(loc).Format(DateLayout),
		w.ProductCode,
		w.ProductName,
		w.WeightKg.StringFixed(2),
		w.SellerCode,
		w.SellerName,
		formatNull(w.PricePerKg),
		formatNull(w.Total),
		w.Notes,
	}
}

func formatNull(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.StringFixed(2)
}

// FileName builds a unique export file name such as
// pesajes_20240315_103012_1f0c2a9b.csv.
func FileName(now time.Time, id uuid.UUID) string {
	return fmt.Sprintf("pesajes_%s_%s.csv", now.Format("20060102_150405"), strings.ReplaceAll(id.String(), "-", "")[:8])
}
