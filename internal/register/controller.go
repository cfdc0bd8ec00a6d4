// Package register drives the weighing counter: it turns operator input
// into store interactions and relays results or operator facing errors.
package register

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/chaquecarne/pesajes/internal/barcode"
	"github.com/chaquecarne/pesajes/internal/weighing"
	"github.com/chaquecarne/pesajes/internal/weighing/export"
)

// Scan outcomes reported to ScanMetrics.
const (
	ScanLabel    = "label"
	ScanCode     = "code"
	ScanNotFound = "not_found"
	ScanInvalid  = "invalid"
)

// ScanMetrics counts barcode scans by outcome.
type ScanMetrics interface {
	ObserveScan(outcome string)
}

type nopScanMetrics struct{}

func (nopScanMetrics) ObserveScan(string) {}

// Controller is the command/response surface shared by the HTTP API, the
// CLI and the export worker.
type Controller struct {
	svc     *weighing.Service
	logger  *slog.Logger
	metrics ScanMetrics
	export  export.Options
}

// New builds a Controller. logger and metrics may be nil.
func New(svc *weighing.Service, logger *slog.Logger, metrics ScanMetrics, exportOpts export.Options) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = nopScanMetrics{}
	}
	return &Controller{svc: svc, logger: logger, metrics: metrics, export: exportOpts}
}

// Profile reports the store profile behind the controller.
func (c *Controller) Profile() weighing.Profile { return c.svc.Profile() }

// Ping checks the store.
func (c *Controller) Ping(ctx context.Context) error {
	return c.fail(ctx, "conectar con la base de datos", c.svc.Ping(ctx))
}

// DecodeBarcode applies the strict 13 digit rule without touching the store.
func (c *Controller) DecodeBarcode(ctx context.Context, entry string) (barcode.Scan, error) {
	scan, err := DecodeLabel(entry)
	if err != nil {
		c.metrics.ObserveScan(ScanInvalid)
		return barcode.Scan{}, c.fail(ctx, "leer código de barras", err)
	}
	return scan, nil
}

// DecodeLabel decodes a weight label without a store. Malformed labels
// return a *UserError.
func DecodeLabel(entry string) (barcode.Scan, error) {
	scan, err := barcode.Decode(strings.TrimSpace(entry))
	if err != nil {
		if ue, ok := Describe(err); ok {
			return barcode.Scan{}, ue
		}
		return barcode.Scan{}, err
	}
	return scan, nil
}

// ScanResult is the outcome of a scan: the resolved product and, for weight
// labels, the decoded weight.
type ScanResult struct {
	ProductCode string           `json:"product_code"`
	Weight      *decimal.Decimal `json:"weight_kg,omitempty"`
	FromLabel   bool             `json:"from_label"`
	Product     weighing.Product `json:"product"`
}

// ScanBarcode resolves a scanned or typed entry. Weight labels are decoded;
// other entries are looked up verbatim as product codes with no weight.
func (c *Controller) ScanBarcode(ctx context.Context, entry string) (ScanResult, error) {
	resolved, err := barcode.Resolve(entry)
	if err != nil {
		c.metrics.ObserveScan(ScanInvalid)
		return ScanResult{}, c.fail(ctx, "leer código de barras", err)
	}
	product, err := c.svc.FindProduct(ctx, resolved.ProductCode)
	if err != nil {
		c.metrics.ObserveScan(ScanNotFound)
		return ScanResult{}, c.fail(ctx, "buscar producto", err)
	}
	outcome := ScanCode
	if resolved.Weight != nil {
		outcome = ScanLabel
	}
	c.metrics.ObserveScan(outcome)
	return ScanResult{
		ProductCode: resolved.ProductCode,
		Weight:      resolved.Weight,
		FromLabel:   resolved.Weight != nil,
		Product:     product,
	}, nil
}

// LookupProduct finds an active product by code.
func (c *Controller) LookupProduct(ctx context.Context, code string) (weighing.Product, error) {
	p, err := c.svc.FindProduct(ctx, code)
	return p, c.fail(ctx, "buscar producto", err)
}

// LookupSeller finds an active seller by code.
func (c *Controller) LookupSeller(ctx context.Context, code string) (weighing.Seller, error) {
	s, err := c.svc.FindSeller(ctx, code)
	return s, c.fail(ctx, "buscar vendedor", err)
}

// RegisterInput is the weigh-in form. Entry is a scan field resolved like
// ScanBarcode; ProductCode is used when Entry is empty. An explicit Weight
// overrides the weight decoded from a label.
type RegisterInput struct {
	Entry       string
	ProductCode string
	Weight      *decimal.Decimal
	SellerCode  string
	Notes       string
}

// Register records a weigh-in and returns the stored row.
func (c *Controller) Register(ctx context.Context, in RegisterInput) (weighing.WeighIn, error) {
	const action = "registrar pesaje"
	productCode := strings.TrimSpace(in.ProductCode)
	weight := in.Weight
	if strings.TrimSpace(in.Entry) != "" {
		resolved, err := barcode.Resolve(in.Entry)
		if err != nil {
			return weighing.WeighIn{}, c.fail(ctx, action, err)
		}
		productCode = resolved.ProductCode
		if weight == nil {
			weight = resolved.Weight
		}
	}
	if productCode == "" {
		return weighing.WeighIn{}, userError(KindValidation, barcode.ErrEmptyCode, "Ingrese un código de producto")
	}
	if strings.TrimSpace(in.SellerCode) == "" {
		return weighing.WeighIn{}, userError(KindValidation, weighing.ErrValidation, "Ingrese el código del vendedor")
	}
	if weight == nil {
		return weighing.WeighIn{}, userError(KindValidation, weighing.ErrInvalidWeight, "Ingrese el peso")
	}
	w, err := c.svc.Record(ctx, weighing.RecordInput{
		ProductCode: productCode,
		SellerCode:  in.SellerCode,
		WeightKg:    *weight,
		Notes:       in.Notes,
	})
	return w, c.fail(ctx, action, err)
}

// GetWeighIn returns one weigh-in by id.
func (c *Controller) GetWeighIn(ctx context.Context, id int64) (weighing.WeighIn, error) {
	w, err := c.svc.GetWeighIn(ctx, id)
	return w, c.fail(ctx, "buscar pesaje", err)
}

// Recent lists the newest weigh-ins.
func (c *Controller) Recent(ctx context.Context, limit, offset int) ([]weighing.WeighIn, error) {
	rows, err := c.svc.Recent(ctx, limit, offset)
	return rows, c.fail(ctx, "cargar pesajes recientes", err)
}

// HistoryFilter selects weigh-ins for the history view. SellerCode wins
// over the dates; To is extended to the end of its day.
type HistoryFilter struct {
	SellerCode string
	From       time.Time
	To         time.Time
	Limit      int
}

// History lists weigh-ins by seller, by date range or, with no filter, the
// most recent ones up to the history limit.
func (c *Controller) History(ctx context.Context, f HistoryFilter) ([]weighing.WeighIn, error) {
	switch {
	case strings.TrimSpace(f.SellerCode) != "":
		rows, err := c.svc.BySeller(ctx, f.SellerCode, f.Limit)
		return rows, c.fail(ctx, "cargar pesajes por vendedor", err)
	case !f.From.IsZero() || !f.To.IsZero():
		if f.From.IsZero() || f.To.IsZero() {
			return nil, userError(KindValidation, weighing.ErrValidation, "Ingrese la fecha inicial y la fecha final")
		}
		rows, err := c.svc.Between(ctx, f.From, weighing.EndOfDay(f.To))
		return rows, c.fail(ctx, "cargar pesajes por fecha", err)
	default:
		limit := f.Limit
		if limit <= 0 {
			limit = c.svc.Limits().HistoryLimit
		}
		rows, err := c.svc.Recent(ctx, limit, 0)
		return rows, c.fail(ctx, "cargar pesajes", err)
	}
}

// Stats aggregates weigh-ins per seller. The range applies only when both
// dates are set; To is extended to the end of its day.
func (c *Controller) Stats(ctx context.Context, from, to time.Time) ([]weighing.SellerStats, error) {
	rng := weighing.DateRange{From: from, To: to}
	if rng.Bounded() {
		rng.To = weighing.EndOfDay(to)
	}
	stats, err := c.svc.Stats(ctx, rng)
	return stats, c.fail(ctx, "cargar estadísticas", err)
}

// ExportFilter selects the rows of a CSV export. With both dates set the
// range is exported, otherwise the most recent rows up to the export limit.
// A blank Encoding uses the configured default.
type ExportFilter struct {
	From     time.Time
	To       time.Time
	Encoding export.Encoding
}

// ExportEncoding resolves a requested encoding against the configured default.
func (c *Controller) ExportEncoding(requested export.Encoding) export.Encoding {
	if requested != "" {
		return requested
	}
	if c.export.Encoding != "" {
		return c.export.Encoding
	}
	return export.UTF8
}

// Export writes the selected weigh-ins as CSV and returns the row count.
func (c *Controller) Export(ctx context.Context, w io.Writer, f ExportFilter) (int, error) {
	const action = "exportar a CSV"
	rng := weighing.DateRange{From: f.From, To: f.To}
	if rng.Bounded() {
		rng.To = weighing.EndOfDay(f.To)
	}
	rows, err := c.svc.ExportRows(ctx, rng)
	if err != nil {
		return 0, c.fail(ctx, action, err)
	}
	if len(rows) == 0 {
		return 0, c.fail(ctx, action, weighing.ErrNothingToExport)
	}
	opts := c.export
	opts.Encoding = c.ExportEncoding(f.Encoding)
	n, err := export.WriteWeighInsCSV(w, rows, opts)
	if err != nil {
		return n, c.fail(ctx, action, err)
	}
	c.logger.InfoContext(ctx, "weigh-ins exported", slog.Int("rows", n), slog.String("encoding", string(opts.Encoding)))
	return n, nil
}

// ListProducts lists the catalogue.
func (c *Controller) ListProducts(ctx context.Context, includeInactive bool) ([]weighing.Product, error) {
	list, err := c.svc.ListProducts(ctx, includeInactive)
	return list, c.fail(ctx, "cargar productos", err)
}

// CreateProduct adds a product.
func (c *Controller) CreateProduct(ctx context.Context, p weighing.Product) (weighing.Product, error) {
	created, err := c.svc.CreateProduct(ctx, p)
	return created, c.fail(ctx, "crear producto", err)
}

// UpdateProduct edits a product.
func (c *Controller) UpdateProduct(ctx context.Context, code string, upd weighing.ProductUpdate) error {
	return c.fail(ctx, "actualizar producto", c.svc.UpdateProduct(ctx, code, upd))
}

// DeactivateProduct soft deletes a product.
func (c *Controller) DeactivateProduct(ctx context.Context, code string) error {
	return c.fail(ctx, "desactivar producto", c.svc.DeactivateProduct(ctx, code))
}

// ListSellers lists the staff.
func (c *Controller) ListSellers(ctx context.Context, includeInactive bool) ([]weighing.Seller, error) {
	list, err := c.svc.ListSellers(ctx, includeInactive)
	return list, c.fail(ctx, "cargar vendedores", err)
}

// CreateSeller adds a seller.
func (c *Controller) CreateSeller(ctx context.Context, s weighing.Seller) (weighing.Seller, error) {
	created, err := c.svc.CreateSeller(ctx, s)
	return created, c.fail(ctx, "crear vendedor", err)
}

// UpdateSeller edits a seller.
func (c *Controller) UpdateSeller(ctx context.Context, code string, upd weighing.SellerUpdate) error {
	return c.fail(ctx, "actualizar vendedor", c.svc.UpdateSeller(ctx, code, upd))
}

// DeactivateSeller soft deletes a seller.
func (c *Controller) DeactivateSeller(ctx context.Context, code string) error {
	return c.fail(ctx, "desactivar vendedor", c.svc.DeactivateSeller(ctx, code))
}
