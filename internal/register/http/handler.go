package registerhttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/chaquecarne/pesajes/internal/platform/httpx"
	"github.com/chaquecarne/pesajes/internal/register"
	"github.com/chaquecarne/pesajes/internal/weighing"
	"github.com/chaquecarne/pesajes/internal/weighing/export"
)

const dateLayout = "2006-01-02"

// ExportEnqueuer queues a background CSV export and returns the task id.
type ExportEnqueuer interface {
	EnqueueExport(ctx context.Context, from, to time.Time, encoding string) (string, error)
}

// Handler exposes the register controller as a JSON API.
type Handler struct {
	logger    *slog.Logger
	ctrl      *register.Controller
	exports   ExportEnqueuer
	validator *validator.Validate
	location  *time.Location
}

// NewHandler constructs a Handler. exports may be nil when no queue is
// configured; loc is used to read date-only query parameters.
func NewHandler(logger *slog.Logger, ctrl *register.Controller, exports ExportEnqueuer, loc *time.Location) *Handler {
	if loc == nil {
		loc = time.Local
	}
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{logger: logger, ctrl: ctrl, exports: exports, validator: v, location: loc}
}

// MountRoutes registers the API routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/scan/{entry}", h.scan)
		r.Get("/barcodes/{code}", h.decodeBarcode)
		r.Route("/products", func(r chi.Router) {
			r.Get("/", h.listProducts)
			r.Post("/", h.createProduct)
			r.Get("/{code}", h.getProduct)
			r.Put("/{code}", h.updateProduct)
			r.Delete("/{code}", h.deactivateProduct)
		})
		r.Route("/sellers", func(r chi.Router) {
			r.Get("/", h.listSellers)
			r.Post("/", h.createSeller)
			r.Get("/{code}", h.getSeller)
			r.Put("/{code}", h.updateSeller)
			r.Delete("/{code}", h.deactivateSeller)
		})
		r.Route("/weighins", func(r chi.Router) {
			r.Get("/", h.recent)
			r.Post("/", h.register)
			r.Get("/history", h.history)
			r.Get("/{id}", h.getWeighIn)
		})
		r.Get("/stats/sellers", h.stats)
		r.Get("/export.csv", h.exportCSV)
		r.Post("/exports", h.enqueueExport)
	})
}

type scanResponse struct {
	ProductCode string           `json:"product_code"`
	WeightKg    *decimal.Decimal `json:"weight_kg,omitempty"`
}

func (h *Handler) scan(w http.ResponseWriter, r *http.Request) {
	res, err := h.ctrl.ScanBarcode(r.Context(), chi.URLParam(r, "entry"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) decodeBarcode(w http.ResponseWriter, r *http.Request) {
	scan, err := h.ctrl.DecodeBarcode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, scanResponse{ProductCode: scan.ProductCode, WeightKg: &scan.Weight})
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	list, err := h.ctrl.ListProducts(r.Context(), queryBool(r, "all"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, list)
}

type productRequest struct {
	Code        string           `json:"code" validate:"required,max=20"`
	Name        string           `json:"name" validate:"required,max=100"`
	Description string           `json:"description" validate:"max=500"`
	PricePerKg  *decimal.Decimal `json:"price_per_kg"`
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if !h.bind(w, r, &req) {
		return
	}
	p := weighing.Product{Code: req.Code, Name: req.Name, Description: req.Description}
	if req.PricePerKg != nil {
		p.PricePerKg = decimal.NewNullDecimal(*req.PricePerKg)
	}
	created, err := h.ctrl.CreateProduct(r.Context(), p)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.ctrl.LookupProduct(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

type productUpdateRequest struct {
	Name        *string          `json:"name" validate:"omitempty,min=1,max=100"`
	Description *string          `json:"description" validate:"omitempty,max=500"`
	PricePerKg  *decimal.Decimal `json:"price_per_kg"`
	Active      *bool            `json:"active"`
}

func (h *Handler) updateProduct(w http.ResponseWriter, r *http.Request) {
	var req productUpdateRequest
	if !h.bind(w, r, &req) {
		return
	}
	upd := weighing.ProductUpdate{Name: req.Name, Description: req.Description, PricePerKg: req.PricePerKg, Active: req.Active}
	if err := h.ctrl.UpdateProduct(r.Context(), chi.URLParam(r, "code"), upd); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deactivateProduct(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.DeactivateProduct(r.Context(), chi.URLParam(r, "code")); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listSellers(w http.ResponseWriter, r *http.Request) {
	list, err := h.ctrl.ListSellers(r.Context(), queryBool(r, "all"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, list)
}

type sellerRequest struct {
	Code      string `json:"code" validate:"required,max=20"`
	FirstName string `json:"first_name" validate:"required,max=100"`
	LastName  string `json:"last_name" validate:"max=100"`
	Document  string `json:"document" validate:"max=20"`
	Phone     string `json:"phone" validate:"max=20"`
}

func (h *Handler) createSeller(w http.ResponseWriter, r *http.Request) {
	var req sellerRequest
	if !h.bind(w, r, &req) {
		return
	}
	created, err := h.ctrl.CreateSeller(r.Context(), weighing.Seller{
		Code:      req.Code,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Document:  req.Document,
		Phone:     req.Phone,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) getSeller(w http.ResponseWriter, r *http.Request) {
	s, err := h.ctrl.LookupSeller(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, s)
}

type sellerUpdateRequest struct {
	FirstName *string `json:"first_name" validate:"omitempty,min=1,max=100"`
	LastName  *string `json:"last_name" validate:"omitempty,max=100"`
	Document  *string `json:"document" validate:"omitempty,max=20"`
	Phone     *string `json:"phone" validate:"omitempty,max=20"`
	Active    *bool   `json:"active"`
}

func (h *Handler) updateSeller(w http.ResponseWriter, r *http.Request) {
	var req sellerUpdateRequest
	if !h.bind(w, r, &req) {
		return
	}
	upd := weighing.SellerUpdate{FirstName: req.FirstName, LastName: req.LastName, Document: req.Document, Phone: req.Phone, Active: req.Active}
	if err := h.ctrl.UpdateSeller(r.Context(), chi.URLParam(r, "code"), upd); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deactivateSeller(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.DeactivateSeller(r.Context(), chi.URLParam(r, "code")); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type registerRequest struct {
	Entry       string           `json:"entry" validate:"max=64"`
	ProductCode string           `json:"product_code" validate:"max=20"`
	WeightKg    *decimal.Decimal `json:"weight_kg"`
	SellerCode  string           `json:"seller_code" validate:"max=20"`
	Notes       string           `json:"notes" validate:"max=500"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.bind(w, r, &req) {
		return
	}
	created, err := h.ctrl.Register(r.Context(), register.RegisterInput{
		Entry:       req.Entry,
		ProductCode: req.ProductCode,
		Weight:      req.WeightKg,
		SellerCode:  req.SellerCode,
		Notes:       req.Notes,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	w.Header().Set("Location", "/api/weighins/"+strconv.FormatInt(created.ID, 10))
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) getWeighIn(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "Identificador de pesaje inválido")
		return
	}
	row, err := h.ctrl.GetWeighIn(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, row)
}

func (h *Handler) recent(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := h.paging(w, r)
	if !ok {
		return
	}
	rows, err := h.ctrl.Recent(r.Context(), limit, offset)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rows)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	limit, _, ok := h.paging(w, r)
	if !ok {
		return
	}
	from, to, ok := h.dateRange(w, r)
	if !ok {
		return
	}
	rows, err := h.ctrl.History(r.Context(), register.HistoryFilter{
		SellerCode: r.URL.Query().Get("seller"),
		From:       from,
		To:         to,
		Limit:      limit,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rows)
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	from, to, ok := h.dateRange(w, r)
	if !ok {
		return
	}
	stats, err := h.ctrl.Stats(r.Context(), from, to)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, stats)
}

func (h *Handler) exportCSV(w http.ResponseWriter, r *http.Request) {
	from, to, ok := h.dateRange(w, r)
	if !ok {
		return
	}
	var enc export.Encoding
	if raw := r.URL.Query().Get("encoding"); raw != "" {
		parsed, err := export.ParseEncoding(raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "Codificación no soportada")
			return
		}
		enc = parsed
	}
	out := &csvResponse{w: w, name: export.FileName(time.Now(), uuid.New()), encoding: h.ctrl.ExportEncoding(enc)}
	n, err := h.ctrl.Export(r.Context(), out, register.ExportFilter{From: from, To: to, Encoding: enc})
	if err != nil {
		if !out.started {
			h.respondError(w, err)
			return
		}
		h.logger.ErrorContext(r.Context(), "csv export interrupted", slog.Int("rows", n), slog.Any("error", err))
	}
}

type exportRequest struct {
	From     string `json:"from" validate:"omitempty,datetime=2006-01-02"`
	To       string `json:"to" validate:"omitempty,datetime=2006-01-02"`
	Encoding string `json:"encoding" validate:"omitempty,oneof=utf-8 windows-1252"`
}

type exportResponse struct {
	TaskID string `json:"task_id"`
}

func (h *Handler) enqueueExport(w http.ResponseWriter, r *http.Request) {
	if h.exports == nil {
		httpx.RespondError(w, httpx.ErrUnavailable, "Exportación en segundo plano no configurada")
		return
	}
	var req exportRequest
	if !h.bind(w, r, &req) {
		return
	}
	from, _ := h.parseDate(req.From)
	to, _ := h.parseDate(req.To)
	id, err := h.exports.EnqueueExport(r.Context(), from, to, req.Encoding)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "enqueue export", slog.Any("error", err))
		httpx.RespondError(w, err, "Error al programar la exportación")
		return
	}
	httpx.JSON(w, http.StatusAccepted, exportResponse{TaskID: id})
}

func (h *Handler) bind(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "Cuerpo JSON inválido")
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fields := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
			}
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "Campos inválidos: "+strings.Join(fields, ", "))
			return false
		}
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

func (h *Handler) paging(w http.ResponseWriter, r *http.Request) (int, int, bool) {
	limit, err := queryInt(r, "limit")
	if err != nil || limit < 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "Parámetro limit inválido")
		return 0, 0, false
	}
	offset, err := queryInt(r, "offset")
	if err != nil || offset < 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "Parámetro offset inválido")
		return 0, 0, false
	}
	return limit, offset, true
}

func (h *Handler) dateRange(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	from, err := h.parseDate(r.URL.Query().Get("from"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "Fecha inicial inválida, use AAAA-MM-DD")
		return time.Time{}, time.Time{}, false
	}
	to, err := h.parseDate(r.URL.Query().Get("to"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "Fecha final inválida, use AAAA-MM-DD")
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

func (h *Handler) parseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.ParseInLocation(dateLayout, value, h.location); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, value)
}

// respondError writes the operator message of a controller error as a
// problem document.
func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var ue *register.UserError
	if !errors.As(err, &ue) {
		httpx.RespondError(w, err, "")
		return
	}
	httpx.RespondError(w, kindError(ue.Kind), ue.Message)
}

func kindError(kind register.ErrorKind) error {
	switch kind {
	case register.KindInvalidBarcode, register.KindValidation:
		return httpx.ErrValidation
	case register.KindNotFound, register.KindNothingToExport:
		return httpx.ErrNotFound
	case register.KindConflict:
		return httpx.ErrConflict
	case register.KindUnsupported:
		return httpx.ErrNotImplemented
	default:
		return errors.New(string(kind))
	}
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func queryBool(r *http.Request, key string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return v
}

// csvResponse sets the download headers on the first write so that an error
// raised before any row can still be answered with a problem document.
type csvResponse struct {
	w        http.ResponseWriter
	name     string
	encoding export.Encoding
	started  bool
}

func (c *csvResponse) Write(p []byte) (int, error) {
	if !c.started {
		c.w.Header().Set("Content-Type", "text/csv; charset="+string(c.encoding))
		c.w.Header().Set("Content-Disposition", `attachment; filename="`+c.name+`"`)
		c.w.WriteHeader(http.StatusOK)
		c.started = true
	}
	return c.w.Write(p)
}
