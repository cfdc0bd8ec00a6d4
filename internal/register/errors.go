package register

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/chaquecarne/pesajes/internal/barcode"
	"github.com/chaquecarne/pesajes/internal/weighing"
)

// ErrorKind classifies a UserError for front-ends.
type ErrorKind string

const (
	KindInvalidBarcode  ErrorKind = "invalid_barcode"
	KindValidation      ErrorKind = "validation"
	KindNotFound        ErrorKind = "not_found"
	KindConflict        ErrorKind = "conflict"
	KindUnsupported     ErrorKind = "unsupported"
	KindNothingToExport ErrorKind = "nothing_to_export"
	KindInternal        ErrorKind = "internal"
)

// UserError carries the message shown to the operator. Err keeps the cause
// for errors.Is and errors.As.
type UserError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *UserError) Error() string { return e.Message }

func (e *UserError) Unwrap() error { return e.Err }

func userError(kind ErrorKind, err error, format string, args ...any) *UserError {
	return &UserError{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// fail converts err into a UserError. Failures that are not the operator's
// doing are logged and reported as "Error al <action>: <detail>".
func (c *Controller) fail(ctx context.Context, action string, err error) error {
	if err == nil {
		return nil
	}
	if ue, ok := Describe(err); ok {
		return ue
	}
	c.logger.ErrorContext(ctx, "Error al "+action, slog.Any("error", err))
	return userError(KindInternal, err, "Error al %s: %s", action, err.Error())
}

// Describe maps barcode and record errors to their operator message. It
// reports false for failures the operator cannot fix.
func Describe(err error) (*UserError, bool) {
	var ue *UserError
	if errors.As(err, &ue) {
		return ue, true
	}
	var nf *weighing.NotFoundError
	switch {
	case errors.Is(err, barcode.ErrInvalidFormat):
		return userError(KindInvalidBarcode, err, "Código de barras inválido: se esperaban %d dígitos", barcode.Length), true
	case errors.Is(err, barcode.ErrWeightOutOfRange):
		return userError(KindValidation, err, "El peso de la etiqueta debe ser menor a 100 kg"), true
	case errors.Is(err, barcode.ErrEmptyCode):
		return userError(KindValidation, err, "Ingrese un código de producto"), true
	case errors.As(err, &nf):
		return notFound(nf), true
	case errors.Is(err, weighing.ErrNotFound):
		return userError(KindNotFound, err, "No se encontró el registro solicitado"), true
	case errors.Is(err, weighing.ErrInvalidWeight):
		return userError(KindValidation, err, "El peso debe ser mayor a 0 y menor a 100 kg"), true
	case errors.Is(err, weighing.ErrValidation):
		return userError(KindValidation, err, "Datos inválidos: %s", detail(err)), true
	case errors.Is(err, weighing.ErrReferentialIntegrity):
		return userError(KindConflict, err, "El producto o el vendedor no existe o está inactivo"), true
	case errors.Is(err, weighing.ErrDuplicate):
		return userError(KindConflict, err, "Ya existe un registro con ese código"), true
	case errors.Is(err, weighing.ErrUnsupported):
		return userError(KindUnsupported, err, "Operación no disponible en la base de datos local"), true
	case errors.Is(err, weighing.ErrNothingToExport):
		return userError(KindNothingToExport, err, "No hay datos para exportar"), true
	}
	return nil, false
}

func notFound(nf *weighing.NotFoundError) *UserError {
	switch nf.Entity {
	case weighing.EntityProduct:
		return userError(KindNotFound, nf, "No se encontró un producto con el código: %s", nf.Code)
	case weighing.EntitySeller:
		return userError(KindNotFound, nf, "No se encontró un vendedor con el código: %s", nf.Code)
	default:
		return userError(KindNotFound, nf, "No se encontró el pesaje: %s", nf.Code)
	}
}

// detail strips the sentinel prefix from a wrapped validation error.
func detail(err error) string {
	msg := err.Error()
	if i := strings.LastIndex(msg, weighing.ErrValidation.Error()+": "); i >= 0 {
		return msg[i+len(weighing.ErrValidation.Error())+2:]
	}
	return msg
}
