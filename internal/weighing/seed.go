package weighing

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

func samplePrice(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

// SampleProducts is the demo catalogue loaded by the seed command.
var SampleProducts = []Product{
	{Code: "P001", Name: "Carne molida", Description: "Carne molida de res", PricePerKg: samplePrice("8.50")},
	{Code: "P002", Name: "Lomo fino", Description: "Lomo fino de res", PricePerKg: samplePrice("12.75")},
	{Code: "P003", Name: "Costilla", Description: "Costilla de cerdo", PricePerKg: samplePrice("7.25")},
	{Code: "P004", Name: "Pollo entero", Description: "Pollo entero sin menudencias", PricePerKg: samplePrice("5.99")},
	{Code: "P005", Name: "Pechuga de pollo", Description: "Pechuga de pollo sin hueso", PricePerKg: samplePrice("9.25")},
}

// SampleSellers is the demo staff loaded by the seed command.
var SampleSellers = []Seller{
	{Code: "V001", FirstName: "Juan", LastName: "Pérez", Document: "12345678", Phone: "555-123-4567"},
	{Code: "V002", FirstName: "María", LastName: "González", Document: "23456789", Phone: "555-234-5678"},
	{Code: "V003", FirstName: "Carlos", LastName: "Rodríguez", Document: "34567890", Phone: "555-345-6789"},
	{Code: "V004", FirstName: "Ana", LastName: "Martínez", Document: "45678901", Phone: "555-456-7890"},
	{Code: "V005", FirstName: "Luis", LastName: "Hernández", Document: "56789012", Phone: "555-567-8901"},
}

// SeedResult counts the rows inserted by Seed.
type SeedResult struct {
	Products int
	Sellers  int
}

// Seed inserts the sample catalogue and staff. Codes already present are
// skipped, so running it twice is harmless.
func Seed(ctx context.Context, store Store) (SeedResult, error) {
	var res SeedResult
	for _, p := range SampleProducts {
		p.Active = true
		err := store.CreateProduct(ctx, p)
		switch {
		case err == nil:
			res.Products++
		case errors.Is(err, ErrDuplicate):
		default:
			return res, err
		}
	}
	for _, s := range SampleSellers {
		s.Active = true
		err := store.CreateSeller(ctx, s)
		switch {
		case err == nil:
			res.Sellers++
		case errors.Is(err, ErrDuplicate):
		default:
			return res, err
		}
	}
	return res, nil
}
