// Package weighingtest provides an in-memory Record Store for tests.
package weighingtest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/chaquecarne/pesajes/internal/weighing"
)

// Memory is a goroutine safe weighing.Store kept in maps. It follows the
// ordering rules of the configured profile.
type Memory struct {
	mu       sync.Mutex
	profile  weighing.Profile
	products map[string]weighing.Product
	sellers  map[string]weighing.Seller
	weighIns []weighing.NewWeighIn
	nextID   int64

	// Err, when set, is returned by every call.
	Err error
	// Calls counts store invocations by method name.
	Calls map[string]int
}

var _ weighing.Store = (*Memory)(nil)

// NewMemory builds an empty store for the given profile.
func NewMemory(profile weighing.Profile) *Memory {
	return &Memory{
		profile:  profile,
		products: map[string]weighing.Product{},
		sellers:  map[string]weighing.Seller{},
		Calls:    map[string]int{},
	}
}

func (m *Memory) enter(name string) error {
	m.Calls[name]++
	return m.Err
}

func (m *Memory) Profile() weighing.Profile { return m.profile }

func (m *Memory) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enter("Ping")
}

func (m *Memory) Close() error { return nil }

func (m *Memory) FindProduct(_ context.Context, code string) (weighing.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("FindProduct"); err != nil {
		return weighing.Product{}, err
	}
	p, ok := m.products[code]
	if !ok || !p.Active {
		return weighing.Product{}, weighing.ErrNotFound
	}
	return p, nil
}

func (m *Memory) ListProducts(_ context.Context, includeInactive bool) ([]weighing.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListProducts"); err != nil {
		return nil, err
	}
	out := []weighing.Product{}
	for _, p := range m.products {
		if p.Active || includeInactive {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) CreateProduct(_ context.Context, p weighing.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CreateProduct"); err != nil {
		return err
	}
	if _, ok := m.products[p.Code]; ok {
		return weighing.ErrDuplicate
	}
	if m.profile == weighing.ProfileEmbedded {
		p.PricePerKg = decimal.NullDecimal{}
		p.Active = true
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	m.products[p.Code] = p
	return nil
}

func (m *Memory) UpdateProduct(_ context.Context, code string, upd weighing.ProductUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("UpdateProduct"); err != nil {
		return err
	}
	if upd.Empty() {
		return nil
	}
	p, ok := m.products[code]
	if !ok {
		return weighing.ErrNotFound
	}
	if m.profile == weighing.ProfileEmbedded && (upd.PricePerKg != nil || upd.Active != nil) {
		return weighing.ErrUnsupported
	}
	if upd.Name != nil {
		p.Name = *upd.Name
	}
	if upd.Description != nil {
		p.Description = *upd.Description
	}
	if upd.PricePerKg != nil {
		p.PricePerKg.Decimal, p.PricePerKg.Valid = *upd.PricePerKg, true
	}
	if upd.Active != nil {
		p.Active = *upd.Active
	}
	p.UpdatedAt = time.Now().UTC()
	m.products[code] = p
	return nil
}

func (m *Memory) DeactivateProduct(ctx context.Context, code string) error {
	active := false
	return m.UpdateProduct(ctx, code, weighing.ProductUpdate{Active: &active})
}

func (m *Memory) FindSeller(_ context.Context, code string) (weighing.Seller, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("FindSeller"); err != nil {
		return weighing.Seller{}, err
	}
	s, ok := m.sellers[code]
	if !ok || !s.Active {
		return weighing.Seller{}, weighing.ErrNotFound
	}
	return s, nil
}

func (m *Memory) ListSellers(_ context.Context, includeInactive bool) ([]weighing.Seller, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListSellers"); err != nil {
		return nil, err
	}
	out := []weighing.Seller{}
	for _, s := range m.sellers {
		if s.Active || includeInactive {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastName != out[j].LastName {
			return out[i].LastName < out[j].LastName
		}
		return out[i].FirstName < out[j].FirstName
	})
	return out, nil
}

func (m *Memory) CreateSeller(_ context.Context, s weighing.Seller) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CreateSeller"); err != nil {
		return err
	}
	if _, ok := m.sellers[s.Code]; ok {
		return weighing.ErrDuplicate
	}
	if m.profile == weighing.ProfileEmbedded {
		s.Document, s.Phone, s.Active = "", "", true
	}
	now := time.Now().UTC()
	s.CreatedAt, s.UpdatedAt = now, now
	m.sellers[s.Code] = s
	return nil
}

func (m *Memory) UpdateSeller(_ context.Context, code string, upd weighing.SellerUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("UpdateSeller"); err != nil {
		return err
	}
	if upd.Empty() {
		return nil
	}
	s, ok := m.sellers[code]
	if !ok {
		return weighing.ErrNotFound
	}
	if m.profile == weighing.ProfileEmbedded && (upd.Document != nil || upd.Phone != nil || upd.Active != nil) {
		return weighing.ErrUnsupported
	}
	if upd.FirstName != nil {
		s.FirstName = *upd.FirstName
	}
	if upd.LastName != nil {
		s.LastName = *upd.LastName
	}
	if upd.Document != nil {
		s.Document = *upd.Document
	}
	if upd.Phone != nil {
		s.Phone = *upd.Phone
	}
	if upd.Active != nil {
		s.Active = *upd.Active
	}
	s.UpdatedAt = time.Now().UTC()
	m.sellers[code] = s
	return nil
}

func (m *Memory) DeactivateSeller(ctx context.Context, code string) error {
	active := false
	return m.UpdateSeller(ctx, code, weighing.SellerUpdate{Active: &active})
}

func (m *Memory) CreateWeighIn(_ context.Context, in weighing.NewWeighIn) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CreateWeighIn"); err != nil {
		return 0, err
	}
	p, pok := m.products[in.ProductCode]
	s, sok := m.sellers[in.SellerCode]
	if !pok || !sok || !p.Active || !s.Active {
		return 0, weighing.ErrReferentialIntegrity
	}
	if m.profile == weighing.ProfileEmbedded {
		in.PricePerKg = decimal.NullDecimal{}
		in.Notes = ""
	}
	m.nextID++
	m.weighIns = append(m.weighIns, in)
	return m.nextID, nil
}

func (m *Memory) GetWeighIn(_ context.Context, id int64) (weighing.WeighIn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetWeighIn"); err != nil {
		return weighing.WeighIn{}, err
	}
	if id <= 0 || id > int64(len(m.weighIns)) {
		return weighing.WeighIn{}, weighing.ErrNotFound
	}
	return m.row(id), nil
}

func (m *Memory) ListWeighIns(_ context.Context, limit, offset int) ([]weighing.WeighIn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListWeighIns"); err != nil {
		return nil, err
	}
	rows := m.filter(func(weighing.WeighIn) bool { return true }, true)
	if offset >= len(rows) {
		return []weighing.WeighIn{}, nil
	}
	rows = rows[offset:]
	if limit >= 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows, nil
}

func (m *Memory) ListWeighInsBetween(_ context.Context, from, to time.Time) ([]weighing.WeighIn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListWeighInsBetween"); err != nil {
		return nil, err
	}
	rng := weighing.DateRange{From: from, To: to}
	return m.filter(func(w weighing.WeighIn) bool { return rng.Contains(w.RecordedAt) }, m.profile == weighing.ProfileEmbedded), nil
}

func (m *Memory) ListWeighInsBySeller(_ context.Context, sellerCode string, limit int) ([]weighing.WeighIn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListWeighInsBySeller"); err != nil {
		return nil, err
	}
	rows := m.filter(func(w weighing.WeighIn) bool { return w.SellerCode == sellerCode }, m.profile == weighing.ProfileEmbedded)
	if limit >= 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows, nil
}

func (m *Memory) AggregateBySeller(_ context.Context, rng weighing.DateRange) ([]weighing.SellerStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("AggregateBySeller"); err != nil {
		return nil, err
	}
	bySeller := map[string]*weighing.SellerStats{}
	var order []string
	for _, w := range m.filter(func(w weighing.WeighIn) bool { return rng.Contains(w.RecordedAt) }, false) {
		st, ok := bySeller[w.SellerCode]
		if !ok {
			st = &weighing.SellerStats{SellerCode: w.SellerCode, SellerName: w.SellerName}
			bySeller[w.SellerCode] = st
			order = append(order, w.SellerCode)
		}
		st.Count++
		st.TotalWeight = st.TotalWeight.Add(w.WeightKg)
		if w.Total.Valid {
			st.TotalAmount.Decimal = st.TotalAmount.Decimal.Add(w.Total.Decimal)
			st.TotalAmount.Valid = true
		}
	}
	out := make([]weighing.SellerStats, 0, len(order))
	for _, code := range order {
		st := bySeller[code]
		st.AvgWeight = st.TotalWeight.Div(decimal.NewFromInt(st.Count)).Round(4)
		out = append(out, *st)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].TotalWeight.Equal(out[j].TotalWeight) {
			return out[i].TotalWeight.GreaterThan(out[j].TotalWeight)
		}
		return out[i].SellerCode < out[j].SellerCode
	})
	return out, nil
}

func (m *Memory) row(id int64) weighing.WeighIn {
	in := m.weighIns[id-1]
	return weighing.WeighIn{
		ID:          id,
		ProductCode: in.ProductCode,
		ProductName: m.products[in.ProductCode].Name,
		WeightKg:    in.WeightKg,
		SellerCode:  in.SellerCode,
		SellerName:  m.sellers[in.SellerCode].FullName(),
		PricePerKg:  in.PricePerKg,
		Total:       weighing.LineTotal(in.WeightKg, in.PricePerKg),
		RecordedAt:  in.RecordedAt,
		Notes:       in.Notes,
	}
}

func (m *Memory) filter(keep func(weighing.WeighIn) bool, newestFirst bool) []weighing.WeighIn {
	out := []weighing.WeighIn{}
	for i := range m.weighIns {
		w := m.row(int64(i + 1))
		if keep(w) {
			out = append(out, w)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.RecordedAt.Equal(b.RecordedAt) {
			if newestFirst {
				return a.RecordedAt.After(b.RecordedAt)
			}
			return a.RecordedAt.Before(b.RecordedAt)
		}
		if newestFirst {
			return a.ID > b.ID
		}
		return a.ID < b.ID
	})
	return out
}
