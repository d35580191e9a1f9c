package extraction

import (
	"errors"
	"fmt"
	"strings"
)

// Field names an invoice field that has its own pattern list
type Field string

const (
	FieldNIT             Field = "nit"
	FieldInvoice         Field = "invoice"
	FieldSubTotal        Field = "subtotal"
	FieldIVA             Field = "iva"
	FieldTotal           Field = "total"
	FieldCUFE            Field = "cufe"
	FieldTransactionType Field = "transaction_type"
)

// AllFields lists every pattern field in display order
var AllFields = []Field{
	FieldNIT,
	FieldInvoice,
	FieldSubTotal,
	FieldIVA,
	FieldTotal,
	FieldCUFE,
	FieldTransactionType,
}

var (
	ErrUnknownField    = errors.New("unknown pattern field")
	ErrPatternNotFound = errors.New("pattern not found")
	ErrEmptyPattern    = errors.New("pattern text is required")
)

// ParseField converts a field name into a Field
func ParseField(name string) (Field, error) {
	f := Field(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range AllFields {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownField, name)
}

// Pattern is a user-configured literal anchor for locating a field value.
// Prefix is only meaningful for invoice numbers and Description only for
// transaction types.
type Pattern struct {
	ID          string `json:"id"`
	Text        string `json:"text"`
	Prefix      string `json:"prefix,omitempty"`
	Description string `json:"description,omitempty"`
}

// PatternSet holds one ordered pattern list per field. Earlier patterns take
// precedence during extraction.
type PatternSet map[Field][]Pattern

// List returns the patterns configured for a field
func (ps PatternSet) List(field Field) []Pattern {
	return ps[field]
}

// Len returns the number of patterns across every field
func (ps PatternSet) Len() int {
	n := 0
	for _, list := range ps {
		n += len(list)
	}
	return n
}

// Add appends a pattern to the end of a field's list
func (ps PatternSet) Add(field Field, p Pattern) error {
	if _, err := ParseField(string(field)); err != nil {
		return err
	}
	p.Text = strings.TrimSpace(p.Text)
	if p.Text == "" {
		return ErrEmptyPattern
	}
	if p.ID == "" {
		return fmt.Errorf("pattern id is required")
	}
	for _, existing := range ps[field] {
		if existing.ID == p.ID {
			return fmt.Errorf("duplicate pattern id %s in %s", p.ID, field)
		}
	}
	ps[field] = append(ps[field], p)
	return nil
}

// Update replaces the pattern with the given id, keeping its position
func (ps PatternSet) Update(field Field, id string, p Pattern) error {
	p.Text = strings.TrimSpace(p.Text)
	if p.Text == "" {
		return ErrEmptyPattern
	}
	list := ps[field]
	for i := range list {
		if list[i].ID == id {
			p.ID = id
			list[i] = p
			return nil
		}
	}
	return fmt.Errorf("%w: %s/%s", ErrPatternNotFound, field, id)
}

// Remove deletes the pattern with the given id
func (ps PatternSet) Remove(field Field, id string) error {
	list := ps[field]
	for i := range list {
		if list[i].ID == id {
			ps[field] = append(list[:i:i], list[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s/%s", ErrPatternNotFound, field, id)
}

// Merge appends every non-empty pattern of other, assigning fresh ids from
// newID. It returns the number of patterns added.
func (ps PatternSet) Merge(other PatternSet, newID func() string) int {
	added := 0
	for _, field := range AllFields {
		for _, p := range other[field] {
			p.ID = newID()
			if err := ps.Add(field, p); err != nil {
				continue
			}
			added++
		}
	}
	return added
}
