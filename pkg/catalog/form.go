package catalog

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/illmade-knight/go-catalogadmin/pkg/apiclient"
	"github.com/illmade-knight/go-catalogadmin/pkg/media"
	"github.com/shopspring/decimal"
)

// ProductForm is the write payload of addProduct and updateProduct.
type ProductForm struct {
	Name           string          `json:"name"`
	Category       string          `json:"category"`
	Price          decimal.Decimal `json:"price"`
	Currency       Currency        `json:"currency"`
	Stock          int             `json:"stock"`
	Description    string          `json:"description"`
	Status         Status          `json:"status"`
	Specifications []Specification `json:"specifications"`
	// ExistingMedia is the media kept on update; ignored on create.
	ExistingMedia []MediaItem `json:"existingMedia,omitempty"`
	// Files are new uploads.
	Files []media.File `json:"-"`
}

// FormFromProduct prefills a form for editing p, keeping its media.
func FormFromProduct(p Product) ProductForm {
	f := ProductForm{
		Name:           p.Name,
		Category:       p.Category,
		Price:          p.Price,
		Currency:       p.Currency,
		Stock:          p.Stock,
		Description:    p.Description,
		Status:         p.Status,
		Specifications: append([]Specification(nil), p.Specifications...),
		ExistingMedia:  append([]MediaItem(nil), p.Media...),
	}
	f.Normalize()
	return f
}

// Normalize applies defaults and trims text fields.
func (f *ProductForm) Normalize() {
	f.Name = strings.TrimSpace(f.Name)
	f.Category = strings.TrimSpace(f.Category)
	if f.Currency == "" {
		f.Currency = DefaultCurrency
	}
	if f.Status == "" {
		f.Status = StatusActive
	}
	if f.Specifications == nil {
		f.Specifications = []Specification{}
	}
}

// Validate checks the form before anything is sent.
func (f ProductForm) Validate() error {
	switch {
	case strings.TrimSpace(f.Name) == "":
		return apiclient.NewValidationError("Product name is required")
	case strings.TrimSpace(f.Category) == "":
		return apiclient.NewValidationError("Category is required")
	case f.Price.IsNegative():
		return apiclient.NewValidationError("Price cannot be negative")
	case f.Stock < 0:
		return apiclient.NewValidationError("Stock cannot be negative")
	case f.Currency != "" && !f.Currency.Valid():
		return apiclient.NewValidationError(fmt.Sprintf("Unsupported currency %q", f.Currency))
	case f.Status != "" && !f.Status.Valid():
		return apiclient.NewValidationError(fmt.Sprintf("Unsupported status %q", f.Status))
	}
	if _, rejected := media.Filter(f.Files); len(rejected) > 0 {
		return apiclient.NewValidationError(media.RejectionMessage)
	}
	return nil
}

// Multipart encodes the form the way the backend expects it: plain fields,
// specifications and existingMedia as JSON, one mediaFiles part per file.
func (f ProductForm) Multipart(update bool) (*apiclient.Multipart, error) {
	f.Normalize()
	specs, err := json.Marshal(f.Specifications)
	if err != nil {
		return nil, fmt.Errorf("failed to encode specifications: %w", err)
	}

	body := &apiclient.Multipart{}
	body.Add("name", f.Name)
	body.Add("category", f.Category)
	body.Add("price", f.Price.String())
	body.Add("currency", string(f.Currency))
	body.Add("stock", strconv.Itoa(f.Stock))
	body.Add("description", f.Description)
	body.Add("status", string(f.Status))
	body.Add("specifications", string(specs))
	if update {
		existing := f.ExistingMedia
		if existing == nil {
			existing = []MediaItem{}
		}
		data, err := json.Marshal(existing)
		if err != nil {
			return nil, fmt.Errorf("failed to encode existing media: %w", err)
		}
		body.Add("existingMedia", string(data))
	}
	for _, file := range f.Files {
		body.AddFile("mediaFiles", file.Name, file.ContentType, file.Data)
	}
	return body, nil
}
