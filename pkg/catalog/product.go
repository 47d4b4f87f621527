// Package catalog is the Product resource layer: typed list/get/create/update/
// delete operations over the backend, each declaring the cache tags it provides
// or invalidates.
package catalog

import (
	"bytes"
	"encoding/json"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// TagType is the cache tag type of products.
const TagType = "Product"

// Status is the publication state of a product.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusDraft    Status = "draft"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusDraft:
		return true
	}
	return false
}

// Currency is an ISO 4217 code accepted by the catalog.
type Currency string

const (
	USD Currency = "USD"
	INR Currency = "INR"
	EUR Currency = "EUR"
	GBP Currency = "GBP"
	JPY Currency = "JPY"
	CAD Currency = "CAD"
	AUD Currency = "AUD"
)

// DefaultCurrency applies when a form leaves the currency empty.
const DefaultCurrency = INR

var currencySymbols = map[Currency]string{
	USD: "$",
	INR: "₹",
	EUR: "€",
	GBP: "£",
	JPY: "¥",
	CAD: "$",
	AUD: "$",
}

// Valid reports whether c is an accepted currency.
func (c Currency) Valid() bool {
	_, ok := currencySymbols[c]
	return ok
}

// Symbol returns the display symbol, "$" for unknown or empty codes.
func (c Currency) Symbol() string {
	if s, ok := currencySymbols[c]; ok {
		return s
	}
	return "$"
}

// Currencies lists the accepted currencies in display order.
func Currencies() []Currency {
	return []Currency{USD, INR, EUR, GBP, JPY, CAD, AUD}
}

// MediaItem is an uploaded image or video of a product.
type MediaItem struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// Specification is one free-form key/value row.
type Specification struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Product is the client-side projection of a backend product.
type Product struct {
	ID             string          `json:"_id"`
	SKU            string          `json:"sku,omitempty"`
	Name           string          `json:"name"`
	Category       string          `json:"category"`
	Price          decimal.Decimal `json:"price"`
	Currency       Currency        `json:"currency,omitempty"`
	Stock          int             `json:"stock"`
	Status         Status          `json:"status"`
	Description    string          `json:"description,omitempty"`
	Media          []MediaItem     `json:"media,omitempty"`
	Specifications []Specification `json:"specifications,omitempty"`
	CreatedAt      *time.Time      `json:"createdAt,omitempty"`
	UpdatedAt      *time.Time      `json:"updatedAt,omitempty"`
}

// DisplayPrice renders the price with its currency symbol.
func (p Product) DisplayPrice() string {
	return p.Currency.Symbol() + p.Price.String()
}

// Thumbnail returns the URL of the first media item when it is an image.
func (p Product) Thumbnail() (string, bool) {
	if len(p.Media) == 0 || p.Media[0].Type != "image" {
		return "", false
	}
	return p.Media[0].URL, true
}

// ProductList is one page of products. Missing pagination fields decode as zero.
type ProductList struct {
	Products   []Product `json:"products"`
	Total      int       `json:"total,omitempty"`
	Page       int       `json:"page,omitempty"`
	TotalPages int       `json:"totalPages,omitempty"`
}

// UnmarshalJSON accepts the paginated object as well as a bare array.
func (l *ProductList) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var products []Product
		if err := json.Unmarshal(trimmed, &products); err != nil {
			return err
		}
		*l = ProductList{Products: products, Total: len(products)}
		return nil
	}
	type plain ProductList
	var p plain
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return err
	}
	*l = ProductList(p)
	return nil
}

// IDs returns the product ids in list order.
func (l ProductList) IDs() []string {
	ids := make([]string, len(l.Products))
	for i, p := range l.Products {
		ids[i] = p.ID
	}
	return ids
}

// ListParams filters and paginates getProducts. Zero values are omitted both
// from the query string and from the cache key.
type ListParams struct {
	Page     int    `json:"page,omitempty"`
	Limit    int    `json:"limit,omitempty"`
	Search   string `json:"search,omitempty"`
	Category string `json:"category,omitempty"`
	Status   Status `json:"status,omitempty"`
}

// IsZero reports whether no filter is set.
func (p ListParams) IsZero() bool {
	return p == ListParams{}
}

// Values encodes the params as a query string.
func (p ListParams) Values() url.Values {
	v := url.Values{}
	if p.Page > 0 {
		v.Set("page", strconv.Itoa(p.Page))
	}
	if p.Limit > 0 {
		v.Set("limit", strconv.Itoa(p.Limit))
	}
	if p.Search != "" {
		v.Set("search", p.Search)
	}
	if p.Category != "" {
		v.Set("category", p.Category)
	}
	if p.Status != "" {
		v.Set("status", string(p.Status))
	}
	return v
}

// ParseListParams reads ListParams from a query string. Malformed numbers are
// ignored.
func ParseListParams(q url.Values) ListParams {
	p := ListParams{
		Search:   q.Get("search"),
		Category: q.Get("category"),
		Status:   Status(q.Get("status")),
	}
	if n, err := strconv.Atoi(q.Get("page")); err == nil && n > 0 {
		p.Page = n
	}
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		p.Limit = n
	}
	return p
}

// MutationResult is the backend's answer to a write. The backend wraps the
// product as {"message", "product"} or returns the bare product.
type MutationResult struct {
	Message string   `json:"message,omitempty"`
	Product *Product `json:"product,omitempty"`
}

// UnmarshalJSON accepts both response shapes.
func (r *MutationResult) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if msg, ok := fields["message"]; ok {
		_ = json.Unmarshal(msg, &r.Message)
	}
	if raw, ok := fields["product"]; ok {
		var p Product
		if err := json.Unmarshal(raw, &p); err != nil {
			return err
		}
		r.Product = &p
		return nil
	}
	if _, ok := fields["_id"]; ok {
		var p Product
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		r.Product = &p
	}
	return nil
}
