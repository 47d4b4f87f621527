package console

import (
	"net/http"

	"github.com/illmade-knight/go-catalogadmin/pkg/catalog"
)

// productView is a product with the fields the listing and detail screens
// render directly.
type productView struct {
	catalog.Product
	DisplayPrice string `json:"displayPrice"`
	Thumbnail    string `json:"thumbnail,omitempty"`
}

func newProductView(p catalog.Product) productView {
	v := productView{Product: p, DisplayPrice: p.DisplayPrice()}
	if url, ok := p.Thumbnail(); ok {
		v.Thumbnail = url
	}
	return v
}

type productListView struct {
	Products   []productView `json:"products"`
	Total      int           `json:"total,omitempty"`
	Page       int           `json:"page,omitempty"`
	TotalPages int           `json:"totalPages,omitempty"`
}

func newProductListView(l *catalog.ProductList) productListView {
	v := productListView{
		Products:   make([]productView, 0, len(l.Products)),
		Total:      l.Total,
		Page:       l.Page,
		TotalPages: l.TotalPages,
	}
	for _, p := range l.Products {
		v.Products = append(v.Products, newProductView(p))
	}
	return v
}

type currencyOption struct {
	Code   catalog.Currency `json:"code"`
	Symbol string           `json:"symbol"`
}

type formOptions struct {
	Currencies      []currencyOption `json:"currencies"`
	DefaultCurrency catalog.Currency `json:"defaultCurrency"`
	Statuses        []catalog.Status `json:"statuses"`
}

// handleFormOptions lists the choices of the product form.
func (h *Handler) handleFormOptions(w http.ResponseWriter, _ *http.Request) {
	opts := formOptions{
		DefaultCurrency: catalog.DefaultCurrency,
		Statuses:        []catalog.Status{catalog.StatusActive, catalog.StatusInactive, catalog.StatusDraft},
	}
	for _, c := range catalog.Currencies() {
		opts.Currencies = append(opts.Currencies, currencyOption{Code: c, Symbol: c.Symbol()})
	}
	writeJSON(w, http.StatusOK, opts)
}
