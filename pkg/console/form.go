package console

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/illmade-knight/go-catalogadmin/pkg/apiclient"
	"github.com/illmade-knight/go-catalogadmin/pkg/catalog"
	"github.com/illmade-knight/go-catalogadmin/pkg/media"
	"github.com/shopspring/decimal"
)

const maxUploadBytes = 64 << 20

// productRequest is the JSON form of a product write. MediaPaths name files
// in the configured media source.
type productRequest struct {
	Name           string                  `json:"name"`
	Category       string                  `json:"category"`
	Price          decimal.Decimal         `json:"price"`
	Currency       catalog.Currency        `json:"currency"`
	Stock          int                     `json:"stock"`
	Description    string                  `json:"description"`
	Status         catalog.Status          `json:"status"`
	Specifications []catalog.Specification `json:"specifications"`
	ExistingMedia  []catalog.MediaItem     `json:"existingMedia"`
	MediaPaths     []string                `json:"mediaPaths"`
}

// parseProductForm reads a product write from either a multipart form, shaped
// like the backend's, or a JSON body.
func (h *Handler) parseProductForm(r *http.Request) (catalog.ProductForm, error) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "multipart/form-data" {
		return parseMultipartForm(r)
	}

	var req productRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxUploadBytes)).Decode(&req); err != nil {
		return catalog.ProductForm{}, apiclient.NewValidationError("Invalid request body")
	}
	form := catalog.ProductForm{
		Name:           req.Name,
		Category:       req.Category,
		Price:          req.Price,
		Currency:       req.Currency,
		Stock:          req.Stock,
		Description:    req.Description,
		Status:         req.Status,
		Specifications: req.Specifications,
		ExistingMedia:  req.ExistingMedia,
	}
	if len(req.MediaPaths) > 0 {
		if h.media == nil {
			return catalog.ProductForm{}, apiclient.NewValidationError("No media source is configured")
		}
		files, err := media.Load(r.Context(), h.media, req.MediaPaths)
		if err != nil {
			msg := "Media file could not be loaded"
			if errors.Is(err, media.ErrUnsupportedType) {
				msg = media.RejectionMessage
			}
			return catalog.ProductForm{}, &apiclient.Error{Kind: apiclient.KindValidation, Message: msg, Err: err}
		}
		form.Files = files
	}
	return form, nil
}

func parseMultipartForm(r *http.Request) (catalog.ProductForm, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return catalog.ProductForm{}, apiclient.NewValidationError("Invalid multipart form")
	}
	form := catalog.ProductForm{
		Name:        r.FormValue("name"),
		Category:    r.FormValue("category"),
		Currency:    catalog.Currency(r.FormValue("currency")),
		Description: r.FormValue("description"),
		Status:      catalog.Status(r.FormValue("status")),
	}

	if v := strings.TrimSpace(r.FormValue("price")); v != "" {
		price, err := decimal.NewFromString(v)
		if err != nil {
			return catalog.ProductForm{}, apiclient.NewValidationError("Price must be a number")
		}
		form.Price = price
	}
	if v := strings.TrimSpace(r.FormValue("stock")); v != "" {
		stock, err := strconv.Atoi(v)
		if err != nil {
			return catalog.ProductForm{}, apiclient.NewValidationError("Stock must be a whole number")
		}
		form.Stock = stock
	}
	if v := r.FormValue("specifications"); v != "" {
		if err := json.Unmarshal([]byte(v), &form.Specifications); err != nil {
			return catalog.ProductForm{}, apiclient.NewValidationError("Invalid specifications")
		}
	}
	if v := r.FormValue("existingMedia"); v != "" {
		if err := json.Unmarshal([]byte(v), &form.ExistingMedia); err != nil {
			return catalog.ProductForm{}, apiclient.NewValidationError("Invalid existing media")
		}
	}

	for _, fh := range r.MultipartForm.File["mediaFiles"] {
		f, err := fh.Open()
		if err != nil {
			return catalog.ProductForm{}, fmt.Errorf("failed to open upload %s: %w", fh.Filename, err)
		}
		data, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			return catalog.ProductForm{}, fmt.Errorf("failed to read upload %s: %w", fh.Filename, err)
		}
		ct := fh.Header.Get("Content-Type")
		if ct == "" || ct == "application/octet-stream" {
			ct = http.DetectContentType(data)
		}
		form.Files = append(form.Files, media.File{Name: fh.Filename, ContentType: ct, Data: data})
	}
	return form, nil
}
