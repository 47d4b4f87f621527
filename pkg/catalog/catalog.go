package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/illmade-knight/go-catalogadmin/pkg/apiclient"
	"github.com/illmade-knight/go-catalogadmin/pkg/audit"
	"github.com/illmade-knight/go-catalogadmin/pkg/querycache"
	"github.com/rs/zerolog"
)

const productsPath = "/admin/products"

// Operation names, used as query key prefixes and audit operations.
const (
	OpGetProducts    = "getProducts"
	OpGetProductByID = "getProductById"
	OpAddProduct     = "addProduct"
	OpUpdateProduct  = "updateProduct"
	OpDeleteProduct  = "deleteProduct"
)

// Doer is the part of *apiclient.Client the catalog needs.
type Doer interface {
	Do(ctx context.Context, r apiclient.Request) (json.RawMessage, error)
}

// UpdateArgs identifies the product to update and carries the new values.
type UpdateArgs struct {
	ID   string
	Form ProductForm
}

// ListProvides is the tag declaration of getProducts: one tag per member plus
// the collection tag, or only the collection tag when the fetch failed.
func ListProvides(result *ProductList, err error, _ ListParams) []querycache.Tag {
	tags := []querycache.Tag{querycache.ListTag(TagType)}
	if err != nil || result == nil {
		return tags
	}
	out := make([]querycache.Tag, 0, len(result.Products)+1)
	for _, p := range result.Products {
		out = append(out, querycache.EntityTag(TagType, p.ID))
	}
	return append(out, tags...)
}

// DetailProvides is the tag declaration of getProductById. The entity tag is
// provided whether or not the fetch succeeded.
func DetailProvides(_ *Product, _ error, id string) []querycache.Tag {
	return []querycache.Tag{querycache.EntityTag(TagType, id)}
}

// AddInvalidates is the tag declaration of addProduct.
func AddInvalidates(_ *MutationResult, _ ProductForm) []querycache.Tag {
	return []querycache.Tag{querycache.ListTag(TagType)}
}

// UpdateInvalidates is the tag declaration of updateProduct.
func UpdateInvalidates(_ *MutationResult, args UpdateArgs) []querycache.Tag {
	return []querycache.Tag{querycache.EntityTag(TagType, args.ID), querycache.ListTag(TagType)}
}

// DeleteInvalidates is the tag declaration of deleteProduct. Only the
// collection tag is invalidated; a cached detail of the deleted product stays
// until it is refetched or disposed.
func DeleteInvalidates(_ *MutationResult, _ string) []querycache.Tag {
	return []querycache.Tag{querycache.ListTag(TagType)}
}

// Service runs the product operations through the query engine.
type Service struct {
	engine   *querycache.Engine
	client   Doer
	recorder audit.Recorder
	logger   zerolog.Logger

	getProducts    querycache.QueryEndpoint[ListParams, ProductList]
	getProductByID querycache.QueryEndpoint[string, Product]
	addProduct     querycache.MutationEndpoint[ProductForm, MutationResult]
	updateProduct  querycache.MutationEndpoint[UpdateArgs, MutationResult]
	deleteProduct  querycache.MutationEndpoint[string, MutationResult]
}

// NewService creates a Service. recorder may be nil.
func NewService(engine *querycache.Engine, client Doer, recorder audit.Recorder, logger zerolog.Logger) (*Service, error) {
	if engine == nil {
		return nil, errors.New("query engine cannot be nil")
	}
	if client == nil {
		return nil, errors.New("api client cannot be nil")
	}
	s := &Service{
		engine:   engine,
		client:   client,
		recorder: recorder,
		logger:   logger.With().Str("component", "CatalogService").Logger(),
	}

	s.getProducts = querycache.QueryEndpoint[ListParams, ProductList]{
		Name: OpGetProducts,
		Fetch: func(ctx context.Context, p ListParams) (json.RawMessage, error) {
			return s.client.Do(ctx, apiclient.Request{Path: productsPath, Params: p.Values()})
		},
		Provides: ListProvides,
	}
	s.getProductByID = querycache.QueryEndpoint[string, Product]{
		Name: OpGetProductByID,
		Fetch: func(ctx context.Context, id string) (json.RawMessage, error) {
			return s.client.Do(ctx, apiclient.Request{Path: productPath(id)})
		},
		Provides: DetailProvides,
	}
	s.addProduct = querycache.MutationEndpoint[ProductForm, MutationResult]{
		Name: OpAddProduct,
		Run: func(ctx context.Context, f ProductForm) (json.RawMessage, error) {
			body, err := f.Multipart(false)
			if err != nil {
				return nil, err
			}
			return s.client.Do(ctx, apiclient.Request{Method: http.MethodPost, Path: productsPath, Body: body})
		},
		Invalidates: AddInvalidates,
	}
	s.updateProduct = querycache.MutationEndpoint[UpdateArgs, MutationResult]{
		Name: OpUpdateProduct,
		Run: func(ctx context.Context, a UpdateArgs) (json.RawMessage, error) {
			body, err := a.Form.Multipart(true)
			if err != nil {
				return nil, err
			}
			return s.client.Do(ctx, apiclient.Request{Method: http.MethodPut, Path: productPath(a.ID), Body: body})
		},
		Invalidates: UpdateInvalidates,
	}
	s.deleteProduct = querycache.MutationEndpoint[string, MutationResult]{
		Name: OpDeleteProduct,
		Run: func(ctx context.Context, id string) (json.RawMessage, error) {
			return s.client.Do(ctx, apiclient.Request{Method: http.MethodDelete, Path: productPath(id)})
		},
		Invalidates: DeleteInvalidates,
	}
	return s, nil
}

func productPath(id string) string {
	return productsPath + "/" + url.PathEscape(id)
}

// GetProducts returns the (cached) product page for params.
func (s *Service) GetProducts(ctx context.Context, params ListParams) (*ProductList, error) {
	return s.getProducts.Query(ctx, s.engine, params)
}

// SubscribeProducts keeps the product page for params cached and refreshed.
func (s *Service) SubscribeProducts(params ListParams) (*querycache.TypedSubscription[ProductList], error) {
	return s.getProducts.Subscribe(s.engine, params)
}

// GetProduct returns the (cached) product with id.
func (s *Service) GetProduct(ctx context.Context, id string) (*Product, error) {
	if id == "" {
		return nil, apiclient.NewValidationError("Product id is required")
	}
	return s.getProductByID.Query(ctx, s.engine, id)
}

// SubscribeProduct keeps the product with id cached and refreshed.
func (s *Service) SubscribeProduct(id string) (*querycache.TypedSubscription[Product], error) {
	if id == "" {
		return nil, apiclient.NewValidationError("Product id is required")
	}
	return s.getProductByID.Subscribe(s.engine, id)
}

// AddProduct validates and creates a product.
func (s *Service) AddProduct(ctx context.Context, form ProductForm) (*MutationResult, error) {
	form.Normalize()
	if err := form.Validate(); err != nil {
		return nil, err
	}
	res, err := s.addProduct.Mutate(ctx, s.engine, form)
	if err != nil {
		return nil, err
	}
	var id string
	if res.Product != nil {
		id = res.Product.ID
	}
	s.record(ctx, OpAddProduct, id, AddInvalidates(res, form))
	return res, nil
}

// UpdateProduct validates and updates the product with id.
func (s *Service) UpdateProduct(ctx context.Context, id string, form ProductForm) (*MutationResult, error) {
	if id == "" {
		return nil, apiclient.NewValidationError("Product id is required")
	}
	form.Normalize()
	if err := form.Validate(); err != nil {
		return nil, err
	}
	args := UpdateArgs{ID: id, Form: form}
	res, err := s.updateProduct.Mutate(ctx, s.engine, args)
	if err != nil {
		return nil, err
	}
	s.record(ctx, OpUpdateProduct, id, UpdateInvalidates(res, args))
	return res, nil
}

// DeleteProduct deletes the product with id.
func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	if id == "" {
		return apiclient.NewValidationError("Product id is required")
	}
	res, err := s.deleteProduct.Mutate(ctx, s.engine, id)
	if err != nil {
		return err
	}
	s.record(ctx, OpDeleteProduct, id, DeleteInvalidates(res, id))
	return nil
}

func (s *Service) record(ctx context.Context, op, productID string, tags []querycache.Tag) {
	if s.recorder == nil {
		return
	}
	names := make([]string, len(tags))
	for i, t := range tags {
		names[i] = t.String()
	}
	if err := s.recorder.Record(ctx, audit.NewEntry(op, productID, names)); err != nil {
		s.logger.Warn().Err(err).Str("operation", op).Str("product_id", productID).Msg("Failed to record audit entry.")
	}
}
