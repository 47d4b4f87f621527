package catalog_test

import (
	"encoding/json"
	"net/url"
	"testing"

	"github.com/illmade-knight/go-catalogadmin/pkg/catalog"
	"github.com/illmade-knight/go-catalogadmin/pkg/querycache"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProductList_Decode(t *testing.T) {
	t.Run("Paginated object", func(t *testing.T) {
		var l catalog.ProductList
		require.NoError(t, json.Unmarshal([]byte(`{"products":[{"_id":"a","price":12.5}],"total":9,"page":2,"totalPages":5}`), &l))
		assert.Equal(t, []string{"a"}, l.IDs())
		assert.Equal(t, 2, l.Page)
		assert.Equal(t, 5, l.TotalPages)
		assert.True(t, decimal.RequireFromString("12.5").Equal(l.Products[0].Price))
	})

	t.Run("Missing pagination decodes as zero", func(t *testing.T) {
		var l catalog.ProductList
		require.NoError(t, json.Unmarshal([]byte(`{"products":[]}`), &l))
		assert.Zero(t, l.TotalPages)
	})

	t.Run("Bare array", func(t *testing.T) {
		var l catalog.ProductList
		require.NoError(t, json.Unmarshal([]byte(`[{"_id":"a"},{"_id":"b"}]`), &l))
		assert.Equal(t, []string{"a", "b"}, l.IDs())
		assert.Equal(t, 2, l.Total)
	})
}

func TestMutationResult_Decode(t *testing.T) {
	var wrapped catalog.MutationResult
	require.NoError(t, json.Unmarshal([]byte(`{"message":"Product created","product":{"_id":"p9"}}`), &wrapped))
	assert.Equal(t, "Product created", wrapped.Message)
	assert.Equal(t, "p9", wrapped.Product.ID)

	var bare catalog.MutationResult
	require.NoError(t, json.Unmarshal([]byte(`{"_id":"p3","name":"Desk"}`), &bare))
	assert.Equal(t, "Desk", bare.Product.Name)

	var msgOnly catalog.MutationResult
	require.NoError(t, json.Unmarshal([]byte(`{"message":"Product deleted"}`), &msgOnly))
	assert.Nil(t, msgOnly.Product)
}

func TestListParams(t *testing.T) {
	p := catalog.ListParams{Page: 2, Limit: 20, Search: "lamp", Status: catalog.StatusDraft}

	assert.Equal(t, "limit=20&page=2&search=lamp&status=draft", p.Values().Encode())
	assert.Equal(t, p, catalog.ParseListParams(p.Values()))
	assert.Equal(t, catalog.ListParams{}, catalog.ParseListParams(url.Values{"page": {"x"}, "limit": {"-1"}}))
	assert.True(t, catalog.ListParams{}.IsZero())

	assert.Equal(t, "getProducts()", querycache.Key(catalog.OpGetProducts, nil))
	assert.Equal(t, `getProducts({"page":2,"limit":20,"search":"lamp","status":"draft"})`, querycache.Key(catalog.OpGetProducts, p))
}

func TestProductDisplay(t *testing.T) {
	p := catalog.Product{Price: decimal.RequireFromString("1299"), Currency: catalog.INR}
	assert.Equal(t, "₹1299", p.DisplayPrice())
	assert.Equal(t, "$5", catalog.Product{Price: decimal.NewFromInt(5)}.DisplayPrice())

	_, ok := p.Thumbnail()
	assert.False(t, ok)
	p.Media = []catalog.MediaItem{{Type: "image", URL: "https://cdn/x.jpg"}}
	thumb, ok := p.Thumbnail()
	assert.True(t, ok)
	assert.Equal(t, "https://cdn/x.jpg", thumb)
	assert.Len(t, catalog.Currencies(), 7)
}

func TestProductForm_Multipart(t *testing.T) {
	form := catalog.ProductForm{
		Name:           " Desk ",
		Category:       "Furniture",
		Price:          decimal.RequireFromString("10.00"),
		Stock:          1,
		Specifications: []catalog.Specification{{Key: "Color", Value: "Oak"}},
		ExistingMedia:  []catalog.MediaItem{{Type: "image", URL: "u"}},
	}

	body, err := form.Multipart(true)
	require.NoError(t, err)

	name, _ := body.Value("name")
	assert.Equal(t, "Desk", name)
	price, _ := body.Value("price")
	assert.Equal(t, "10", price)
	specs, _ := body.Value("specifications")
	assert.JSONEq(t, `[{"key":"Color","value":"Oak"}]`, specs)
	existing, ok := body.Value("existingMedia")
	require.True(t, ok)
	assert.JSONEq(t, `[{"type":"image","url":"u"}]`, existing)
	currency, _ := body.Value("currency")
	assert.Equal(t, "INR", currency)
}
