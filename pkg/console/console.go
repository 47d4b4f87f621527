// Package console serves the admin console's JSON endpoints. Reads go through
// the product query cache, so concurrent screens share fetches and see writes
// as soon as the cache has refreshed.
package console

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/illmade-knight/go-catalogadmin/pkg/apiclient"
	"github.com/illmade-knight/go-catalogadmin/pkg/auth"
	"github.com/illmade-knight/go-catalogadmin/pkg/catalog"
	"github.com/illmade-knight/go-catalogadmin/pkg/media"
	"github.com/illmade-knight/go-catalogadmin/pkg/querycache"
	"github.com/illmade-knight/go-catalogadmin/pkg/session"
	"github.com/rs/zerolog"
)

// Handler serves the console routes.
type Handler struct {
	catalog *catalog.Service
	auth    *auth.Service
	session *session.Holder
	engine  *querycache.Engine
	media   media.Source
	logger  zerolog.Logger
}

// NewHandler creates a Handler. mediaSource may be nil, in which case JSON
// product writes cannot reference media by path.
func NewHandler(
	catalogService *catalog.Service,
	authService *auth.Service,
	holder *session.Holder,
	engine *querycache.Engine,
	mediaSource media.Source,
	logger zerolog.Logger,
) (*Handler, error) {
	if catalogService == nil {
		return nil, errors.New("catalog service cannot be nil")
	}
	if authService == nil {
		return nil, errors.New("auth service cannot be nil")
	}
	if holder == nil {
		return nil, errors.New("session holder cannot be nil")
	}
	if engine == nil {
		return nil, errors.New("query engine cannot be nil")
	}
	return &Handler{
		catalog: catalogService,
		auth:    authService,
		session: holder,
		engine:  engine,
		media:   mediaSource,
		logger:  logger.With().Str("component", "ConsoleHandler").Logger(),
	}, nil
}

// Register adds the console routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /login", h.handleLogin)
	mux.HandleFunc("POST /register", h.handleRegister)
	mux.HandleFunc("POST /logout", h.handleLogout)

	mux.HandleFunc("GET /dashboard/session", h.handleSession)
	mux.HandleFunc("GET /dashboard/cache", h.handleCacheStats)
	mux.HandleFunc("GET /dashboard/form-options", h.handleFormOptions)
	mux.HandleFunc("GET /dashboard/products", h.handleListProducts)
	mux.HandleFunc("POST /dashboard/products", h.handleAddProduct)
	mux.HandleFunc("GET /dashboard/products/{id}", h.handleGetProduct)
	mux.HandleFunc("PUT /dashboard/products/{id}", h.handleUpdateProduct)
	mux.HandleFunc("DELETE /dashboard/products/{id}", h.handleDeleteProduct)
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v); err != nil {
		return apiclient.NewValidationError("Invalid request body")
	}
	return nil
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds auth.Credentials
	if err := decodeBody(r, &creds); err != nil {
		h.writeError(w, r, err, "Invalid credentials")
		return
	}
	if _, err := h.auth.Login(r.Context(), creds); err != nil {
		h.writeError(w, r, err, "Invalid credentials")
		return
	}
	h.writeProfile(w, r)
}

type registerRequest struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err, "Registration failed")
		return
	}
	_, err := h.auth.Register(r.Context(), auth.Registration{
		Username:        req.Username,
		Email:           req.Email,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
	})
	if err != nil {
		h.writeError(w, r, err, "Registration failed")
		return
	}
	h.writeProfile(w, r)
}

// writeProfile sets the token cookie and answers with the display slot.
func (h *Handler) writeProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.session.Profile(r.Context())
	if err != nil {
		h.writeError(w, r, err, "Session unavailable")
		return
	}
	http.SetCookie(w, h.session.Cookie())
	writeJSON(w, http.StatusOK, profileResponse(profile))
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.Logout(r.Context()); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to clear session display slot.")
	}
	http.SetCookie(w, h.session.ExpiredCookie())
	w.WriteHeader(http.StatusNoContent)
}

type sessionView struct {
	User      json.RawMessage `json:"user,omitempty"`
	ExpiresAt string          `json:"expiresAt"`
}

func profileResponse(p session.Profile) sessionView {
	return sessionView{User: p.User, ExpiresAt: p.ExpiresAt.UTC().Format(time.RFC3339)}
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	profile, err := h.session.Profile(r.Context())
	if err != nil {
		h.writeError(w, r, err, "Not logged in")
		return
	}
	writeJSON(w, http.StatusOK, profileResponse(profile))
}

func (h *Handler) handleCacheStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Stats())
}

func (h *Handler) handleListProducts(w http.ResponseWriter, r *http.Request) {
	list, err := h.catalog.GetProducts(r.Context(), catalog.ParseListParams(r.URL.Query()))
	if err != nil {
		h.writeError(w, r, err, "Failed to load products")
		return
	}
	writeJSON(w, http.StatusOK, newProductListView(list))
}

func (h *Handler) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.catalog.GetProduct(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err, "Failed to load product")
		return
	}
	writeJSON(w, http.StatusOK, newProductView(*p))
}

func (h *Handler) handleAddProduct(w http.ResponseWriter, r *http.Request) {
	form, err := h.parseProductForm(r)
	if err != nil {
		h.writeError(w, r, err, "Invalid product")
		return
	}
	res, err := h.catalog.AddProduct(r.Context(), form)
	if err != nil {
		h.writeError(w, r, err, "Failed to add product")
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	form, err := h.parseProductForm(r)
	if err != nil {
		h.writeError(w, r, err, "Invalid product")
		return
	}
	res, err := h.catalog.UpdateProduct(r.Context(), r.PathValue("id"), form)
	if err != nil {
		h.writeError(w, r, err, "Failed to update product")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.DeleteProduct(r.Context(), r.PathValue("id")); err != nil {
		h.writeError(w, r, err, "Failed to delete product")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
