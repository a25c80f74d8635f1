package orders

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aretw0/concierge/internal/logging"
	"github.com/aretw0/concierge/pkg/ports"
	"github.com/go-chi/chi/v5"
)

type lookupResponse struct {
	Value string `json:"value"`
	OK    bool   `json:"ok"`
}

type resultResponse struct {
	Result string `json:"result"`
}

type addedResponse struct {
	Added bool `json:"added"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type handler struct {
	svc    ports.OrderService
	logger *slog.Logger
}

// NewHandler exposes svc over HTTP, one resource per order id.
func NewHandler(svc ports.OrderService, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	h := &handler{svc: svc, logger: logger}

	r := chi.NewRouter()
	r.Route("/orders/{id}", func(r chi.Router) {
		r.Get("/status", h.lookup(svc.GetStatus))
		r.Get("/pending", h.lookup(svc.GetPendingItems))
		r.Get("/booked", h.lookup(svc.GetBookedItems))
		r.Post("/create", h.create)
		r.Post("/items", h.addItem)
		r.Post("/close", h.result(svc.Close))
		r.Post("/cancel", h.result(svc.Cancel))
	})
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return r
}

func (h *handler) lookup(fn func(context.Context, string) (string, bool, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, ok, err := fn(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			h.fail(w, r, err)
			return
		}
		h.reply(w, lookupResponse{Value: v, OK: ok})
	}
}

func (h *handler) result(fn func(context.Context, string) (string, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := fn(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			h.fail(w, r, err)
			return
		}
		h.reply(w, resultResponse{Result: v})
	}
}

func (h *handler) create(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Create(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) addItem(w http.ResponseWriter, r *http.Request) {
	var asset ports.Asset
	if err := json.NewDecoder(r.Body).Decode(&asset); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		h.logger.Warn("AddItem: invalid request body", "err", err)
		return
	}
	added, err := h.svc.AddItem(r.Context(), chi.URLParam(r, "id"), asset)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.reply(w, addedResponse{Added: added})
}

func (h *handler) reply(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Response encode failed", "err", err)
	}
}

func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	var conflict *ConflictError
	var booking *BookingError
	switch {
	case errors.As(err, &conflict):
		code = conflict.StatusCode()
	case errors.As(err, &booking):
		code = http.StatusUnprocessableEntity
	case errors.Is(err, ErrTransient):
		code = http.StatusServiceUnavailable
	}
	h.logger.Warn("Order request failed", "path", r.URL.Path, "status", code, "err", err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: err.Error()})
}

// HTTPClient is a ports.OrderService talking to a remote NewHandler.
type HTTPClient struct {
	base string
	http *http.Client
}

// NewHTTPClient creates a client for the backend at baseURL. A nil hc gets a 30s timeout.
func NewHTTPClient(baseURL string, hc *http.Client) *HTTPClient {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPClient{base: strings.TrimRight(baseURL, "/"), http: hc}
}

var _ ports.OrderService = (*HTTPClient)(nil)

func (c *HTTPClient) do(ctx context.Context, method, id, action string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}
	u := fmt.Sprintf("%s/orders/%s/%s", c.base, url.PathEscape(id), action)
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request to %s failed: %w", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e errorResponse
		raw, _ := io.ReadAll(resp.Body)
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		if resp.StatusCode == http.StatusConflict {
			return &ConflictError{msg: msg}
		}
		return &StatusError{Code: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *HTTPClient) lookup(ctx context.Context, id, action string) (string, bool, error) {
	var res lookupResponse
	if err := c.do(ctx, http.MethodGet, id, action, nil, &res); err != nil {
		return "", false, err
	}
	return res.Value, res.OK, nil
}

func (c *HTTPClient) GetStatus(ctx context.Context, id string) (string, bool, error) {
	return c.lookup(ctx, id, "status")
}

func (c *HTTPClient) GetPendingItems(ctx context.Context, id string) (string, bool, error) {
	return c.lookup(ctx, id, "pending")
}

func (c *HTTPClient) GetBookedItems(ctx context.Context, id string) (string, bool, error) {
	return c.lookup(ctx, id, "booked")
}

func (c *HTTPClient) Create(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, id, "create", nil, nil)
}

func (c *HTTPClient) AddItem(ctx context.Context, id string, item ports.Asset) (bool, error) {
	var res addedResponse
	if err := c.do(ctx, http.MethodPost, id, "items", item, &res); err != nil {
		return false, err
	}
	return res.Added, nil
}

func (c *HTTPClient) Close(ctx context.Context, id string) (string, error) {
	var res resultResponse
	if err := c.do(ctx, http.MethodPost, id, "close", nil, &res); err != nil {
		return "", err
	}
	return res.Result, nil
}

func (c *HTTPClient) Cancel(ctx context.Context, id string) (string, error) {
	var res resultResponse
	if err := c.do(ctx, http.MethodPost, id, "cancel", nil, &res); err != nil {
		return "", err
	}
	return res.Result, nil
}
