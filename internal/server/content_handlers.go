package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/dgellow/biolink/internal/apierr"
	"github.com/dgellow/biolink/internal/content"
	jsonwriter "github.com/dgellow/biolink/internal/json"
	"github.com/dgellow/biolink/internal/storage"
)

// maxBodyBytes bounds JSON request bodies
const maxBodyBytes = 1 << 20

// ContentHandlers serve the JSON content API
type ContentHandlers struct {
	service *content.Service
}

// NewContentHandlers creates the content API handlers
func NewContentHandlers(service *content.Service) *ContentHandlers {
	return &ContentHandlers{service: service}
}

func decodeBody(w http.ResponseWriter, r *http.Request) (storage.Document, error) {
	var body storage.Document
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, apierr.NewBadRequest("Request body is required")
		}
		return nil, apierr.Wrap(apierr.BadRequest, "Invalid JSON body", err)
	}
	if body == nil {
		return nil, apierr.NewBadRequest("Request body must be a JSON object")
	}
	return body, nil
}

// ListHandler returns the public listing of res
func (h *ContentHandlers) ListHandler(res content.Resource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docs, err := h.service.List(r.Context(), res)
		if err != nil {
			apierr.Write(w, res.Name, err)
			return
		}
		_ = jsonwriter.Write(w, docs)
	}
}

// GetHandler returns one document of res
func (h *ContentHandlers) GetHandler(res content.Resource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, err := h.service.Get(r.Context(), res, r.PathValue("key"))
		if err != nil {
			apierr.Write(w, res.Name, err)
			return
		}
		_ = jsonwriter.Write(w, doc)
	}
}

// CreateHandler stores a new document of res
func (h *ContentHandlers) CreateHandler(res content.Resource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := decodeBody(w, r)
		if err != nil {
			apierr.Write(w, res.Name, err)
			return
		}
		doc, err := h.service.Create(r.Context(), res, body)
		if err != nil {
			apierr.Write(w, res.Name, err)
			return
		}
		_ = jsonwriter.Write(w, doc)
	}
}

// UpdateHandler sets the fields of the body on one document of res. PUT and
// PATCH share it.
func (h *ContentHandlers) UpdateHandler(res content.Resource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := decodeBody(w, r)
		if err != nil {
			apierr.Write(w, res.Name, err)
			return
		}
		doc, err := h.service.Update(r.Context(), res, r.PathValue("key"), body)
		if err != nil {
			apierr.Write(w, res.Name, err)
			return
		}
		_ = jsonwriter.Write(w, doc)
	}
}

// DeleteHandler removes one document of res
func (h *ContentHandlers) DeleteHandler(res content.Resource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h.service.Delete(r.Context(), res, r.PathValue("key")); err != nil {
			apierr.Write(w, res.Name, err)
			return
		}
		jsonwriter.WriteMessage(w, http.StatusOK, res.DeletedMessage())
	}
}

// ClickHandler counts one visit of a link
func (h *ContentHandlers) ClickHandler(w http.ResponseWriter, r *http.Request) {
	doc, err := h.service.Click(r.Context(), r.PathValue("key"))
	if err != nil {
		apierr.Write(w, content.Links.Name, err)
		return
	}
	_ = jsonwriter.Write(w, map[string]int64{"clicks": doc.Int("clicks")})
}

// StatsHandler returns the dashboard counters
func (h *ContentHandlers) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		apierr.Write(w, "stats", err)
		return
	}
	_ = jsonwriter.Write(w, stats)
}

// RecentActivityHandler returns the newest published documents
func (h *ContentHandlers) RecentActivityHandler(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.RecentActivity(r.Context())
	if err != nil {
		apierr.Write(w, "stats", err)
		return
	}
	_ = jsonwriter.Write(w, items)
}
