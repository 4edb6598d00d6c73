package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/jobrunner/geodb-openeo/internal/domain"
)

const geoJSONContentType = "application/geo+json"

// maxResultBody bounds the size of a process graph request.
const maxResultBody = 10 << 20

// handleCapabilities returns the root document.
func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.capabilities.Capabilities(s.baseURL(r)))
}

func (s *Server) handleWellKnown(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.capabilities.WellKnown())
}

func (s *Server) handleOIDCProviders(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.capabilities.OIDCProviders())
}

func (s *Server) handleConformance(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.capabilities.Conformance())
}

// handleProcesses lists the predefined processes.
func (s *Server) handleProcesses(w http.ResponseWriter, r *http.Request) {
	links := s.processing.Links()
	if links == nil {
		links = []map[string]any{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"processes": s.processing.Processes(r.Context()),
		"links":     links,
	})
}

func (s *Server) handleFileFormats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.processing.FileFormats(r.Context()))
}

// handleResult executes a process graph synchronously.
func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxResultBody))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	result, err := s.processing.Execute(r.Context(), tokenFromContext(r.Context()), body)
	if err != nil {
		s.handleError(w, r, err, "")
		return
	}
	s.writeJSONType(w, http.StatusOK, geoJSONContentType, result)
}

// handleCollections lists collections. Without a limit all collections
// are returned.
func (s *Server) handleCollections(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", math.MaxInt)
	if err != nil {
		s.handleError(w, r, err, "")
		return
	}
	offset, err := intParam(r, "offset", 0)
	if err != nil {
		s.handleError(w, r, err, "")
		return
	}
	if limit < 0 || offset < 0 {
		s.handleError(w, r, &domain.ValidationError{
			Field:      "limit",
			Value:      fmt.Sprintf("%d/%d", limit, offset),
			Constraint: ">= 0",
			Message:    "limit and offset must not be negative",
		}, "")
		return
	}

	doc, err := s.catalog.Collections(r.Context(), tokenFromContext(r.Context()), s.baseURL(r), limit, offset)
	if err != nil {
		s.handleError(w, r, err, "")
		return
	}
	s.writeJSON(w, http.StatusOK, doc)
}

// handleCollection returns the full description of one collection.
func (s *Server) handleCollection(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["collection_id"]
	id, ok := domain.ParseCollectionID(raw)
	if !ok {
		s.writeError(w, http.StatusNotFound, collectionMissing(raw))
		return
	}

	doc, err := s.catalog.Collection(r.Context(), tokenFromContext(r.Context()), s.baseURL(r), id, true, true)
	if err != nil {
		s.handleError(w, r, err, collectionMissing(raw))
		return
	}
	s.writeJSON(w, http.StatusOK, doc)
}

// handleItems returns a page of items. The limit is clamped to the
// configured range.
func (s *Server) handleItems(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["collection_id"]
	id, ok := domain.ParseCollectionID(raw)
	if !ok {
		s.writeError(w, http.StatusNotFound, collectionMissing(raw))
		return
	}

	limit, err := intParam(r, "limit", s.config.STAC.DefaultItemsLimit)
	if err != nil {
		s.handleError(w, r, err, "")
		return
	}
	limit = s.clampLimit(limit)

	offset, err := intParam(r, "offset", 0)
	if err != nil {
		s.handleError(w, r, err, "")
		return
	}

	var bbox *domain.BBox
	if v := r.URL.Query().Get("bbox"); v != "" {
		b, err := domain.ParseBBox(v)
		if err != nil {
			s.handleError(w, r, err, "")
			return
		}
		bbox = &b
	}

	doc, err := s.catalog.CollectionItems(r.Context(), tokenFromContext(r.Context()), s.baseURL(r), id, limit, offset, bbox)
	if err != nil {
		s.handleError(w, r, err, collectionMissing(raw))
		return
	}
	s.writeJSONType(w, http.StatusOK, geoJSONContentType, doc)
}

// handleItem returns a single item.
func (s *Server) handleItem(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	raw, itemID := vars["collection_id"], vars["item_id"]
	id, ok := domain.ParseCollectionID(raw)
	if !ok {
		s.writeError(w, http.StatusNotFound, collectionMissing(raw))
		return
	}

	doc, err := s.catalog.CollectionItem(r.Context(), tokenFromContext(r.Context()), s.baseURL(r), id, itemID)
	if err != nil {
		msg := collectionMissing(raw)
		if errors.Is(err, domain.ErrFeatureNotFound) {
			s.logger.Warn("requested feature does not exist", "collection", raw, "feature", itemID)
			msg = fmt.Sprintf("Feature %s does not exist", itemID)
		}
		s.handleError(w, r, err, msg)
		return
	}
	s.writeJSONType(w, http.StatusOK, geoJSONContentType, doc)
}

func (s *Server) clampLimit(limit int) int {
	stac := s.config.STAC
	if stac.MaxItemsLimit > 0 && limit > stac.MaxItemsLimit {
		return stac.MaxItemsLimit
	}
	if limit < stac.MinItemsLimit {
		return stac.MinItemsLimit
	}
	return limit
}

func collectionMissing(id string) string {
	return fmt.Sprintf("Collection %s does not exist", id)
}

// intParam parses an integer query parameter.
func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &domain.ValidationError{
			Field:      name,
			Value:      v,
			Constraint: "integer",
			Message:    fmt.Sprintf("%s must be an integer", name),
		}
	}
	return n, nil
}

// handleHealth returns detailed health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	details := s.health.GetHealthDetails(r.Context())

	status := http.StatusOK
	if !details.Healthy {
		status = http.StatusServiceUnavailable
	}

	s.writeJSON(w, status, map[string]any{
		"status":       boolToStatus(details.Healthy),
		"ready":        details.Ready,
		"provider":     details.Provider,
		"cached_cubes": details.CachedCube,
		"components":   details.Components,
	})
}

// handleLiveness returns liveness status.
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if s.health.IsHealthy(r.Context()) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	} else {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
	}
}

// handleReadiness returns readiness status.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.health.IsReady(r.Context()) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	} else {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
	}
}

// handleOpenAPI returns the OpenAPI specification.
func (s *Server) handleOpenAPI(w http.ResponseWriter, _ *http.Request) {
	spec, err := getOpenAPIJSON()
	if err != nil {
		s.logger.Error("failed to get OpenAPI spec", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to load OpenAPI specification")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(spec)
}

// handleOpenAPIYAML returns the OpenAPI specification as written.
func (s *Server) handleOpenAPIYAML(w http.ResponseWriter, _ *http.Request) {
	spec, err := openAPIYAML.ReadFile("openapi.yaml")
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to load OpenAPI specification")
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(spec)
}

// handleError maps an error onto a status code. notFound replaces the
// message of not found errors when set.
func (s *Server) handleError(w http.ResponseWriter, r *http.Request, err error, notFound string) {
	status := statusFor(err)
	message := err.Error()

	var requestErr *domain.RequestError
	var validationErr *domain.ValidationError
	switch {
	case errors.As(err, &requestErr):
		message = requestErr.Message
	case errors.As(err, &validationErr):
		message = validationErr.Message
	case status == http.StatusNotFound && notFound != "":
		message = notFound
	case status == http.StatusInternalServerError:
		s.logger.Error("request failed",
			"path", r.URL.Path,
			"request_id", RequestID(r.Context()),
			"error", err,
		)
		message = "Internal Server Error"
	}

	s.writeError(w, status, message)
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrUnsupported):
		return http.StatusNotImplemented
	case errors.Is(err, domain.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	s.writeJSONType(w, status, "application/json", data)
}

func (s *Server) writeJSONType(w http.ResponseWriter, status int, contentType string, data any) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]any{
		"error":   http.StatusText(status),
		"message": message,
	})
}

func boolToStatus(b bool) string {
	if b {
		return "ok"
	}
	return "unhealthy"
}
