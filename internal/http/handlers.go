package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/embediq/backend/internal/datasource"
	"github.com/embediq/backend/internal/engine"
	"github.com/embediq/backend/internal/manager"
	"github.com/embediq/backend/internal/postgres"
)

// SearchRequest is the request body for POST /api/v1/search and
// POST /api/v1/query.
type SearchRequest struct {
	Query     string  `json:"query"`
	Mode      string  `json:"mode"`
	TopK      int     `json:"top_k"`
	Threshold float64 `json:"threshold"`
}

// SearchResponse is the response body for POST /api/v1/search.
type SearchResponse struct {
	Results []engine.SearchResult `json:"results"`
	Count   int                   `json:"count"`
}

// InsertDocumentRequest is the request body for POST /api/v1/documents.
type InsertDocumentRequest struct {
	ID       string            `json:"id"`
	Title    string            `json:"title"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`
}

// InsertDocumentResponse is the response body for POST /api/v1/documents.
type InsertDocumentResponse struct {
	DocumentID string `json:"document_id"`
	Status     string `json:"status"`
}

// ListDocumentsResponse is the response body for GET /api/v1/documents.
type ListDocumentsResponse struct {
	Documents []postgres.DocumentStatus `json:"documents"`
	Count     int                       `json:"count"`
}

// StatusResponse is a generic status acknowledgement.
type StatusResponse struct {
	Status string `json:"status"`
}

// acquireEngine resolves the caller's engine instance.
func (s *Server) acquireEngine(c echo.Context) (engine.Engine, string, error) {
	identity, err := callerIdentity(c)
	if err != nil {
		return nil, "", err
	}

	eng, err := s.deps.Manager.Acquire(c.Request().Context(), identity.TenantID)
	if err != nil {
		return nil, "", mapServiceError(err)
	}
	return eng, identity.TenantID, nil
}

// handleSearch performs similarity retrieval for the caller's tenant.
func (s *Server) handleSearch(c echo.Context) error {
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query field is required")
	}

	eng, _, err := s.acquireEngine(c)
	if err != nil {
		return err
	}

	results, err := eng.Search(c.Request().Context(), req.Query, engine.SearchOptions{
		Mode:      engine.Mode(req.Mode),
		TopK:      req.TopK,
		Threshold: req.Threshold,
	})
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, SearchResponse{Results: results, Count: len(results)})
}

// handleQuery performs retrieval-augmented answer generation.
func (s *Server) handleQuery(c echo.Context) error {
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query field is required")
	}

	eng, _, err := s.acquireEngine(c)
	if err != nil {
		return err
	}

	result, err := eng.Query(c.Request().Context(), req.Query, engine.SearchOptions{
		Mode:      engine.Mode(req.Mode),
		TopK:      req.TopK,
		Threshold: req.Threshold,
	})
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, result)
}

// handleInsertDocument ingests a document into the caller's index.
func (s *Server) handleInsertDocument(c echo.Context) error {
	var req InsertDocumentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content field is required")
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	eng, tenantID, err := s.acquireEngine(c)
	if err != nil {
		return err
	}

	err = eng.Insert(c.Request().Context(), engine.Document{
		ID:       req.ID,
		Title:    req.Title,
		Content:  req.Content,
		Metadata: req.Metadata,
	})
	if err != nil {
		return mapServiceError(err)
	}

	s.logger.Info("document ingested via api",
		zap.String("tenant_id", tenantID),
		zap.String("document_id", req.ID))

	return c.JSON(http.StatusCreated, InsertDocumentResponse{
		DocumentID: req.ID,
		Status:     "ingested",
	})
}

// handleListDocuments lists the caller's ingested documents.
func (s *Server) handleListDocuments(c echo.Context) error {
	identity, err := callerIdentity(c)
	if err != nil {
		return err
	}

	docs, err := s.deps.Store.ListDocuments(c.Request().Context(), identity.TenantID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "listing documents failed")
	}

	return c.JSON(http.StatusOK, ListDocumentsResponse{Documents: docs, Count: len(docs)})
}

// handleDeleteDocument removes a document from the caller's index.
func (s *Server) handleDeleteDocument(c echo.Context) error {
	documentID := c.Param("id")
	if documentID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "document id is required")
	}

	eng, _, err := s.acquireEngine(c)
	if err != nil {
		return err
	}

	if err := eng.Delete(c.Request().Context(), documentID); err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, StatusResponse{Status: "deleted"})
}

// handleEvictTenant releases a tenant's engine instance and purges its
// document bookkeeping. Callers may only evict themselves.
func (s *Server) handleEvictTenant(c echo.Context) error {
	identity, err := callerIdentity(c)
	if err != nil {
		return err
	}

	tenantID := c.Param("id")
	if tenantID != identity.TenantID {
		return echo.NewHTTPError(http.StatusForbidden, "cannot evict another tenant")
	}

	if err := s.deps.Manager.Evict(c.Request().Context(), tenantID); err != nil {
		return mapServiceError(err)
	}

	if err := s.deps.Store.PurgeTenant(c.Request().Context(), tenantID); err != nil {
		s.logger.Warn("failed to purge tenant documents",
			zap.String("tenant_id", tenantID),
			zap.Error(err))
	}

	return c.JSON(http.StatusOK, StatusResponse{Status: "evicted"})
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// handleHealth runs the configured readiness probes.
func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{Status: "ok"}
	status := http.StatusOK

	if len(s.deps.Checks) > 0 {
		resp.Checks = make(map[string]string, len(s.deps.Checks))
		for _, check := range s.deps.Checks {
			if err := check.Check(c.Request().Context()); err != nil {
				resp.Status = "degraded"
				resp.Checks[check.Name] = err.Error()
				status = http.StatusServiceUnavailable
			} else {
				resp.Checks[check.Name] = "ok"
			}
		}
	}

	return c.JSON(status, resp)
}

// mapServiceError translates manager and engine errors into HTTP errors.
// Internal causes are logged upstream, not leaked to clients.
func mapServiceError(err error) error {
	switch {
	case errors.Is(err, manager.ErrInvalidTenantID):
		return echo.NewHTTPError(http.StatusBadRequest, "invalid tenant identity")
	case errors.Is(err, manager.ErrTenantNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "tenant has no active instance")
	case errors.Is(err, manager.ErrShuttingDown):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "service is shutting down")
	case errors.Is(err, manager.ErrProvisioning), errors.Is(err, manager.ErrCreationFailed):
		return echo.NewHTTPError(http.StatusInternalServerError, "engine unavailable")
	case errors.Is(err, engine.ErrInvalidMode):
		return echo.NewHTTPError(http.StatusBadRequest, "invalid query mode")
	case errors.Is(err, engine.ErrEmptyContent):
		return echo.NewHTTPError(http.StatusBadRequest, "document content is empty")
	case errors.Is(err, engine.ErrDocumentNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "document not found")
	case errors.Is(err, engine.ErrClosed):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "engine instance was released, retry")
	case errors.Is(err, datasource.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "data source configuration not found")
	case errors.Is(err, datasource.ErrUnknownType):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, datasource.ErrInvalidConfig):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return echo.NewHTTPError(http.StatusGatewayTimeout, "request timed out")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}
