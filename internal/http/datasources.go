package http

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/embediq/backend/internal/datasource"
)

// DatasourceRequest is the request body for creating or updating a data
// source configuration.
type DatasourceRequest struct {
	Name        string         `json:"name"`
	Type        string         `json:"type"`
	Description string         `json:"description"`
	Settings    map[string]any `json:"settings"`
}

// ListDatasourcesResponse is the response body for GET /api/v1/datasources.
type ListDatasourcesResponse struct {
	Datasources []datasource.Config `json:"datasources"`
	Total       int                 `json:"total"`
}

// ListDatasourceTypesResponse is the response body for
// GET /api/v1/datasources/types.
type ListDatasourceTypesResponse struct {
	Types []datasource.TypeInfo `json:"types"`
}

func (r DatasourceRequest) config() datasource.Config {
	return datasource.Config{
		Name:        r.Name,
		Type:        r.Type,
		Description: r.Description,
		Settings:    r.Settings,
	}
}

// handleCreateDatasource stores a new data source configuration for the
// caller after validating it against the type catalog.
func (s *Server) handleCreateDatasource(c echo.Context) error {
	identity, err := callerIdentity(c)
	if err != nil {
		return err
	}

	var req DatasourceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	cfg := req.config()
	if err := datasource.Validate(s.deps.Types, cfg); err != nil {
		return mapServiceError(err)
	}

	saved, err := s.deps.Datasources.Save(c.Request().Context(), identity.TenantID, cfg)
	if err != nil {
		return mapServiceError(err)
	}

	s.logger.Info("datasource configuration created",
		zap.String("tenant_id", identity.TenantID),
		zap.String("datasource_id", saved.ID),
		zap.String("type", saved.Type))

	return c.JSON(http.StatusCreated, saved)
}

// handleListDatasources lists the caller's configurations, optionally
// filtered by type.
func (s *Server) handleListDatasources(c echo.Context) error {
	identity, err := callerIdentity(c)
	if err != nil {
		return err
	}

	configs, err := s.deps.Datasources.List(c.Request().Context(), identity.TenantID)
	if err != nil {
		return mapServiceError(err)
	}

	if typeFilter := c.QueryParam("type"); typeFilter != "" {
		filtered := configs[:0]
		for _, cfg := range configs {
			if cfg.Type == typeFilter {
				filtered = append(filtered, cfg)
			}
		}
		configs = filtered
	}

	return c.JSON(http.StatusOK, ListDatasourcesResponse{
		Datasources: configs,
		Total:       len(configs),
	})
}

// handleGetDatasource returns one configuration by ID.
func (s *Server) handleGetDatasource(c echo.Context) error {
	identity, err := callerIdentity(c)
	if err != nil {
		return err
	}

	cfg, err := s.deps.Datasources.Get(c.Request().Context(), identity.TenantID, c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, cfg)
}

// handleUpdateDatasource replaces a configuration by ID.
func (s *Server) handleUpdateDatasource(c echo.Context) error {
	identity, err := callerIdentity(c)
	if err != nil {
		return err
	}

	var req DatasourceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	cfg := req.config()
	if err := datasource.Validate(s.deps.Types, cfg); err != nil {
		return mapServiceError(err)
	}

	updated, err := s.deps.Datasources.Update(c.Request().Context(), identity.TenantID, c.Param("id"), cfg)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

// handleDeleteDatasource removes a configuration by ID.
func (s *Server) handleDeleteDatasource(c echo.Context) error {
	identity, err := callerIdentity(c)
	if err != nil {
		return err
	}

	if err := s.deps.Datasources.Delete(c.Request().Context(), identity.TenantID, c.Param("id")); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// handleCheckDatasource runs the live connection check for a stored
// configuration and returns the result either way.
func (s *Server) handleCheckDatasource(c echo.Context) error {
	identity, err := callerIdentity(c)
	if err != nil {
		return err
	}

	cfg, err := s.deps.Datasources.Get(c.Request().Context(), identity.TenantID, c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}

	result := s.deps.Checker.Check(c.Request().Context(), cfg)
	return c.JSON(http.StatusOK, result)
}

// handleListDatasourceTypes lists the supported types and their parameters.
func (s *Server) handleListDatasourceTypes(c echo.Context) error {
	return c.JSON(http.StatusOK, ListDatasourceTypesResponse{Types: s.deps.Types.List()})
}

// handleGetDatasourceType returns one type's parameter catalog.
func (s *Server) handleGetDatasourceType(c echo.Context) error {
	info, ok := s.deps.Types.Get(c.Param("name"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "data source type not found")
	}
	return c.JSON(http.StatusOK, info)
}
