package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/embediq/backend/internal/datasource"
)

type fakeDatasourceStore struct {
	configs map[string]datasource.Config
	order   []string
	saveErr error
}

func newFakeDatasourceStore() *fakeDatasourceStore {
	return &fakeDatasourceStore{configs: make(map[string]datasource.Config)}
}

func (f *fakeDatasourceStore) Save(_ context.Context, _ string, cfg datasource.Config) (datasource.Config, error) {
	if f.saveErr != nil {
		return datasource.Config{}, f.saveErr
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	cfg.CreatedAt = time.Now().UTC()
	cfg.UpdatedAt = cfg.CreatedAt
	f.configs[cfg.ID] = cfg
	f.order = append(f.order, cfg.ID)
	return cfg, nil
}

func (f *fakeDatasourceStore) Get(_ context.Context, _, id string) (datasource.Config, error) {
	cfg, ok := f.configs[id]
	if !ok {
		return datasource.Config{}, fmt.Errorf("%w: %s", datasource.ErrNotFound, id)
	}
	return cfg, nil
}

func (f *fakeDatasourceStore) List(_ context.Context, _ string) ([]datasource.Config, error) {
	out := make([]datasource.Config, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, f.configs[id])
	}
	return out, nil
}

func (f *fakeDatasourceStore) Update(_ context.Context, _, id string, cfg datasource.Config) (datasource.Config, error) {
	existing, ok := f.configs[id]
	if !ok {
		return datasource.Config{}, fmt.Errorf("%w: %s", datasource.ErrNotFound, id)
	}
	cfg.ID = existing.ID
	cfg.CreatedAt = existing.CreatedAt
	cfg.UpdatedAt = time.Now().UTC()
	f.configs[id] = cfg
	return cfg, nil
}

func (f *fakeDatasourceStore) Delete(_ context.Context, _, id string) error {
	if _, ok := f.configs[id]; !ok {
		return fmt.Errorf("%w: %s", datasource.ErrNotFound, id)
	}
	delete(f.configs, id)
	return nil
}

type fakeChecker struct {
	result datasource.CheckResult
}

func (f *fakeChecker) Check(context.Context, datasource.Config) datasource.CheckResult {
	return f.result
}

func newDatasourceTestServer(t *testing.T) (*testServer, *fakeDatasourceStore, *fakeChecker) {
	t.Helper()

	mgr := &fakeManager{engine: &fakeEngine{}}
	docs := &fakeStore{}
	datasources := newFakeDatasourceStore()
	checker := &fakeChecker{result: datasource.CheckResult{Success: true, Message: "ok"}}

	s, err := NewServer(nil, Deps{
		Manager:     mgr,
		Verifier:    fakeVerifier{},
		Store:       docs,
		Datasources: datasources,
		Checker:     checker,
	}, zap.NewNop())
	require.NoError(t, err)

	return &testServer{server: s, manager: mgr, store: docs}, datasources, checker
}

func TestServer_CreateDatasource(t *testing.T) {
	ts, store, _ := newDatasourceTestServer(t)

	body := `{"name":"analytics","type":"postgres","settings":{"database":"analytics","ssl_mode":"require"}}`
	rec := ts.do(http.MethodPost, "/api/v1/datasources", body, true)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp datasource.Config
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, "analytics", resp.Name)
	assert.Len(t, store.configs, 1)
}

func TestServer_CreateDatasourceValidation(t *testing.T) {
	ts, store, _ := newDatasourceTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"unknown type", `{"name":"x","type":"carrier-pigeon"}`},
		{"missing required parameter", `{"name":"x","type":"csv","settings":{}}`},
		{"enum violation", `{"name":"x","type":"postgres","settings":{"database":"d","ssl_mode":"maybe"}}`},
		{"missing name", `{"type":"csv","settings":{"path":"/x"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(http.MethodPost, "/api/v1/datasources", tt.body, true)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
	assert.Empty(t, store.configs, "invalid configurations are never stored")
}

func TestServer_ListDatasourcesFiltersByType(t *testing.T) {
	ts, store, _ := newDatasourceTestServer(t)
	ctx := context.Background()

	_, err := store.Save(ctx, "auth0_abc", datasource.Config{Name: "a", Type: "csv"})
	require.NoError(t, err)
	_, err = store.Save(ctx, "auth0_abc", datasource.Config{Name: "b", Type: "postgres"})
	require.NoError(t, err)

	rec := ts.do(http.MethodGet, "/api/v1/datasources", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp ListDatasourcesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Total)

	rec = ts.do(http.MethodGet, "/api/v1/datasources?type=postgres", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Total)
	assert.Equal(t, "b", resp.Datasources[0].Name)
}

func TestServer_GetDatasource(t *testing.T) {
	ts, store, _ := newDatasourceTestServer(t)

	saved, err := store.Save(context.Background(), "auth0_abc", datasource.Config{Name: "a", Type: "csv"})
	require.NoError(t, err)

	rec := ts.do(http.MethodGet, "/api/v1/datasources/"+saved.ID, "", true)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodGet, "/api/v1/datasources/"+uuid.NewString(), "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_UpdateDatasource(t *testing.T) {
	ts, store, _ := newDatasourceTestServer(t)

	saved, err := store.Save(context.Background(), "auth0_abc", datasource.Config{Name: "before", Type: "csv"})
	require.NoError(t, err)

	body := `{"name":"after","type":"csv","settings":{"path":"/data/x.csv"}}`
	rec := ts.do(http.MethodPut, "/api/v1/datasources/"+saved.ID, body, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp datasource.Config
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, saved.ID, resp.ID)
	assert.Equal(t, "after", resp.Name)

	rec = ts.do(http.MethodPut, "/api/v1/datasources/"+uuid.NewString(), body, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_DeleteDatasource(t *testing.T) {
	ts, store, _ := newDatasourceTestServer(t)

	saved, err := store.Save(context.Background(), "auth0_abc", datasource.Config{Name: "a", Type: "csv"})
	require.NoError(t, err)

	rec := ts.do(http.MethodDelete, "/api/v1/datasources/"+saved.ID, "", true)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, store.configs)

	rec = ts.do(http.MethodDelete, "/api/v1/datasources/"+saved.ID, "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_CheckDatasource(t *testing.T) {
	ts, store, checker := newDatasourceTestServer(t)
	checker.result = datasource.CheckResult{Success: false, Message: "connection refused"}

	saved, err := store.Save(context.Background(), "auth0_abc", datasource.Config{Name: "a", Type: "postgres"})
	require.NoError(t, err)

	rec := ts.do(http.MethodPost, "/api/v1/datasources/"+saved.ID+"/validate", "", true)
	require.Equal(t, http.StatusOK, rec.Code, "a failed check is still a successful request")

	var resp datasource.CheckResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, "connection refused", resp.Message)

	rec = ts.do(http.MethodPost, "/api/v1/datasources/"+uuid.NewString()+"/validate", "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_DatasourceTypes(t *testing.T) {
	ts, _, _ := newDatasourceTestServer(t)

	rec := ts.do(http.MethodGet, "/api/v1/datasources/types", "", true)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ListDatasourceTypesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Types)

	rec = ts.do(http.MethodGet, "/api/v1/datasources/types/postgres", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	var info datasource.TypeInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "postgres", info.Type)

	rec = ts.do(http.MethodGet, "/api/v1/datasources/types/carrier-pigeon", "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_DatasourcesRequireAuth(t *testing.T) {
	ts, _, _ := newDatasourceTestServer(t)

	rec := ts.do(http.MethodGet, "/api/v1/datasources", "", false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
