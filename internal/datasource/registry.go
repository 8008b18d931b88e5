// Package datasource manages per-tenant data source configurations: the
// catalog of supported source types, structural validation against that
// catalog, persistence under the tenant working directory, and live
// connection checks.
package datasource

import "sync"

// Parameter describes one configuration field of a data source type.
type Parameter struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"` // string, integer, boolean, object
	Required    bool     `json:"required"`
	Description string   `json:"description,omitempty"`
	Default     any      `json:"default,omitempty"`
	Enum        []string `json:"enum,omitempty"`
	Sensitive   bool     `json:"sensitive,omitempty"`
}

// TypeInfo describes a registered data source type and its parameters.
type TypeInfo struct {
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters"`
}

// Registry is the catalog of data source types. The built-in types are
// registered at construction; Register admits additional types at runtime.
// Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	types map[string]TypeInfo
	order []string
}

// NewRegistry creates a registry pre-populated with the built-in types.
func NewRegistry() *Registry {
	r := &Registry{types: make(map[string]TypeInfo)}
	for _, info := range builtinTypes() {
		r.Register(info)
	}
	return r
}

// Register adds or replaces a data source type.
func (r *Registry) Register(info TypeInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.types[info.Type]; !exists {
		r.order = append(r.order, info.Type)
	}
	r.types[info.Type] = info
}

// Get returns the type info for name.
func (r *Registry) Get(name string) (TypeInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, ok := r.types[name]
	return info, ok
}

// List returns all registered types in registration order.
func (r *Registry) List() []TypeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]TypeInfo, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.types[name])
	}
	return out
}

func builtinTypes() []TypeInfo {
	return []TypeInfo{
		{
			Type:        "postgres",
			Description: "PostgreSQL database",
			Parameters: []Parameter{
				{Name: "host", Type: "string", Description: "Database host", Default: "localhost"},
				{Name: "port", Type: "integer", Description: "Database port", Default: 5432},
				{Name: "database", Type: "string", Required: true, Description: "Database name"},
				{Name: "username", Type: "string", Description: "Database username"},
				{Name: "password", Type: "string", Description: "Database password", Sensitive: true},
				{Name: "connection_string", Type: "string", Description: "Connection string (alternative to individual parameters)", Sensitive: true},
				{Name: "ssl_mode", Type: "string", Description: "SSL mode for the connection",
					Enum: []string{"disable", "allow", "prefer", "require", "verify-ca", "verify-full"}},
			},
		},
		{
			Type:        "mysql",
			Description: "MySQL database",
			Parameters: []Parameter{
				{Name: "host", Type: "string", Description: "Database host", Default: "localhost"},
				{Name: "port", Type: "integer", Description: "Database port", Default: 3306},
				{Name: "database", Type: "string", Required: true, Description: "Database name"},
				{Name: "username", Type: "string", Description: "Database username"},
				{Name: "password", Type: "string", Description: "Database password", Sensitive: true},
				{Name: "connection_string", Type: "string", Description: "Connection string (alternative to individual parameters)", Sensitive: true},
			},
		},
		{
			Type:        "sqlite",
			Description: "SQLite database",
			Parameters: []Parameter{
				{Name: "database", Type: "string", Required: true, Description: "Database file path"},
			},
		},
		{
			Type:        "csv",
			Description: "CSV file",
			Parameters: []Parameter{
				{Name: "path", Type: "string", Required: true, Description: "File path"},
				{Name: "delimiter", Type: "string", Description: "Field delimiter", Default: ","},
				{Name: "has_header", Type: "boolean", Description: "Whether the file has a header row", Default: true},
				{Name: "encoding", Type: "string", Description: "File encoding", Default: "utf-8"},
			},
		},
		{
			Type:        "json",
			Description: "JSON file",
			Parameters: []Parameter{
				{Name: "path", Type: "string", Required: true, Description: "File path"},
				{Name: "encoding", Type: "string", Description: "File encoding", Default: "utf-8"},
			},
		},
		{
			Type:        "api",
			Description: "REST API",
			Parameters: []Parameter{
				{Name: "url", Type: "string", Required: true, Description: "API endpoint URL"},
				{Name: "method", Type: "string", Description: "HTTP method", Default: "GET",
					Enum: []string{"GET", "POST", "PUT", "DELETE"}},
				{Name: "headers", Type: "object", Description: "HTTP headers"},
				{Name: "auth_type", Type: "string", Description: "Authentication type",
					Enum: []string{"basic", "bearer", "api_key"}},
				{Name: "auth_token", Type: "string", Description: "Token for bearer auth", Sensitive: true},
				{Name: "api_key", Type: "string", Description: "API key", Sensitive: true},
				{Name: "response_format", Type: "string", Description: "Expected response format", Default: "json",
					Enum: []string{"json", "text", "binary"}},
			},
		},
		{
			Type:        "s3",
			Description: "Amazon S3 bucket",
			Parameters: []Parameter{
				{Name: "bucket", Type: "string", Required: true, Description: "Bucket name"},
				{Name: "prefix", Type: "string", Description: "Object prefix", Default: ""},
				{Name: "region", Type: "string", Description: "AWS region", Default: "us-east-1"},
				{Name: "access_key", Type: "string", Description: "AWS access key"},
				{Name: "secret_key", Type: "string", Description: "AWS secret key", Sensitive: true},
				{Name: "file_format", Type: "string", Description: "Format of objects in the bucket",
					Enum: []string{"csv", "json", "parquet", "avro"}},
			},
		},
	}
}
