package datasource

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// checkTimeout bounds every live connection check.
const checkTimeout = 10 * time.Second

// CheckResult reports the outcome of a live connection check.
type CheckResult struct {
	Success  bool           `json:"success"`
	Message  string         `json:"message"`
	Details  map[string]any `json:"details,omitempty"`
	Warnings []string       `json:"warnings,omitempty"`
}

// Checker tests that a configured data source is actually reachable:
// database connections are opened and pinged, files opened, API endpoints
// requested. Types without a supported live check pass with a warning.
type Checker struct {
	client *http.Client
	logger *zap.Logger
}

// NewChecker creates a connection checker.
func NewChecker(logger *zap.Logger) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{
		client: &http.Client{Timeout: checkTimeout},
		logger: logger,
	}
}

// Check runs the live check appropriate for the configuration's type.
func (c *Checker) Check(ctx context.Context, cfg Config) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	var result CheckResult
	switch cfg.Type {
	case "postgres":
		result = c.checkPostgres(ctx, cfg)
	case "csv", "json", "sqlite":
		result = c.checkFile(cfg)
	case "api":
		result = c.checkAPI(ctx, cfg)
	case "mysql", "s3":
		result = CheckResult{
			Success:  true,
			Message:  "configuration accepted",
			Warnings: []string{fmt.Sprintf("live connection checks are not supported for type %s", cfg.Type)},
		}
	default:
		result = CheckResult{
			Success: false,
			Message: fmt.Sprintf("unsupported data source type: %s", cfg.Type),
		}
	}

	c.logger.Info("datasource check",
		zap.String("datasource_id", cfg.ID),
		zap.String("type", cfg.Type),
		zap.Bool("success", result.Success))
	return result
}

func (c *Checker) checkPostgres(ctx context.Context, cfg Config) CheckResult {
	details := map[string]any{"database_type": cfg.Type}

	connString := stringSetting(cfg.Settings, "connection_string", "")
	if connString == "" {
		u := url.URL{
			Scheme: "postgres",
			Host:   stringSetting(cfg.Settings, "host", "localhost") + ":" + strconv.Itoa(intSetting(cfg.Settings, "port", 5432)),
			Path:   "/" + stringSetting(cfg.Settings, "database", ""),
		}
		if user := stringSetting(cfg.Settings, "username", ""); user != "" {
			u.User = url.UserPassword(user, stringSetting(cfg.Settings, "password", ""))
		}
		if mode := stringSetting(cfg.Settings, "ssl_mode", ""); mode != "" {
			u.RawQuery = "sslmode=" + mode
		}
		connString = u.String()
	}

	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return CheckResult{
			Success: false,
			Message: fmt.Sprintf("database connection failed: %v", err),
			Details: details,
		}
	}
	defer conn.Close(ctx)

	if err := conn.Ping(ctx); err != nil {
		return CheckResult{
			Success: false,
			Message: fmt.Sprintf("database ping failed: %v", err),
			Details: details,
		}
	}
	return CheckResult{Success: true, Message: "database connection successful", Details: details}
}

func (c *Checker) checkFile(cfg Config) CheckResult {
	key := "path"
	if cfg.Type == "sqlite" {
		key = "database"
	}
	path := stringSetting(cfg.Settings, key, "")
	details := map[string]any{"path": path}

	if path == "" {
		return CheckResult{
			Success: false,
			Message: fmt.Sprintf("parameter %q is required", key),
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		return CheckResult{
			Success: false,
			Message: fmt.Sprintf("file not accessible: %v", err),
			Details: details,
		}
	}
	if info.IsDir() {
		return CheckResult{
			Success: false,
			Message: "path is a directory, not a file",
			Details: details,
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return CheckResult{
			Success: false,
			Message: fmt.Sprintf("file not readable: %v", err),
			Details: details,
		}
	}
	f.Close()

	details["size_bytes"] = info.Size()
	return CheckResult{Success: true, Message: "file is readable", Details: details}
}

func (c *Checker) checkAPI(ctx context.Context, cfg Config) CheckResult {
	endpoint := stringSetting(cfg.Settings, "url", "")
	method := stringSetting(cfg.Settings, "method", http.MethodGet)
	details := map[string]any{"url": endpoint, "method": method}

	if endpoint == "" {
		return CheckResult{Success: false, Message: "parameter \"url\" is required"}
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return CheckResult{
			Success: false,
			Message: fmt.Sprintf("invalid API request: %v", err),
			Details: details,
		}
	}
	if headers, ok := cfg.Settings["headers"].(map[string]any); ok {
		for name, value := range headers {
			if s, ok := value.(string); ok {
				req.Header.Set(name, s)
			}
		}
	}
	if token := stringSetting(cfg.Settings, "auth_token", ""); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return CheckResult{
			Success: false,
			Message: fmt.Sprintf("API request failed: %v", err),
			Details: details,
		}
	}
	defer resp.Body.Close()

	details["status_code"] = resp.StatusCode
	if resp.StatusCode >= 400 {
		return CheckResult{
			Success: false,
			Message: fmt.Sprintf("API returned status %d", resp.StatusCode),
			Details: details,
		}
	}
	return CheckResult{Success: true, Message: "API endpoint reachable", Details: details}
}
