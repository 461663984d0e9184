package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"odata-sql/internal/planner"
)

func TestDatabaseConfig_DSN(t *testing.T) {
	tests := []struct {
		name     string
		config   DatabaseConfig
		expected string
	}{
		{
			name: "mysql discrete fields",
			config: DatabaseConfig{
				Host:     "localhost",
				Port:     4000,
				User:     "root",
				Password: "password",
				Database: "test",
			},
			expected: "root:password@tcp(localhost:4000)/test?parseTime=true",
		},
		{
			name: "mysql special characters in password",
			config: DatabaseConfig{
				Host:     "db.example.com",
				Port:     3306,
				User:     "admin",
				Password: "p@ss:w0rd!",
				Database: "mydb",
			},
			expected: "admin:p@ss:w0rd!@tcp(db.example.com:3306)/mydb?parseTime=true",
		},
		{
			name: "mysql dsn gains parseTime and tls",
			config: DatabaseConfig{
				ConnectionString: "u:p@tcp(h:3306)/db",
				TLS:              DatabaseTLSConfig{Mode: "skip-verify"},
			},
			expected: "u:p@tcp(h:3306)/db?parseTime=true&tls=skip-verify",
		},
		{
			name: "postgres discrete fields",
			config: DatabaseConfig{
				Driver:   "postgresql",
				Host:     "db",
				User:     "app",
				Password: "s3cret",
				Database: "shop",
				TLS:      DatabaseTLSConfig{Mode: "verify-full", CAFile: "/ca.pem"},
			},
			expected: "postgres://app:s3cret@db:5432/shop?sslmode=verify-full&sslrootcert=%2Fca.pem",
		},
		{
			name: "postgres dsn passes through",
			config: DatabaseConfig{
				Driver:           "postgres",
				ConnectionString: "postgres://app@db/shop",
			},
			expected: "postgres://app@db/shop",
		},
		{
			name:     "sqlite file",
			config:   DatabaseConfig{Driver: "sqlite3", Database: "/var/lib/shop.db"},
			expected: "/var/lib/shop.db",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.config.DSN())
		})
	}
}

func TestDatabaseConfig_RegisterTLS(t *testing.T) {
	assert.NoError(t, (&DatabaseConfig{Driver: "postgres", TLS: DatabaseTLSConfig{Mode: "verify-full"}}).RegisterTLS())
	assert.NoError(t, (&DatabaseConfig{TLS: DatabaseTLSConfig{Mode: "skip-verify"}}).RegisterTLS())

	err := (&DatabaseConfig{TLS: DatabaseTLSConfig{Mode: "verify-ca", CAFile: filepath.Join(t.TempDir(), "missing.pem")}}).RegisterTLS()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read CA file")
}

func newFlagSet(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	DefineFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, 10, cfg.Database.Pool.MaxOpen)
	assert.Equal(t, 5*time.Minute, cfg.Database.Pool.MaxLifetime)
	assert.Equal(t, planner.DefaultLimits(), cfg.Planner.Limits())
	assert.Equal(t, "odata-sql", cfg.Observability.ServiceName)
	assert.Equal(t, 10*time.Second, cfg.Observability.OTLP.Timeout)
	assert.Empty(t, cfg.Database.AllowedRoles)
	assert.True(t, cfg.Schema.Filters.IsZero())
}

func TestLoad_Precedence(t *testing.T) {
	path := writeFile(t, "odsql.yaml", `
database:
  driver: sqlite
  database: shop.db
planner:
  max_page_size: 50
  default_page_size: 40
  nulls_order: high
`)
	t.Setenv("ODSQL_PLANNER_DEFAULT_PAGE_SIZE", "10")
	t.Setenv("ODSQL_PLANNER_MAX_PAGE_SIZE", "30")
	t.Setenv("ODSQL_DATABASE_ALLOWED_ROLES", "reader, writer")

	cfg, err := Load(newFlagSet(t, "--config", path, "--planner.max_page_size=25"))
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.DriverName())
	assert.Equal(t, "shop.db", cfg.Database.DSN())
	assert.Equal(t, 25, cfg.Planner.MaxPageSize, "flag beats env and file")
	assert.Equal(t, 10, cfg.Planner.DefaultPageSize, "env beats file")
	assert.Equal(t, "high", cfg.Planner.NullsOrder)
	assert.Equal(t, []string{"reader", "writer"}, cfg.Database.AllowedRoles)
}

func TestLoad_UnknownKeyFails(t *testing.T) {
	path := writeFile(t, "odsql.yaml", "planner:\n  bogus: 1\n")
	_, err := Load(newFlagSet(t, "--config", path))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to unmarshal config")
}

func TestLoad_MissingExplicitConfigFails(t *testing.T) {
	_, err := Load(newFlagSet(t, "--config", filepath.Join(t.TempDir(), "absent.yaml")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoad_SecretFiles(t *testing.T) {
	dsnPath := writeFile(t, "dsn", "  file:shop.db?mode=ro \n")
	pwdPath := writeFile(t, "pwd", "hunter2\n")
	t.Setenv("ODSQL_DATABASE_DRIVER", "sqlite")
	t.Setenv("ODSQL_DATABASE_DSN_FILE", dsnPath)
	t.Setenv("ODSQL_DATABASE_PASSWORD_FILE", pwdPath)

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "file:shop.db?mode=ro", cfg.Database.DSN())
	assert.Equal(t, "hunter2", cfg.Database.Password)
}

func TestLoad_RejectsTwoStdinSources(t *testing.T) {
	t.Setenv("ODSQL_DATABASE_DSN_FILE", "@-")
	t.Setenv("ODSQL_DATABASE_PASSWORD_FILE", "@-")

	_, err := Load(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only one @- source is allowed")
}

func TestLoadFromReader(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(`
database:
  driver: postgres
  dsn: postgres://app@db/shop
observability:
  otlp:
    endpoint: collector:4317
  traces:
    endpoint: traces:4318
    protocol: http/protobuf
`))
	require.NoError(t, err)

	d, err := cfg.Dialect()
	require.NoError(t, err)
	assert.Equal(t, "postgres", d.Name)

	open := cfg.OpenConfig(d)
	assert.Equal(t, "postgres://app@db/shop", open.DSN)
	assert.Equal(t, 10, open.MaxOpenConns)

	traces := cfg.Observability.TracesConfig()
	assert.Equal(t, "traces:4318", traces.OTLP.Endpoint)
	assert.Equal(t, "http/protobuf", traces.OTLP.Protocol)
	assert.Equal(t, "collector:4317", cfg.Observability.LogsConfig().OTLP.Endpoint)
}

func TestConfig_PlannerOptions(t *testing.T) {
	cfg := &Config{Planner: PlannerConfig{Dialect: "tidb", NullsOrder: "high", DefaultPageSize: 10, MaxPageSize: 20}}
	d, err := cfg.Dialect()
	require.NoError(t, err)
	assert.Equal(t, "mysql", d.Name)
	assert.Len(t, cfg.PlannerOptions(), 2)

	cfg.Planner.NullsOrder = ""
	assert.Len(t, cfg.PlannerOptions(), 1)

	cfg.Planner.Dialect = "oracle"
	_, err = cfg.Dialect()
	assert.Error(t, err)
}

func TestMergeOTLPConfigs(t *testing.T) {
	base := OTLPConfig{Endpoint: "a:4317", Protocol: "grpc", Insecure: true, Headers: map[string]string{"x": "1", "y": "2"}, Timeout: time.Second}
	merged := mergeOTLPConfigs(base, OTLPConfig{Headers: map[string]string{"y": "3"}, Compression: "none"})

	assert.Equal(t, "a:4317", merged.Endpoint)
	assert.False(t, merged.Insecure)
	assert.Equal(t, map[string]string{"x": "1", "y": "3"}, merged.Headers)
	assert.Equal(t, time.Second, merged.Timeout)
	assert.Equal(t, "none", merged.Compression)
	assert.Equal(t, map[string]string{"x": "1", "y": "2"}, base.Headers)
}

func TestConfig_Validate(t *testing.T) {
	validConfig := func() *Config {
		return &Config{
			Database: DatabaseConfig{
				Host:     "localhost",
				Port:     4000,
				User:     "root",
				Database: "test",
				TLS:      DatabaseTLSConfig{Mode: "off"},
				Pool:     PoolConfig{MaxOpen: 25, MaxIdle: 5},
			},
			Planner: PlannerConfig{
				DefaultPageSize: 100,
				MaxPageSize:     1000,
				MaxExpandDepth:  4,
				MaxJoins:        32,
			},
			Observability: ObservabilityConfig{
				TraceSampleRatio: 1,
				Logging:          LoggingConfig{Level: "info", Format: "json"},
				OTLP:             OTLPConfig{Protocol: "grpc", Compression: "gzip"},
			},
		}
	}

	t.Run("valid config passes validation", func(t *testing.T) {
		result := validConfig().Validate()
		assert.False(t, result.HasErrors())
		assert.Empty(t, result.Errors)
		assert.Empty(t, result.Warnings)
	})

	errorCases := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"unknown driver", func(c *Config) { c.Database.Driver = "oracle" }, "database.driver"},
		{"port out of range", func(c *Config) { c.Database.Port = 70000 }, "database.port"},
		{"missing database name", func(c *Config) { c.Database.Database = "" }, "database.database"},
		{"sqlite without path", func(c *Config) { c.Database.Driver = "sqlite"; c.Database.Database = "" }, "database.database"},
		{"sqlite with role", func(c *Config) { c.Database.Driver = "sqlite"; c.Database.Role = "reader" }, "database.role"},
		{"role outside allowed roles", func(c *Config) {
			c.Database.Role = "admin"
			c.Database.AllowedRoles = []string{"reader"}
		}, "database.role"},
		{"unparseable mysql dsn", func(c *Config) { c.Database.ConnectionString = "u:p@tcp(h:3306" }, "database.dsn"},
		{"invalid TLS mode", func(c *Config) { c.Database.TLS.Mode = "strict" }, "database.tls.mode"},
		{"verify-ca without CA", func(c *Config) { c.Database.TLS.Mode = "verify-ca" }, "database.tls.ca_file"},
		{"cert without key", func(c *Config) { c.Database.TLS.CertFile = "client.pem" }, "database.tls.cert_file"},
		{"negative pool", func(c *Config) { c.Database.Pool.MaxOpen = -1 }, "database.pool.max_open"},
		{"timeout without retry interval", func(c *Config) { c.Database.ConnectionTimeout = time.Second }, "database.connection_retry_interval"},
		{"unknown dialect", func(c *Config) { c.Planner.Dialect = "oracle" }, "planner.dialect"},
		{"invalid nulls order", func(c *Config) { c.Planner.NullsOrder = "first" }, "planner.nulls_order"},
		{"default page above max", func(c *Config) { c.Planner.DefaultPageSize = 2000 }, "planner"},
		{"negative expand depth", func(c *Config) { c.Planner.MaxExpandDepth = -1 }, "planner"},
		{"malformed entity set pattern", func(c *Config) { c.Schema.Filters.DenyEntitySets = []string{"Ord[ers"} }, "schema.filters.deny_entity_sets"},
		{"malformed property pattern", func(c *Config) {
			c.Schema.Filters.DenyProperties = map[string][]string{"order": {"[x"}}
		}, "schema.filters.deny_properties.order"},
		{"invalid log level", func(c *Config) { c.Observability.Logging.Level = "verbose" }, "observability.logging.level"},
		{"invalid log format", func(c *Config) { c.Observability.Logging.Format = "xml" }, "observability.logging.format"},
		{"sample ratio above one", func(c *Config) { c.Observability.TraceSampleRatio = 1.5 }, "observability.trace_sample_ratio"},
		{"invalid OTLP protocol", func(c *Config) { c.Observability.OTLP.Protocol = "thrift" }, "observability.otlp.protocol"},
		{"invalid http endpoint", func(c *Config) {
			c.Observability.OTLP.Protocol = "http/protobuf"
			c.Observability.OTLP.Endpoint = "http://"
		}, "observability.otlp.endpoint"},
		{"invalid trace compression", func(c *Config) { c.Observability.Traces = &OTLPConfig{Compression: "zstd"} }, "observability.traces.compression"},
	}
	for _, tc := range errorCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			result := cfg.Validate()
			require.True(t, result.HasErrors())
			fields := make([]string, 0, len(result.Errors))
			for _, e := range result.Errors {
				fields = append(fields, e.Field)
			}
			assert.Contains(t, fields, tc.field)
		})
	}

	warningCases := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"skip-verify", func(c *Config) { c.Database.TLS.Mode = "skip-verify" }, "database.tls.mode"},
		{"idle above open", func(c *Config) { c.Database.Pool.MaxIdle = 50 }, "database.pool.max_idle"},
		{"dialect differs from driver", func(c *Config) { c.Planner.Dialect = "postgres" }, "planner.dialect"},
		{"unbounded page size", func(c *Config) { c.Planner.MaxPageSize = 0 }, "planner.max_page_size"},
		{"sqlcommenter without tracing", func(c *Config) { c.Observability.SQLCommenterEnabled = true }, "observability.sqlcommenter_enabled"},
	}
	for _, tc := range warningCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			result := cfg.Validate()
			assert.False(t, result.HasErrors(), result.Error())
			fields := make([]string, 0, len(result.Warnings))
			for _, w := range result.Warnings {
				fields = append(fields, w.Field)
			}
			assert.Contains(t, fields, tc.field)
		})
	}

	t.Run("multiple errors collected", func(t *testing.T) {
		cfg := validConfig()
		cfg.Database.Port = 0
		cfg.Database.Database = ""
		cfg.Observability.Logging.Level = "loud"
		result := cfg.Validate()
		assert.Len(t, result.Errors, 2)
		assert.Contains(t, result.Error(), "; ")
	})
}

func TestValidationError_Error(t *testing.T) {
	t.Run("with hint", func(t *testing.T) {
		err := ValidationError{Field: "database.port", Message: "out of range", Hint: "use 1-65535"}
		assert.Equal(t, "database.port: out of range (hint: use 1-65535)", err.Error())
	})

	t.Run("without hint", func(t *testing.T) {
		err := ValidationError{Field: "database.port", Message: "out of range"}
		assert.Equal(t, "database.port: out of range", err.Error())
	})
}
