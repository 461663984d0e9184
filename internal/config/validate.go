package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"odata-sql/internal/dbexec"
	"odata-sql/internal/dialect"
	"odata-sql/internal/schemafilter"
)

// ValidationError represents a configuration validation error with context.
type ValidationError struct {
	Field   string
	Message string
	Hint    string
}

func (e ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (hint: %s)", e.Field, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationWarning represents a non-fatal configuration issue.
type ValidationWarning struct {
	Field   string
	Message string
	Hint    string
}

// ValidationResult contains the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationWarning
}

// HasErrors returns true if there are any validation errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// Error returns a combined error message if there are validation errors.
func (r *ValidationResult) Error() string {
	if !r.HasErrors() {
		return ""
	}
	var msgs []string
	for _, e := range r.Errors {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

func (r *ValidationResult) addError(field, message, hint string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message, Hint: hint})
}

func (r *ValidationResult) addWarning(field, message, hint string) {
	r.Warnings = append(r.Warnings, ValidationWarning{Field: field, Message: message, Hint: hint})
}

// Validate checks the configuration for errors and returns validation results.
// It returns both errors (fatal) and warnings (non-fatal issues).
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{}
	c.Database.validate(result)
	c.Planner.validate(c.Database.DriverName(), result)
	c.Schema.validate(result)
	c.Observability.validate(result)
	return result
}

func (s *SchemaConfig) validate(result *ValidationResult) {
	validateGlobList("schema.filters.allow_entity_sets", s.Filters.AllowEntitySets, result)
	validateGlobList("schema.filters.deny_entity_sets", s.Filters.DenyEntitySets, result)
	for typePattern, props := range s.Filters.DenyProperties {
		field := "schema.filters.deny_properties." + typePattern
		validateGlobList(field, append([]string{typePattern}, props...), result)
	}
}

func validateGlobList(field string, patterns []string, result *ValidationResult) {
	for _, pattern := range patterns {
		if err := schemafilter.ValidatePattern(pattern); err != nil {
			result.addError(field, fmt.Sprintf("invalid glob pattern %q: %v", pattern, err), "patterns use path.Match syntax, e.g. Order* or *_audit")
		}
	}
}

func (d *DatabaseConfig) validate(result *ValidationResult) {
	validDrivers := map[string]bool{"": true, "mysql": true, "tidb": true, "postgres": true, "postgresql": true, "pgx": true, "sqlite": true, "sqlite3": true}
	if !validDrivers[strings.ToLower(strings.TrimSpace(d.Driver))] {
		result.addError("database.driver", fmt.Sprintf("unknown driver %q", d.Driver), "valid values are: mysql, postgres, sqlite")
		return
	}
	driver := d.DriverName()

	if strings.TrimSpace(d.ConnectionString) != "" && strings.TrimSpace(d.ConnectionStringFile) != "" {
		result.addWarning("database.dsn_file", "dsn and dsn_file are both set", "dsn takes precedence")
	}

	switch driver {
	case "sqlite":
		if d.ConnectionString == "" && strings.TrimSpace(d.Database) == "" {
			result.addError("database.database", "sqlite requires a database file path or dsn", "")
		}
		if d.Role != "" || len(d.AllowedRoles) > 0 {
			result.addError("database.role", "sqlite has no roles", "remove database.role and database.allowed_roles")
		}
		if d.TLS.Mode != "" && d.TLS.Mode != "off" {
			result.addWarning("database.tls.mode", "TLS settings are ignored for sqlite", "")
		}
	default:
		if d.ConnectionString == "" && d.Port != 0 && (d.Port < 1 || d.Port > 65535) {
			result.addError("database.port", fmt.Sprintf("port %d is out of valid range (1-65535)", d.Port), "")
		}
		if d.ConnectionString == "" && strings.TrimSpace(d.Database) == "" {
			result.addError("database.database", "database name is required", "set database.database or database.dsn")
		}
		if d.ConnectionString != "" {
			if dl, err := dialect.ByName(driver); err == nil {
				if err := dbexec.ValidateDSN(dl, d.DSN()); err != nil {
					result.addError("database.dsn", err.Error(), "set a valid DSN in database.dsn/database.dsn_file")
				}
			}
		}
		d.TLS.validate(result)
	}

	if d.Role != "" && len(d.AllowedRoles) > 0 && !containsRole(d.AllowedRoles, d.Role) {
		result.addError("database.role", fmt.Sprintf("role %q is not in allowed_roles", d.Role), "add the default role to database.allowed_roles")
	}

	// Connection pool validation
	if d.Pool.MaxOpen < 0 {
		result.addError("database.pool.max_open", "max_open cannot be negative", "")
	}
	if d.Pool.MaxIdle < 0 {
		result.addError("database.pool.max_idle", "max_idle cannot be negative", "")
	}
	if d.Pool.MaxIdle > d.Pool.MaxOpen && d.Pool.MaxOpen > 0 {
		result.addWarning("database.pool.max_idle", "max_idle is greater than max_open", "idle connections will be limited to max_open")
	}

	// Connection retry validation
	if d.ConnectionTimeout < 0 {
		result.addError("database.connection_timeout", "connection_timeout cannot be negative", "")
	}
	if d.ConnectionRetryInterval < 0 {
		result.addError("database.connection_retry_interval", "connection_retry_interval cannot be negative", "")
	}
	if d.ConnectionTimeout > 0 && d.ConnectionRetryInterval == 0 {
		result.addError("database.connection_retry_interval",
			"connection_retry_interval must be greater than 0 when connection_timeout is set",
			"set a retry interval such as 2s, or set connection_timeout to 0 to disable retries")
	}
	if d.ConnectionTimeout > 0 && d.ConnectionRetryInterval > d.ConnectionTimeout {
		result.addWarning("database.connection_retry_interval", "connection_retry_interval is greater than connection_timeout", "only one connection attempt will be made")
	}
}

func containsRole(roles []string, role string) bool {
	for _, r := range roles {
		if strings.EqualFold(strings.TrimSpace(r), role) {
			return true
		}
	}
	return false
}

func (t *DatabaseTLSConfig) validate(result *ValidationResult) {
	validModes := map[string]bool{"": true, "off": true, "skip-verify": true, "verify-ca": true, "verify-full": true}
	if !validModes[t.Mode] {
		result.addError("database.tls.mode", fmt.Sprintf("invalid TLS mode %q", t.Mode), "valid values are: off, skip-verify, verify-ca, verify-full")
	}
	if (t.Mode == "verify-ca" || t.Mode == "verify-full") && t.CAFile == "" {
		result.addError("database.tls.ca_file", "CA file is required for verify-ca and verify-full modes", "set ca_file to specify the CA certificate")
	}
	if (t.CertFile != "") != (t.KeyFile != "") {
		result.addError("database.tls.cert_file",
			"both cert_file and key_file must be specified for client certificate authentication",
			"provide both cert_file and key_file, or neither")
	}
	if t.Mode == "skip-verify" {
		result.addWarning("database.tls.mode", "skip-verify mode does not verify server certificates", "use verify-ca or verify-full in production")
	}
}

func (p *PlannerConfig) validate(driver string, result *ValidationResult) {
	if p.Dialect != "" {
		if _, err := dialect.ByName(p.Dialect); err != nil {
			result.addError("planner.dialect", err.Error(), "valid values are: mysql, postgres, sqlite")
		} else if canonicalDialect(p.Dialect) != driver {
			result.addWarning("planner.dialect",
				fmt.Sprintf("dialect %q differs from database driver %q", p.Dialect, driver),
				"plans may not run against the configured database")
		}
	}

	switch p.NullsOrder {
	case "", "low", "high":
	default:
		result.addError("planner.nulls_order", fmt.Sprintf("invalid nulls order %q", p.NullsOrder), "valid values are: low, high")
	}

	if err := p.Limits().Validate(); err != nil {
		result.addError("planner", err.Error(), "")
	}
	if p.MaxPageSize == 0 {
		result.addWarning("planner.max_page_size", "max_page_size is 0, so page size is unbounded", "set a maximum to bound result pages")
	}
}

func canonicalDialect(name string) string {
	d, err := dialect.ByName(name)
	if err != nil {
		return ""
	}
	return d.Name
}

func (o *ObservabilityConfig) validate(result *ValidationResult) {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[o.Logging.Level] {
		result.addError("observability.logging.level", fmt.Sprintf("invalid log level %q", o.Logging.Level), "valid values are: debug, info, warn, error")
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[o.Logging.Format] {
		result.addError("observability.logging.format", fmt.Sprintf("invalid log format %q", o.Logging.Format), "valid values are: json, text")
	}

	if o.TraceSampleRatio < 0 || o.TraceSampleRatio > 1 {
		result.addError("observability.trace_sample_ratio", fmt.Sprintf("trace_sample_ratio %v is outside [0, 1]", o.TraceSampleRatio), "")
	}
	if o.SQLCommenterEnabled && !o.TracingEnabled {
		result.addWarning("observability.sqlcommenter_enabled", "sqlcommenter requires tracing", "enable observability.tracing_enabled")
	}

	o.OTLP.validate("observability.otlp", result)
	if o.Traces != nil {
		o.Traces.validate("observability.traces", result)
	}
	if o.Logs != nil {
		o.Logs.validate("observability.logs", result)
	}
}

func (o *OTLPConfig) validate(prefix string, result *ValidationResult) {
	validProtocols := map[string]bool{"": true, "grpc": true, "http/protobuf": true}
	if !validProtocols[o.Protocol] {
		result.addError(prefix+".protocol", fmt.Sprintf("invalid OTLP protocol %q", o.Protocol), "valid values are: grpc, http/protobuf")
	}
	if o.Protocol == "http/protobuf" && !validOTLPEndpoint(o.Endpoint) {
		result.addError(prefix+".endpoint", fmt.Sprintf("invalid OTLP endpoint %q for http/protobuf", o.Endpoint), "use host:port or a full URL")
	}

	validCompressions := map[string]bool{"": true, "none": true, "gzip": true}
	if !validCompressions[o.Compression] {
		result.addError(prefix+".compression", fmt.Sprintf("invalid OTLP compression %q", o.Compression), "valid values are: none, gzip")
	}
	if (o.TLSClientCertFile != "") != (o.TLSClientKeyFile != "") {
		result.addError(prefix+".tls_client_cert_file", "tls_client_cert_file and tls_client_key_file must both be set", "")
	}
}

func validOTLPEndpoint(endpoint string) bool {
	if endpoint == "" {
		return false
	}
	if strings.Contains(endpoint, "://") {
		parsed, err := url.Parse(endpoint)
		if err != nil {
			return false
		}
		return parsed.Host != ""
	}
	_, _, err := net.SplitHostPort(endpoint)
	return err == nil
}
