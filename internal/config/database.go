package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

// tlsConfigName is the name used to register custom TLS configs with the MySQL driver.
const tlsConfigName = "odata-sql-custom"

// DriverName returns the normalized driver: mysql, postgres or sqlite.
func (d *DatabaseConfig) DriverName() string {
	switch strings.ToLower(strings.TrimSpace(d.Driver)) {
	case "postgres", "postgresql", "pgx":
		return "postgres"
	case "sqlite", "sqlite3":
		return "sqlite"
	default:
		return "mysql"
	}
}

func (d *DatabaseConfig) effectivePort() int {
	if d.Port != 0 {
		return d.Port
	}
	if d.DriverName() == "postgres" {
		return 5432
	}
	return 3306
}

// DSN returns the data source name in the format of the configured driver.
// If ConnectionString is set, it is used directly (with MySQL time parsing enforced).
func (d *DatabaseConfig) DSN() string {
	switch d.DriverName() {
	case "sqlite":
		if d.ConnectionString != "" {
			return d.ConnectionString
		}
		return d.Database
	case "postgres":
		if d.ConnectionString != "" {
			return d.ConnectionString
		}
		return d.postgresDSN()
	default:
		return d.mysqlDSN()
	}
}

func (d *DatabaseConfig) mysqlDSN() string {
	if d.ConnectionString != "" {
		dsn := d.ConnectionString
		if !strings.Contains(dsn, "parseTime") {
			dsn = appendDSNParam(dsn, "parseTime=true")
		}
		if tlsParam := d.effectiveTLSParam(); tlsParam != "" && !strings.Contains(dsn, "tls=") {
			dsn = appendDSNParam(dsn, "tls="+tlsParam)
		}
		return dsn
	}

	cfg := mysql.NewConfig()
	cfg.User = d.User
	cfg.Passwd = d.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(d.Host, strconv.Itoa(d.effectivePort()))
	cfg.DBName = d.Database
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	if tlsParam := d.effectiveTLSParam(); tlsParam != "" {
		cfg.TLSConfig = tlsParam
	}
	return cfg.FormatDSN()
}

func appendDSNParam(dsn, param string) string {
	if strings.Contains(dsn, "?") {
		return dsn + "&" + param
	}
	return dsn + "?" + param
}

func (d *DatabaseConfig) postgresDSN() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(d.Host, strconv.Itoa(d.effectivePort())),
		Path:   "/" + d.Database,
	}
	if d.User != "" {
		if d.Password != "" {
			u.User = url.UserPassword(d.User, d.Password)
		} else {
			u.User = url.User(d.User)
		}
	}
	q := url.Values{}
	if mode := postgresSSLMode(d.TLS.Mode); mode != "" {
		q.Set("sslmode", mode)
	}
	if d.TLS.CAFile != "" {
		q.Set("sslrootcert", d.TLS.CAFile)
	}
	if d.TLS.CertFile != "" {
		q.Set("sslcert", d.TLS.CertFile)
	}
	if d.TLS.KeyFile != "" {
		q.Set("sslkey", d.TLS.KeyFile)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func postgresSSLMode(mode string) string {
	switch mode {
	case "off":
		return "disable"
	case "skip-verify":
		return "require"
	case "verify-ca", "verify-full":
		return mode
	}
	return ""
}

// effectiveTLSParam returns the MySQL tls parameter for the configured mode.
// Returns the registered config name for custom TLS, or empty string if no TLS is configured.
func (d *DatabaseConfig) effectiveTLSParam() string {
	switch d.TLS.Mode {
	case "":
		return ""
	case "off":
		return "false"
	case "skip-verify":
		return "skip-verify"
	case "verify-ca", "verify-full":
		return tlsConfigName
	default:
		return d.TLS.Mode
	}
}

// RegisterTLS registers a custom TLS configuration with the MySQL driver.
// Must be called before opening a MySQL connection in verify-ca or verify-full mode.
func (d *DatabaseConfig) RegisterTLS() error {
	if d.DriverName() != "mysql" {
		return nil
	}
	if d.TLS.Mode != "verify-ca" && d.TLS.Mode != "verify-full" {
		return nil
	}
	tlsCfg, err := d.buildTLSConfig()
	if err != nil {
		return fmt.Errorf("failed to build TLS config: %w", err)
	}
	if err := mysql.RegisterTLSConfig(tlsConfigName, tlsCfg); err != nil {
		return fmt.Errorf("failed to register TLS config: %w", err)
	}
	return nil
}

func (d *DatabaseConfig) buildTLSConfig() (*tls.Config, error) {
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if d.TLS.CAFile != "" {
		caCert, err := os.ReadFile(d.TLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file %q: %w", d.TLS.CAFile, err)
		}
		certPool := x509.NewCertPool()
		if !certPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate from %q", d.TLS.CAFile)
		}
		tlsCfg.RootCAs = certPool
	}

	if d.TLS.CertFile != "" && d.TLS.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(d.TLS.CertFile, d.TLS.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	} else if d.TLS.CertFile != "" || d.TLS.KeyFile != "" {
		return nil, fmt.Errorf("both cert_file and key_file must be specified for client certificate authentication")
	}

	if d.TLS.Mode == "verify-full" && d.TLS.ServerName != "" {
		tlsCfg.ServerName = d.TLS.ServerName
	}
	return tlsCfg, nil
}
