package storage

import (
	"fmt"

	"github.com/go-sql-driver/mysql"
)

// NormalizeDSN parses a MySQL DSN and turns on the options the adapter's
// scans depend on.
func NormalizeDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	return cfg.FormatDSN(), nil
}
