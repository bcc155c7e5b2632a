package storage

import (
	"testing"

	"github.com/go-sql-driver/mysql"
)

func TestNormalizeDSN(t *testing.T) {
	tests := []struct {
		name string
		dsn  string
	}{
		{"without parseTime", "root:root@tcp(localhost:3306)/pharmacy"},
		{"parseTime off", "root:root@tcp(localhost:3306)/pharmacy?parseTime=false"},
		{"already on", "root:root@tcp(localhost:3306)/pharmacy?parseTime=true"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeDSN(tt.dsn)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			cfg, err := mysql.ParseDSN(got)
			if err != nil {
				t.Fatalf("normalized dsn does not parse: %v", err)
			}
			if !cfg.ParseTime {
				t.Errorf("expected parseTime in %q", got)
			}
			if cfg.DBName != "pharmacy" || cfg.Addr != "localhost:3306" {
				t.Errorf("dsn target changed: %q", got)
			}
		})
	}
}

func TestNormalizeDSN_Invalid(t *testing.T) {
	if _, err := NormalizeDSN("root:root@tcp(localhost:3306"); err == nil {
		t.Error("expected error for malformed dsn")
	}
}
