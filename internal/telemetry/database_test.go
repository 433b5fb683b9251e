package telemetry

import (
	"testing"

	_ "github.com/lib/pq"
)

func TestWithSearchPath(t *testing.T) {
	tests := []struct {
		name string
		dsn  string
		want string
	}{
		{"url without query", "postgres://u:p@localhost:5432/db", "postgres://u:p@localhost:5432/db?search_path=negotiations"},
		{"url with query", "postgres://u:p@localhost:5432/db?sslmode=disable", "postgres://u:p@localhost:5432/db?sslmode=disable&search_path=negotiations"},
		{"key value", "host=localhost dbname=db", "host=localhost dbname=db search_path=negotiations"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := withSearchPath(tt.dsn, "negotiations"); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestOpenDB(t *testing.T) {
	db, err := OpenDB("postgres://u:p@127.0.0.1:1/db?sslmode=disable", "negotiations")
	if err != nil {
		t.Fatalf("expected lazy open to succeed, got %v", err)
	}
	if err := db.Close(); err != nil {
		t.Errorf("unexpected close error: %v", err)
	}
}
