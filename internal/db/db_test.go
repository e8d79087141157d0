package db

import (
	"testing"

	"fidus/internal/config"
)

func TestOpenRequiresDSN(t *testing.T) {
	if _, err := Open(config.DBConfig{Driver: "postgres"}); err == nil {
		t.Fatalf("expected error for empty dsn")
	}
}

func TestSetTimezoneRejectsInjection(t *testing.T) {
	if err := SetTimezone(nil, "UTC"); err != nil {
		t.Fatalf("nil db should be a no-op, got %v", err)
	}
	if !tzPattern.MatchString("America/New_York") || !tzPattern.MatchString("Etc/GMT+5") {
		t.Fatalf("expected IANA names to be accepted")
	}
	if tzPattern.MatchString("UTC'; DROP TABLE accounts; --") {
		t.Fatalf("expected quoted input to be rejected")
	}
}

func TestNilHelpers(t *testing.T) {
	if err := Close(nil); err != nil {
		t.Fatalf("close nil: %v", err)
	}
	if err := AutoMigrate(nil); err != nil {
		t.Fatalf("migrate nil: %v", err)
	}
}
