package postgres

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func TestExposureRepositoryUpsertPreservesVerifiedStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	repo := NewExposureRepository(db)
	now := time.Now()

	mock.ExpectExec(`INSERT INTO ctem_exposures .*WHEN ctem_exposures\.status IN \('Verified', 'Closed'\) THEN ctem_exposures\.status`).
		WithArgs("exp-1", "t1", "Open", "wiz", "high", now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Upsert(context.Background(), Exposure{
		ExposureKey: "exp-1", TenantID: "t1", Status: "Open", Source: "wiz", Severity: "high", LastSeenAt: now,
	}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestIsStatusPreserved(t *testing.T) {
	cases := map[string]bool{
		"Open":     false,
		"Verified": true,
		"Closed":   true,
	}
	for status, want := range cases {
		if got := IsStatusPreserved(status); got != want {
			t.Errorf("IsStatusPreserved(%q) = %v, want %v", status, got, want)
		}
	}
}

func TestExposureRepositoryGetNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	repo := NewExposureRepository(db)
	mock.ExpectQuery("SELECT exposure_key, tenant_id, status, source, severity, last_seen_at").
		WithArgs("t1", "missing").
		WillReturnRows(sqlmock.NewRows([]string{"exposure_key", "tenant_id", "status", "source", "severity", "last_seen_at"}))

	_, ok, err := repo.Get(context.Background(), "t1", "missing")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("Get() ok = true, want false for missing row")
	}
}
