package fabric

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestSQLSourceQueryReturnsRowMaps(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	defer db.Close()

	source, err := NewSQLSource(db, "postgres")
	if err != nil {
		t.Fatalf("NewSQLSource failed: %v", err)
	}

	rows := sqlmock.NewRows([]string{"claim_type", "claim_count", "avg_amount"}).
		AddRow("collision", 42, 8250.5).
		AddRow([]byte("property"), 17, 12000.0)
	mock.ExpectQuery("SELECT claim_type").WillReturnRows(rows)

	got, err := source.Query(context.Background(), "SELECT claim_type, claim_count, avg_amount FROM claims_history")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(got))
	}

	if got[0]["claim_type"] != "collision" {
		t.Errorf("expected claim_type collision, got %v", got[0]["claim_type"])
	}
	if got[0]["claim_count"] != int64(42) {
		t.Errorf("expected claim_count 42, got %v (%T)", got[0]["claim_count"], got[0]["claim_count"])
	}
	if got[0]["avg_amount"] != 8250.5 {
		t.Errorf("expected avg_amount 8250.5, got %v", got[0]["avg_amount"])
	}

	// Byte-slice column values come back as strings.
	if got[1]["claim_type"] != "property" {
		t.Errorf("expected byte column converted to string, got %v (%T)", got[1]["claim_type"], got[1]["claim_type"])
	}
}

func TestSQLSourceQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	defer db.Close()

	source, err := NewSQLSource(db, "postgres")
	if err != nil {
		t.Fatalf("NewSQLSource failed: %v", err)
	}

	mock.ExpectQuery("SELECT").WillReturnError(errors.New("relation does not exist"))

	if _, err := source.Query(context.Background(), "SELECT * FROM missing"); err == nil {
		t.Error("expected query error, got nil")
	}
}

func TestSQLSourceMaxRowsCap(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	defer db.Close()

	source, err := NewSQLSource(db, "sqlite")
	if err != nil {
		t.Fatalf("NewSQLSource failed: %v", err)
	}
	source.SetMaxRows(2)

	rows := sqlmock.NewRows([]string{"n"}).AddRow(1).AddRow(2).AddRow(3)
	mock.ExpectQuery("SELECT n").WillReturnRows(rows)

	got, err := source.Query(context.Background(), "SELECT n FROM numbers")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected cap at 2 rows, got %d", len(got))
	}
}

func TestNewSQLSourceValidation(t *testing.T) {
	if _, err := NewSQLSource(nil, "postgres"); err == nil {
		t.Error("expected error for nil db")
	}
}
