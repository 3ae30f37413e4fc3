package mysql

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"

	"ASpec-Commerce/internal/decision"
	"ASpec-Commerce/internal/events"
	"ASpec-Commerce/internal/paywall"
)

func newMock(t *testing.T) (*Archive, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewArchive(db), mock
}

func TestAppendEvent(t *testing.T) {
	archive, mock := newMock(t)
	evt := events.New(decision.KindMarketing, events.TypePayment, events.Payload{
		Subject: "artisan_goods",
		Thought: "Payment of $35 USDC sent to @artisan_goods for campaign collaboration",
	})

	mock.ExpectExec(regexp.QuoteMeta(insertEventSQL)).
		WithArgs(evt.ID, "marketing", "payment", sqlmock.AnyArg(), "artisan_goods", evt.Payload.Thought, "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := archive.AppendEvent(context.Background(), evt); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAppendEventPropagatesErrors(t *testing.T) {
	archive, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta(insertEventSQL)).WillReturnError(errors.New("table is read only"))

	err := archive.AppendEvent(context.Background(), events.New(decision.KindProcurement, events.TypeAnalysis, events.Payload{}))
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestAppendReceipt(t *testing.T) {
	archive, mock := newMock(t)
	paidAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta(insertReceiptSQL)).
		WithArgs("/influencer/premium", "0xabc", "5", paidAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := archive.AppendReceipt(context.Background(), "/influencer/premium", paywall.PaymentReceipt{
		Paid: true, Reference: "0xabc", AmountDue: decimal.NewFromInt(5), Timestamp: paidAt,
	})
	if err != nil {
		t.Fatalf("append receipt: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestMigrateAppliesPendingFiles(t *testing.T) {
	archive, mock := newMock(t)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS schema_migrations")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT version FROM schema_migrations")).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow("0001"))

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS paywall_receipts")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO schema_migrations")).
		WithArgs("0002", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := archive.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSplitSQLStatements(t *testing.T) {
	got := splitSQLStatements("CREATE TABLE a (id INT);\n\n  ;CREATE TABLE b (id INT);")
	if len(got) != 2 || got[1] != "CREATE TABLE b (id INT)" {
		t.Fatalf("unexpected statements %q", got)
	}
	if parseMigrationVersion("0003_add_index.sql") != "0003" {
		t.Fatal("unexpected version")
	}
}
