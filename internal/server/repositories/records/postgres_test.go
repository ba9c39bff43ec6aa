package records

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/famsync/internal/common"
	"github.com/dmitrijs2005/famsync/internal/server/models"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

var at = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func sampleRecord() *models.Record {
	return &models.Record{
		UserID:     "u1",
		EntityType: "story",
		EntityID:   "s1",
		Version:    2,
		Data:       []byte(`{"title":"a"}`),
		DeviceID:   "d1",
		UpdatedAt:  at,
	}
}

func TestGet_Found(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT version, data, deleted, device_id, updated_at FROM records\s+WHERE user_id = \$1 AND entity_type = \$2 AND entity_id = \$3`).
		WithArgs("u1", "story", "s1").
		WillReturnRows(sqlmock.NewRows([]string{"version", "data", "deleted", "device_id", "updated_at"}).
			AddRow(int64(2), []byte(`{"title":"a"}`), false, "d1", at))

	rec, err := repo.Get(context.Background(), "u1", "story", "s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Version != 2 || string(rec.Data) != `{"title":"a"}` || rec.DeviceID != "d1" || !rec.UpdatedAt.Equal(at) {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.UserID != "u1" || rec.EntityType != "story" || rec.EntityID != "s1" {
		t.Fatalf("key not filled: %+v", rec)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGet_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT version, data`).
		WithArgs("u1", "story", "nope").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), "u1", "story", "nope")
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want ErrorNotFound, got %v", err)
	}
}

func TestGet_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT version, data`).WillReturnError(errors.New("db is down"))

	_, err := repo.Get(context.Background(), "u1", "story", "s1")
	if err == nil || !regexp.MustCompile(`failed to select record: .*db is down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestInsert_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO records .* ON CONFLICT \(user_id, entity_type, entity_id\) DO NOTHING;`).
		WithArgs("u1", "story", "s1", int64(2), `{"title":"a"}`, false, "d1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Insert(context.Background(), sampleRecord()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestInsert_ExistingRowIsConflict(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO records`).WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Insert(context.Background(), sampleRecord())
	if !errors.Is(err, common.ErrVersionConflict) {
		t.Fatalf("want ErrVersionConflict, got %v", err)
	}
}

func TestInsert_DBExecError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO records`).WillReturnError(errors.New("db is down"))

	err := repo.Insert(context.Background(), sampleRecord())
	if err == nil || !regexp.MustCompile(`db error: .*db is down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestUpdate_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE records SET .* WHERE user_id = \$1 AND entity_type = \$2 AND entity_id = \$3 AND version = \$9;`).
		WithArgs("u1", "story", "s1", int64(2), `{"title":"a"}`, false, "d1", at, int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Update(context.Background(), sampleRecord(), 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpdate_StaleVersionIsConflict(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE records SET`).WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Update(context.Background(), sampleRecord(), 1)
	if !errors.Is(err, common.ErrVersionConflict) {
		t.Fatalf("want ErrVersionConflict, got %v", err)
	}
}

func TestUpdate_RowsAffectedError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE records SET`).WillReturnResult(sqlmock.NewErrorResult(errors.New("rows-err")))

	err := repo.Update(context.Background(), sampleRecord(), 1)
	if err == nil || !regexp.MustCompile(`rows affected error: .*rows-err`).MatchString(err.Error()) {
		t.Fatalf("expected rows affected error, got %v", err)
	}
}

func TestUpdate_UnexpectedRowsAffected(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE records SET`).WillReturnResult(sqlmock.NewResult(0, 2))

	err := repo.Update(context.Background(), sampleRecord(), 1)
	if err == nil || err.Error() != "unexpected rows affected: 2" {
		t.Fatalf("expected unexpected rows error, got %v", err)
	}
}

func TestCount(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM records WHERE user_id = \$1 AND NOT deleted`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	n, err := repo.Count(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 {
		t.Fatalf("want 3, got %d", n)
	}
}
