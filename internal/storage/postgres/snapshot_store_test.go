package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/taped/internal/storage"
)

func TestSaveInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "catalog_snapshots")
	require.NoError(t, err)

	body := []byte(`{"x":{}}`)
	mock.ExpectExec("INSERT INTO catalog_snapshots").
		WithArgs(body).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Save(context.Background(), body))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveWrapsError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "")
	require.NoError(t, err)

	boom := errors.New("connection refused")
	mock.ExpectExec("INSERT INTO catalog_snapshots").
		WithArgs([]byte(`{}`)).
		WillReturnError(boom)

	err = store.Save(context.Background(), []byte(`{}`))
	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadReturnsNewestBody(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "snapshots")
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT body FROM snapshots ORDER BY id DESC LIMIT 1`).
		WillReturnRows(mock.NewRows([]string{"body"}).AddRow([]byte(`{"a":1}`)))

	body, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(body))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadEmptyTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT body FROM catalog_snapshots").WillReturnError(pgx.ErrNoRows)

	_, err = store.Load(context.Background())
	require.ErrorIs(t, err, storage.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS catalog_snapshots").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTableNameValidation(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewWithPool(mock, "snapshots; DROP TABLE x")
	assert.Error(t, err)

	_, err = NewWithPool(nil, "")
	assert.Error(t, err)

	_, err = New(context.Background(), Config{})
	assert.Error(t, err)
}
