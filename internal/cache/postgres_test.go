package cache

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgres_LazySchemaThenPut(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(regexp.QuoteMeta(pgSchema)).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(regexp.QuoteMeta(pgPut)).
		WithArgs("k", []byte("v")).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(regexp.QuoteMeta(pgDelete)).
		WithArgs("k").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	b := Lazy(NewPostgres(mock))
	require.NoError(t, b.Put(context.Background(), "k", []byte("v")))
	require.NoError(t, b.Delete(context.Background(), "k"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Get(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(regexp.QuoteMeta(pgGet)).
		WithArgs(ResultKey).
		WillReturnRows(pgxmock.NewRows([]string{"value"}).AddRow([]byte(`{"results":[]}`)))
	mock.ExpectQuery(regexp.QuoteMeta(pgGet)).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta(pgGet)).
		WithArgs("broken").
		WillReturnError(errors.New("connection reset"))

	p := NewPostgres(mock)
	v, err := p.Get(context.Background(), ResultKey)
	require.NoError(t, err)
	assert.JSONEq(t, `{"results":[]}`, string(v))

	_, err = p.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = p.Get(context.Background(), "broken")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}
