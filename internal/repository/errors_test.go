package repository

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestWrapErr(t *testing.T) {
	assert.NoError(t, wrapErr("op", nil))
	assert.ErrorIs(t, wrapErr("op", ErrNotFound), ErrNotFound)
	assert.ErrorIs(t, wrapErr("op", &pgconn.PgError{Code: pgInvalidTextRepr}), ErrNotFound, "malformed uuid")
	assert.ErrorIs(t, wrapErr("op", &pgconn.PgError{Code: pgForeignKeyViolation}), ErrNotFound, "missing parent row")

	err := wrapErr("msgRepo.Create", &pgconn.PgError{Code: "23505"})
	assert.NotErrorIs(t, err, ErrNotFound)
	var pgErr *pgconn.PgError
	assert.ErrorAs(t, err, &pgErr)
	assert.Contains(t, err.Error(), "msgRepo.Create: ")

	boom := errors.New("boom")
	assert.ErrorIs(t, wrapErr("op", boom), boom)
}
