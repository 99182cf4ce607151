package repository

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	pgForeignKeyViolation = "23503"
	pgInvalidTextRepr     = "22P02"
)

// wrapErr оборачивает ошибку pgx операцией. Нарушение FK и невалидный uuid
// в идентификаторе означают, что адресуемой сущности нет: это ErrNotFound.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgForeignKeyViolation, pgInvalidTextRepr:
			return ErrNotFound
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
