package media

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// ErrConflict reports that a conditional write lost a race or hit a unique key.
var ErrConflict = errors.New("repo conflict")

func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%s: %w", op, errors.Join(ErrConflict, err))
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.TrimSpace(pgErr.Code) == "23505" {
		return fmt.Errorf("%s: %w", op, errors.Join(ErrConflict, err))
	}
	return fmt.Errorf("%s: %w", op, err)
}
