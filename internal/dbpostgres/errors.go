package dbpostgres

import (
	"errors"

	"github.com/lib/pq"
)

const errDuplicateCode = "23505"

func IsDuplicateKeyErr(err error) bool {
	var pgErr *pq.Error
	if err != nil && errors.As(err, &pgErr) {
		return pgErr.Code == pq.ErrorCode(errDuplicateCode)
	}
	return false
}
