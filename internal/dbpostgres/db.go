package dbpostgres

import (
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

func NewDBConn(connString string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", connString)
	if err != nil {
		return nil, err
	}
	return db, nil
}
