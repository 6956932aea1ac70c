package database

import (
	"database/sql"
	"time"

	_ "github.com/lib/pq"
)

const (
	maxOpenConns    = 25
	maxIdleConns    = 5
	connMaxLifetime = 30 * time.Minute
)

type PgRelayRepository struct {
	conn *sql.DB
}

func NewPgRelayRepository(dsn string) (*PgRelayRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	return &PgRelayRepository{conn: db}, nil
}

func (db *PgRelayRepository) Ping() error {
	return db.conn.Ping()
}

func (db *PgRelayRepository) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}
