package db

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"slide_analyzer/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sirupsen/logrus"
)

//go:embed schema.sql
var schema string

func DSN(DBCfg *config.DBConfig) string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		DBCfg.Host, DBCfg.Port, DBCfg.User, DBCfg.Password, DBCfg.Name, DBCfg.SSLMode)
}

// Open connects with retries and returns an error instead of exiting so
// tests and the CLI can decide what to do with an unreachable database.
func Open(DBCfg *config.DBConfig, maxRetries int) (*sql.DB, error) {
	dsn := DSN(DBCfg)

	var db *sql.DB
	var err error

	for i := 0; i < maxRetries; i++ {
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			logrus.Warnf("Failed to open database connection (attempt %d/%d): %v", i+1, maxRetries, err)
			time.Sleep(time.Duration(i+1) * time.Second)
			continue
		}

		if err = db.Ping(); err != nil {
			logrus.Warnf("Failed to ping database (attempt %d/%d): %v", i+1, maxRetries, err)
			if err := db.Close(); err != nil {
				logrus.Warnf("Failed to close database connection: %v", err)
			}
			time.Sleep(time.Duration(i+1) * time.Second)
			continue
		}

		// Connection successful
		break
	}

	if err != nil {
		return nil, fmt.Errorf("connect to database after %d attempts: %w", maxRetries, err)
	}

	db.SetMaxOpenConns(100)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	logrus.Info("Database connection established successfully")
	return db, nil
}

func Init(DBCfg *config.DBConfig) *sql.DB {
	db, err := Open(DBCfg, 5)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}
	return db
}

// Migrate creates the task and result tables if they do not exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	logrus.Info("Database schema is up to date")
	return nil
}
