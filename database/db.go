package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/DQYXACML/tracecodex/config"
	_ "github.com/DQYXACML/tracecodex/database/utils/serializers"
	"github.com/DQYXACML/tracecodex/database/worker"
)

type DB struct {
	gorm *gorm.DB

	Contexts  worker.KnownContextsDB
	StepFacts worker.StepFactsDB
}

func NewDB(ctx context.Context, dbConfig config.DBConfig) (*DB, error) {
	dsn := fmt.Sprintf("host=%s dbname=%s sslmode=disable", dbConfig.Host, dbConfig.Name)
	if dbConfig.Port != 0 {
		dsn += fmt.Sprintf(" port=%d", dbConfig.Port)
	}
	if dbConfig.User != "" {
		dsn += fmt.Sprintf(" user=%s", dbConfig.User)
	}
	if dbConfig.Password != "" {
		dsn += fmt.Sprintf(" password=%s", dbConfig.Password)
	}

	gormConfig := gorm.Config{
		SkipDefaultTransaction: true,
		CreateBatchSize:        3_000,
	}
	gorm, err := gorm.Open(postgres.Open(dsn), &gormConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to database")
	}

	log.Info("Connected to database", "host", dbConfig.Host, "name", dbConfig.Name)
	return newDB(gorm.WithContext(ctx)), nil
}

func newDB(gorm *gorm.DB) *DB {
	return &DB{
		gorm:      gorm,
		Contexts:  worker.NewKnownContextsDB(gorm),
		StepFacts: worker.NewStepFactsDB(gorm),
	}
}

func (db *DB) Transaction(fn func(db *DB) error) error {
	return db.gorm.Transaction(func(tx *gorm.DB) error {
		return fn(newDB(tx))
	})
}

func (db *DB) Close() error {
	sql, err := db.gorm.DB()
	if err != nil {
		return err
	}
	return sql.Close()
}

func (db *DB) ExecuteSQLMigration(migrationsFolder string) error {
	err := filepath.Walk(migrationsFolder, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return errors.Wrap(err, fmt.Sprintf("Failed to process migration file: %s", path))
		}
		if info.IsDir() {
			return nil
		}
		fileContent, readErr := os.ReadFile(path)
		if readErr != nil {
			return errors.Wrap(readErr, fmt.Sprintf("Error reading SQL file: %s", path))
		}

		execErr := db.gorm.Exec(string(fileContent)).Error
		if execErr != nil {
			return errors.Wrap(execErr, fmt.Sprintf("Error executing SQL script: %s", path))
		}
		log.Info("Applied migration", "file", path)
		return nil
	})
	return err
}
