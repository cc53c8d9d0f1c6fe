package config

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// Dialector builds the gorm dialector for the configured driver.
func Dialector(s DatabaseSettings) (gorm.Dialector, error) {
	switch s.Driver {
	case "mysql":
		network := "tcp"
		address := fmt.Sprintf("%s:%s", s.Host, s.Port)
		// Cloud SQL: DB_HOST=/cloudsql/<CONNECTION_NAME> connects over the proxy's unix socket.
		if strings.HasPrefix(s.Host, "/cloudsql/") {
			network = "unix"
			address = s.Host
		}
		return mysql.Open(fmt.Sprintf("%s:%s@%s(%s)/%s?multiStatements=true&parseTime=true",
			s.User, s.Password, network, address, s.Name)), nil
	case "postgres":
		return postgres.Open(fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
			s.Host, s.User, s.Password, s.Name, s.Port)), nil
	case "sqlite":
		return sqlite.Open(s.Name), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", s.Driver)
	}
}

// OpenDatabase opens one connection pool and installs the ledger plugins.
func OpenDatabase(s DatabaseSettings) (*gorm.DB, error) {
	dialector, err := Dialector(s)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, initConfig())
	if err != nil {
		return nil, err
	}

	if sqlDB, derr := db.DB(); derr == nil && sqlDB != nil {
		if s.Driver == "sqlite" {
			// one writer; in-memory databases also live and die with their connection
			sqlDB.SetMaxOpenConns(1)
		} else {
			if s.MaxOpenConns > 0 {
				sqlDB.SetMaxOpenConns(s.MaxOpenConns)
			}
			if s.MaxIdleConns >= 0 {
				sqlDB.SetMaxIdleConns(s.MaxIdleConns)
			}
			if s.ConnMaxLifetimeSeconds > 0 {
				sqlDB.SetConnMaxLifetime(time.Duration(s.ConnMaxLifetimeSeconds) * time.Second)
			}
			if s.ConnMaxIdleTimeSeconds > 0 {
				sqlDB.SetConnMaxIdleTime(time.Duration(s.ConnMaxIdleTimeSeconds) * time.Second)
			}
		}
	}

	if pluginErr := db.Use(otelgorm.NewPlugin()); pluginErr != nil {
		log.Printf("db connected but failed to install otelgorm plugin: %v", pluginErr)
	}
	if err := db.Use(NewLedgerGuardPlugin()); err != nil {
		return nil, fmt.Errorf("install ledger guard plugin: %w", err)
	}
	return db, nil
}

// ConnectDatabaseWithRetry keeps trying with capped exponential backoff until ctx is done.
func ConnectDatabaseWithRetry(ctx context.Context, s DatabaseSettings) (*gorm.DB, error) {
	var attempt int
	for {
		attempt++
		db, err := OpenDatabase(s)
		if err == nil {
			log.Printf("connected to database (driver=%s attempt=%d)", s.Driver, attempt)
			return db, nil
		}

		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		log.Printf("failed to connect database (attempt=%d): %v; retrying in %s", attempt, err, sleep)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("connect database: %w", ctx.Err())
		case <-time.After(sleep):
		}
	}
}

func initConfig() *gorm.Config {
	return &gorm.Config{
		Logger:         initLog(),
		NamingStrategy: initNamingStrategy(),
	}
}

// GORM_LOG=<file> switches the SQL log to a file at Info level.
func initLog() logger.Interface {
	if logFile := os.Getenv("GORM_LOG"); logFile != "" {
		if f, err := os.Create(logFile); err == nil {
			return logger.New(log.New(f, "\r\n", log.LstdFlags), logger.Config{
				LogLevel:      logger.Info,
				SlowThreshold: time.Second,
			})
		}
	}
	return logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			Colorful:                  false,
			LogLevel:                  logger.Error,
			SlowThreshold:             time.Second,
			IgnoreRecordNotFoundError: true,
		},
	)
}

func initNamingStrategy() *schema.NamingStrategy {
	return &schema.NamingStrategy{
		SingularTable: false,
		TablePrefix:   "",
	}
}
