package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MTES-MCT/trackdechets-sub032/repository/models"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// PostgreSQL error codes as constants
const (
	// Class 23: Integrity Constraint Violation
	PgErrForeignKeyViolation = "23503" // foreign_key_violation
	PgErrUniqueViolation     = "23505" // unique_violation
	PgErrCheckViolation      = "23514" // check_violation
	PgErrNotNullViolation    = "23502" // not_null_violation

	// Class 22: Data Exception
	PgErrDataException          = "22000" // data_exception
	PgErrNumericValueOutOfRange = "22003" // numeric_value_out_of_range

	// Class 40: Transaction Rollback
	PgErrTransactionRollback  = "40000" // transaction_rollback
	PgErrSerializationFailure = "40001" // serialization_failure
	PgErrDeadlockDetected     = "40P01" // deadlock_detected

	// Class 57: Operator Intervention
	PgErrAdminShutdown = "57P01" // admin_shutdown
)

// Repository error codes that are not SQLSTATEs
const (
	ErrCodeNotFound = "ENTITY_NOT_FOUND"
	ErrCodeDatabase = "DATABASE_ERROR"
	ErrCodeConflict = "CONFLICT"
)

// RepositoryError represent an error in the repository layer
type RepositoryError struct {
	Code    string
	Message string
	Detail  string
}

func (e *RepositoryError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Detail)
}

// IsNotFound reports a missing entity.
func IsNotFound(err error) bool {
	var repoErr *RepositoryError
	return errors.As(err, &repoErr) && repoErr.Code == ErrCodeNotFound
}

// IsConflict reports a uniqueness or serialization conflict.
func IsConflict(err error) bool {
	var repoErr *RepositoryError
	if !errors.As(err, &repoErr) {
		return false
	}
	switch repoErr.Code {
	case ErrCodeConflict, PgErrUniqueViolation, PgErrSerializationFailure, PgErrDeadlockDetected:
		return true
	}
	return false
}

// translate wraps a gorm error into a RepositoryError.
func translate(err error, entity, id string) error {
	var pgErr *pgconn.PgError
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return &RepositoryError{
			Code:    ErrCodeNotFound,
			Message: fmt.Sprintf("%s does not exist", entity),
			Detail:  fmt.Sprintf("%s with id %s does not exist", entity, id),
		}
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return &RepositoryError{
			Code:    ErrCodeConflict,
			Message: fmt.Sprintf("%s already exists", entity),
			Detail:  err.Error(),
		}
	case errors.As(err, &pgErr):
		return &RepositoryError{
			Code:    pgErr.Code,
			Message: pgErr.Message,
			Detail:  pgErr.Detail,
		}
	}
	return &RepositoryError{
		Code:    ErrCodeDatabase,
		Message: "Database error occured",
		Detail:  err.Error(),
	}
}

type Repository struct {
	db     *gorm.DB
	logger cmtlog.Logger
}

func NewRepository(logger cmtlog.Logger) *Repository {
	return &Repository{logger: logger}
}

// dialectorFor selects postgres for URLs and key/value DSNs, sqlite for file paths.
func dialectorFor(dsn string) (gorm.Dialector, bool) {
	switch {
	case strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://"):
		return postgres.Open(dsn), true
	case strings.Contains(dsn, "host="):
		return postgres.Open(dsn), true
	}
	return sqlite.Open(dsn), false
}

// ConnectDB opens the database, retrying while the server comes up.
func (r *Repository) ConnectDB(dsn string, attempts int) error {
	dialector, isPostgres := dialectorFor(dsn)
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := range attempts {
		r.logger.Info("Connection attempt", "attempt", i+1, "postgres", isPostgres)
		var db *gorm.DB
		db, err = gorm.Open(dialector, &gorm.Config{
			Logger:         logger.Default.LogMode(logger.Warn),
			TranslateError: true,
		})
		if err == nil {
			if !isPostgres {
				// SQLite has a single writer; one connection serializes transactions.
				sqlDB, dbErr := db.DB()
				if dbErr != nil {
					return dbErr
				}
				sqlDB.SetMaxOpenConns(1)
			}
			r.db = db
			r.logger.Info("Connected to database", "postgres", isPostgres)
			return nil
		}
		r.logger.Error("Connection attempt failed", "attempt", i+1, "err", err)
		if i+1 < attempts {
			time.Sleep(2 * time.Second)
		}
	}
	return fmt.Errorf("connecting to database: %w", err)
}

// Close releases the underlying connection pool.
func (r *Repository) Close() error {
	if r.db == nil {
		return nil
	}
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (r *Repository) Migrate() error {
	err := r.db.AutoMigrate(
		&models.Company{},
		&models.Bordereau{},
		&models.Transporter{},
		&models.Signature{},
		&models.Relation{},
		&models.RevisionRequest{},
		&models.RevisionRequestApproval{},
		&models.Event{},
	)
	if err != nil {
		return translate(err, "Schema", "migration")
	}
	r.logger.Info("Database migration completed successfully")
	return nil
}

// Seed registers companies when the registry is empty.
func (r *Repository) Seed(companies []models.Company) error {
	var count int64
	if err := r.db.Model(&models.Company{}).Count(&count).Error; err != nil {
		return translate(err, "Company", "*")
	}
	if count > 0 {
		r.logger.Info("Seed data already exists, skipping...")
		return nil
	}
	for _, c := range companies {
		if err := r.db.Create(&c).Error; err != nil {
			return translate(err, "Company", c.OrgID)
		}
	}
	r.logger.Info("Database seeding completed successfully", "companies", len(companies))
	return nil
}

// Tx is a unit of work. Reads made through Lock* hold row locks until the
// transaction ends.
type Tx struct {
	db *gorm.DB
}

// InTx runs fn in a database transaction, committing when fn returns nil.
func (r *Repository) InTx(ctx context.Context, fn func(tx *Tx) error) error {
	dbTx := r.db.WithContext(ctx).Begin()
	if dbTx.Error != nil {
		return translate(dbTx.Error, "Transaction", "begin")
	}
	defer func() {
		if p := recover(); p != nil {
			dbTx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&Tx{db: dbTx}); err != nil {
		dbTx.Rollback()
		return err
	}
	if err := dbTx.Commit().Error; err != nil {
		return translate(err, "Transaction", "commit")
	}
	return nil
}
