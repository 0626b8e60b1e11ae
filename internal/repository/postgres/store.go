package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/recordflow/internal/repository"
)

// Store implements repository.Store over postgres. A Store built by
// NewStore runs each operation on the pool; the store handed to a
// WithinTx callback runs everything on one transaction.
type Store struct {
	db  *sqlx.DB
	ext sqlx.ExtContext
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db, ext: db}
}

func (s *Store) Events() repository.EventLedger  { return &eventLedger{ext: s.ext} }
func (s *Store) Records() repository.RecordStore { return &recordStore{ext: s.ext} }
func (s *Store) Audit() repository.AuditLog      { return &auditLog{ext: s.ext} }
func (s *Store) Errors() repository.ErrorLog     { return &errorLog{ext: s.ext} }

func (s *Store) WithinTx(ctx context.Context, fn func(repository.Store) error) error {
	if s.db == nil {
		// Already transaction-scoped; nested units of work join it.
		return fn(s)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&Store{ext: tx}); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}
