package relay

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"district-relay/backend/pkg/apierr"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the submissions repository, grounded on certenIO's pkg/database
// connection-pooling and embedded-migration style.
type Store struct {
	db *sql.DB
}

// NewStore opens a connection pool against databaseURL and verifies
// connectivity with a bounded ping.
func NewStore(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("relay: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("relay: failed to ping database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies every embedded migration in lexical filename order.
func (s *Store) Migrate(ctx context.Context) error {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("relay: failed to read migrations: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		contents, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("relay: failed to read migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(contents)); err != nil {
			return fmt.Errorf("relay: migration %s failed: %w", name, err)
		}
	}
	return nil
}

// CreateOrGetExisting implements spec §4.7 policy 4's atomic persistence
// step. Within a single transaction: an idempotency-key hit returns the
// existing row; otherwise a nullifier hit fails DuplicateAction; otherwise
// the row is inserted, relying on the database's own unique constraints as
// the final, unforgeable arbiter among concurrent inserts of the same
// nullifier (spec §5 ordering guarantee).
func (s *Store) CreateOrGetExisting(ctx context.Context, userID string, req SubmissionRequest, nullifier, actionDomain string) (*Submission, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("relay: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if req.IdempotencyKey != "" {
		if existing, err := queryByIdempotencyKey(ctx, tx, req.IdempotencyKey); err == nil {
			return existing, true, nil
		} else if !errors.Is(err, sql.ErrNoRows) {
			return nil, false, fmt.Errorf("relay: idempotency lookup failed: %w", err)
		}
	}

	if _, err := queryByNullifier(ctx, tx, nullifier); err == nil {
		return nil, false, apierr.New(apierr.KindDuplicateAction, "nullifier already submitted")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("relay: nullifier lookup failed: %w", err)
	}

	sub := &Submission{
		ID:                   uuid.NewString(),
		UserID:               userID,
		TemplateID:           req.TemplateID,
		Proof:                req.Proof,
		PublicInputs:         req.PublicInputs,
		VerifierDepth:        req.VerifierDepth,
		Nullifier:            nullifier,
		ActionDomain:         actionDomain,
		EncryptedAddressBlob: req.EncryptedAddressBlob,
		EncryptedMessageBlob: req.EncryptedMessageBlob,
		IdempotencyKey:       req.IdempotencyKey,
		Status:               StatusPending,
		CreatedAt:            time.Now().UTC(),
	}

	const insert = `
		INSERT INTO submissions
			(id, user_id, template_id, proof, public_inputs, verifier_depth, nullifier, action_domain,
			 encrypted_address_blob, encrypted_message_blob, idempotency_key, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11, ''), $12, $13)
	`
	_, err = tx.ExecContext(ctx, insert,
		sub.ID, sub.UserID, sub.TemplateID, sub.Proof, pq.Array(sub.PublicInputs), sub.VerifierDepth,
		sub.Nullifier, sub.ActionDomain, sub.EncryptedAddressBlob, sub.EncryptedMessageBlob,
		sub.IdempotencyKey, sub.Status, sub.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, false, apierr.New(apierr.KindDuplicateAction, "nullifier already submitted")
		}
		return nil, false, fmt.Errorf("relay: insert failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("relay: commit failed: %w", err)
	}
	return sub, false, nil
}

func queryByIdempotencyKey(ctx context.Context, tx *sql.Tx, key string) (*Submission, error) {
	return scanSubmission(tx.QueryRowContext(ctx, selectColumns+` WHERE idempotency_key = $1`, key))
}

func queryByNullifier(ctx context.Context, tx *sql.Tx, nullifier string) (*Submission, error) {
	return scanSubmission(tx.QueryRowContext(ctx, selectColumns+` WHERE nullifier = $1`, nullifier))
}

const selectColumns = `
	SELECT id, user_id, template_id, proof, public_inputs, verifier_depth, nullifier, action_domain,
	       encrypted_address_blob, encrypted_message_blob, COALESCE(idempotency_key, ''), status,
	       COALESCE(on_chain_tx, ''), delivered_at, created_at
	FROM submissions
`

func scanSubmission(row *sql.Row) (*Submission, error) {
	var sub Submission
	err := row.Scan(
		&sub.ID, &sub.UserID, &sub.TemplateID, &sub.Proof, pq.Array(&sub.PublicInputs), &sub.VerifierDepth,
		&sub.Nullifier, &sub.ActionDomain, &sub.EncryptedAddressBlob, &sub.EncryptedMessageBlob,
		&sub.IdempotencyKey, &sub.Status, &sub.OnChainTx, &sub.DeliveredAt, &sub.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// MarkVerified records a successful on-chain verification (C8a).
func (s *Store) MarkVerified(ctx context.Context, submissionID, onChainTx string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE submissions SET status = $1, on_chain_tx = $2 WHERE id = $3`,
		StatusVerified, onChainTx, submissionID)
	return err
}

// MarkFailed records a permanent on-chain verification failure (C8a).
func (s *Store) MarkFailed(ctx context.Context, submissionID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE submissions SET status = $1 WHERE id = $2`, StatusFailed, submissionID)
	return err
}

// MarkDelivered records confirmed TEE delivery (C8b).
func (s *Store) MarkDelivered(ctx context.Context, submissionID string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `UPDATE submissions SET status = $1, delivered_at = $2 WHERE id = $3`,
		StatusDelivered, now, submissionID)
	return err
}

// GetByID fetches a submission for a worker to act on.
func (s *Store) GetByID(ctx context.Context, submissionID string) (*Submission, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = $1`, submissionID)
	sub, err := scanSubmission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierr.New(apierr.KindInvalidInput, "submission not found")
	}
	return sub, err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505" // unique_violation
	}
	return false
}
