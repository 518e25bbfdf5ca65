package credentialstore

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

	"github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore is the durable server-side implementation (spec §4.2:
// "server-side store where the client is thin"), grounded on certenIO's
// pkg/database connection-pooling and embedded-migration style.
type PostgresStore struct {
	db           *sql.DB
	supersession *SupersessionLog
}

// Supersessions returns the store's re-registration audit log.
func (s *PostgresStore) Supersessions() *SupersessionLog {
	return s.supersession
}

// NewPostgresStore opens a connection pool against databaseURL and verifies
// connectivity with a bounded ping.
func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("credentialstore: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("credentialstore: failed to ping database: %w", err)
	}

	return &PostgresStore{db: db, supersession: NewSupersessionLog()}, nil
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Migrate applies every embedded migration in lexical filename order. Not
// idempotency-tracked beyond each migration's own `IF NOT EXISTS` guards,
// matching the pattern already used for the single credential-store table.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("credentialstore: failed to read migrations: %w", err)
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
			return fmt.Errorf("credentialstore: failed to read migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(contents)); err != nil {
			return fmt.Errorf("credentialstore: migration %s failed: %w", name, err)
		}
	}
	return nil
}

func (s *PostgresStore) Put(ctx context.Context, userID string, cred Credential) error {
	cred.UserID = userID
	if cred.IssuedAt.IsZero() {
		cred.IssuedAt = time.Now().UTC()
	}
	if cred.ExpiresAt.IsZero() {
		cred.ExpiresAt = cred.IssuedAt.Add(MaxCredentialAge)
	}

	var existed bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM session_credentials WHERE user_id = $1)`, userID).Scan(&existed); err != nil {
		return fmt.Errorf("credentialstore: existence check failed: %w", err)
	}

	const q = `
		INSERT INTO session_credentials
			(user_id, identity_commitment, district_id, merkle_root, merkle_path, merkle_helper, leaf_index, depth,
			 authority_level, verified_method, verified_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (user_id) DO UPDATE SET
			identity_commitment = EXCLUDED.identity_commitment,
			district_id = EXCLUDED.district_id,
			merkle_root = EXCLUDED.merkle_root,
			merkle_path = EXCLUDED.merkle_path,
			merkle_helper = EXCLUDED.merkle_helper,
			leaf_index = EXCLUDED.leaf_index,
			depth = EXCLUDED.depth,
			authority_level = EXCLUDED.authority_level,
			verified_method = EXCLUDED.verified_method,
			verified_at = EXCLUDED.verified_at,
			expires_at = EXCLUDED.expires_at
	`
	_, err := s.db.ExecContext(ctx, q,
		cred.UserID, cred.Commitment, cred.DistrictID, cred.MerkleRoot,
		pq.Array(cred.MerklePath), pq.Array(cred.MerkleHelper), cred.LeafIndex, cred.Depth,
		cred.AuthorityLevel, cred.VerificationMethod, cred.IssuedAt, cred.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("credentialstore: put failed: %w", err)
	}

	if existed {
		s.supersession.RecordSupersession(userID)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, userID string) (Credential, error) {
	const q = `
		SELECT user_id, identity_commitment, district_id, merkle_root, merkle_path, merkle_helper, leaf_index, depth,
		       authority_level, verified_method, verified_at, expires_at
		FROM session_credentials WHERE user_id = $1
	`
	var cred Credential
	row := s.db.QueryRowContext(ctx, q, userID)
	err := row.Scan(
		&cred.UserID, &cred.Commitment, &cred.DistrictID, &cred.MerkleRoot,
		pq.Array(&cred.MerklePath), pq.Array(&cred.MerkleHelper), &cred.LeafIndex, &cred.Depth,
		&cred.AuthorityLevel, &cred.VerificationMethod, &cred.IssuedAt, &cred.ExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Credential{}, ErrNotFound
	}
	if err != nil {
		return Credential{}, fmt.Errorf("credentialstore: get failed: %w", err)
	}

	if cred.expired(time.Now()) || !cred.valid() {
		_ = s.Clear(ctx, userID)
		return Credential{}, ErrNotFound
	}
	return cred, nil
}

func (s *PostgresStore) Clear(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM session_credentials WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("credentialstore: clear failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsValid(ctx context.Context, userID string) (bool, error) {
	_, err := s.Get(ctx, userID)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
