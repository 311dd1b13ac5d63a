// Package sqlite persists the bulletin board in SQLite via the pure Go
// modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"ensemble/internal/board"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

type Store struct {
	sqlDB *sql.DB
}

var _ board.Store = (*Store)(nil)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens (or creates) the board database and applies embedded
// migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) CreateCitizen(ctx context.Context, name string) (board.Citizen, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return board.Citizen{}, fmt.Errorf("citizen name is required")
	}
	citizen := board.Citizen{
		ID:         uuid.NewString(),
		Name:       name,
		Reputation: board.ReputationScore(0, 0),
		CreatedAt:  time.Now().UTC(),
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO citizens (id, name, reputation, completed, failed, earned_cents, created_at)
		 VALUES (?, ?, ?, 0, 0, 0, ?)`,
		citizen.ID, citizen.Name, citizen.Reputation, toMillis(citizen.CreatedAt),
	)
	if err != nil {
		return board.Citizen{}, fmt.Errorf("insert citizen: %w", err)
	}
	return citizen, nil
}

func (s *Store) GetCitizen(ctx context.Context, id string) (board.Citizen, error) {
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, name, reputation, completed, failed, earned_cents, created_at
		 FROM citizens WHERE id = ?`, id)
	return scanCitizen(row)
}

func (s *Store) ListCitizens(ctx context.Context) ([]board.Citizen, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, name, reputation, completed, failed, earned_cents, created_at
		 FROM citizens ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list citizens: %w", err)
	}
	defer rows.Close()

	var citizens []board.Citizen
	for rows.Next() {
		citizen, err := scanCitizen(rows)
		if err != nil {
			return nil, err
		}
		citizens = append(citizens, citizen)
	}
	return citizens, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCitizen(row rowScanner) (board.Citizen, error) {
	var citizen board.Citizen
	var createdAt int64
	err := row.Scan(&citizen.ID, &citizen.Name, &citizen.Reputation,
		&citizen.Completed, &citizen.Failed, &citizen.EarnedCents, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return board.Citizen{}, board.ErrNotFound
	}
	if err != nil {
		return board.Citizen{}, fmt.Errorf("scan citizen: %w", err)
	}
	citizen.CreatedAt = fromMillis(createdAt)
	return citizen, nil
}

func (s *Store) CreateBulletin(ctx context.Context, title, body string, rewardCents int64) (board.Bulletin, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return board.Bulletin{}, fmt.Errorf("bulletin title is required")
	}
	if rewardCents < 0 {
		return board.Bulletin{}, fmt.Errorf("reward cannot be negative")
	}
	bulletin := board.Bulletin{
		ID:          uuid.NewString(),
		Title:       title,
		Body:        body,
		RewardCents: rewardCents,
		Status:      board.StatusOpen,
		CreatedAt:   time.Now().UTC(),
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO bulletins (id, title, body, reward_cents, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		bulletin.ID, bulletin.Title, bulletin.Body, bulletin.RewardCents,
		string(bulletin.Status), toMillis(bulletin.CreatedAt),
	)
	if err != nil {
		return board.Bulletin{}, fmt.Errorf("insert bulletin: %w", err)
	}
	return bulletin, nil
}

func (s *Store) GetBulletin(ctx context.Context, id string) (board.Bulletin, error) {
	return getBulletin(ctx, s.sqlDB, id)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getBulletin(ctx context.Context, db querier, id string) (board.Bulletin, error) {
	row := db.QueryRowContext(ctx,
		`SELECT id, title, body, reward_cents, status, claimant, claim_expires_at, created_at, completed_at
		 FROM bulletins WHERE id = ?`, id)
	return scanBulletin(row)
}

func scanBulletin(row rowScanner) (board.Bulletin, error) {
	var bulletin board.Bulletin
	var status string
	var claimant sql.NullString
	var claimExpiresAt, completedAt sql.NullInt64
	var createdAt int64
	err := row.Scan(&bulletin.ID, &bulletin.Title, &bulletin.Body, &bulletin.RewardCents,
		&status, &claimant, &claimExpiresAt, &createdAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return board.Bulletin{}, board.ErrNotFound
	}
	if err != nil {
		return board.Bulletin{}, fmt.Errorf("scan bulletin: %w", err)
	}
	bulletin.Status = board.Status(status)
	bulletin.CreatedAt = fromMillis(createdAt)
	if claimant.Valid {
		bulletin.Claimant = claimant.String
	}
	if claimExpiresAt.Valid {
		expires := fromMillis(claimExpiresAt.Int64)
		bulletin.ClaimExpiresAt = &expires
	}
	if completedAt.Valid {
		completed := fromMillis(completedAt.Int64)
		bulletin.CompletedAt = &completed
	}
	return bulletin, nil
}

func (s *Store) ListBulletins(ctx context.Context, status board.Status) ([]board.Bulletin, error) {
	query := `SELECT id, title, body, reward_cents, status, claimant, claim_expires_at, created_at, completed_at
		 FROM bulletins`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list bulletins: %w", err)
	}
	defer rows.Close()

	var bulletins []board.Bulletin
	for rows.Next() {
		bulletin, err := scanBulletin(rows)
		if err != nil {
			return nil, err
		}
		bulletins = append(bulletins, bulletin)
	}
	return bulletins, rows.Err()
}

// Claim is decided by the affected-row count of one conditional update, so
// two concurrent claimants can never both succeed.
func (s *Store) Claim(ctx context.Context, bulletinID, citizenID string, leaseUntil time.Time) (board.Bulletin, error) {
	if _, err := s.GetCitizen(ctx, citizenID); err != nil {
		return board.Bulletin{}, err
	}

	result, err := s.sqlDB.ExecContext(ctx,
		`UPDATE bulletins SET status = ?, claimant = ?, claim_expires_at = ?
		 WHERE id = ? AND status = ?`,
		string(board.StatusClaimed), citizenID, toMillis(leaseUntil),
		bulletinID, string(board.StatusOpen),
	)
	if err != nil {
		return board.Bulletin{}, fmt.Errorf("claim bulletin: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return board.Bulletin{}, fmt.Errorf("claim rows affected: %w", err)
	}
	if affected == 0 {
		bulletin, err := s.GetBulletin(ctx, bulletinID)
		if err != nil {
			return board.Bulletin{}, err
		}
		if bulletin.Status == board.StatusClaimed {
			return board.Bulletin{}, board.ErrAlreadyClaimed
		}
		return board.Bulletin{}, fmt.Errorf("%w: %s is %s", board.ErrInvalidTransition, bulletinID, bulletin.Status)
	}
	return s.GetBulletin(ctx, bulletinID)
}

// Complete marks a claimed bulletin done and, in the same transaction,
// credits the claimant's earnings and recomputes their reputation.
func (s *Store) Complete(ctx context.Context, bulletinID, citizenID string) (board.Bulletin, error) {
	return s.settleClaim(ctx, bulletinID, citizenID, true)
}

// Release hands a claimed bulletin back without penalty.
func (s *Store) Release(ctx context.Context, bulletinID, citizenID string) (board.Bulletin, error) {
	return s.settleClaim(ctx, bulletinID, citizenID, false)
}

func (s *Store) settleClaim(ctx context.Context, bulletinID, citizenID string, complete bool) (board.Bulletin, error) {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return board.Bulletin{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	bulletin, err := getBulletin(ctx, tx, bulletinID)
	if err != nil {
		return board.Bulletin{}, err
	}
	if bulletin.Status != board.StatusClaimed {
		return board.Bulletin{}, fmt.Errorf("%w: %s is %s", board.ErrInvalidTransition, bulletinID, bulletin.Status)
	}
	if bulletin.Claimant != citizenID {
		return board.Bulletin{}, board.ErrNotClaimant
	}

	if complete {
		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx,
			`UPDATE bulletins SET status = ?, claim_expires_at = NULL, completed_at = ?
			 WHERE id = ?`,
			string(board.StatusCompleted), toMillis(now), bulletinID,
		); err != nil {
			return board.Bulletin{}, fmt.Errorf("complete bulletin: %w", err)
		}
		if err := recordOutcome(ctx, tx, citizenID, bulletin.RewardCents, true); err != nil {
			return board.Bulletin{}, err
		}
	} else {
		if _, err := tx.ExecContext(ctx,
			`UPDATE bulletins SET status = ?, claimant = NULL, claim_expires_at = NULL
			 WHERE id = ?`,
			string(board.StatusOpen), bulletinID,
		); err != nil {
			return board.Bulletin{}, fmt.Errorf("release bulletin: %w", err)
		}
	}

	updated, err := getBulletin(ctx, tx, bulletinID)
	if err != nil {
		return board.Bulletin{}, err
	}
	if err := tx.Commit(); err != nil {
		return board.Bulletin{}, fmt.Errorf("commit: %w", err)
	}
	return updated, nil
}

// recordOutcome bumps a citizen's completed or failed count, applies any
// reward and writes the recomputed reputation, all inside the caller's
// transaction.
func recordOutcome(ctx context.Context, tx *sql.Tx, citizenID string, rewardCents int64, completed bool) error {
	var completedCount, failedCount int
	err := tx.QueryRowContext(ctx,
		`SELECT completed, failed FROM citizens WHERE id = ?`, citizenID,
	).Scan(&completedCount, &failedCount)
	if errors.Is(err, sql.ErrNoRows) {
		return board.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read citizen record: %w", err)
	}

	if completed {
		completedCount++
	} else {
		failedCount++
	}
	reputation := board.ReputationScore(completedCount, failedCount)

	if _, err := tx.ExecContext(ctx,
		`UPDATE citizens SET completed = ?, failed = ?, reputation = ?, earned_cents = earned_cents + ?
		 WHERE id = ?`,
		completedCount, failedCount, reputation, rewardCents, citizenID,
	); err != nil {
		return fmt.Errorf("update citizen record: %w", err)
	}
	return nil
}

func (s *Store) Cancel(ctx context.Context, bulletinID string) (board.Bulletin, error) {
	result, err := s.sqlDB.ExecContext(ctx,
		`UPDATE bulletins SET status = ? WHERE id = ? AND status = ?`,
		string(board.StatusCancelled), bulletinID, string(board.StatusOpen),
	)
	if err != nil {
		return board.Bulletin{}, fmt.Errorf("cancel bulletin: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return board.Bulletin{}, fmt.Errorf("cancel rows affected: %w", err)
	}
	if affected == 0 {
		bulletin, err := s.GetBulletin(ctx, bulletinID)
		if err != nil {
			return board.Bulletin{}, err
		}
		return board.Bulletin{}, fmt.Errorf("%w: %s is %s", board.ErrInvalidTransition, bulletinID, bulletin.Status)
	}
	return s.GetBulletin(ctx, bulletinID)
}

// ExpireLeases reopens every claimed bulletin whose lease lapsed and records
// a failure for each claimant, one transaction for the whole sweep.
func (s *Store) ExpireLeases(ctx context.Context, now time.Time) ([]board.ExpiredClaim, error) {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx,
		`SELECT id, claimant FROM bulletins
		 WHERE status = ? AND claim_expires_at IS NOT NULL AND claim_expires_at <= ?
		 ORDER BY claim_expires_at, id`,
		string(board.StatusClaimed), toMillis(now),
	)
	if err != nil {
		return nil, fmt.Errorf("select expired claims: %w", err)
	}

	var expired []board.ExpiredClaim
	for rows.Next() {
		var claim board.ExpiredClaim
		if err := rows.Scan(&claim.BulletinID, &claim.Claimant); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan expired claim: %w", err)
		}
		expired = append(expired, claim)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	for _, claim := range expired {
		if _, err := tx.ExecContext(ctx,
			`UPDATE bulletins SET status = ?, claimant = NULL, claim_expires_at = NULL
			 WHERE id = ?`,
			string(board.StatusOpen), claim.BulletinID,
		); err != nil {
			return nil, fmt.Errorf("reopen bulletin %s: %w", claim.BulletinID, err)
		}
		if err := recordOutcome(ctx, tx, claim.Claimant, 0, false); err != nil {
			return nil, fmt.Errorf("record expiry for %s: %w", claim.Claimant, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return expired, nil
}
