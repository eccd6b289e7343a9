package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/sentinel/internal/config"
	"github.com/your-org/sentinel/internal/models"
)

// schemaLockID serializes schema creation across processes.
const schemaLockID = 7_302_114

var schemaStatements = []string{
	`CREATE EXTENSION IF NOT EXISTS vector`,
	`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS incidents (
		id       TEXT PRIMARY KEY,
		record   JSONB NOT NULL,
		saved_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS registry (
		id             TEXT PRIMARY KEY,
		mugshot_base64 TEXT NOT NULL,
		record         JSONB NOT NULL,
		faceprint      vector(512),
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

type PostgresStore struct {
	cfg config.DatabaseConfig

	mu   sync.Mutex
	pool *pgxpool.Pool
}

// NewPostgresStore returns a store that connects and creates its schema on first use.
func NewPostgresStore(cfg config.DatabaseConfig) *PostgresStore {
	return &PostgresStore{cfg: cfg}
}

func (s *PostgresStore) conn(ctx context.Context) (*pgxpool.Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pool != nil {
		return s.pool, nil
	}

	poolCfg, err := pgxpool.ParseConfig(s.cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(s.cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	s.pool = pool
	return pool, nil
}

func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockID); err != nil {
		return fmt.Errorf("lock schema: %w", err)
	}
	for _, stmt := range schemaStatements {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}

	var version int
	err = tx.QueryRow(ctx, `SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		if _, err := tx.Exec(ctx, `INSERT INTO schema_version (version) VALUES ($1)`, SchemaVersion); err != nil {
			return fmt.Errorf("stamp schema version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	case version != SchemaVersion:
		return fmt.Errorf("unsupported schema version %d", version)
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pool != nil {
		s.pool.Close()
		s.pool = nil
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	pool, err := s.conn(ctx)
	if err != nil {
		return err
	}
	return pool.Ping(ctx)
}

// --- Incidents ---

func (s *PostgresStore) SaveIncident(ctx context.Context, inc *models.Incident) error {
	if inc == nil || inc.ID == "" {
		return ErrMissingID
	}
	pool, err := s.conn(ctx)
	if err != nil {
		return err
	}
	record, err := encodeRecord(inc)
	if err != nil {
		return fmt.Errorf("marshal incident: %w", err)
	}
	savedAt := inc.SavedAt
	if savedAt.IsZero() {
		savedAt = time.Now()
	}
	_, err = pool.Exec(ctx,
		`INSERT INTO incidents (id, record, saved_at) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET record = EXCLUDED.record, saved_at = EXCLUDED.saved_at`,
		inc.ID, record, savedAt)
	if err != nil {
		return fmt.Errorf("save incident: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetIncident(ctx context.Context, id string) (*models.Incident, error) {
	pool, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	var record []byte
	err = pool.QueryRow(ctx, `SELECT record FROM incidents WHERE id = $1`, id).Scan(&record)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get incident: %w", err)
	}
	var inc models.Incident
	if err := decodeRecord(record, &inc); err != nil {
		return nil, fmt.Errorf("decode incident: %w", err)
	}
	return &inc, nil
}

func (s *PostgresStore) GetAllIncidents(ctx context.Context) ([]models.Incident, error) {
	pool, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, `SELECT record FROM incidents ORDER BY saved_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	defer rows.Close()

	incidents := []models.Incident{}
	for rows.Next() {
		var record []byte
		if err := rows.Scan(&record); err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		var inc models.Incident
		if err := decodeRecord(record, &inc); err != nil {
			return nil, fmt.Errorf("decode incident: %w", err)
		}
		incidents = append(incidents, inc)
	}
	return incidents, rows.Err()
}

func (s *PostgresStore) UpdateIncidentStatus(ctx context.Context, id string, status models.IncidentStatus) (*models.Incident, error) {
	pool, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	var record []byte
	err = pool.QueryRow(ctx,
		`UPDATE incidents SET record = jsonb_set(record, '{status}', to_jsonb($2::text))
		 WHERE id = $1 RETURNING record`,
		id, string(status)).Scan(&record)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update incident status: %w", err)
	}
	var inc models.Incident
	if err := decodeRecord(record, &inc); err != nil {
		return nil, fmt.Errorf("decode incident: %w", err)
	}
	return &inc, nil
}

func (s *PostgresStore) DeleteIncident(ctx context.Context, id string) error {
	pool, err := s.conn(ctx)
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, `DELETE FROM incidents WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete incident: %w", err)
	}
	return nil
}

// --- Registry ---

// SaveTarget scans the registry for an identical reference image under a
// table lock, so concurrent inserts of the same image cannot both succeed.
func (s *PostgresStore) SaveTarget(ctx context.Context, subject *models.IdentifiedSubject) error {
	if subject == nil || subject.ID == "" {
		return ErrMissingID
	}
	pool, err := s.conn(ctx)
	if err != nil {
		return err
	}

	stored := *subject
	stored.Faceprint = nil
	record, err := encodeRecord(&stored)
	if err != nil {
		return fmt.Errorf("marshal target: %w", err)
	}
	var vec *pgvector.Vector
	if len(subject.Faceprint) > 0 {
		v := pgvector.NewVector(subject.Faceprint)
		vec = &v
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save target: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `LOCK TABLE registry IN SHARE ROW EXCLUSIVE MODE`); err != nil {
		return fmt.Errorf("lock registry: %w", err)
	}

	var exists bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM registry WHERE mugshot_base64 = $1)`,
		subject.MugshotBase64).Scan(&exists); err != nil {
		return fmt.Errorf("check duplicate: %w", err)
	}
	if exists {
		return ErrDuplicate
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO registry (id, mugshot_base64, record, faceprint) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET mugshot_base64 = EXCLUDED.mugshot_base64,
		   record = EXCLUDED.record, faceprint = EXCLUDED.faceprint`,
		subject.ID, subject.MugshotBase64, record, vec); err != nil {
		return fmt.Errorf("save target: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) GetAllTargets(ctx context.Context) ([]models.IdentifiedSubject, error) {
	pool, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, `SELECT record FROM registry ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	defer rows.Close()

	targets := []models.IdentifiedSubject{}
	for rows.Next() {
		var record []byte
		if err := rows.Scan(&record); err != nil {
			return nil, fmt.Errorf("scan target: %w", err)
		}
		var t models.IdentifiedSubject
		if err := decodeRecord(record, &t); err != nil {
			return nil, fmt.Errorf("decode target: %w", err)
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

func (s *PostgresStore) DeleteTarget(ctx context.Context, id string) error {
	pool, err := s.conn(ctx)
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, `DELETE FROM registry WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete target: %w", err)
	}
	return nil
}

// NearestTargets finds registry entries whose faceprint is within threshold
// cosine similarity of the query.
func (s *PostgresStore) NearestTargets(ctx context.Context, faceprint []float32, threshold float64, limit int) ([]TargetMatch, error) {
	if len(faceprint) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 5
	}
	pool, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	vec := pgvector.NewVector(faceprint)
	rows, err := pool.Query(ctx,
		`SELECT record, 1 - (faceprint <=> $1) AS score
		 FROM registry
		 WHERE faceprint IS NOT NULL AND 1 - (faceprint <=> $1) >= $2
		 ORDER BY faceprint <=> $1
		 LIMIT $3`,
		vec, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("search faceprints: %w", err)
	}
	defer rows.Close()

	var matches []TargetMatch
	for rows.Next() {
		var record []byte
		var m TargetMatch
		if err := rows.Scan(&record, &m.Score); err != nil {
			return nil, fmt.Errorf("scan faceprint match: %w", err)
		}
		if err := decodeRecord(record, &m.Subject); err != nil {
			return nil, fmt.Errorf("decode target: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}
