package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/your-org/sentinel/internal/models"
)

// Key prefixes for the two logical tables.
const (
	incidentKeyPrefix = "incidents:"
	registryKeyPrefix = "registry:"
	versionKey        = "meta:version"
)

// BadgerStore keeps incidents and the registry in an embedded BadgerDB.
type BadgerStore struct {
	opts badger.Options

	mu sync.Mutex
	db *badger.DB

	// registryMu makes the duplicate scan and the insert in SaveTarget atomic.
	registryMu sync.Mutex
}

// NewBadgerStore returns a store rooted at dir. Nothing is opened until first use.
func NewBadgerStore(dir string) *BadgerStore {
	return &BadgerStore{opts: badger.DefaultOptions(dir).WithLogger(nil)}
}

// NewInMemoryBadgerStore returns a non-durable store, used by tests and demos.
func NewInMemoryBadgerStore() *BadgerStore {
	return &BadgerStore{opts: badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)}
}

func (s *BadgerStore) open() (*badger.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return s.db, nil
	}

	db, err := badger.Open(s.opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	if err := ensureBadgerSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.db = db
	return db, nil
}

func ensureBadgerSchema(db *badger.DB) error {
	return db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(versionKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return txn.Set([]byte(versionKey), []byte(strconv.Itoa(SchemaVersion)))
		}
		if err != nil {
			return fmt.Errorf("read schema version: %w", err)
		}
		return item.Value(func(val []byte) error {
			v, err := strconv.Atoi(string(val))
			if err != nil || v != SchemaVersion {
				return fmt.Errorf("unsupported schema version %q", val)
			}
			return nil
		})
	})
}

// --- Incidents ---

func (s *BadgerStore) SaveIncident(ctx context.Context, inc *models.Incident) error {
	if inc == nil || inc.ID == "" {
		return ErrMissingID
	}
	db, err := s.open()
	if err != nil {
		return err
	}
	data, err := encodeRecord(inc)
	if err != nil {
		return fmt.Errorf("marshal incident: %w", err)
	}
	return db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(incidentKeyPrefix+inc.ID), data)
	})
}

func (s *BadgerStore) GetIncident(ctx context.Context, id string) (*models.Incident, error) {
	db, err := s.open()
	if err != nil {
		return nil, err
	}
	var inc models.Incident
	err = db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(incidentKeyPrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get incident: %w", err)
		}
		return item.Value(func(val []byte) error {
			return decodeRecord(val, &inc)
		})
	})
	if err != nil {
		return nil, err
	}
	return &inc, nil
}

func (s *BadgerStore) GetAllIncidents(ctx context.Context) ([]models.Incident, error) {
	db, err := s.open()
	if err != nil {
		return nil, err
	}
	incidents := []models.Incident{}
	err = scanPrefix(db, incidentKeyPrefix, func(val []byte) error {
		var inc models.Incident
		if err := decodeRecord(val, &inc); err != nil {
			return fmt.Errorf("decode incident: %w", err)
		}
		incidents = append(incidents, inc)
		return nil
	})
	return incidents, err
}

func (s *BadgerStore) UpdateIncidentStatus(ctx context.Context, id string, status models.IncidentStatus) (*models.Incident, error) {
	db, err := s.open()
	if err != nil {
		return nil, err
	}
	var inc models.Incident
	err = db.Update(func(txn *badger.Txn) error {
		key := []byte(incidentKeyPrefix + id)
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get incident: %w", err)
		}
		if err := item.Value(func(val []byte) error { return decodeRecord(val, &inc) }); err != nil {
			return fmt.Errorf("decode incident: %w", err)
		}
		inc.Status = status
		data, err := encodeRecord(&inc)
		if err != nil {
			return fmt.Errorf("marshal incident: %w", err)
		}
		return txn.Set(key, data)
	})
	if err != nil {
		return nil, err
	}
	return &inc, nil
}

// DeleteIncident removes an incident. Missing ids are not an error.
func (s *BadgerStore) DeleteIncident(ctx context.Context, id string) error {
	db, err := s.open()
	if err != nil {
		return err
	}
	return db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(incidentKeyPrefix + id))
	})
}

// --- Registry ---

// SaveTarget inserts a registry entry after scanning every existing entry for
// an identical reference image.
func (s *BadgerStore) SaveTarget(ctx context.Context, subject *models.IdentifiedSubject) error {
	if subject == nil || subject.ID == "" {
		return ErrMissingID
	}
	db, err := s.open()
	if err != nil {
		return err
	}
	data, err := encodeRecord(subject)
	if err != nil {
		return fmt.Errorf("marshal target: %w", err)
	}

	s.registryMu.Lock()
	defer s.registryMu.Unlock()

	duplicate := false
	err = scanPrefix(db, registryKeyPrefix, func(val []byte) error {
		var existing models.IdentifiedSubject
		if err := decodeRecord(val, &existing); err != nil {
			return fmt.Errorf("decode target: %w", err)
		}
		if existing.MugshotBase64 == subject.MugshotBase64 {
			duplicate = true
		}
		return nil
	})
	if err != nil {
		return err
	}
	if duplicate {
		return ErrDuplicate
	}

	return db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(registryKeyPrefix+subject.ID), data)
	})
}

func (s *BadgerStore) GetAllTargets(ctx context.Context) ([]models.IdentifiedSubject, error) {
	db, err := s.open()
	if err != nil {
		return nil, err
	}
	targets := []models.IdentifiedSubject{}
	err = scanPrefix(db, registryKeyPrefix, func(val []byte) error {
		var t models.IdentifiedSubject
		if err := decodeRecord(val, &t); err != nil {
			return fmt.Errorf("decode target: %w", err)
		}
		targets = append(targets, t)
		return nil
	})
	return targets, err
}

func (s *BadgerStore) DeleteTarget(ctx context.Context, id string) error {
	db, err := s.open()
	if err != nil {
		return err
	}
	s.registryMu.Lock()
	defer s.registryMu.Unlock()
	return db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(registryKeyPrefix + id))
	})
}

func (s *BadgerStore) NearestTargets(ctx context.Context, faceprint []float32, threshold float64, limit int) ([]TargetMatch, error) {
	targets, err := s.GetAllTargets(ctx)
	if err != nil {
		return nil, err
	}
	var matches []TargetMatch
	for _, t := range targets {
		score := cosine(faceprint, t.Faceprint)
		if float64(score) >= threshold && len(t.Faceprint) > 0 {
			matches = append(matches, TargetMatch{Subject: t, Score: score})
		}
	}
	return rankMatches(matches, limit), nil
}

func (s *BadgerStore) Ping(ctx context.Context) error {
	_, err := s.open()
	return err
}

func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func scanPrefix(db *badger.DB, prefix string, fn func(val []byte) error) error {
	return db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			if err := it.Item().Value(fn); err != nil {
				return err
			}
		}
		return nil
	})
}
