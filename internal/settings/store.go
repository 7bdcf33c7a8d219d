package settings

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Setting is one durable key/value row.
type Setting struct {
	Name      string `gorm:"primarykey"`
	Value     string
	UpdatedAt time.Time
}

// Store is the durable settings store. Reads fill missing keys with
// defaults; each Set is one transaction and is broadcast to subscribers.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger

	mu          sync.Mutex
	subscribers map[int]chan Snapshot
	nextID      int
	last        Snapshot
	hasLast     bool
}

func NewStore(dbFilePath string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := gorm.Open(sqlite.Open(dbFilePath), &gorm.Config{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening settings database")
		return nil, err
	}

	// SQLite allows one writer; a single connection also keeps ":memory:"
	// databases from splitting across pool connections.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&Setting{}); err != nil {
		return nil, err
	}

	return &Store{
		db:          db,
		logger:      logger,
		subscribers: make(map[int]chan Snapshot),
	}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.mu.Unlock()

	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) values(db *gorm.DB) (map[string]string, error) {
	var rows []Setting
	if err := db.Find(&rows).Error; err != nil {
		return nil, err
	}
	values := make(map[string]string, len(rows))
	for _, row := range rows {
		values[row.Name] = row.Value
	}
	return values, nil
}

// Snapshot reads all settings, using defaults for missing keys.
func (s *Store) Snapshot() (Snapshot, error) {
	values, err := s.values(s.db)
	if err != nil {
		return Defaults(), err
	}
	snapshot, invalid := FromValues(values)
	if len(invalid) > 0 {
		s.logger.Warn("settings ignoring unparsable values", zap.Strings("keys", invalid))
	}
	return snapshot, nil
}

// Get returns the stored value for key and whether it was stored at all.
func (s *Store) Get(key string) (string, bool, error) {
	var row Setting
	result := s.db.Where("name = ?", key).Limit(1).Find(&row)
	if result.Error != nil {
		return "", false, result.Error
	}
	if result.RowsAffected == 0 {
		return "", false, nil
	}
	return row.Value, true, nil
}

// Set writes values atomically. Every key must be known and the merged
// snapshot must validate, otherwise nothing is written.
func (s *Store) Set(values map[string]string) (Snapshot, error) {
	var snapshot Snapshot
	err := s.db.Transaction(func(tx *gorm.DB) error {
		current, err := s.values(tx)
		if err != nil {
			return err
		}
		snapshot, _ = FromValues(current)
		for key, value := range values {
			snapshot, err = snapshot.Apply(key, value)
			if err != nil {
				return err
			}
		}
		if err := snapshot.Validate(); err != nil {
			return err
		}

		encoded := snapshot.Values()
		rows := make([]Setting, 0, len(values))
		for key := range values {
			rows = append(rows, Setting{Name: key, Value: encoded[key]})
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).Create(&rows).Error
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("saving settings: %w", err)
	}

	s.logger.Debug("settings saved", zap.Any("settings", snapshot.Redacted()))
	s.broadcast(snapshot)
	return snapshot, nil
}

// Seed writes defaults for every key that was never stored and fills the
// API key from apiKey when none is stored yet.
func (s *Store) Seed(apiKey string) (Snapshot, error) {
	defaults := Defaults().Values()
	err := s.db.Transaction(func(tx *gorm.DB) error {
		rows := make([]Setting, 0, len(Keys))
		for _, key := range Keys {
			rows = append(rows, Setting{Name: key, Value: defaults[key]})
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error; err != nil {
			return err
		}

		if apiKey == "" {
			return nil
		}
		return tx.Model(&Setting{}).
			Where("name = ? AND value = ''", KeyAPIKey).
			Update("value", apiKey).Error
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("seeding settings: %w", err)
	}

	snapshot, err := s.Snapshot()
	if err != nil {
		return Snapshot{}, err
	}
	s.broadcast(snapshot)
	return snapshot, nil
}

// Reset deletes every stored value so all keys read as defaults again.
func (s *Store) Reset() (Snapshot, error) {
	result := s.db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&Setting{})
	if result.Error != nil {
		return Snapshot{}, result.Error
	}
	snapshot := Defaults()
	s.broadcast(snapshot)
	return snapshot, nil
}

// Subscribe returns a channel that receives every new snapshot, and a
// function to unsubscribe. Slow subscribers only see the latest snapshot.
func (s *Store) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subscribers[id] = ch
	s.mu.Unlock()

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if existing, ok := s.subscribers[id]; ok {
			close(existing)
			delete(s.subscribers, id)
		}
	}
}

// Reload re-reads the store and broadcasts if anything changed since the
// last broadcast. It is how writes from other processes become visible.
func (s *Store) Reload() (Snapshot, error) {
	snapshot, err := s.Snapshot()
	if err != nil {
		return snapshot, err
	}
	s.broadcast(snapshot)
	return snapshot, nil
}

func (s *Store) broadcast(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hasLast && s.last == snapshot {
		return
	}
	s.last = snapshot
	s.hasLast = true

	for _, ch := range s.subscribers {
		select {
		case <-ch:
		default:
		}
		ch <- snapshot
	}
}
