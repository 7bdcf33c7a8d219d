package analytics

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/atinylittleshell/autotab/pkg/ghost"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultQueueSize = 256

// AnalyticsManager stores what happened to every suggestion that was shown.
// Outcomes are written by a background goroutine.
type AnalyticsManager struct {
	db     *gorm.DB
	Logger *zap.Logger

	mu      sync.RWMutex
	closed  bool
	queue   chan write
	done    chan struct{}
	dropped atomic.Uint64
}

// write is either an outcome to store or, when flushed is set, a marker.
type write struct {
	outcome ghost.Outcome
	flushed chan struct{}
}

type AnalyticsEntry struct {
	ID        uint      `gorm:"primarykey"`
	CreatedAt time.Time `gorm:"index"`
	UpdatedAt time.Time `gorm:"index"`

	Field      string
	Prompt     string
	Suggestion string
	Outcome    string `gorm:"index"`
	Cause      string
}

func NewAnalyticsManager(dbFilePath string, logger *zap.Logger) (*AnalyticsManager, error) {
	return newAnalyticsManager(dbFilePath, logger, defaultQueueSize)
}

func newAnalyticsManager(dbFilePath string, logger *zap.Logger, queueSize int) (*AnalyticsManager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := gorm.Open(sqlite.Open(dbFilePath), &gorm.Config{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening analytics database")
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&AnalyticsEntry{}); err != nil {
		return nil, err
	}

	analyticsManager := &AnalyticsManager{
		db:     db,
		Logger: logger,
		queue:  make(chan write, queueSize),
		done:   make(chan struct{}),
	}
	go analyticsManager.writeLoop()
	return analyticsManager, nil
}

func (analyticsManager *AnalyticsManager) writeLoop() {
	defer close(analyticsManager.done)
	for w := range analyticsManager.queue {
		if w.flushed != nil {
			close(w.flushed)
			continue
		}
		if err := analyticsManager.NewEntry(w.outcome); err != nil {
			analyticsManager.Logger.Warn("analytics failed to record outcome", zap.Error(err))
		}
	}
}

// Close stores the queued outcomes and closes the database.
func (analyticsManager *AnalyticsManager) Close() error {
	analyticsManager.mu.Lock()
	if !analyticsManager.closed {
		analyticsManager.closed = true
		close(analyticsManager.queue)
	}
	analyticsManager.mu.Unlock()
	<-analyticsManager.done

	if n := analyticsManager.dropped.Load(); n > 0 {
		analyticsManager.Logger.Warn("analytics dropped outcomes", zap.Uint64("dropped", n))
	}

	sqlDB, err := analyticsManager.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (analyticsManager *AnalyticsManager) NewEntry(outcome ghost.Outcome) error {
	entry := AnalyticsEntry{
		Field:      outcome.Field,
		Prompt:     outcome.Prompt,
		Suggestion: outcome.Suggestion,
		Outcome:    string(outcome.Kind),
		Cause:      outcome.Cause,
	}

	result := analyticsManager.db.Create(&entry)
	if result.Error != nil {
		return result.Error
	}

	return nil
}

// Record implements ghost.Analytics. It never blocks: the outcome is queued
// for the writer and dropped when the queue is full or the manager is closed.
func (analyticsManager *AnalyticsManager) Record(outcome ghost.Outcome) {
	analyticsManager.mu.RLock()
	defer analyticsManager.mu.RUnlock()

	if analyticsManager.closed {
		analyticsManager.dropped.Add(1)
		return
	}
	select {
	case analyticsManager.queue <- write{outcome: outcome}:
	default:
		if analyticsManager.dropped.Add(1) == 1 {
			analyticsManager.Logger.Warn("analytics queue full, dropping outcomes")
		}
	}
}

// Flush waits until every outcome recorded before the call is stored.
func (analyticsManager *AnalyticsManager) Flush() {
	flushed := make(chan struct{})
	analyticsManager.mu.RLock()
	if analyticsManager.closed {
		analyticsManager.mu.RUnlock()
		return
	}
	analyticsManager.queue <- write{flushed: flushed}
	analyticsManager.mu.RUnlock()
	<-flushed
}

// Dropped returns how many outcomes were never queued.
func (analyticsManager *AnalyticsManager) Dropped() uint64 {
	return analyticsManager.dropped.Load()
}

func (analyticsManager *AnalyticsManager) GetRecentEntries(limit int) ([]AnalyticsEntry, error) {
	var entries []AnalyticsEntry
	result := analyticsManager.db.Order("created_at desc, id desc").Limit(limit).Find(&entries)
	if result.Error != nil {
		return nil, result.Error
	}
	return entries, nil
}

func (analyticsManager *AnalyticsManager) GetTotalCount() (int64, error) {
	var count int64
	result := analyticsManager.db.Model(&AnalyticsEntry{}).Count(&count)
	if result.Error != nil {
		return 0, result.Error
	}
	return count, nil
}

// GetOutcomeCounts returns how many suggestions ended in each outcome.
func (analyticsManager *AnalyticsManager) GetOutcomeCounts() (map[ghost.OutcomeKind]int64, error) {
	var results []struct {
		Outcome string
		Count   int64
	}
	if err := analyticsManager.db.Model(&AnalyticsEntry{}).Select("outcome, count(*) as count").Group("outcome").Scan(&results).Error; err != nil {
		return nil, err
	}

	counts := make(map[ghost.OutcomeKind]int64)
	for _, r := range results {
		counts[ghost.OutcomeKind(r.Outcome)] = r.Count
	}
	return counts, nil
}

// GetAcceptanceRate returns accepted / shown, or 0 when nothing was shown.
func (analyticsManager *AnalyticsManager) GetAcceptanceRate() (float64, error) {
	counts, err := analyticsManager.GetOutcomeCounts()
	if err != nil {
		return 0, err
	}

	var total int64
	for _, c := range counts {
		total += c
	}
	if total == 0 {
		return 0, nil
	}
	return float64(counts[ghost.OutcomeAccepted]) / float64(total), nil
}

func (analyticsManager *AnalyticsManager) ResetAnalytics() error {
	result := analyticsManager.db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&AnalyticsEntry{})
	return result.Error
}
