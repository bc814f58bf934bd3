package consolelog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cryguy/scriptcage"
)

// Record is one stored console entry.
type Record struct {
	ID        uint      `gorm:"primaryKey"`
	RunID     string    `gorm:"index;not null"`
	Seq       int       `gorm:"not null"`
	Type      string    `gorm:"size:16;not null"`
	Args      string    `gorm:"type:text"`
	Timestamp time.Time `gorm:"index"`
}

// TableName pins the table name.
func (Record) TableName() string { return "console_entries" }

// Store persists console entries in SQLite.
type Store struct {
	db  *gorm.DB
	log *zap.Logger

	mu   sync.Mutex
	seqs map[string]int
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger logs failed writes to l.
func WithLogger(l *zap.Logger) StoreOption {
	return func(s *Store) { s.log = l }
}

// Open opens (or creates) the database at dsn, e.g. "console.db" or
// ":memory:", and migrates the schema.
func Open(dsn string, opts ...StoreOption) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening console store: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("opening console store: %w", err)
	}
	// SQLite has one writer; a single connection also keeps ":memory:"
	// databases from splitting per connection.
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&Record{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrating console store: %w", err)
	}
	s := &Store{db: db, log: zap.NewNop(), seqs: map[string]int{}}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Append stores entry under runID.
func (s *Store) Append(ctx context.Context, runID string, entry scriptcage.ConsoleEntry) error {
	args, err := json.Marshal(entry.Args)
	if err != nil {
		return fmt.Errorf("encoding console args: %w", err)
	}
	s.mu.Lock()
	seq := s.seqs[runID]
	s.seqs[runID] = seq + 1
	s.mu.Unlock()

	rec := Record{RunID: runID, Seq: seq, Type: entry.Type, Args: string(args), Timestamp: entry.Timestamp}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("storing console entry: %w", err)
	}
	return nil
}

// Sink returns a ConsoleSink that appends to runID.
func (s *Store) Sink(runID string) scriptcage.ConsoleSink {
	return scriptcage.ConsoleSinkFunc(func(entry scriptcage.ConsoleEntry) {
		if err := s.Append(context.Background(), runID, entry); err != nil {
			s.log.Warn("console entry dropped", zap.String("run", runID), zap.Error(err))
		}
	})
}

// Entries returns the entries of runID in the order they were logged.
func (s *Store) Entries(ctx context.Context, runID string) ([]scriptcage.ConsoleEntry, error) {
	var recs []Record
	if err := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("seq, id").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("loading console entries: %w", err)
	}
	out := make([]scriptcage.ConsoleEntry, 0, len(recs))
	for _, r := range recs {
		var args []any
		if err := json.Unmarshal([]byte(r.Args), &args); err != nil {
			return nil, fmt.Errorf("decoding console entry %d: %w", r.ID, err)
		}
		out = append(out, scriptcage.ConsoleEntry{Type: r.Type, Args: args, Timestamp: r.Timestamp})
	}
	return out, nil
}

// Prune deletes entries logged before cutoff and returns how many went.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("timestamp < ?", cutoff).Delete(&Record{})
	if res.Error != nil {
		return 0, fmt.Errorf("pruning console entries: %w", res.Error)
	}
	return res.RowsAffected, nil
}
