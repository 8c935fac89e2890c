// Package registry persists surrogate bindings in PostgreSQL so later runs
// and the reverse pass can resolve surrogates produced by earlier ones. The
// store is optional; the pipeline only constructs it when a database URL is
// configured.
package registry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/docmask/docmask/internal/surrogate"
)

// Config contains database configuration.
type Config struct {
	DatabaseURL     string        `yaml:"database_url" mapstructure:"database_url"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
}

const schema = `
CREATE TABLE IF NOT EXISTS surrogate_bindings (
	id         BIGSERIAL PRIMARY KEY,
	original   TEXT NOT NULL,
	category   TEXT NOT NULL,
	uuid       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (original, category)
)`

// Store handles surrogate binding persistence.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewStore connects to the database and ensures the bindings table exists.
func NewStore(config *Config, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Connect("postgres", config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to registry database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	store := &Store{db: db, logger: logger}
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize registry: %w", err)
	}

	logger.Info("surrogate registry initialized",
		zap.String("database_url", maskDatabaseURL(config.DatabaseURL)),
		zap.Int("max_open_conns", config.MaxOpenConns))
	return store, nil
}

func (s *Store) initialize() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure bindings table: %w", err)
	}
	return nil
}

// SaveBindings inserts bindings in one statement, skipping pairs already
// present. Determinism makes conflicts harmless: an existing row always
// carries the same surrogate.
func (s *Store) SaveBindings(ctx context.Context, bindings []surrogate.Binding) (int64, error) {
	if len(bindings) == 0 {
		return 0, nil
	}

	start := time.Now()
	query, args := insertQuery(bindings)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("save bindings: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		s.logger.Warn("could not get rows affected", zap.Error(err))
		inserted = int64(len(bindings))
	}

	s.logger.Debug("bindings saved",
		zap.Int64("inserted", inserted),
		zap.Int64("already_present", int64(len(bindings))-inserted),
		zap.Duration("duration", time.Since(start)))
	return inserted, nil
}

// insertQuery builds the batched insert with positional placeholders.
func insertQuery(bindings []surrogate.Binding) (string, []interface{}) {
	values := make([]string, 0, len(bindings))
	args := make([]interface{}, 0, len(bindings)*3)
	for i, b := range bindings {
		values = append(values, fmt.Sprintf("($%d, $%d, $%d)", i*3+1, i*3+2, i*3+3))
		args = append(args, b.Original, b.Category, b.UUID)
	}

	query := fmt.Sprintf(`
		INSERT INTO surrogate_bindings (original, category, uuid)
		VALUES %s
		ON CONFLICT (original, category) DO NOTHING`,
		strings.Join(values, ","))
	return query, args
}

// LoadAll returns every stored binding as a surrogate → original map, the
// shape the deanonymizer consumes.
func (s *Store) LoadAll(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryxContext(ctx, "SELECT uuid, original FROM surrogate_bindings")
	if err != nil {
		return nil, fmt.Errorf("load bindings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var id, original string
		if err := rows.Scan(&id, &original); err != nil {
			return nil, fmt.Errorf("scan binding: %w", err)
		}
		out[id] = original
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bindings: %w", err)
	}
	return out, nil
}

// Stats returns per-category binding counts.
func (s *Store) Stats(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryxContext(ctx,
		"SELECT category, COUNT(*) FROM surrogate_bindings GROUP BY category")
	if err != nil {
		return nil, fmt.Errorf("registry stats: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var category string
		var count int64
		if err := rows.Scan(&category, &count); err != nil {
			return nil, fmt.Errorf("scan stats row: %w", err)
		}
		out[category] = count
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// maskDatabaseURL masks credentials in a database URL for logging.
func maskDatabaseURL(url string) string {
	if strings.Contains(url, "@") {
		parts := strings.Split(url, "@")
		if len(parts) >= 2 {
			userPart := parts[0]
			if strings.Contains(userPart, ":") {
				userParts := strings.Split(userPart, ":")
				if len(userParts) >= 3 {
					userParts[len(userParts)-1] = "***"
					parts[0] = strings.Join(userParts, ":")
				}
			}
			return strings.Join(parts, "@")
		}
	}
	return url
}
