// README: Prep table sources: PostgreSQL prep_times table and a YAML export of the kitchen sheet.
package preptime

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"gopkg.in/yaml.v3"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) LoadProfile(ctx context.Context) (Profile, error) {
	rows, err := s.db.Query(ctx, `SELECT item, prep_seconds FROM prep_times`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make(map[string]time.Duration)
	for rows.Next() {
		var (
			item    string
			seconds int32
		)
		if err := rows.Scan(&item, &seconds); err != nil {
			return nil, err
		}
		entries[item] = time.Duration(seconds) * time.Second
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return NewProfile(entries)
}

// FileSource reads a YAML mapping of item name to minutes:
//
//	items:
//	  burger: 10
//	  fries: 5
type FileSource struct {
	Path string
}

func (f FileSource) LoadProfile(_ context.Context) (Profile, error) {
	b, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read prep table: %w", err)
	}
	return ParseYAML(b)
}

func ParseYAML(b []byte) (Profile, error) {
	var doc struct {
		Items map[string]float64 `yaml:"items"`
	}
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, &ConfigurationError{Item: "*", Reason: fmt.Sprintf("decode yaml: %v", err)}
	}
	entries := make(map[string]time.Duration, len(doc.Items))
	for name, minutes := range doc.Items {
		entries[name] = time.Duration(minutes * float64(time.Minute))
	}
	return NewProfile(entries)
}
