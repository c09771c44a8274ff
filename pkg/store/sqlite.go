package store

import (
	"database/sql"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps page images as rows of a single table, one BLOB per
// page. Useful when a deployment wants the whole store in one file.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	query := `
	CREATE TABLE IF NOT EXISTS pages (
		id INTEGER PRIMARY KEY,
		image BLOB NOT NULL
	);`
	if _, err := db.Exec(query); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA synchronous = NORMAL;
	`); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) ReadPage(id PageID) ([]byte, error) {
	var image []byte
	err := s.db.QueryRow("SELECT image FROM pages WHERE id = ?", int64(id)).Scan(&image)
	if err != nil {
		return nil, err
	}
	return image, nil
}

func (s *SQLiteStore) WritePage(id PageID, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec("INSERT OR REPLACE INTO pages (id, image) VALUES (?, ?)", int64(id), data)
	return err
}

func (s *SQLiteStore) DeletePage(id PageID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec("DELETE FROM pages WHERE id = ?", int64(id))
	return err
}

func (s *SQLiteStore) List() ([]PageID, error) {
	rows, err := s.db.Query("SELECT id FROM pages ORDER BY id ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []PageID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, PageID(id))
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
