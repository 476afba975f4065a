package syncstore

import (
	"crypto/md5"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jmoiron/sqlx"
	"github.com/openmined/syftsync/internal/tree"
)

const recordsSchema = `
CREATE TABLE IF NOT EXISTS sync_records (
    namespace TEXT NOT NULL,
    path TEXT NOT NULL,
    parent TEXT NOT NULL,
    container INTEGER NOT NULL,
    marker BLOB NOT NULL,
    checksum TEXT NOT NULL,
    PRIMARY KEY (namespace, path)
);

CREATE INDEX IF NOT EXISTS idx_records_parent ON sync_records(namespace, parent);
`

const defaultCacheSize = 4096

// dbRecord is the row layout of sync_records.
type dbRecord struct {
	Namespace string `db:"namespace"`
	Path      string `db:"path"`
	Parent    string `db:"parent"`
	Container bool   `db:"container"`
	Marker    []byte `db:"marker"`
	Checksum  string `db:"checksum"`
}

type cachedRecord struct {
	rec *Record
}

// SQLiteBackend persists records in a sqlite table with a read-through LRU.
type SQLiteBackend struct {
	db    *sqlx.DB
	cache *lru.Cache[string, cachedRecord]
}

// NewSQLiteBackend initializes the schema on db.
func NewSQLiteBackend(db *sqlx.DB) (*SQLiteBackend, error) {
	if _, err := db.Exec(recordsSchema); err != nil {
		return nil, fmt.Errorf("failed to initialize sync records schema: %w", err)
	}

	cache, err := lru.New[string, cachedRecord](defaultCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create record cache: %w", err)
	}

	return &SQLiteBackend{db: db, cache: cache}, nil
}

func cacheKey(namespace, path string) string {
	return namespace + "\x00" + path
}

func checksum(m Marker) string {
	return fmt.Sprintf("%x", md5.Sum(m))
}

func (b *SQLiteBackend) Load(namespace string, node tree.LocalNode) (*Record, error) {
	key := cacheKey(namespace, node.Path)
	if cached, ok := b.cache.Get(key); ok {
		if cached.rec == nil {
			return nil, nil
		}
		return &Record{Marker: cached.rec.Marker.clone(), Container: cached.rec.Container}, nil
	}

	var row dbRecord
	err := b.db.Get(&row, "SELECT namespace, path, parent, container, marker, checksum FROM sync_records WHERE namespace = ? AND path = ?", namespace, node.Path)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			b.cache.Add(key, cachedRecord{})
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query record %s/%s: %w", namespace, node, err)
	}

	rec, ok := b.verify(&row)
	if !ok {
		return nil, nil
	}
	b.cache.Add(key, cachedRecord{rec: rec})
	return &Record{Marker: rec.Marker.clone(), Container: rec.Container}, nil
}

// verify checks the stored checksum. Corrupted rows are logged and purged so
// that the next refresh records them again.
func (b *SQLiteBackend) verify(row *dbRecord) (*Record, bool) {
	if checksum(row.Marker) == row.Checksum {
		return &Record{Marker: Marker(row.Marker), Container: row.Container}, true
	}

	slog.Warn("sync record", "namespace", row.Namespace, "path", row.Path, "error", ErrStoreCorruption)
	if _, err := b.db.Exec("DELETE FROM sync_records WHERE namespace = ? AND path = ?", row.Namespace, row.Path); err != nil {
		slog.Error("sync record purge", "namespace", row.Namespace, "path", row.Path, "error", err)
	}
	b.cache.Remove(cacheKey(row.Namespace, row.Path))
	return nil, false
}

func (b *SQLiteBackend) Save(namespace string, node tree.LocalNode, m Marker) (bool, error) {
	prev, err := b.Load(namespace, node)
	if err != nil {
		return false, err
	}
	if prev != nil && prev.Marker.Equal(m) && prev.Container == node.Container {
		return false, nil
	}

	row := dbRecord{
		Namespace: namespace,
		Path:      node.Path,
		Parent:    parentPath(node),
		Container: node.Container,
		Marker:    m,
		Checksum:  checksum(m),
	}
	query := `INSERT OR REPLACE INTO sync_records (namespace, path, parent, container, marker, checksum)
	          VALUES (:namespace, :path, :parent, :container, :marker, :checksum)`
	if _, err := b.db.NamedExec(query, row); err != nil {
		b.cache.Remove(cacheKey(namespace, node.Path))
		return false, fmt.Errorf("failed to save record %s/%s: %w", namespace, node, err)
	}

	b.cache.Add(cacheKey(namespace, node.Path), cachedRecord{rec: &Record{Marker: m.clone(), Container: node.Container}})
	return prev == nil || !prev.Marker.Equal(m), nil
}

func (b *SQLiteBackend) Delete(namespace string, node tree.LocalNode, depth tree.Depth) (bool, error) {
	var (
		res sql.Result
		err error
	)
	switch {
	case depth == tree.Zero:
		res, err = b.db.Exec("DELETE FROM sync_records WHERE namespace = ? AND path = ?", namespace, node.Path)
	case depth == tree.One:
		res, err = b.db.Exec("DELETE FROM sync_records WHERE namespace = ? AND (path = ? OR (parent = ? AND path <> ''))", namespace, node.Path, node.Path)
	case node.IsRoot():
		res, err = b.db.Exec("DELETE FROM sync_records WHERE namespace = ?", namespace)
	default:
		// descendants sort between "dir/" and "dir0" under the binary collation
		res, err = b.db.Exec("DELETE FROM sync_records WHERE namespace = ? AND (path = ? OR (path > ? AND path < ?))",
			namespace, node.Path, node.Path+"/", node.Path+"0")
	}
	// invalidate before looking at the result so a partial failure never serves stale rows
	if depth == tree.Zero {
		b.cache.Remove(cacheKey(namespace, node.Path))
	} else {
		b.cache.Purge()
	}
	if err != nil {
		return false, fmt.Errorf("failed to delete records %s/%s: %w", namespace, node, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to count deleted records: %w", err)
	}
	return n > 0, nil
}

func (b *SQLiteBackend) Children(namespace string, parent tree.LocalNode) ([]tree.LocalNode, error) {
	var rows []dbRecord
	err := b.db.Select(&rows, "SELECT namespace, path, parent, container, marker, checksum FROM sync_records WHERE namespace = ? AND parent = ? AND path <> '' ORDER BY path", namespace, parent.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to query children of %s/%s: %w", namespace, parent, err)
	}

	children := make([]tree.LocalNode, 0, len(rows))
	for i := range rows {
		if _, ok := b.verify(&rows[i]); !ok {
			continue
		}
		children = append(children, tree.LocalNode{Path: rows[i].Path, Container: rows[i].Container})
	}
	return children, nil
}

func (b *SQLiteBackend) DropNamespace(namespace string) error {
	b.cache.Purge()
	if _, err := b.db.Exec("DELETE FROM sync_records WHERE namespace = ?", namespace); err != nil {
		return fmt.Errorf("failed to drop namespace %s: %w", namespace, err)
	}
	return nil
}

func (b *SQLiteBackend) Close() error {
	b.cache.Purge()
	return b.db.Close()
}

func parentPath(node tree.LocalNode) string {
	if node.IsRoot() {
		return ""
	}
	return node.Parent().Path
}
