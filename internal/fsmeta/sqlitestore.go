package fsmeta

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/zynqcloud/dedupfs/internal/engineerr"
	"github.com/zynqcloud/dedupfs/internal/pathfs"
	"github.com/zynqcloud/dedupfs/internal/tenant"
)

// schema describes two tables: fs_nodes carries one row per (tenant, path);
// blobs carries one row per content hash, shared across every tenant.
const schema = `
CREATE TABLE IF NOT EXISTS fs_nodes (
	tenant_id    TEXT NOT NULL,
	path         TEXT NOT NULL,
	type         TEXT NOT NULL CHECK (type IN ('file','directory')),
	content_hash TEXT,
	size         INTEGER,
	mime_type    TEXT,
	created_at   DATETIME NOT NULL,
	modified_at  DATETIME NOT NULL,
	PRIMARY KEY (tenant_id, path)
);

CREATE INDEX IF NOT EXISTS idx_fs_nodes_tenant_path ON fs_nodes(tenant_id, path);

CREATE TABLE IF NOT EXISTS blobs (
	content_hash     TEXT PRIMARY KEY,
	reference_count  INTEGER NOT NULL CHECK (reference_count >= 0),
	size             INTEGER NOT NULL,
	created_at       DATETIME NOT NULL,
	last_accessed_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_blobs_orphans ON blobs(last_accessed_at) WHERE reference_count = 0;
`

// SQLiteStore is the production MetadataStore backing. It opens one shared
// *sql.DB and serializes refcount arithmetic through SQLite's own
// transaction machinery.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLiteStore opens (creating if absent) a SQLite database at path and
// ensures the schema exists. dsn query parameters follow mattn/go-sqlite3
// conventions, e.g. "_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000".
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=ON"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("fsmeta: open sqlite %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite serializes writers anyway; avoid SQLITE_BUSY churn.

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("fsmeta: apply schema: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) ForTenant(tenantID tenant.ID) TenantNodeStore {
	return &sqliteTenantStore{db: s.db, tenantID: tenantID.String()}
}

type sqliteTenantStore struct {
	db       *sql.DB
	tenantID string
}

func nodeRow(node Node) (nodeType, hash string, size sql.NullInt64, mime sql.NullString, created, modified time.Time) {
	switch n := node.(type) {
	case FileNode:
		return "file", n.Hash.String(), sql.NullInt64{Int64: n.Size, Valid: true}, sql.NullString{String: n.MimeType, Valid: true}, n.CreatedAt, n.ModifiedAt
	case DirectoryNode:
		return "directory", "", sql.NullInt64{}, sql.NullString{}, n.CreatedAt, n.ModifiedAt
	default:
		panic(fmt.Sprintf("fsmeta: unknown node type %T", node))
	}
}

func (t *sqliteTenantStore) CreateNode(ctx context.Context, node Node) error {
	typ, hash, size, mime, created, modified := nodeRow(node)
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO fs_nodes (tenant_id, path, type, content_hash, size, mime_type, created_at, modified_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.tenantID, node.NodePath().String(), typ, hash, size, mime, created, modified,
	)
	if err != nil {
		if isUniqueConstraintErr(err) {
			return engineerr.New(engineerr.KindConflict, "path already exists: "+node.NodePath().String(), err)
		}
		return engineerr.New(engineerr.KindStoreUnavailable, "create node", err)
	}
	return nil
}

func (t *sqliteTenantStore) GetNodeByPath(ctx context.Context, path pathfs.Path) (Node, error) {
	row := t.db.QueryRowContext(ctx,
		`SELECT type, content_hash, size, mime_type, created_at, modified_at
		 FROM fs_nodes WHERE tenant_id = ? AND path = ?`,
		t.tenantID, path.String(),
	)
	return scanNode(row, path)
}

func scanNode(row *sql.Row, path pathfs.Path) (Node, error) {
	var typ string
	var hash, mime sql.NullString
	var size sql.NullInt64
	var created, modified time.Time

	err := row.Scan(&typ, &hash, &size, &mime, &created, &modified)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, engineerr.New(engineerr.KindStoreUnavailable, "get node by path", err)
	}

	switch typ {
	case "file":
		h, herr := pathfs.ParseHash(hash.String)
		if herr != nil {
			return nil, engineerr.New(engineerr.KindInvariant, "stored content hash is malformed", herr)
		}
		return FileNode{
			Path:       path,
			Hash:       h,
			Size:       size.Int64,
			MimeType:   mime.String,
			CreatedAt:  created,
			ModifiedAt: modified,
		}, nil
	case "directory":
		return DirectoryNode{Path: path, CreatedAt: created, ModifiedAt: modified}, nil
	default:
		return nil, engineerr.New(engineerr.KindInvariant, "unknown node type in storage: "+typ, nil)
	}
}

func (t *sqliteTenantStore) UpdateNode(ctx context.Context, node Node) error {
	typ, hash, size, mime, _, modified := nodeRow(node)
	_, err := t.db.ExecContext(ctx,
		`UPDATE fs_nodes SET content_hash = ?, size = ?, mime_type = ?, modified_at = ?
		 WHERE tenant_id = ? AND path = ? AND type = ?`,
		hash, size, mime, modified, t.tenantID, node.NodePath().String(), typ,
	)
	if err != nil {
		return engineerr.New(engineerr.KindStoreUnavailable, "update node", err)
	}
	return nil // no-op if no row matched, per contract
}

func (t *sqliteTenantStore) DeleteNode(ctx context.Context, path pathfs.Path) error {
	_, err := t.db.ExecContext(ctx,
		`DELETE FROM fs_nodes WHERE tenant_id = ? AND path = ?`,
		t.tenantID, path.String(),
	)
	if err != nil {
		return engineerr.New(engineerr.KindStoreUnavailable, "delete node", err)
	}
	return nil
}

func (t *sqliteTenantStore) ListChildren(ctx context.Context, dir pathfs.Path) ([]Node, error) {
	// Prefix-match on path, then filter to exactly one component deeper in
	// Go rather than in SQL — slash-counting in SQLite expressions is
	// possible but far less readable than comparing pathfs.Path.Parent().
	prefix := dir.String()
	if !dir.IsRoot() {
		prefix += "/"
	} else {
		prefix = "/"
	}

	rows, err := t.db.QueryContext(ctx,
		`SELECT path, type, content_hash, size, mime_type, created_at, modified_at
		 FROM fs_nodes WHERE tenant_id = ? AND path LIKE ? ESCAPE '\' AND path != ?
		 ORDER BY type ASC, path ASC`,
		t.tenantID, escapeLike(prefix)+"%", dir.String(),
	)
	if err != nil {
		return nil, engineerr.New(engineerr.KindStoreUnavailable, "list children", err)
	}
	defer rows.Close()

	var out []Node
	for rows.Next() {
		var pathStr, typ string
		var hash, mime sql.NullString
		var size sql.NullInt64
		var created, modified time.Time
		if err := rows.Scan(&pathStr, &typ, &hash, &size, &mime, &created, &modified); err != nil {
			return nil, engineerr.New(engineerr.KindStoreUnavailable, "scan child row", err)
		}
		p, err := pathfs.Parse(pathStr)
		if err != nil {
			return nil, engineerr.New(engineerr.KindInvariant, "stored path is malformed: "+pathStr, err)
		}
		if !p.Parent().Equal(dir) {
			continue // deeper descendant, not a direct child
		}
		switch typ {
		case "file":
			h, herr := pathfs.ParseHash(hash.String)
			if herr != nil {
				return nil, engineerr.New(engineerr.KindInvariant, "stored content hash is malformed", herr)
			}
			out = append(out, FileNode{Path: p, Hash: h, Size: size.Int64, MimeType: mime.String, CreatedAt: created, ModifiedAt: modified})
		case "directory":
			out = append(out, DirectoryNode{Path: p, CreatedAt: created, ModifiedAt: modified})
		}
	}
	return out, rows.Err()
}

func escapeLike(s string) string {
	r := []rune{}
	for _, c := range s {
		if c == '%' || c == '_' || c == '\\' {
			r = append(r, '\\')
		}
		r = append(r, c)
	}
	return string(r)
}

func (s *SQLiteStore) IncrementBlobRefCount(ctx context.Context, hash pathfs.ContentHash) error {
	now := s.now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO blobs (content_hash, reference_count, size, created_at, last_accessed_at)
		 VALUES (?, 1, 0, ?, ?)
		 ON CONFLICT(content_hash) DO UPDATE SET
		   reference_count = reference_count + 1,
		   last_accessed_at = excluded.last_accessed_at`,
		hash.String(), now, now,
	)
	if err != nil {
		return engineerr.New(engineerr.KindStoreUnavailable, "increment blob refcount", err)
	}
	return nil
}

func (s *SQLiteStore) DecrementBlobRefCount(ctx context.Context, hash pathfs.ContentHash) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, engineerr.New(engineerr.KindStoreUnavailable, "begin decrement tx", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var current int64
	err = tx.QueryRowContext(ctx, `SELECT reference_count FROM blobs WHERE content_hash = ?`, hash.String()).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, engineerr.New(engineerr.KindStoreUnavailable, "read blob refcount", err)
	}
	if current <= 0 {
		return 0, engineerr.New(engineerr.KindInvariant, "refcount would go negative for "+hash.String(), nil)
	}

	next := current - 1
	if _, err := tx.ExecContext(ctx,
		`UPDATE blobs SET reference_count = ?, last_accessed_at = ? WHERE content_hash = ?`,
		next, s.now(), hash.String(),
	); err != nil {
		// The CHECK (reference_count >= 0) constraint, if ever tripped by a
		// race this transaction did not anticipate, surfaces here as a
		// constraint violation rather than being swallowed.
		return 0, engineerr.New(engineerr.KindInvariant, "refcount constraint violated", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, engineerr.New(engineerr.KindStoreUnavailable, "commit decrement tx", err)
	}
	return next, nil
}

func (s *SQLiteStore) GetOrphanBlobs(ctx context.Context, limit int) ([]pathfs.ContentHash, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT content_hash FROM blobs WHERE reference_count = 0 ORDER BY last_accessed_at ASC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, engineerr.New(engineerr.KindStoreUnavailable, "get orphan blobs", err)
	}
	defer rows.Close()

	var out []pathfs.ContentHash
	for rows.Next() {
		var hex string
		if err := rows.Scan(&hex); err != nil {
			return nil, engineerr.New(engineerr.KindStoreUnavailable, "scan orphan row", err)
		}
		h, err := pathfs.ParseHash(hex)
		if err != nil {
			return nil, engineerr.New(engineerr.KindInvariant, "stored content hash is malformed", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func isUniqueConstraintErr(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") || strings.Contains(err.Error(), "PRIMARY KEY"))
}
