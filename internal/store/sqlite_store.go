package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ecopia-map/city_tiler/internal/data"
	"github.com/ecopia-map/city_tiler/internal/geometry"
	"github.com/golang/glog"
	_ "modernc.org/sqlite"
)

const transformSeparator = "@"

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS data (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		attributes TEXT,
		type TEXT,
		bbMinX REAL NOT NULL,
		bbMinY REAL NOT NULL,
		bbMinZ REAL NOT NULL,
		bbMaxX REAL NOT NULL,
		bbMaxY REAL NOT NULL,
		bbMaxZ REAL NOT NULL,
		doc BLOB,
		isInstanced INTEGER NOT NULL DEFAULT 0,
		refId TEXT,
		transformationMatrix TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS data_name ON data (name)`,
	`CREATE TABLE IF NOT EXISTS instancedData (
		id TEXT PRIMARY KEY,
		doc BLOB
	)`,
}

// Geometry store backed by a SQLite database file
type SQLiteStore struct {
	db       *sql.DB
	path     string
	readOnly bool
}

// A row to be written with PutObject
type Object struct {
	Name        string
	Type        string
	Attributes  map[string]interface{}
	BoundingBox *geometry.BoundingBox
	Doc         []byte
	IsInstanced bool
	TemplateID  string
	Transform   []float64
}

// Creates, or opens for writing, the store at path and makes sure the schema exists
func Create(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	for _, stmt := range append([]string{"PRAGMA synchronous = OFF"}, schemaStatements...) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init schema of %s: %w", path, err)
		}
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// Opens a read only handle on an existing store
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	return &SQLiteStore{db: db, path: path, readOnly: true}, nil
}

func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Returns the geometry of the named object, resolving instanced objects to their template
func (s *SQLiteStore) Get(ctx context.Context, name string) (*Geometry, error) {
	var (
		doc         []byte
		isInstanced int
		refID       sql.NullString
		matrix      sql.NullString
	)
	row := s.db.QueryRowContext(ctx,
		`SELECT doc, isInstanced, refId, transformationMatrix FROM data WHERE name = ? ORDER BY id LIMIT 1`, name)
	if err := row.Scan(&doc, &isInstanced, &refID, &matrix); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("query %s: %w", name, err)
	}

	geom := &Geometry{Name: name, Instanced: isInstanced != 0}
	if !geom.Instanced {
		if len(doc) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrNoDocument, name)
		}
		geom.Doc = doc
		return geom, nil
	}

	if !refID.Valid || refID.String == "" {
		return nil, fmt.Errorf("instanced object %s has no template reference", name)
	}
	transform, err := ParseTransform(matrix.String)
	if err != nil {
		return nil, fmt.Errorf("instanced object %s: %w", name, err)
	}

	var templateDoc []byte
	row = s.db.QueryRowContext(ctx, `SELECT doc FROM instancedData WHERE id = ?`, refID.String)
	if err := row.Scan(&templateDoc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: template %s of %s", ErrNotFound, refID.String, name)
		}
		return nil, fmt.Errorf("query template %s: %w", refID.String, err)
	}
	if len(templateDoc) == 0 {
		return nil, fmt.Errorf("%w: template %s of %s", ErrNoDocument, refID.String, name)
	}

	geom.Doc = templateDoc
	geom.TemplateID = refID.String
	geom.Transform = transform
	return geom, nil
}

// Reads the whole object index. Rows are returned in insertion order.
func (s *SQLiteStore) LoadIndex(ctx context.Context) ([]data.GridItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, attributes, type, bbMinX, bbMinY, bbMinZ, bbMaxX, bbMaxY, bbMaxZ, isInstanced FROM data ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}
	defer rows.Close()

	items := make([]data.GridItem, 0)
	for rows.Next() {
		var (
			item        data.GridItem
			attributes  sql.NullString
			objectType  sql.NullString
			isInstanced int
		)
		if err := rows.Scan(&item.Name, &attributes, &objectType,
			&item.MinX, &item.MinY, &item.MinHeight, &item.MaxX, &item.MaxY, &item.MaxHeight, &isInstanced); err != nil {
			return nil, fmt.Errorf("scan index row: %w", err)
		}
		item.Type = objectType.String
		item.IsInstanced = isInstanced != 0
		if attributes.Valid && attributes.String != "" {
			if err := json.Unmarshal([]byte(attributes.String), &item.Attributes); err != nil {
				return nil, fmt.Errorf("attributes of %s: %w", item.Name, err)
			}
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}

	glog.V(1).Infof("loaded %d objects from %s", len(items), s.path)
	return items, nil
}

// Inserts an object row
func (s *SQLiteStore) PutObject(ctx context.Context, obj *Object) error {
	if s.readOnly {
		return fmt.Errorf("store %s is read only", s.path)
	}
	if obj.BoundingBox == nil {
		return fmt.Errorf("object %s has no bounding box", obj.Name)
	}

	var attributes sql.NullString
	if len(obj.Attributes) > 0 {
		b, err := json.Marshal(obj.Attributes)
		if err != nil {
			return fmt.Errorf("attributes of %s: %w", obj.Name, err)
		}
		attributes = sql.NullString{String: string(b), Valid: true}
	}

	var refID, matrix sql.NullString
	if obj.IsInstanced {
		refID = sql.NullString{String: obj.TemplateID, Valid: true}
		matrix = sql.NullString{String: FormatTransform(obj.Transform), Valid: true}
	}

	bbox := obj.BoundingBox
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO data (name, attributes, type, bbMinX, bbMinY, bbMinZ, bbMaxX, bbMaxY, bbMaxZ, doc, isInstanced, refId, transformationMatrix)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		obj.Name, attributes, obj.Type,
		bbox.Xmin, bbox.Ymin, bbox.Zmin, bbox.Xmax, bbox.Ymax, bbox.Zmax,
		obj.Doc, boolToInt(obj.IsInstanced), refID, matrix)
	if err != nil {
		return fmt.Errorf("insert %s: %w", obj.Name, err)
	}
	return nil
}

// Inserts or replaces a shared template document
func (s *SQLiteStore) PutTemplate(ctx context.Context, id string, doc []byte) error {
	if s.readOnly {
		return fmt.Errorf("store %s is read only", s.path)
	}
	if _, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO instancedData (id, doc) VALUES (?, ?)`, id, doc); err != nil {
		return fmt.Errorf("insert template %s: %w", id, err)
	}
	return nil
}

// Parses the 16 "@" separated values of a transformation matrix
func ParseTransform(value string) ([]float64, error) {
	parts := strings.Split(value, transformSeparator)
	if len(parts) != 16 {
		return nil, fmt.Errorf("transformation matrix must have 16 values, got %d", len(parts))
	}
	matrix := make([]float64, 16)
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, fmt.Errorf("transformation matrix value %d: %w", i, err)
		}
		matrix[i] = v
	}
	return matrix, nil
}

func FormatTransform(matrix []float64) string {
	parts := make([]string, len(matrix))
	for i, v := range matrix {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(parts, transformSeparator)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
