package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ashita-ai/kumo/internal/model"
)

// InsertDocument inserts a source document.
func (s *Store) InsertDocument(ctx context.Context, d model.Document) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (doc_id, scope_type, scope_id, source_uri, title, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		d.ID, d.ScopeType, d.ScopeID, nullIfEmpty(d.SourceURI), nullIfEmpty(d.Title),
		formatTime(d.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("storage: insert document: %w", err)
	}
	return nil
}

// InsertSegment inserts a document segment.
func (s *Store) InsertSegment(ctx context.Context, seg model.Segment) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO segments (segment_id, doc_id, ordinal, content, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		seg.ID, seg.DocID, seg.Ordinal, seg.Content, formatTime(seg.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("storage: insert segment: %w", err)
	}
	return nil
}

// ListSegments returns a document's segments in order.
func (s *Store) ListSegments(ctx context.Context, docID string) ([]model.Segment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT segment_id, doc_id, ordinal, content, created_at
		 FROM segments WHERE doc_id = ? ORDER BY ordinal`, docID)
	if err != nil {
		return nil, fmt.Errorf("storage: list segments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Segment
	for rows.Next() {
		var seg model.Segment
		var createdAt string
		if err := rows.Scan(&seg.ID, &seg.DocID, &seg.Ordinal, &seg.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("storage: scan segment: %w", err)
		}
		seg.CreatedAt = parseTime(createdAt)
		out = append(out, seg)
	}
	return out, rows.Err()
}

// InsertEntity inserts a resolved entity.
func (s *Store) InsertEntity(ctx context.Context, e model.Entity) error {
	aliases, err := json.Marshal(e.Aliases)
	if err != nil {
		return fmt.Errorf("storage: marshal entity aliases: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO entities (entity_id, scope_type, scope_id, name, kind, aliases_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ScopeType, e.ScopeID, e.Name, nullIfEmpty(e.Kind), string(aliases),
		formatTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("storage: insert entity: %w", err)
	}
	return nil
}

// ListEntities returns the entities for a scope.
func (s *Store) ListEntities(ctx context.Context, scopeType, scopeID string) ([]model.Entity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entity_id, scope_type, scope_id, name, kind, aliases_json, created_at
		 FROM entities WHERE scope_type = ? AND scope_id = ? ORDER BY name`,
		scopeType, scopeID)
	if err != nil {
		return nil, fmt.Errorf("storage: list entities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Entity
	for rows.Next() {
		var e model.Entity
		var kind, aliases sql.NullString
		var createdAt string
		if err := rows.Scan(&e.ID, &e.ScopeType, &e.ScopeID, &e.Name, &kind, &aliases, &createdAt); err != nil {
			return nil, fmt.Errorf("storage: scan entity: %w", err)
		}
		e.Kind = kind.String
		e.CreatedAt = parseTime(createdAt)
		if aliases.Valid {
			_ = json.Unmarshal([]byte(aliases.String), &e.Aliases)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
