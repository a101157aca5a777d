package wsstore

import (
	"database/sql"
	"fmt"
	"time"
)

// SaveProjectConfig upserts a project's serialized config blob (JSON).
func (s *Store) SaveProjectConfig(projectID, configBlob string) error {
	_, err := s.db.Exec(`
		INSERT INTO projects (id, config_blob, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET config_blob = excluded.config_blob, updated_at = CURRENT_TIMESTAMP
	`, projectID, configBlob)
	if err != nil {
		return fmt.Errorf("save project config %q: %w", projectID, err)
	}
	return nil
}

// DeleteProject removes a project's stored config and indexing state.
func (s *Store) DeleteProject(projectID string) error {
	return s.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM projects WHERE id = ?`, projectID); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM indexing_state WHERE project_id = ?`, projectID); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM relationships WHERE from_id = ? OR to_id = ?`, projectID, projectID); err != nil {
			return err
		}
		return nil
	})
}

// SaveIndexingState upserts a project's indexing state row.
func (s *Store) SaveIndexingState(projectID, perFileMapJSON, status string, filesIndexed, errorCount int, lastFullScan time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO indexing_state (project_id, per_file_map, status, last_full_scan, files_indexed, error_count)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id) DO UPDATE SET
			per_file_map = excluded.per_file_map,
			status = excluded.status,
			last_full_scan = excluded.last_full_scan,
			files_indexed = excluded.files_indexed,
			error_count = excluded.error_count
	`, projectID, perFileMapJSON, status, lastFullScan, filesIndexed, errorCount)
	if err != nil {
		return fmt.Errorf("save indexing state %q: %w", projectID, err)
	}
	return nil
}

// IndexingStateRow mirrors one row of the indexing_state table.
type IndexingStateRow struct {
	ProjectID    string
	PerFileMap   string
	Status       string
	LastFullScan sql.NullTime
	FilesIndexed int
	ErrorCount   int
}

// LoadIndexingState fetches a project's persisted indexing state, if any.
func (s *Store) LoadIndexingState(projectID string) (*IndexingStateRow, error) {
	row := s.db.QueryRow(`
		SELECT project_id, per_file_map, status, last_full_scan, files_indexed, error_count
		FROM indexing_state WHERE project_id = ?
	`, projectID)

	var r IndexingStateRow
	err := row.Scan(&r.ProjectID, &r.PerFileMap, &r.Status, &r.LastFullScan, &r.FilesIndexed, &r.ErrorCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load indexing state %q: %w", projectID, err)
	}
	return &r, nil
}

// RelationshipRow mirrors one row of the relationships table.
type RelationshipRow struct {
	FromID      string
	ToID        string
	Type        string
	Weight      float64
	Description string
	Metadata    string
}

// ReplaceRelationships atomically replaces the full relationship set (used
// on workspace save, where the in-memory graph is the source of truth).
func (s *Store) ReplaceRelationships(rows []RelationshipRow) error {
	return s.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM relationships`); err != nil {
			return err
		}
		stmt, err := tx.Prepare(`
			INSERT INTO relationships (from_id, to_id, type, weight, description, metadata)
			VALUES (?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, r := range rows {
			if _, err := stmt.Exec(r.FromID, r.ToID, r.Type, r.Weight, r.Description, r.Metadata); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadRelationships returns every persisted relationship row.
func (s *Store) LoadRelationships() ([]RelationshipRow, error) {
	rows, err := s.db.Query(`SELECT from_id, to_id, type, weight, description, metadata FROM relationships`)
	if err != nil {
		return nil, fmt.Errorf("load relationships: %w", err)
	}
	defer rows.Close()

	var out []RelationshipRow
	for rows.Next() {
		var r RelationshipRow
		if err := rows.Scan(&r.FromID, &r.ToID, &r.Type, &r.Weight, &r.Description, &r.Metadata); err != nil {
			return nil, fmt.Errorf("scan relationship row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveUserContext upserts a user's serialized context snapshot.
func (s *Store) SaveUserContext(userID, blob string) error {
	_, err := s.db.Exec(`
		INSERT INTO user_context (user_id, blob, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(user_id) DO UPDATE SET blob = excluded.blob, updated_at = CURRENT_TIMESTAMP
	`, userID, blob)
	if err != nil {
		return fmt.Errorf("save user context %q: %w", userID, err)
	}
	return nil
}

// LoadUserContext fetches a user's serialized context snapshot, if any.
func (s *Store) LoadUserContext(userID string) (string, bool, error) {
	var blob string
	err := s.db.QueryRow(`SELECT blob FROM user_context WHERE user_id = ?`, userID).Scan(&blob)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("load user context %q: %w", userID, err)
	}
	return blob, true, nil
}

// SaveTemplate upserts a named search template's serialized definition.
func (s *Store) SaveTemplate(name, blob string, builtIn bool) error {
	builtInInt := 0
	if builtIn {
		builtInInt = 1
	}
	_, err := s.db.Exec(`
		INSERT INTO templates (name, blob, built_in, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(name) DO UPDATE SET blob = excluded.blob, built_in = excluded.built_in, updated_at = CURRENT_TIMESTAMP
	`, name, blob, builtInInt)
	if err != nil {
		return fmt.Errorf("save template %q: %w", name, err)
	}
	return nil
}

// LoadTemplates returns every persisted template's name and serialized blob.
func (s *Store) LoadTemplates() (map[string]string, error) {
	rows, err := s.db.Query(`SELECT name, blob FROM templates`)
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var name, blob string
		if err := rows.Scan(&name, &blob); err != nil {
			return nil, fmt.Errorf("scan template row: %w", err)
		}
		out[name] = blob
	}
	return out, rows.Err()
}

// DeleteTemplate removes a custom template by name.
func (s *Store) DeleteTemplate(name string) error {
	_, err := s.db.Exec(`DELETE FROM templates WHERE name = ? AND built_in = 0`, name)
	if err != nil {
		return fmt.Errorf("delete template %q: %w", name, err)
	}
	return nil
}

// SaveCachedResult upserts an L3 cache entry.
func (s *Store) SaveCachedResult(fingerprint, payload, fileRefsJSON string, expiry time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO cached_results (fingerprint, payload, file_refs, stale, expiry)
		VALUES (?, ?, ?, 0, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			payload = excluded.payload,
			file_refs = excluded.file_refs,
			stale = 0,
			expiry = excluded.expiry
	`, fingerprint, payload, fileRefsJSON, expiry)
	if err != nil {
		return fmt.Errorf("save cached result %q: %w", fingerprint, err)
	}
	return nil
}

// CachedResultRow mirrors one row of the cached_results table.
type CachedResultRow struct {
	Fingerprint string
	Payload     string
	FileRefs    string
	Stale       bool
	Expiry      time.Time
}

// LoadCachedResult fetches an L3 entry by fingerprint, regardless of
// staleness or expiry (callers decide whether a stale/expired hit is usable).
func (s *Store) LoadCachedResult(fingerprint string) (*CachedResultRow, error) {
	row := s.db.QueryRow(`
		SELECT fingerprint, payload, file_refs, stale, expiry FROM cached_results WHERE fingerprint = ?
	`, fingerprint)

	var r CachedResultRow
	var staleInt int
	err := row.Scan(&r.Fingerprint, &r.Payload, &r.FileRefs, &staleInt, &r.Expiry)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load cached result %q: %w", fingerprint, err)
	}
	r.Stale = staleInt != 0
	return &r, nil
}

// MarkCachedResultsStale flags every L3 entry whose file_refs column
// contains filePath as stale, scheduling it for asynchronous refresh rather
// than deleting it outright (L3 entries survive invalidation, per the cache
// policy).
func (s *Store) MarkCachedResultsStale(filePath string) (int64, error) {
	res, err := s.db.Exec(`
		UPDATE cached_results SET stale = 1
		WHERE file_refs LIKE '%' || ? || '%'
	`, jsonQuote(filePath))
	if err != nil {
		return 0, fmt.Errorf("mark cached results stale: %w", err)
	}
	return res.RowsAffected()
}

// jsonQuote wraps a string the way it would appear inside a JSON string
// array element, so a LIKE scan over the raw file_refs column text matches
// whole path entries rather than arbitrary substrings of neighboring paths.
func jsonQuote(s string) string {
	return `"` + s + `"`
}
