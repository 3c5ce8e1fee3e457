package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/joescharf/forge/internal/models"
	"github.com/joescharf/forge/internal/phid"
)

// --- Diffs ---

const diffColumns = `id, phid, repository_phid, author_phid, source_control_path, branch, base_revision, description, date_created`

func scanDiff(row interface{ Scan(...any) error }) (*models.Diff, error) {
	d := &models.Diff{}
	var repo sql.NullString
	var created int64
	if err := row.Scan(&d.ID, &d.PHID, &repo, &d.AuthorPHID, &d.SourceControlPath, &d.Branch, &d.BaseRevision, &d.Description, &created); err != nil {
		return nil, err
	}
	d.RepositoryPHID = repo.String
	d.DateCreated = fromEpoch(created)
	return d, nil
}

func (t *sqliteTx) CreateDiff(ctx context.Context, d *models.Diff) error {
	if d.PHID == "" {
		d.PHID = phid.New(phid.TypeDiff)
	}
	d.DateCreated = now()
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO diffs (phid, repository_phid, author_phid, source_control_path, branch, base_revision, description, date_created)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.PHID, nullString(d.RepositoryPHID), d.AuthorPHID, d.SourceControlPath, d.Branch, d.BaseRevision, d.Description, epoch(d.DateCreated),
	)
	if err != nil {
		return fmt.Errorf("create diff: %w", err)
	}
	d.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteStore) GetDiff(ctx context.Context, id int64) (*models.Diff, error) {
	d, err := scanDiff(s.db.QueryRowContext(ctx, `SELECT `+diffColumns+` FROM diffs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("diff %w: %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get diff: %w", err)
	}
	return d, nil
}

func (s *SQLiteStore) ListDiffs(ctx context.Context, limit int) ([]*models.Diff, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+diffColumns+` FROM diffs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list diffs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.Diff
	for rows.Next() {
		d, err := scanDiff(rows)
		if err != nil {
			return nil, fmt.Errorf("scan diff: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// --- Changesets ---

const changesetColumns = `id, diff_id, filename, old_file, away_paths, change_type, file_type, metadata, add_lines, del_lines`

func scanChangeset(row interface{ Scan(...any) error }) (*models.Changeset, error) {
	c := &models.Changeset{}
	var away, meta string
	if err := row.Scan(&c.ID, &c.DiffID, &c.Filename, &c.OldFile, &away, &c.ChangeType, &c.FileType, &meta, &c.AddLines, &c.DelLines); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(away), &c.AwayPaths); err != nil {
		return nil, fmt.Errorf("decode away paths: %w", err)
	}
	if err := json.Unmarshal([]byte(meta), &c.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return c, nil
}

// CreateChangeset inserts the changeset and its hunks.
func (t *sqliteTx) CreateChangeset(ctx context.Context, c *models.Changeset) error {
	away := c.AwayPaths
	if away == nil {
		away = []string{}
	}
	awayJSON, err := json.Marshal(away)
	if err != nil {
		return fmt.Errorf("encode away paths: %w", err)
	}
	meta := c.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO changesets (diff_id, filename, old_file, away_paths, change_type, file_type, metadata, add_lines, del_lines)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.DiffID, c.Filename, c.OldFile, string(awayJSON), int(c.ChangeType), int(c.FileType), string(metaJSON), c.AddLines, c.DelLines,
	)
	if err != nil {
		return fmt.Errorf("create changeset %s: %w", c.Filename, err)
	}
	c.ID, _ = res.LastInsertId()

	for _, h := range c.Hunks {
		res, err := t.tx.ExecContext(ctx,
			`INSERT INTO hunks (changeset_id, old_offset, old_len, new_offset, new_len, corpus) VALUES (?, ?, ?, ?, ?, ?)`,
			c.ID, h.OldOffset, h.OldLen, h.NewOffset, h.NewLen, h.Corpus,
		)
		if err != nil {
			return fmt.Errorf("create hunk for %s: %w", c.Filename, err)
		}
		h.ID, _ = res.LastInsertId()
	}
	return nil
}

func (s *SQLiteStore) GetChangeset(ctx context.Context, id int64) (*models.Changeset, error) {
	c, err := scanChangeset(s.db.QueryRowContext(ctx, `SELECT `+changesetColumns+` FROM changesets WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("changeset %w: %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get changeset: %w", err)
	}
	if err := s.loadHunks(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// ListChangesets returns the diff's changesets in filename order, with hunks.
func (s *SQLiteStore) ListChangesets(ctx context.Context, diffID int64) ([]*models.Changeset, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+changesetColumns+` FROM changesets WHERE diff_id = ? ORDER BY filename, id`, diffID)
	if err != nil {
		return nil, fmt.Errorf("list changesets: %w", err)
	}
	var out []*models.Changeset
	for rows.Next() {
		c, err := scanChangeset(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan changeset: %w", err)
		}
		out = append(out, c)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list changesets: %w", err)
	}

	for _, c := range out {
		if err := s.loadHunks(ctx, c); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *SQLiteStore) loadHunks(ctx context.Context, c *models.Changeset) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, old_offset, old_len, new_offset, new_len, corpus FROM hunks WHERE changeset_id = ? ORDER BY old_offset, id`, c.ID)
	if err != nil {
		return fmt.Errorf("load hunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	c.Hunks = nil
	for rows.Next() {
		h := &models.Hunk{}
		if err := rows.Scan(&h.ID, &h.OldOffset, &h.OldLen, &h.NewOffset, &h.NewLen, &h.Corpus); err != nil {
			return fmt.Errorf("scan hunk: %w", err)
		}
		c.Hunks = append(c.Hunks, h)
	}
	return rows.Err()
}

// --- Inline comments ---

func (s *SQLiteStore) CreateInlineComment(ctx context.Context, c *models.InlineComment) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.PHID == "" {
		c.PHID = phid.New(phid.TypeComment)
	}
	c.DateCreated = now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO inline_comments (phid, changeset_id, author_phid, is_new_file, line_number, line_length, content, date_created)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.PHID, c.ChangesetID, c.AuthorPHID, boolToInt(c.IsNewFile), c.LineNumber, c.LineLength, c.Content, epoch(c.DateCreated),
	)
	if err != nil {
		return fmt.Errorf("create inline comment: %w", err)
	}
	c.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteStore) ListInlineComments(ctx context.Context, changesetID int64) ([]*models.InlineComment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, phid, changeset_id, author_phid, is_new_file, line_number, line_length, content, date_created
		FROM inline_comments WHERE changeset_id = ? ORDER BY line_number, id`, changesetID)
	if err != nil {
		return nil, fmt.Errorf("list inline comments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.InlineComment
	for rows.Next() {
		c := &models.InlineComment{}
		var created int64
		if err := rows.Scan(&c.ID, &c.PHID, &c.ChangesetID, &c.AuthorPHID, &c.IsNewFile, &c.LineNumber, &c.LineLength, &c.Content, &created); err != nil {
			return nil, fmt.Errorf("scan inline comment: %w", err)
		}
		c.DateCreated = fromEpoch(created)
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteInlineComment removes a comment; only its author may delete it.
func (s *SQLiteStore) DeleteInlineComment(ctx context.Context, id int64, authorPHID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM inline_comments WHERE id = ? AND author_phid = ?`, id, authorPHID)
	if err != nil {
		return fmt.Errorf("delete inline comment: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("inline comment %w: %d", ErrNotFound, id)
	}
	return nil
}
