package differential

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/joescharf/forge/internal/models"
	"github.com/joescharf/forge/internal/policy"
	"github.com/joescharf/forge/internal/store"
)

// ImportOptions describe where an imported diff came from.
type ImportOptions struct {
	RepositoryPHID    string
	SourceControlPath string
	Branch            string
	BaseRevision      string
	Description       string
}

// Importer stores parsed diffs.
type Importer struct {
	store  store.Store
	logger *zap.Logger
}

// NewImporter returns an importer writing to s.
func NewImporter(s store.Store, logger *zap.Logger) *Importer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Importer{store: s, logger: logger}
}

// Import parses raw and stores the diff with its changesets in one
// transaction.
func (im *Importer) Import(ctx context.Context, author *models.User, raw []byte, opts ImportOptions) (*models.Diff, []*models.Changeset, error) {
	if author == nil || author.Disabled {
		return nil, nil, fmt.Errorf("import diff: %w: an enabled author is required", policy.ErrPermissionDenied)
	}
	changesets, err := ParseDiff(raw)
	if err != nil {
		return nil, nil, err
	}
	if opts.RepositoryPHID != "" {
		if _, err := im.store.GetRepository(ctx, opts.RepositoryPHID); err != nil {
			return nil, nil, fmt.Errorf("import diff: %w", err)
		}
	}

	d := &models.Diff{
		RepositoryPHID:    opts.RepositoryPHID,
		AuthorPHID:        author.PHID,
		SourceControlPath: opts.SourceControlPath,
		Branch:            opts.Branch,
		BaseRevision:      opts.BaseRevision,
		Description:       opts.Description,
	}
	err = im.store.InTx(ctx, func(tx store.Tx) error {
		if err := tx.CreateDiff(ctx, d); err != nil {
			return err
		}
		for _, cs := range changesets {
			cs.DiffID = d.ID
			if err := tx.CreateChangeset(ctx, cs); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("import diff: %w", err)
	}

	im.logger.Info("diff imported",
		zap.Int64("diff", d.ID),
		zap.Int("changesets", len(changesets)),
		zap.String("author", author.Username),
	)
	return d, changesets, nil
}
