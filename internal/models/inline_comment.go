package models

import (
	"fmt"
	"time"
)

// InlineComment is a draft or published comment attached to a changeset
// line range. IsNewFile selects the right-hand side.
type InlineComment struct {
	ID          int64
	PHID        string
	ChangesetID int64
	AuthorPHID  string
	IsNewFile   bool
	LineNumber  int
	LineLength  int
	Content     string
	DateCreated time.Time
}

// Validate checks the line range and content.
func (c *InlineComment) Validate() error {
	if c.ChangesetID == 0 {
		return fmt.Errorf("inline comment needs a changeset")
	}
	if c.LineNumber < 1 {
		return fmt.Errorf("inline comment line must be positive: %d", c.LineNumber)
	}
	if c.LineLength < 0 {
		return fmt.Errorf("inline comment length must not be negative: %d", c.LineLength)
	}
	if c.Content == "" {
		return fmt.Errorf("inline comment is empty")
	}
	return nil
}
