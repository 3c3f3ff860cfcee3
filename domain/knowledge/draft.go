package knowledge

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

var ErrInvalidDraft = errors.New("invalid knowledge item draft")

// DefaultTag is attached when analysis yields no tags.
const DefaultTag = "uploaded"

// maxTitleRunes bounds stored titles; longer titles are cut.
const maxTitleRunes = 200

// Draft is a knowledge item that has not been stored yet.
type Draft struct {
	UserID   string
	Title    string
	Summary  string
	Content  string
	Type     ItemType
	FileURL  string
	MimeType string
	Metadata map[string]any
	Tags     []string

	IsProcessed bool

	// SourceMessageID identifies the inbound message the draft came from.
	// Drafts sharing a user and SourceMessageID are stored once.
	SourceMessageID string
}

// Validate checks the fields every stored item needs.
func (d *Draft) Validate() error {
	switch {
	case strings.TrimSpace(d.UserID) == "":
		return fmt.Errorf("%w: missing user id", ErrInvalidDraft)
	case strings.TrimSpace(d.Title) == "":
		return fmt.Errorf("%w: missing title", ErrInvalidDraft)
	case !d.Type.Valid():
		return fmt.Errorf("%w: unknown type %q", ErrInvalidDraft, d.Type)
	}
	return nil
}

func (d *Draft) toItem() *KnowledgeItem {
	item := &KnowledgeItem{
		UserID:      d.UserID,
		Title:       Truncate(strings.TrimSpace(d.Title), maxTitleRunes, ""),
		Type:        d.Type,
		Metadata:    d.Metadata,
		IsProcessed: d.IsProcessed,
		Summary:     nonEmpty(d.Summary),
		Content:     nonEmpty(d.Content),
		FileURL:     nonEmpty(d.FileURL),
		MimeType:    nonEmpty(d.MimeType),

		SourceMessageID: nonEmpty(d.SourceMessageID),
	}
	if item.Metadata == nil {
		item.Metadata = map[string]any{}
	}
	return item
}

// Truncate cuts s to at most n runes, appending suffix when it cut anything.
func Truncate(s string, n int, suffix string) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + suffix
}

// NormalizeTags trims, drops empties and de-duplicates case-insensitively,
// keeping first-seen order.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.Trim(strings.TrimSpace(t), "#")
		t = Truncate(t, 100, "")
		if t == "" {
			continue
		}
		key := strings.ToLower(t)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, t)
	}
	return out
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
