package knowledge

import (
	"time"

	"github.com/uptrace/bun"
)

// ItemType is the kind of content a knowledge item holds.
type ItemType string

const (
	TypeText     ItemType = "text"
	TypeImage    ItemType = "image"
	TypeAudio    ItemType = "audio"
	TypeVideo    ItemType = "video"
	TypeDocument ItemType = "document"
	TypeLink     ItemType = "link"
)

// Valid reports whether t is one of the known item types.
func (t ItemType) Valid() bool {
	switch t {
	case TypeText, TypeImage, TypeAudio, TypeVideo, TypeDocument, TypeLink:
		return true
	}
	return false
}

// KnowledgeItem represents a stored note, file or link in kb.knowledge_items
type KnowledgeItem struct {
	bun.BaseModel `bun:"table:kb.knowledge_items,alias:ki"`

	ID              string         `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	UserID          string         `bun:"user_id,notnull" json:"userId"`
	Title           string         `bun:"title,notnull" json:"title"`
	Summary         *string        `bun:"summary" json:"summary,omitempty"`
	Content         *string        `bun:"content" json:"content,omitempty"`
	Type            ItemType       `bun:"type,notnull" json:"type"`
	FileURL         *string        `bun:"file_url" json:"fileUrl,omitempty"`
	FileName        *string        `bun:"file_name" json:"fileName,omitempty"`
	FileSize        *int64         `bun:"file_size" json:"fileSize,omitempty"`
	MimeType        *string        `bun:"mime_type" json:"mimeType,omitempty"`
	ObjectPath      *string        `bun:"object_path" json:"objectPath,omitempty"`
	Metadata        map[string]any `bun:"metadata,type:jsonb,notnull,default:'{}'" json:"metadata"`
	IsProcessed     bool           `bun:"is_processed,notnull,default:false" json:"isProcessed"`
	ProcessingError *string        `bun:"processing_error" json:"processingError,omitempty"`
	SourceMessageID *string        `bun:"source_message_id" json:"-"`
	CreatedAt       time.Time      `bun:"created_at,notnull,default:now()" json:"createdAt"`
	UpdatedAt       time.Time      `bun:"updated_at,notnull,default:now()" json:"updatedAt"`

	Tags []string `bun:"-" json:"tags"`
}

// MetadataString returns metadata[key] when it is a non-empty string.
func (k *KnowledgeItem) MetadataString(key string) string {
	if k.Metadata == nil {
		return ""
	}
	s, _ := k.Metadata[key].(string)
	return s
}

// Tag is a per-user label in kb.tags
type Tag struct {
	bun.BaseModel `bun:"table:kb.tags,alias:t"`

	ID        string    `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	UserID    string    `bun:"user_id,notnull" json:"userId"`
	Name      string    `bun:"name,notnull" json:"name"`
	Color     string    `bun:"color,notnull,default:'#3B82F6'" json:"color"`
	CreatedAt time.Time `bun:"created_at,notnull,default:now()" json:"createdAt"`
}

// KnowledgeItemTag links items to tags in kb.knowledge_item_tags
type KnowledgeItemTag struct {
	bun.BaseModel `bun:"table:kb.knowledge_item_tags,alias:kit"`

	KnowledgeItemID string `bun:"knowledge_item_id,pk,type:uuid"`
	TagID           string `bun:"tag_id,pk,type:uuid"`
}
