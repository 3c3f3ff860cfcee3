package wechat

import (
	"time"

	"github.com/uptrace/bun"
)

// Integration binds a WeChat open id to a KnowledgeVault user in
// kb.wechat_integrations. A row without an open id is pending: it only
// carries the user's current link token.
type Integration struct {
	bun.BaseModel `bun:"table:kb.wechat_integrations,alias:wi"`

	ID                 string     `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	UserID             string     `bun:"user_id,notnull" json:"userId"`
	WeChatOpenID       *string    `bun:"wechat_open_id" json:"wechatOpenId,omitempty"`
	WeChatUnionID      *string    `bun:"wechat_union_id" json:"wechatUnionId,omitempty"`
	Nickname           *string    `bun:"nickname" json:"nickname,omitempty"`
	AvatarURL          *string    `bun:"avatar_url" json:"avatarUrl,omitempty"`
	LinkToken          *string    `bun:"link_token" json:"-"`
	LinkTokenExpiresAt *time.Time `bun:"link_token_expires_at" json:"-"`
	IsActive           bool       `bun:"is_active,notnull,default:false" json:"isActive"`
	LastMessageAt      *time.Time `bun:"last_message_at" json:"lastMessageAt,omitempty"`
	Settings           Settings   `bun:"settings,type:jsonb,notnull,default:'{}'" json:"settings"`
	CreatedAt          time.Time  `bun:"created_at,notnull,default:now()" json:"createdAt"`
	UpdatedAt          time.Time  `bun:"updated_at,notnull,default:now()" json:"updatedAt"`
}

// OpenID returns the bound open id, or "" for a pending row.
func (i *Integration) OpenID() string {
	if i.WeChatOpenID == nil {
		return ""
	}
	return *i.WeChatOpenID
}

// Message kinds that can be switched off per integration.
const (
	KindText  = "text"
	KindImage = "image"
	KindVoice = "voice"
	KindVideo = "video"
	KindLink  = "link"
)

// Settings are per-integration preferences stored as jsonb.
type Settings struct {
	// AutoSave maps a message kind to whether it is saved. Absent kinds are
	// saved.
	AutoSave map[string]bool `json:"autoSave,omitempty"`
}

// AutoSaveEnabled reports whether messages of kind are saved.
func (s Settings) AutoSaveEnabled(kind string) bool {
	enabled, ok := s.AutoSave[kind]
	return !ok || enabled
}

// Profile is the WeChat identity bound when a link token is consumed.
type Profile struct {
	OpenID    string
	UnionID   string
	Nickname  string
	AvatarURL string
}
