package wechat

import "time"

// QRCodeResponse carries the link QR code as a PNG data URL.
type QRCodeResponse struct {
	QRCode    string    `json:"qrCode"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// IntegrationSummary is the public view of a linked integration.
type IntegrationSummary struct {
	ID            string     `json:"id"`
	Nickname      *string    `json:"nickname,omitempty"`
	AvatarURL     *string    `json:"avatarUrl,omitempty"`
	IsActive      bool       `json:"isActive"`
	LastMessageAt *time.Time `json:"lastMessageAt,omitempty"`
	Settings      Settings   `json:"settings"`
	CreatedAt     time.Time  `json:"createdAt"`
}

func toSummary(i *Integration) IntegrationSummary {
	return IntegrationSummary{
		ID:            i.ID,
		Nickname:      i.Nickname,
		AvatarURL:     i.AvatarURL,
		IsActive:      i.IsActive,
		LastMessageAt: i.LastMessageAt,
		Settings:      i.Settings,
		CreatedAt:     i.CreatedAt,
	}
}

// UpdateSettingsRequest replaces an integration's settings.
type UpdateSettingsRequest struct {
	AutoSave map[string]bool `json:"autoSave" validate:"required,dive,keys,oneof=text image voice video link,endkeys"`
}

type DeleteResponse struct {
	Success bool `json:"success"`
}
