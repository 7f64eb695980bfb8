package job

import "encoding/json"

// Meta carries the channel-specific message content for one recipient. At
// most one variant is set; which one must match the job's channel. A zero
// Meta means the producer could not build content for that slot and the
// adapter reports it as a missing-meta failure.
type Meta struct {
	Email    *EmailMeta    `json:"email,omitempty"`
	Push     *PushMeta     `json:"push,omitempty"`
	Telegram *TelegramMeta `json:"telegram,omitempty"`
	WebPush  *WebPushMeta  `json:"webPush,omitempty"`
}

// IsZero reports whether no variant is set.
func (m Meta) IsZero() bool {
	return m.Email == nil && m.Push == nil && m.Telegram == nil && m.WebPush == nil
}

// EmailMeta is the email variant. Subject is required; HTML wins over Text
// when both are present.
type EmailMeta struct {
	Subject     string       `json:"subject"`
	Text        string       `json:"text,omitempty"`
	HTML        string       `json:"html,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment is an email attachment; Content travels base64-encoded on the
// wire via encoding/json's []byte handling.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType,omitempty"`
	Content     []byte `json:"content"`
}

// PushMeta is the mobile-push variant. Title/Body populate the notification
// payload; Data rides alongside. The platform blocks pass through opaque to
// the transport.
type PushMeta struct {
	Title        string            `json:"title,omitempty"`
	Body         string            `json:"body,omitempty"`
	Data         map[string]string `json:"data,omitempty"`
	Android      json.RawMessage   `json:"android,omitempty"`
	APNS         json.RawMessage   `json:"apns,omitempty"`
	Webpush      json.RawMessage   `json:"webpush,omitempty"`
	FCMOptions   json.RawMessage   `json:"fcmOptions,omitempty"`
	Notification map[string]string `json:"notification,omitempty"`
}

// TelegramMeta is the chat-bot variant. Text is required; ParseMode defaults
// to HTML at send time.
type TelegramMeta struct {
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode,omitempty"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview,omitempty"`
	DisableNotification   bool   `json:"disable_notification,omitempty"`
	ProtectContent        bool   `json:"protect_content,omitempty"`
}

// WebPushMeta is the browser push variant.
type WebPushMeta struct {
	Title   string            `json:"title,omitempty"`
	Body    string            `json:"body,omitempty"`
	Icon    string            `json:"icon,omitempty"`
	Image   string            `json:"image,omitempty"`
	Badge   string            `json:"badge,omitempty"`
	Data    json.RawMessage   `json:"data,omitempty"`
	TTL     int               `json:"TTL,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}
