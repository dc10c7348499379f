package models

import (
	"fmt"
	"strings"
)

// Platform identifies where an interaction was captured.
type Platform string

const (
	PlatformTelegram  Platform = "telegram"
	PlatformWhatsApp  Platform = "whatsapp"
	PlatformInstagram Platform = "instagram"
	PlatformDiscord   Platform = "discord"
	PlatformSnapchat  Platform = "snapchat"
	PlatformSMS       Platform = "sms"
	PlatformWeb       Platform = "web"
	PlatformOther     Platform = "other"
)

// Valid reports whether p is one of the known platforms.
func (p Platform) Valid() bool {
	switch p {
	case PlatformTelegram, PlatformWhatsApp, PlatformInstagram, PlatformDiscord,
		PlatformSnapchat, PlatformSMS, PlatformWeb, PlatformOther:
		return true
	}
	return false
}

// Party is the sender or recipient of an interaction.
type Party struct {
	ID   string `json:"id" db:"id"`
	Name string `json:"name,omitempty" db:"name"`
}

// Interaction is one captured message. Immutable once captured.
type Interaction struct {
	ID          string            `json:"id"`
	Text        string            `json:"text"`
	Sender      Party             `json:"sender"`
	Recipient   *Party            `json:"recipient,omitempty"`
	Platform    Platform          `json:"platform"`
	TimestampMs int64             `json:"timestampMs"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Validate checks the fields the rolling window requires.
func (i Interaction) Validate() error {
	var missing []string
	if strings.TrimSpace(i.ID) == "" {
		missing = append(missing, "id")
	}
	if i.Text == "" {
		missing = append(missing, "text")
	}
	if strings.TrimSpace(i.Sender.ID) == "" {
		missing = append(missing, "sender")
	}
	if i.Platform == "" {
		missing = append(missing, "platform")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: interaction missing %s", ErrValidation, strings.Join(missing, ", "))
	}
	if !i.Platform.Valid() {
		return fmt.Errorf("%w: unknown platform %q", ErrValidation, i.Platform)
	}
	return nil
}

// Clone returns a deep copy so callers never alias buffered state.
func (i Interaction) Clone() Interaction {
	out := i
	if i.Recipient != nil {
		r := *i.Recipient
		out.Recipient = &r
	}
	if i.Metadata != nil {
		out.Metadata = make(map[string]string, len(i.Metadata))
		for k, v := range i.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// CloneInteractions deep-copies a slice of interactions.
func CloneInteractions(in []Interaction) []Interaction {
	if in == nil {
		return nil
	}
	out := make([]Interaction, len(in))
	for idx, it := range in {
		out[idx] = it.Clone()
	}
	return out
}
