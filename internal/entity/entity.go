package entity

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ContactInfo is the optional structured contact record for an entity.
type ContactInfo struct {
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
	TaxID   string `json:"tax_id,omitempty"`
}

// Entity is a business counterparty (client or supplier) documents are
// attributed to. Keywords drive the free classification stage: the keyword
// match confidence for a text is matched/len(Keywords), so Keywords must be
// non-empty for any active entity.
type Entity struct {
	ID        uuid.UUID    `json:"id"`
	Code      string       `json:"code"` // unique, immutable after creation
	Name      string       `json:"name"`
	Keywords  []string     `json:"keywords"` // ordered, non-empty at creation
	Aliases   []string     `json:"aliases,omitempty"`
	Contact   *ContactInfo `json:"contact,omitempty"`
	Priority  int          `json:"priority"` // lower sorts first
	Active    bool         `json:"active"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// MatchesName reports whether s equals the entity name or one of its
// aliases, ignoring case and surrounding space.
func (e *Entity) MatchesName(s string) bool {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return false
	}
	if strings.ToLower(e.Name) == s {
		return true
	}
	for _, a := range e.Aliases {
		if strings.ToLower(strings.TrimSpace(a)) == s {
			return true
		}
	}
	return false
}
