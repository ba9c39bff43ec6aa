package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrijs2005/famsync/internal/common"
)

// Payload is implemented by every typed entity payload.
type Payload interface {
	EntityType() EntityType
}

// User is a family account profile.
type User struct {
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
	Bio         string `json:"bio,omitempty"`
}

func (User) EntityType() EntityType { return EntityUser }

// Story is a shared memory with rich text and tags.
type Story struct {
	Title    string   `json:"title"`
	Body     string   `json:"body"`
	AuthorID string   `json:"authorId,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	MediaIDs []string `json:"mediaIds,omitempty"`
}

func (Story) EntityType() EntityType { return EntityStory }

// RSVP is one guest's answer to an event invitation.
type RSVP struct {
	UserID    string    `json:"userId"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Event struct {
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	StartsAt    time.Time `json:"startsAt"`
	EndsAt      time.Time `json:"endsAt"`
	Guests      []string  `json:"guests,omitempty"`
	RSVPs       []RSVP    `json:"rsvps,omitempty"`
}

func (Event) EntityType() EntityType { return EntityEvent }

// Reaction is keyed by UserID+Emoji. Removed marks a withdrawn reaction so the
// removal can win over an older add.
type Reaction struct {
	UserID    string    `json:"userId"`
	Emoji     string    `json:"emoji"`
	Removed   bool      `json:"removed,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Message struct {
	ConversationID string     `json:"conversationId"`
	SenderID       string     `json:"senderId"`
	Body           string     `json:"body"`
	Reactions      []Reaction `json:"reactions,omitempty"`
}

func (Message) EntityType() EntityType { return EntityMessage }

// FamilyMember is one node of the family tree.
type FamilyMember struct {
	Name      string   `json:"name"`
	BirthDate string   `json:"birthDate,omitempty"`
	DeathDate string   `json:"deathDate,omitempty"`
	Bio       string   `json:"bio,omitempty"`
	ParentIDs []string `json:"parentIds,omitempty"`
	ChildIDs  []string `json:"childIds,omitempty"`
	SpouseIDs []string `json:"spouseIds,omitempty"`
}

func (FamilyMember) EntityType() EntityType { return EntityFamilyMember }

type Relationship struct {
	FromID string `json:"fromId"`
	ToID   string `json:"toId"`
	Kind   string `json:"kind"`
	Note   string `json:"note,omitempty"`
}

func (Relationship) EntityType() EntityType { return EntityRelationship }

// VaultItem is an encrypted-at-rest family document; Content is opaque.
type VaultItem struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Members []string `json:"members,omitempty"`
}

func (VaultItem) EntityType() EntityType { return EntityVaultItem }

// DecodePayload unmarshals raw into the typed payload for t. An empty raw
// value yields the zero payload.
func DecodePayload(t EntityType, raw json.RawMessage) (Payload, error) {
	switch t {
	case EntityUser:
		return decode[User](raw)
	case EntityStory:
		return decode[Story](raw)
	case EntityEvent:
		return decode[Event](raw)
	case EntityMessage:
		return decode[Message](raw)
	case EntityFamilyMember:
		return decode[FamilyMember](raw)
	case EntityRelationship:
		return decode[Relationship](raw)
	case EntityVaultItem:
		return decode[VaultItem](raw)
	default:
		return nil, fmt.Errorf("%w: %q", common.ErrUnknownEntityType, t)
	}
}

func decode[T Payload](raw json.RawMessage) (Payload, error) {
	var v T
	if len(raw) == 0 || string(raw) == "null" {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("%w: decode %s payload: %v", common.ErrValidation, v.EntityType(), err)
	}
	return v, nil
}

// EncodePayload marshals a typed payload.
func EncodePayload(p Payload) (json.RawMessage, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return b, nil
}
