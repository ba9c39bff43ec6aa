package cache

import (
	"maps"
	"time"

	"github.com/dmitrijs2005/famsync/internal/client/models"
)

const MB int64 = 1 << 20

// Cache namespaces with a default policy.
const (
	TypeUsers         = "users"
	TypeStories       = "stories"
	TypeEvents        = "events"
	TypeMessages      = "messages"
	TypeFamilyMembers = "family_members"
	TypeRelationships = "relationships"
	TypeVaultItems    = "vault_items"
	TypeMedia         = "media"
)

// TypeFor returns the cache namespace holding records of an entity type.
func TypeFor(t models.EntityType) string {
	switch t {
	case models.EntityUser:
		return TypeUsers
	case models.EntityStory:
		return TypeStories
	case models.EntityEvent:
		return TypeEvents
	case models.EntityMessage:
		return TypeMessages
	case models.EntityFamilyMember:
		return TypeFamilyMembers
	case models.EntityRelationship:
		return TypeRelationships
	case models.EntityVaultItem:
		return TypeVaultItems
	default:
		return string(t)
	}
}

// Policy bounds one cache namespace. Zero MaxSize or MaxItems means
// unbounded; zero TTL means entries never expire.
type Policy struct {
	MaxSize  int64         `json:"max_size" yaml:"max_size"`
	MaxItems int           `json:"max_items" yaml:"max_items"`
	TTL      time.Duration `json:"ttl" yaml:"ttl"`
}

type Policies map[string]Policy

func DefaultPolicies() Policies {
	day := 24 * time.Hour
	return Policies{
		TypeUsers:         {MaxSize: 5 * MB, MaxItems: 1000, TTL: day},
		TypeStories:       {MaxSize: 50 * MB, MaxItems: 500, TTL: 7 * day},
		TypeEvents:        {MaxSize: 20 * MB, MaxItems: 500, TTL: 7 * day},
		TypeMessages:      {MaxSize: 30 * MB, MaxItems: 5000, TTL: 3 * day},
		TypeFamilyMembers: {MaxSize: 10 * MB, MaxItems: 2000, TTL: 30 * day},
		TypeRelationships: {MaxSize: 5 * MB, MaxItems: 5000, TTL: 30 * day},
		TypeVaultItems:    {MaxSize: 200 * MB, MaxItems: 300, TTL: 30 * day},
		TypeMedia:         {MaxSize: 500 * MB, MaxItems: 1000, TTL: 14 * day},
	}
}

// Scaled returns a copy with every size and item limit multiplied by f.
// The receiver is left untouched.
func (p Policies) Scaled(f float64) Policies {
	out := maps.Clone(p)
	for t, pol := range out {
		pol.MaxSize = int64(float64(pol.MaxSize) * f)
		pol.MaxItems = int(float64(pol.MaxItems) * f)
		out[t] = pol
	}
	return out
}

// Budget is the aggregate size budget across all namespaces.
func (p Policies) Budget() int64 {
	var total int64
	for _, pol := range p {
		total += pol.MaxSize
	}
	return total
}
