package domain

import "time"

type CodeKind string

const (
	CodeKindOwner    CodeKind = "owner"
	CodeKindFacility CodeKind = "facility"
)

const (
	CodeLength   = 6
	CodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	MinCodeUses = 1
	MaxCodeUses = 5
)

// AuthorizationCode is a short-lived multi-use code scoped to one
// issuer. Facility codes pre-bind a single consumer instead of keeping
// an open used-by list.
type AuthorizationCode struct {
	Code          string    `json:"code"`
	IssuerID      string    `json:"issuer_id"`
	Kind          CodeKind  `json:"kind"`
	MaxUses       int       `json:"max_uses"`
	UsedBy        []string  `json:"used_by"`
	BoundConsumer string    `json:"bound_consumer,omitempty"`
	IssuedAt      time.Time `json:"issued_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}

func (c *AuthorizationCode) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

func (c *AuthorizationCode) Exhausted() bool {
	return len(c.UsedBy) >= c.MaxUses
}

func (c *AuthorizationCode) HasConsumed(consumerID string) bool {
	for _, id := range c.UsedBy {
		if id == consumerID {
			return true
		}
	}
	return false
}

// FacilityPass is the persisted counterpart of a facility code: the
// plain code lives only in the registry, the row keeps an argon2id
// hash so a leaked table exposes no redeemable codes.
type FacilityPass struct {
	ID        int64      `json:"id"`
	IssuerID  string     `json:"issuer_id"`
	Consumer  string     `json:"consumer"`
	CodeHash  string     `json:"-"`
	ExpiresAt time.Time  `json:"expires_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
