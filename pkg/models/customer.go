package models

import (
	"slices"
	"time"
)

// Customer is the engine's read-mostly projection of a store customer: the
// fields condition predicates and message templates need. The system of
// record lives behind the CustomerRepository.
type Customer struct {
	ID                 string    `json:"id"`
	ExternalID         string    `json:"external_id,omitempty"`
	Email              string    `json:"email"       validate:"required,email"`
	FirstName          string    `json:"first_name"`
	LastName           string    `json:"last_name"`
	Tags               []string  `json:"tags,omitempty"`
	OrdersCount        int       `json:"orders_count"`
	LifetimeSpendCents int64     `json:"lifetime_spend_cents"`
	CreatedAt          time.Time `json:"created_at"`
}

// HasTag reports whether the customer carries the tag (exact match).
func (c *Customer) HasTag(tag string) bool {
	return slices.Contains(c.Tags, tag)
}

// AddTag appends the tag if absent and reports whether the set changed.
func (c *Customer) AddTag(tag string) bool {
	if c.HasTag(tag) {
		return false
	}

	c.Tags = append(c.Tags, tag)

	return true
}
