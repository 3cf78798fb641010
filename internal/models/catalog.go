package models

import (
	"time"

	"github.com/uptrace/bun"
)

// The catalog rows below belong to subsystems outside this service (listing
// CRUD, forum, events, profiles). Only the columns the payment pipeline reads
// or writes are mapped.

type ListingStatus string

const (
	ListingDraft         ListingStatus = "draft"
	ListingPendingReview ListingStatus = "pending_review"
	ListingActive        ListingStatus = "active"
	ListingExpired       ListingStatus = "expired"
)

type Listing struct {
	bun.BaseModel `bun:"table:listings"`

	ListingID   string        `bun:"listing_id,pk" json:"listing_id"`
	OwnerID     string        `bun:"owner_id" json:"owner_id"`
	CategoryID  string        `bun:"category_id" json:"category_id"`
	Status      ListingStatus `bun:"status" json:"status"`
	PublishedAt time.Time     `bun:"published_at,nullzero" json:"published_at,omitempty"`
	ExpiresAt   time.Time     `bun:"expires_at,nullzero" json:"expires_at,omitempty"`
}

type PlanKind string

const (
	PlanListing PlanKind = "listing"
	PlanForum   PlanKind = "forum"
)

// Plan is a purchasable promotion plan. CategoryID is empty for plans valid
// in every category.
type Plan struct {
	bun.BaseModel `bun:"table:plans"`

	PlanID       string   `bun:"plan_id,pk" json:"plan_id"`
	Kind         PlanKind `bun:"kind" json:"kind"`
	CategoryID   string   `bun:"category_id,nullzero" json:"category_id,omitempty"`
	Name         string   `bun:"name" json:"name"`
	Price        int64    `bun:"price" json:"price"`
	DurationDays int      `bun:"duration_days" json:"duration_days"`
	AutoApprove  bool     `bun:"auto_approve" json:"auto_approve"`
	Active       bool     `bun:"active" json:"active"`
}

type ForumTopic struct {
	bun.BaseModel `bun:"table:forum_topics"`

	TopicID     string    `bun:"topic_id,pk" json:"topic_id"`
	AuthorID    string    `bun:"author_id" json:"author_id"`
	Title       string    `bun:"title" json:"title"`
	IsSticky    bool      `bun:"is_sticky" json:"is_sticky"`
	StickyUntil time.Time `bun:"sticky_until,nullzero" json:"sticky_until,omitempty"`
}

type Event struct {
	bun.BaseModel `bun:"table:events"`

	EventID  string    `bun:"event_id,pk" json:"event_id"`
	Title    string    `bun:"title" json:"title"`
	StartsAt time.Time `bun:"starts_at" json:"starts_at"`
}

// Buyer is the profile snapshot source for invoices. Country drives the VAT
// lookup.
type Buyer struct {
	bun.BaseModel `bun:"table:buyers"`

	BuyerID    string `bun:"buyer_id,pk" json:"buyer_id"`
	Name       string `bun:"name" json:"name"`
	Company    string `bun:"company,nullzero" json:"company,omitempty"`
	Email      string `bun:"email" json:"email"`
	VATNumber  string `bun:"vat_number,nullzero" json:"vat_number,omitempty"`
	Street     string `bun:"street" json:"street"`
	City       string `bun:"city" json:"city"`
	PostalCode string `bun:"postal_code" json:"postal_code"`
	Country    string `bun:"country" json:"country"`
}
