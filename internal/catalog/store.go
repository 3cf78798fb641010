package catalog

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"ms-orders/internal/models"

	"github.com/uptrace/bun"
)

var (
	ErrListingNotFound = errors.New("listing not found")
	ErrPlanNotFound    = errors.New("plan not found")
	ErrTopicNotFound   = errors.New("forum topic not found")
	ErrEventNotFound   = errors.New("event not found")
	ErrBuyerNotFound   = errors.New("buyer not found")
)

// Store reads and writes the narrow slice of listing/forum/event/profile data
// the payment pipeline touches. Full CRUD for these tables lives in other
// services.
type Store struct {
	Bun *bun.DB
}

func New(bunDB *bun.DB) *Store {
	return &Store{Bun: bunDB}
}

func (s *Store) GetListing(ctx context.Context, id string) (*models.Listing, error) {
	var l models.Listing
	err := s.Bun.NewSelect().Model(&l).Where("listing_id = ?", id).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrListingNotFound
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *Store) GetPlan(ctx context.Context, id string) (*models.Plan, error) {
	var p models.Plan
	err := s.Bun.NewSelect().Model(&p).Where("plan_id = ?", id).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPlanNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetTopic(ctx context.Context, id string) (*models.ForumTopic, error) {
	var t models.ForumTopic
	err := s.Bun.NewSelect().Model(&t).Where("topic_id = ?", id).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTopicNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	var e models.Event
	err := s.Bun.NewSelect().Model(&e).Where("event_id = ?", id).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) GetBuyer(ctx context.Context, id string) (*models.Buyer, error) {
	var b models.Buyer
	err := s.Bun.NewSelect().Model(&b).Where("buyer_id = ?", id).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBuyerNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// PromoteListing activates a paid promotion. The window is computed from the
// order's paid_at by the caller, so re-running the same fulfillment writes
// identical values.
func (s *Store) PromoteListing(ctx context.Context, listingID string, status models.ListingStatus, publishedAt, expiresAt time.Time) error {
	_, err := s.Bun.NewUpdate().
		Model((*models.Listing)(nil)).
		Set("status = ?", status).
		Set("published_at = ?", publishedAt).
		Set("expires_at = ?", expiresAt).
		Where("listing_id = ?", listingID).
		Exec(ctx)
	return err
}

// ExpireListing is the refund compensation for a promoted listing.
func (s *Store) ExpireListing(ctx context.Context, listingID string, at time.Time) error {
	_, err := s.Bun.NewUpdate().
		Model((*models.Listing)(nil)).
		Set("status = ?", models.ListingExpired).
		Set("expires_at = ?", at).
		Where("listing_id = ?", listingID).
		Exec(ctx)
	return err
}

func (s *Store) StickTopic(ctx context.Context, topicID string, until time.Time) error {
	_, err := s.Bun.NewUpdate().
		Model((*models.ForumTopic)(nil)).
		Set("is_sticky = ?", true).
		Set("sticky_until = ?", until).
		Where("topic_id = ?", topicID).
		Exec(ctx)
	return err
}

// UnstickTopic is the refund compensation for a paid sticky.
func (s *Store) UnstickTopic(ctx context.Context, topicID string) error {
	_, err := s.Bun.NewUpdate().
		Model((*models.ForumTopic)(nil)).
		Set("is_sticky = ?", false).
		Set("sticky_until = NULL").
		Where("topic_id = ?", topicID).
		Exec(ctx)
	return err
}
