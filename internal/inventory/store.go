package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ms-orders/internal/models"

	"github.com/uptrace/bun"
)

var (
	ErrInsufficientInventory = errors.New("insufficient ticket inventory")
	ErrTicketTypeNotFound    = errors.New("ticket type not found")
)

// Store owns the capacity/sold/reserved counters. Every write is a single
// conditional UPDATE so the capacity check and the counter change cannot be
// separated by a concurrent buyer.
type Store struct {
	Bun *bun.DB
}

func New(bunDB *bun.DB) *Store {
	return &Store{Bun: bunDB}
}

func (s *Store) GetTicketType(ctx context.Context, id string) (*models.TicketType, error) {
	var tt models.TicketType
	err := s.Bun.NewSelect().
		Model(&tt).
		Where("ticket_type_id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTicketTypeNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tt, nil
}

// Reserve takes qty units out of the open capacity, or fails with
// ErrInsufficientInventory without changing anything.
func (s *Store) Reserve(ctx context.Context, ticketTypeID string, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("invalid reserve quantity %d", qty)
	}
	res, err := s.Bun.NewUpdate().
		Model((*models.TicketType)(nil)).
		Set("reserved = reserved + ?", qty).
		Where("ticket_type_id = ?", ticketTypeID).
		Where("capacity - sold - reserved >= ?", qty).
		Exec(ctx)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetTicketType(ctx, ticketTypeID); err != nil {
			return err
		}
		return ErrInsufficientInventory
	}
	return nil
}

// Release returns previously reserved units. The guard keeps a duplicate
// release from driving the counter negative.
func (s *Store) Release(ctx context.Context, ticketTypeID string, qty int) error {
	if qty <= 0 {
		return nil
	}
	_, err := s.Bun.NewUpdate().
		Model((*models.TicketType)(nil)).
		Set("reserved = reserved - ?", qty).
		Where("ticket_type_id = ?", ticketTypeID).
		Where("reserved >= ?", qty).
		Exec(ctx)
	return err
}

// ReturnSold gives refunded units back to the open capacity.
func (s *Store) ReturnSold(ctx context.Context, ticketTypeID string, qty int) error {
	if qty <= 0 {
		return nil
	}
	_, err := s.Bun.NewUpdate().
		Model((*models.TicketType)(nil)).
		Set("sold = sold - ?", qty).
		Where("ticket_type_id = ?", ticketTypeID).
		Where("sold >= ?", qty).
		Exec(ctx)
	return err
}

// ReleaseItems releases the reservations behind every ticket item of a failed
// order. Non-ticket items have no inventory and are skipped.
func (s *Store) ReleaseItems(ctx context.Context, items []models.OrderItem) error {
	var firstErr error
	for _, item := range items {
		if item.Type != models.ItemTicket {
			continue
		}
		meta, err := item.TicketMeta()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := s.Release(ctx, meta.TicketTypeID, item.Quantity); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
