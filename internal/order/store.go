package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/noah-isme/payment-relay/internal/money"
)

// ErrNotFound is returned when no order exists for a payment intent.
var ErrNotFound = errors.New("order: not found")

// Store persists confirmations keyed by payment intent id.
type Store interface {
	// Upsert inserts the confirmation when absent. When a row already exists
	// only status, receipt url and the update timestamp change.
	Upsert(ctx context.Context, c Confirmation) error
}

// Record is a stored confirmation.
type Record struct {
	Confirmation
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DB is the subset of pgxpool.Pool used by PGStore.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGStore writes confirmations to the payment_orders table.
type PGStore struct {
	DB DB
}

const upsertSQL = `INSERT INTO payment_orders (
	payment_intent_id, customer_id, cart_id, shipping_fee, amount, currency,
	receipt_url, payment_method, status
) VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6, $7, $8, $9)
ON CONFLICT (payment_intent_id) DO UPDATE SET
	status = EXCLUDED.status,
	receipt_url = EXCLUDED.receipt_url,
	payment_intent_id = EXCLUDED.payment_intent_id,
	updated_at = now()`

const getSQL = `SELECT payment_intent_id, COALESCE(customer_id, ''), COALESCE(cart_id, ''),
	shipping_fee::text, amount::text, currency, receipt_url, payment_method, status,
	created_at, updated_at
FROM payment_orders WHERE payment_intent_id = $1`

// Upsert implements Store.
func (s PGStore) Upsert(ctx context.Context, c Confirmation) error {
	c = c.Normalized()
	var shipping *string
	if c.ShippingFee != nil {
		v := c.ShippingFee.String()
		shipping = &v
	}
	_, err := s.DB.Exec(ctx, upsertSQL,
		c.PaymentIntentID,
		nullIfEmpty(c.CustomerID),
		nullIfEmpty(c.CartID),
		shipping,
		c.Amount.String(),
		c.Currency,
		c.ReceiptURL,
		c.PaymentMethod,
		string(c.Status),
	)
	if err != nil {
		return fmt.Errorf("upsert payment order %s: %w", c.PaymentIntentID, err)
	}
	return nil
}

// Get loads the stored order for a payment intent.
func (s PGStore) Get(ctx context.Context, paymentIntentID string) (Record, error) {
	var (
		rec      Record
		shipping *string
		amount   string
		status   string
	)
	err := s.DB.QueryRow(ctx, getSQL, paymentIntentID).Scan(
		&rec.PaymentIntentID, &rec.CustomerID, &rec.CartID,
		&shipping, &amount, &rec.Currency, &rec.ReceiptURL, &rec.PaymentMethod, &status,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("get payment order %s: %w", paymentIntentID, err)
	}
	rec.Status = Status(status)
	if rec.Amount, err = money.Parse(amount); err != nil {
		return Record{}, fmt.Errorf("decode amount: %w", err)
	}
	if shipping != nil {
		fee, err := money.Parse(*shipping)
		if err != nil {
			return Record{}, fmt.Errorf("decode shipping fee: %w", err)
		}
		rec.ShippingFee = &fee
	}
	return rec, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// MemoryStore is an in-process Store with the same upsert semantics as PGStore.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
	now     func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string]Record{}, now: time.Now}
}

// Upsert implements Store.
func (m *MemoryStore) Upsert(_ context.Context, c Confirmation) error {
	c = c.Normalized()
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if existing, ok := m.records[c.PaymentIntentID]; ok {
		existing.Status = c.Status
		existing.ReceiptURL = c.ReceiptURL
		existing.UpdatedAt = now
		m.records[c.PaymentIntentID] = existing
		return nil
	}
	m.records[c.PaymentIntentID] = Record{Confirmation: c, CreatedAt: now, UpdatedAt: now}
	return nil
}

// Get returns the stored record for a payment intent.
func (m *MemoryStore) Get(_ context.Context, paymentIntentID string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[paymentIntentID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// Len reports how many orders are stored.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}
