package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

type ShoppingItem struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Quantity      string    `json:"quantity"`
	Category      string    `json:"category,omitempty"`
	Notes         string    `json:"notes,omitempty"`
	PriceEstimate *float64  `json:"price_estimate,omitempty"`
	IsPurchased   bool      `json:"is_purchased"`
	CreatedAt     time.Time `json:"created_at"`
}

const shoppingColumns = `id, name, quantity, COALESCE(category, ''), COALESCE(notes, ''), price_estimate, is_purchased, created_at`

func scanShoppingItem(scanFn func(dest ...any) error, it *ShoppingItem) error {
	var price sql.NullFloat64
	if err := scanFn(&it.ID, &it.Name, &it.Quantity, &it.Category, &it.Notes, &price, &it.IsPurchased, &it.CreatedAt); err != nil {
		return err
	}
	it.PriceEstimate = floatPtr(price)
	it.CreatedAt = it.CreatedAt.UTC()
	return nil
}

func (x *Tx) InsertShoppingItem(ctx context.Context, it ShoppingItem) (ShoppingItem, error) {
	if it.Quantity == "" {
		it.Quantity = "1"
	}
	now := dbTime(time.Now())
	res, err := x.tx.ExecContext(ctx, `
		INSERT INTO shopping_items (name, quantity, category, notes, price_estimate, is_purchased, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?);
	`, it.Name, it.Quantity, nullString(it.Category), nullString(it.Notes), nullFloat(it.PriceEstimate), now)
	if err != nil {
		return ShoppingItem{}, fmt.Errorf("insert shopping item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return ShoppingItem{}, fmt.Errorf("shopping item id: %w", err)
	}
	it.ID = id
	it.IsPurchased = false
	it.CreatedAt = now
	return it, nil
}

// ListShoppingItems returns not-purchased items by id, optionally limited to
// one category (case-insensitive).
func (x *Tx) ListShoppingItems(ctx context.Context, category string) ([]ShoppingItem, error) {
	q := `SELECT ` + shoppingColumns + ` FROM shopping_items WHERE is_purchased = 0`
	q += ` ORDER BY id ASC;`

	rows, err := x.tx.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query shopping items: %w", err)
	}
	defer rows.Close()

	var out []ShoppingItem
	for rows.Next() {
		var it ShoppingItem
		if err := scanShoppingItem(rows.Scan, &it); err != nil {
			return nil, fmt.Errorf("scan shopping item: %w", err)
		}
		if category != "" && !strings.EqualFold(it.Category, category) {
			continue
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("shopping rows: %w", err)
	}
	return out, nil
}

func (x *Tx) ActiveShoppingNames(ctx context.Context) ([]string, error) {
	return x.names(ctx, `SELECT name FROM shopping_items WHERE is_purchased = 0 ORDER BY id ASC;`)
}

func (x *Tx) ActiveShoppingCandidates(ctx context.Context) ([]Candidate, error) {
	return x.candidates(ctx, `SELECT id, name FROM shopping_items WHERE is_purchased = 0 ORDER BY id ASC;`)
}

func (x *Tx) GetShoppingItem(ctx context.Context, id int64) (ShoppingItem, error) {
	var it ShoppingItem
	row := x.tx.QueryRowContext(ctx, `SELECT `+shoppingColumns+` FROM shopping_items WHERE id = ?;`, id)
	if err := scanShoppingItem(row.Scan, &it); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ShoppingItem{}, ErrNotFound
		}
		return ShoppingItem{}, fmt.Errorf("get shopping item: %w", err)
	}
	return it, nil
}

// MarkPurchased keeps the row but flags it bought; purchased items are no
// longer active.
func (x *Tx) MarkPurchased(ctx context.Context, id int64) error {
	res, err := x.tx.ExecContext(ctx, `UPDATE shopping_items SET is_purchased = 1 WHERE id = ?;`, id)
	if err != nil {
		return fmt.Errorf("mark purchased: %w", err)
	}
	return expectOne(res)
}

func (x *Tx) DeleteShoppingItem(ctx context.Context, id int64) error {
	res, err := x.tx.ExecContext(ctx, `DELETE FROM shopping_items WHERE id = ?;`, id)
	if err != nil {
		return fmt.Errorf("delete shopping item: %w", err)
	}
	return expectOne(res)
}
