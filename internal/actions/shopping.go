package actions

import (
	"context"
	"fmt"
	"strings"

	"github.com/basket/asis/internal/persistence"
	"github.com/basket/asis/internal/resolve"
	"github.com/basket/asis/internal/shared"
)

func shoppingItemFrom(a Args) persistence.ShoppingItem {
	it := persistence.ShoppingItem{
		Name:     a.Text("name"),
		Quantity: a.Text("quantity"),
		Category: a.Text("category"),
		Notes:    a.Text("notes"),
	}
	if it.Name == "" {
		it.Name = "Item"
	}
	if it.Quantity == "" {
		it.Quantity = "1"
	}
	if price, ok := a.Float("price"); ok {
		it.PriceEstimate = &price
	}
	return it
}

func (d *Dispatcher) addShoppingItem(ctx context.Context, tx *persistence.Tx, p Payload) (Result, error) {
	var added []persistence.ShoppingItem
	for _, a := range p.Items() {
		it, err := tx.InsertShoppingItem(ctx, shoppingItemFrom(a))
		if err != nil {
			return Result{}, err
		}
		added = append(added, it)
	}
	names, err := tx.ActiveShoppingNames(ctx)
	if err != nil {
		return Result{}, err
	}

	var r Result
	if p.Mode() == Batch {
		addedNames := make([]string, 0, len(added))
		for _, it := range added {
			addedNames = append(addedNames, it.Name)
		}
		r = success(string(AddShoppingItem), fmt.Sprintf("Am adăugat %d produse pe listă: %s.", len(added), strings.Join(addedNames, ", "))).
			With("count", len(added)).
			With("added", addedNames)
	} else {
		r = success(string(AddShoppingItem), fmt.Sprintf("'%s' a fost adăugat la lista de cumpărături.", added[0].Name)).
			With("item_id", added[0].ID)
	}
	return r.With("full_list", names).With("total_items", len(names)), nil
}

func (d *Dispatcher) listShopping(ctx context.Context, tx *persistence.Tx, p Payload) (Result, error) {
	items, err := tx.ListShoppingItems(ctx, p.Args().Text("category"))
	if err != nil {
		return Result{}, err
	}
	list := make([]map[string]any, 0, len(items))
	for _, it := range items {
		var price any
		if it.PriceEstimate != nil {
			price = *it.PriceEstimate
		}
		list = append(list, map[string]any{
			"id":             it.ID,
			"name":           it.Name,
			"quantity":       it.Quantity,
			"category":       emptyToNil(it.Category),
			"notes":          emptyToNil(it.Notes),
			"price_estimate": price,
		})
	}
	msg := fmt.Sprintf("Ai %d produse pe lista de cumpărături.", len(list))
	if len(list) == 0 {
		msg = "Lista de cumpărături este goală."
	}
	return success(string(ListShopping), msg).With("count", len(list)).With("items", list), nil
}

// removeShoppingItem either deletes the row or, with purchased set, keeps it
// flagged as bought.
func (d *Dispatcher) removeShoppingItem(ctx context.Context, tx *persistence.Tx, p Payload) (Result, error) {
	a := p.Args()
	q := resolve.Query{ID: a.ID("item_id", "id"), Name: a.Text("item_name", "name")}
	if q.Empty() {
		return Result{}, shared.Validation("Specifică produsul de pe listă.")
	}
	c, err := resolve.Resolve(ctx, resolve.Source[persistence.Candidate]{
		ByID: func(ctx context.Context, id int64) (persistence.Candidate, error) {
			it, err := tx.GetShoppingItem(ctx, id)
			return persistence.Candidate{ID: it.ID, Name: it.Name}, err
		},
		Active: tx.ActiveShoppingCandidates,
		Name:   candidateName,
	}, q)
	if err != nil {
		if isNotFound(err) {
			return Result{}, shared.NotFound("Produsul nu a fost găsit pe listă.")
		}
		return Result{}, err
	}

	var r Result
	if a.Bool("purchased") {
		if err := tx.MarkPurchased(ctx, c.ID); err != nil {
			return Result{}, err
		}
		r = success("mark_purchased", fmt.Sprintf("'%s' a fost marcat ca cumpărat.", c.Name))
	} else {
		if err := tx.DeleteShoppingItem(ctx, c.ID); err != nil {
			return Result{}, err
		}
		r = success(string(RemoveShoppingItem), fmt.Sprintf("'%s' a fost șters de pe listă.", c.Name))
	}
	names, err := tx.ActiveShoppingNames(ctx)
	if err != nil {
		return Result{}, err
	}
	return r.With("item_id", c.ID).With("full_list", names).With("total_items", len(names)), nil
}
