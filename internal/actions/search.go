package actions

import (
	"context"
	"errors"
	"fmt"

	"github.com/basket/asis/internal/persistence"
	"github.com/basket/asis/internal/search"
	"github.com/basket/asis/internal/shared"
)

func (d *Dispatcher) searchInternet(ctx context.Context, _ *persistence.Tx, p Payload) (Result, error) {
	query := p.Args().Text("query")
	if query == "" {
		return Result{}, shared.Validation("Nu ai specificat ce să caut.")
	}
	if d.search == nil {
		return Result{}, shared.External("Căutarea pe internet nu este disponibilă", errors.New("no search provider configured"))
	}
	resp, err := d.search.Search(ctx, query)
	if err != nil {
		return Result{}, shared.External("Căutarea pe internet a eșuat", err)
	}

	var direct any
	if resp.DirectAnswer != "" {
		direct = resp.DirectAnswer
	}
	return success(string(SearchInternet), fmt.Sprintf("Am găsit %d rezultate pentru '%s'.", len(resp.Results), query)).
		With("query", query).
		With("provider", resp.Provider).
		With("results", resp.Results).
		With("direct_answer", direct).
		With("formatted", search.Format(resp)), nil
}
