package cli

import (
	"context"

	"github.com/slawa19/geoledger/internal/idtype"
	"github.com/slawa19/geoledger/internal/store"
	"github.com/slawa19/geoledger/internal/validation"
)

// resolveEquivalent looks up an Equivalent by its code (e.g. "USD"),
// since every admin CLI command takes a human-typed code, not an
// idtype.ID.
func resolveEquivalent(ctx context.Context, s store.Store, code string) (idtype.ID, error) {
	if errs := validation.Validate(validation.Required("equivalent", code), validation.ValidCode("equivalent", code)); len(errs) != 0 {
		return idtype.Nil, errs
	}

	dbTx, err := s.Begin(ctx)
	if err != nil {
		return idtype.Nil, err
	}
	defer dbTx.Rollback()

	eq, err := s.Equivalents().GetByCode(ctx, dbTx, code)
	if err != nil {
		return idtype.Nil, err
	}
	return eq.ID, nil
}
