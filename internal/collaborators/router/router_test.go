package router

import (
	"context"
	"testing"

	"github.com/slawa19/geoledger/internal/idtype"
	"github.com/slawa19/geoledger/internal/money"
	"github.com/stretchr/testify/require"
)

func TestStaticRouter_ReturnsConstructedPath(t *testing.T) {
	a, b, c := idtype.New(), idtype.New(), idtype.New()
	r := StaticRouter{Path: []idtype.ID{a, b, c}}
	amount := money.MustParse("10.00", 2)

	routes, err := r.Route(context.Background(), a, c, amount, idtype.New())
	require.NoError(t, err)
	require.Len(t, routes, 1)
	require.Equal(t, []idtype.ID{a, b, c}, routes[0].Path)
	require.True(t, amount.Cmp(routes[0].Amount) == 0)
}

func TestStaticRouter_ErrorsOnTooShortPath(t *testing.T) {
	r := StaticRouter{Path: []idtype.ID{idtype.New()}}
	_, err := r.Route(context.Background(), idtype.New(), idtype.New(), money.MustParse("1.00", 2), idtype.New())
	require.ErrorIs(t, err, ErrNoRoute)
}

func TestDirectRouter_ReturnsTwoHopPath(t *testing.T) {
	sender, receiver := idtype.New(), idtype.New()
	amount := money.MustParse("5.00", 2)

	routes, err := DirectRouter{}.Route(context.Background(), sender, receiver, amount, idtype.New())
	require.NoError(t, err)
	require.Len(t, routes, 1)
	require.Equal(t, []idtype.ID{sender, receiver}, routes[0].Path)
}

func TestDirectRouter_ErrorsOnSelfLoop(t *testing.T) {
	self := idtype.New()
	_, err := DirectRouter{}.Route(context.Background(), self, self, money.MustParse("1.00", 2), idtype.New())
	require.ErrorIs(t, err, ErrNoRoute)
}
