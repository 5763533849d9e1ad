package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/slawa19/geoledger/internal/idtype"
	"github.com/stretchr/testify/require"
)

func TestMemoryPublisher_SinceFiltersByTypeAndTime(t *testing.T) {
	p := NewMemoryPublisher()
	ctx := context.Background()
	eq := idtype.New()

	before := time.Now()
	require.NoError(t, p.Publish(ctx, Event{
		Type:       TypePaymentReceived,
		Equivalent: eq,
		Payload:    json.RawMessage(`{"amount":"10.00"}`),
	}))
	require.NoError(t, p.Publish(ctx, Event{
		Type:       TypeClearingDone,
		Equivalent: eq,
	}))

	receivedOnly, err := p.Since(ctx, TypePaymentReceived, before)
	require.NoError(t, err)
	require.Len(t, receivedOnly, 1)
	require.Equal(t, TypePaymentReceived, receivedOnly[0].Type)
	require.Equal(t, eq, receivedOnly[0].Equivalent)

	all, err := p.Since(ctx, "", before)
	require.NoError(t, err)
	require.Len(t, all, 2)

	future, err := p.Since(ctx, "", time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Empty(t, future)
}

func TestMemoryPublisher_AssignsMonotonicIDs(t *testing.T) {
	p := NewMemoryPublisher()
	ctx := context.Background()

	require.NoError(t, p.Publish(ctx, Event{Type: TypePaymentPrepared}))
	require.NoError(t, p.Publish(ctx, Event{Type: TypePaymentReceived}))

	all, err := p.Since(ctx, "", time.Time{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, int64(1), all[0].ID)
	require.Equal(t, int64(2), all[1].ID)
}
