package intents

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/paycore/pkg/enums"
)

func TestRepositoryTransitionGuardsSourceState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	intent := f.seedPaid(t, "VP-1")

	moved, err := f.repo.Transition(ctx, intent.ID,
		[]enums.IntentStatus{enums.IntentStatusPending, enums.IntentStatusAwaiting3D},
		enums.IntentStatusFailed, nil)
	require.NoError(t, err)
	assert.False(t, moved)
	assert.Equal(t, enums.IntentStatusPaid, f.intent(t, intent.ID).Status)

	moved, err = f.repo.Transition(ctx, intent.ID,
		[]enums.IntentStatus{enums.IntentStatusPaid},
		enums.IntentStatusVoided, map[string]any{"gateway_status": "voided"})
	require.NoError(t, err)
	assert.True(t, moved)

	stored := f.intent(t, intent.ID)
	assert.Equal(t, enums.IntentStatusVoided, stored.Status)
	require.NotNil(t, stored.GatewayStatus)
	assert.Equal(t, "voided", *stored.GatewayStatus)
}

func TestRepositoryFindReusableRespectsExpiryAndStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := createAwaiting(t, f)
	intent := f.intent(t, id)

	found, err := f.repo.FindReusable(ctx, intent.IdempotencyKey, f.clock)
	require.NoError(t, err)
	assert.Equal(t, id, found.ID)

	_, err = f.repo.FindReusable(ctx, intent.IdempotencyKey, intent.IdempotencyExpiresAt)
	assert.True(t, isNotFound(err))

	_, err = f.repo.Transition(ctx, id, []enums.IntentStatus{enums.IntentStatusAwaiting3D}, enums.IntentStatusFailed, nil)
	require.NoError(t, err)
	_, err = f.repo.FindReusable(ctx, intent.IdempotencyKey, f.clock)
	assert.True(t, isNotFound(err))
}

func TestRepositoryListQueries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	awaiting := createAwaiting(t, f)
	paid := f.seedPaid(t, "VP-1")

	stale, err := f.repo.ListCreatedBefore(ctx, enums.ReusableIntentStatuses, f.clock.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, awaiting, stale[0].ID)

	none, err := f.repo.ListCreatedBefore(ctx, enums.ReusableIntentStatuses, f.clock, 10)
	require.NoError(t, err)
	assert.Empty(t, none)

	paidRows, err := f.repo.ListPaidSince(ctx, f.clock.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, paidRows, 1)
	assert.Equal(t, paid.ID, paidRows[0].ID)

	updated, err := f.repo.ListUpdatedBefore(ctx, enums.IntentStatusPaid, f.clock.Add(time.Second), 10)
	require.NoError(t, err)
	require.Len(t, updated, 1)
	assert.Equal(t, paid.ID, updated[0].ID)
}
