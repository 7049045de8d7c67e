package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/carwash-bot/internal/model"
)

func TestReconcile_SecondPassFindsNothing(t *testing.T) {
	repo := newStubRepo()
	r := NewReconciler(repo)
	ctx := context.Background()

	batch := []model.Washing{
		washing("1", "+79092330123", intPtr(50)),
		washing("2", "", nil),
		washing("3", "+79092330124", intPtr(-20)),
	}

	fresh, eligible, err := r.Reconcile(ctx, batch)
	require.NoError(t, err)
	assert.Len(t, fresh, 3)
	assert.Len(t, eligible, 2)

	require.NoError(t, repo.SaveWashings(ctx, batch))

	fresh, eligible, err = r.Reconcile(ctx, batch)
	require.NoError(t, err)
	assert.Empty(t, fresh)
	assert.Empty(t, eligible)
}

func TestReconcile_EligibilityGate(t *testing.T) {
	tests := []struct {
		name     string
		washing  model.Washing
		eligible bool
	}{
		{name: "phone and bonuses", washing: washing("1", "+79092330123", intPtr(10)), eligible: true},
		{name: "negative bonuses", washing: washing("2", "+79092330123", intPtr(-10)), eligible: true},
		{name: "zero bonuses", washing: washing("3", "+79092330123", intPtr(0)), eligible: true},
		{name: "no phone", washing: washing("4", "", intPtr(10)), eligible: false},
		{name: "no bonuses", washing: washing("5", "+79092330123", nil), eligible: false},
		{name: "nothing", washing: washing("6", "", nil), eligible: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fresh, eligible, err := NewReconciler(newStubRepo()).Reconcile(context.Background(), []model.Washing{tt.washing})
			require.NoError(t, err)
			assert.Len(t, fresh, 1, "every unseen washing is new")
			if tt.eligible {
				assert.Len(t, eligible, 1)
			} else {
				assert.Empty(t, eligible)
			}
		})
	}
}

func TestReconcile_DuplicateInsideBatch(t *testing.T) {
	fresh, eligible, err := NewReconciler(newStubRepo()).Reconcile(context.Background(), []model.Washing{
		washing("1", "+79092330123", intPtr(10)),
		washing("1", "+79092330123", intPtr(10)),
	})
	require.NoError(t, err)
	assert.Len(t, fresh, 1)
	assert.Len(t, eligible, 1)
}
