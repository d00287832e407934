package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetExcludeFromAnalytics(t *testing.T) {
	t.Run("unprotected can toggle", func(t *testing.T) {
		tx := Transaction{ID: "a"}
		require.NoError(t, tx.SetExcludeFromAnalytics(true))
		assert.True(t, tx.ExcludeFromAnalytics)
		require.NoError(t, tx.SetExcludeFromAnalytics(false))
		assert.False(t, tx.ExcludeFromAnalytics)
	})

	t.Run("protected transfer cannot be re-included", func(t *testing.T) {
		tx := Transaction{ID: "a"}
		tx.MarkTransfer("b")
		err := tx.SetExcludeFromAnalytics(false)
		assert.ErrorIs(t, err, ErrAnalyticsProtected)
		assert.True(t, tx.ExcludeFromAnalytics)
	})

	t.Run("clearing the match releases the flags", func(t *testing.T) {
		tx := Transaction{ID: "a"}
		tx.MarkTransfer("b")
		tx.ClearTransferMatch()
		assert.Empty(t, tx.MatchedTransferID)
		assert.False(t, tx.IsAnalyticsProtected)
		assert.False(t, tx.ExcludeFromAnalytics)
		require.NoError(t, tx.SetExcludeFromAnalytics(false))
	})
}

func TestKindForAmount(t *testing.T) {
	assert.Equal(t, KindExpense, KindForAmount(-1))
	assert.Equal(t, KindIncome, KindForAmount(0))
	assert.Equal(t, KindIncome, KindForAmount(250))
	assert.True(t, Transaction{Amount: -5}.IsExpense())
	assert.False(t, Transaction{Amount: -5, Kind: KindIncome}.IsExpense())
}

func TestCategoryIDStable(t *testing.T) {
	assert.Equal(t, CategoryID("groceries"), CategoryID(" Groceries "))
	assert.NotEqual(t, CategoryID("groceries"), CategoryID("dining"))
}

func TestDeleteOperationBlocking(t *testing.T) {
	var none *DeleteOperation
	assert.False(t, none.Blocking())
	assert.True(t, (&DeleteOperation{Status: DeletePending}).Blocking())
	assert.True(t, (&DeleteOperation{Status: DeleteInProgress}).Blocking())
	assert.False(t, (&DeleteOperation{Status: DeleteFailed}).Blocking())
}
