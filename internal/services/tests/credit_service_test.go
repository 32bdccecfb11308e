package services_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"chatbase_go_backend/internal/database"
	apperrors "chatbase_go_backend/internal/errors"
	"chatbase_go_backend/internal/models"
	"chatbase_go_backend/internal/services"
	"chatbase_go_backend/internal/utils/broker"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open("file:" + t.Name() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	return db
}

func createUser(t *testing.T, db *gorm.DB, availableCredits int64, blocked bool) *models.User {
	t.Helper()
	user := &models.User{
		ID:               uuid.New(),
		AuthID:           "auth0|" + uuid.NewString(),
		Email:            uuid.NewString() + "@example.com",
		AvailableCredits: availableCredits,
		Plan:             models.PlanFree,
		IsBlocked:        blocked,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func TestAddThenDeductRoundTrip(t *testing.T) {
	db := newTestDB(t)
	svc := services.NewCreditService(db, nil, zerolog.Nop())
	user := createUser(t, db, 0, false)
	ctx := context.Background()

	added, err := svc.AddCredits(ctx, user.ID, 50, "credit_purchase")
	require.NoError(t, err)
	assert.Equal(t, int64(50), added.RemainingCredits)

	// 6000 tokens at the configured margin costs 7 credits.
	deducted, err := svc.DeductForTokens(ctx, user.ID, 6000, "chat_message", map[string]interface{}{
		"conversation_id": "conv-1",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), deducted.CreditsDeducted)
	assert.Equal(t, int64(43), deducted.RemainingCredits)

	available, used, err := svc.Balance(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(43), available)
	assert.Equal(t, int64(7), used)

	history, err := svc.History(ctx, user.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, int64(-7), history[0].Amount)
	assert.Equal(t, "chat_message", history[0].Operation)
	assert.Equal(t, int64(50), history[1].Amount)
	assert.Equal(t, "credit_purchase", history[1].Operation)
}

func TestDeductInsufficientLeavesBalanceUntouched(t *testing.T) {
	db := newTestDB(t)
	svc := services.NewCreditService(db, nil, zerolog.Nop())
	user := createUser(t, db, 5, false)
	ctx := context.Background()

	_, err := svc.DeductForTokens(ctx, user.ID, 6000, "chat_message", nil)

	var customErr *apperrors.CustomError
	require.ErrorAs(t, err, &customErr)
	assert.Equal(t, apperrors.ErrorTypeCredit, customErr.Type)

	available, used, err := svc.Balance(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), available)
	assert.Equal(t, int64(0), used)

	history, err := svc.History(ctx, user.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestDeductBlockedAccount(t *testing.T) {
	db := newTestDB(t)
	svc := services.NewCreditService(db, nil, zerolog.Nop())
	user := createUser(t, db, 100, true)

	_, err := svc.DeductForTokens(context.Background(), user.ID, 1000, "chat_message", nil)

	var customErr *apperrors.CustomError
	require.ErrorAs(t, err, &customErr)
	assert.Equal(t, apperrors.ErrorTypeCredit, customErr.Type)

	available, _, err := svc.Balance(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), available)
}

func TestDeductZeroTokensIsFree(t *testing.T) {
	db := newTestDB(t)
	svc := services.NewCreditService(db, nil, zerolog.Nop())
	user := createUser(t, db, 10, false)

	result, err := svc.DeductForTokens(context.Background(), user.ID, 0, "chat_message", nil)

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, int64(10), result.RemainingCredits)
	assert.Zero(t, result.CreditsDeducted)

	history, err := svc.History(context.Background(), user.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestDeductDrainedAccountRejectsSecondAttempt(t *testing.T) {
	db := newTestDB(t)
	svc := services.NewCreditService(db, nil, zerolog.Nop())
	user := createUser(t, db, 7, false)
	ctx := context.Background()

	first, err := svc.DeductForTokens(ctx, user.ID, 6000, "chat_message", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), first.RemainingCredits)

	_, err = svc.DeductForTokens(ctx, user.ID, 6000, "chat_message", nil)
	var customErr *apperrors.CustomError
	require.ErrorAs(t, err, &customErr)
	assert.Equal(t, apperrors.ErrorTypeCredit, customErr.Type)

	available, _, err := svc.Balance(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), available)
}

func TestConcurrentDeductionsAdmitOneWinner(t *testing.T) {
	db := newTestDB(t)
	svc := services.NewCreditService(db, nil, zerolog.Nop())
	user := createUser(t, db, 7, false)
	ctx := context.Background()

	// Two simultaneous deductions, each costing the whole balance. The
	// conditional UPDATE serializes them inside the database; exactly one may
	// win.
	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = svc.DeductForTokens(ctx, user.ID, 6000, "chat_message", nil)
		}(i)
	}
	wg.Wait()

	var successes, creditRejections int
	for _, err := range results {
		if err == nil {
			successes++
			continue
		}
		var customErr *apperrors.CustomError
		require.ErrorAs(t, err, &customErr)
		assert.Equal(t, apperrors.ErrorTypeCredit, customErr.Type)
		creditRejections++
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, creditRejections)

	available, used, err := svc.Balance(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), available, "balance must never go negative")
	assert.Equal(t, int64(7), used)

	history, err := svc.History(ctx, user.ID, 0)
	require.NoError(t, err)
	assert.Len(t, history, 1, "only the winning deduction may leave a record")
}

func TestAddCreditsUnknownAccount(t *testing.T) {
	db := newTestDB(t)
	svc := services.NewCreditService(db, nil, zerolog.Nop())

	_, err := svc.AddCredits(context.Background(), uuid.New(), 10, "credit_purchase")

	var customErr *apperrors.CustomError
	require.ErrorAs(t, err, &customErr)
	assert.Equal(t, apperrors.ErrorTypeNotFound, customErr.Type)
}

func TestAddCreditsRejectsNonPositiveAmount(t *testing.T) {
	db := newTestDB(t)
	svc := services.NewCreditService(db, nil, zerolog.Nop())
	user := createUser(t, db, 0, false)

	_, err := svc.AddCredits(context.Background(), user.ID, 0, "credit_purchase")

	var customErr *apperrors.CustomError
	require.ErrorAs(t, err, &customErr)
	assert.Equal(t, apperrors.ErrorTypeValidation, customErr.Type)
}

func TestDeductPublishesBalanceUpdate(t *testing.T) {
	db := newTestDB(t)
	eventBroker := broker.NewBroker()
	svc := services.NewCreditService(db, eventBroker, zerolog.Nop())
	user := createUser(t, db, 20, false)

	updates := eventBroker.Subscribe(broker.CreditTopic(user.ID.String()))

	_, err := svc.DeductForTokens(context.Background(), user.ID, 6000, "chat_message", nil)
	require.NoError(t, err)

	select {
	case msg := <-updates:
		update, ok := msg.(services.BalanceUpdate)
		require.True(t, ok)
		assert.Equal(t, int64(13), update.AvailableCredits)
		assert.Equal(t, int64(7), update.UsedCredits)
		assert.False(t, update.LowBalance)
	case <-time.After(time.Second):
		t.Fatal("expected a balance update on the user's topic")
	}
}
