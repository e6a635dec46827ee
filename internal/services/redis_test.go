package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"event-payments/internal/status"
	"event-payments/models"

	"github.com/go-redis/redismock/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisLocker_AcquireRelease(t *testing.T) {
	db, mock := redismock.NewClientMock()

	locker := NewRedisLocker(db, 30*time.Second, testLogger())
	locker.token = func() string { return "tok-1" }

	mock.ExpectSetNX("lock:payment:pay1", "tok-1", 30*time.Second).SetVal(true)
	mock.ExpectEval(releaseLockScript, []string{"lock:payment:pay1"}, "tok-1").SetVal(int64(1))

	release, err := locker.Acquire(context.Background(), "payment:pay1")
	require.NoError(t, err)
	release()

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisLocker_Busy(t *testing.T) {
	db, mock := redismock.NewClientMock()

	locker := NewRedisLocker(db, 30*time.Second, testLogger())
	locker.token = func() string { return "tok-2" }

	mock.ExpectSetNX("lock:payment:pay1", "tok-2", 30*time.Second).SetVal(false)

	_, err := locker.Acquire(context.Background(), "payment:pay1")
	assert.ErrorIs(t, err, status.ErrPaymentBusy)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisLocker_RedisDown(t *testing.T) {
	db, mock := redismock.NewClientMock()

	locker := NewRedisLocker(db, 30*time.Second, testLogger())
	locker.token = func() string { return "tok-3" }

	mock.ExpectSetNX("lock:payment:pay1", "tok-3", 30*time.Second).SetErr(errors.New("connection refused"))

	_, err := locker.Acquire(context.Background(), "payment:pay1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, status.ErrPaymentBusy)
}

func TestRedisLocker_ReleaseFailureIsLogged(t *testing.T) {
	db, mock := redismock.NewClientMock()

	locker := NewRedisLocker(db, time.Second, testLogger())
	locker.token = func() string { return "tok-4" }

	mock.ExpectSetNX("lock:k", "tok-4", time.Second).SetVal(true)
	mock.ExpectEval(releaseLockScript, []string{"lock:k"}, "tok-4").SetErr(errors.New("timeout"))

	release, err := locker.Acquire(context.Background(), "k")
	require.NoError(t, err)
	assert.NotPanics(t, release)
}

func TestRedisStatusCache_Put(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cache := NewRedisStatusCache(db, 10*time.Minute)

	snap := &PaymentSnapshot{
		RegistrationID:       "reg1",
		PaymentID:            "pay1",
		TransactionReference: "TX123",
		Status:               models.PaymentCompleted,
		PaymentStatus:        models.RegistrationPaid,
		AmountPaid:           decimal.NewFromInt(200),
		TotalAmount:          decimal.NewFromInt(200),
		UpdatedAt:            fixedNow,
	}

	mock.ExpectTxPipeline()
	mock.ExpectHSet("payment:registration:reg1",
		"payment_id", "pay1",
		"transaction_reference", "TX123",
		"status", "completed",
		"payment_status", "paid",
		"amount_paid", "200",
		"total_amount", "200",
		"updated_at", fixedNow.Unix(),
	).SetVal(7)
	mock.ExpectExpire("payment:registration:reg1", 10*time.Minute).SetVal(true)
	mock.ExpectTxPipelineExec()

	require.NoError(t, cache.Put(context.Background(), snap))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStatusCache_Get(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cache := NewRedisStatusCache(db, 10*time.Minute)

	mock.ExpectHGetAll("payment:registration:reg1").SetVal(map[string]string{
		"payment_id":            "pay1",
		"transaction_reference": "TX123",
		"status":                "completed",
		"payment_status":        "partial",
		"amount_paid":           "100",
		"total_amount":          "300.50",
		"updated_at":            "1741946400",
	})

	snap, err := cache.Get(context.Background(), "reg1")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, "reg1", snap.RegistrationID)
	assert.Equal(t, models.RegistrationPartial, snap.PaymentStatus)
	assert.True(t, snap.TotalAmount.Equal(decimal.RequireFromString("300.50")))
	assert.Equal(t, int64(1741946400), snap.UpdatedAt.Unix())
}

func TestRedisStatusCache_Miss(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cache := NewRedisStatusCache(db, time.Minute)

	mock.ExpectHGetAll("payment:registration:reg1").SetVal(map[string]string{})
	snap, err := cache.Get(context.Background(), "reg1")
	require.NoError(t, err)
	assert.Nil(t, snap)

	mock.ExpectHGetAll("payment:registration:reg2").SetVal(map[string]string{"amount_paid": "abc"})
	snap, err = cache.Get(context.Background(), "reg2")
	require.NoError(t, err)
	assert.Nil(t, snap)

	mock.ExpectHGetAll("payment:registration:reg3").SetErr(errors.New("connection refused"))
	_, err = cache.Get(context.Background(), "reg3")
	assert.Error(t, err)
}
