package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"snowgoose-backend/internal/models"
)

type stubCreditStore struct {
	balance float64
	err     error
	calls   int
}

func (s *stubCreditStore) DeductCredits(ctx context.Context, id uuid.UUID, amount float64) (float64, error) {
	s.calls++
	if s.err != nil {
		return 0, s.err
	}
	s.balance -= amount
	return s.balance, nil
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestDeductCredits_PublishesAndEnqueues(t *testing.T) {
	rdb := newTestRedis(t)
	store := &stubCreditStore{balance: 10}
	svc := NewCreditService(store, rdb, zap.NewNop())
	userID := uuid.New()
	ctx := context.Background()

	sub := rdb.Subscribe(ctx, "user_updates:"+userID.String())
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	charge := models.Charge{
		UserID:    userID,
		ModelID:   3,
		Usage:     models.Usage{InputTokens: 100, OutputTokens: 50, TotalCost: 0.02},
		TotalCost: 0.02,
		Credits:   2.5,
	}
	if err := svc.DeductCredits(ctx, charge); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if store.balance != 7.5 {
		t.Errorf("expected balance 7.5, got %v", store.balance)
	}

	select {
	case msg := <-sub.Channel():
		var ws struct {
			Type    string               `json:"type"`
			Payload models.CreditsUpdate `json:"payload"`
		}
		if err := json.Unmarshal([]byte(msg.Payload), &ws); err != nil {
			t.Fatalf("decode update: %v", err)
		}
		if ws.Type != "credits_updated" || ws.Payload.Credits != 7.5 || ws.Payload.Deducted != 2.5 {
			t.Errorf("unexpected update %+v", ws)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no credit update published")
	}

	items, err := rdb.LRange(ctx, UsageQueue, 0, -1).Result()
	if err != nil {
		t.Fatalf("read queue: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected one usage record, got %d", len(items))
	}
	var rec models.UsageRecord
	if err := json.Unmarshal([]byte(items[0]), &rec); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if rec.UserID != userID || rec.ModelID != 3 || rec.InputTokens != 100 || rec.Credits != 2.5 {
		t.Errorf("unexpected record %+v", rec)
	}
}

func TestDeductCredits_StoreFailure(t *testing.T) {
	rdb := newTestRedis(t)
	store := &stubCreditStore{err: errors.New("connection reset")}
	svc := NewCreditService(store, rdb, zap.NewNop())

	err := svc.DeductCredits(context.Background(), models.Charge{UserID: uuid.New(), Credits: 1})
	if err == nil {
		t.Fatal("expected error when the balance update fails")
	}

	n, _ := rdb.LLen(context.Background(), UsageQueue).Result()
	if n != 0 {
		t.Errorf("expected no usage record for a failed deduction, got %d", n)
	}
}

func TestDeductCredits_RedisDownIsNotFatal(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	mr.Close()

	store := &stubCreditStore{balance: 5}
	svc := NewCreditService(store, rdb, zap.NewNop())
	if err := svc.DeductCredits(context.Background(), models.Charge{UserID: uuid.New(), Credits: 1}); err != nil {
		t.Fatalf("notification failures must not fail the deduction: %v", err)
	}
	if store.calls != 1 {
		t.Errorf("expected one balance update, got %d", store.calls)
	}
}
