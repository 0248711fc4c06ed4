package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"snowgoose-backend/internal/models"
)

const UsageQueue = "queue:usage-records"

// UpdatesChannel is the pub/sub channel the websocket hub relays to a user.
func UpdatesChannel(userID uuid.UUID) string {
	return "user_updates:" + userID.String()
}

type CreditStore interface {
	DeductCredits(ctx context.Context, id uuid.UUID, amount float64) (float64, error)
}

// CreditService bills completed turns. Only the balance update is
// authoritative; the push notification and usage record are best effort.
type CreditService struct {
	users  CreditStore
	redis  *redis.Client
	logger *zap.Logger
}

func NewCreditService(users CreditStore, redisClient *redis.Client, logger *zap.Logger) *CreditService {
	return &CreditService{users: users, redis: redisClient, logger: logger.Named("credits")}
}

func (s *CreditService) DeductCredits(ctx context.Context, charge models.Charge) error {
	balance, err := s.users.DeductCredits(ctx, charge.UserID, charge.Credits)
	if err != nil {
		return fmt.Errorf("deduct %.6f credits from user %s: %w", charge.Credits, charge.UserID, err)
	}

	s.logger.Info("credits deducted",
		zap.String("user_id", charge.UserID.String()),
		zap.Int("model_id", charge.ModelID),
		zap.Float64("cost", charge.TotalCost),
		zap.Float64("credits", charge.Credits),
		zap.Float64("balance", balance))

	s.PublishUpdate(ctx, charge.UserID, models.WSMessage{
		Type:    "credits_updated",
		Payload: models.CreditsUpdate{Credits: balance, Deducted: charge.Credits},
	})

	record := models.UsageRecord{
		ID:           uuid.New(),
		UserID:       charge.UserID,
		ModelID:      charge.ModelID,
		InputTokens:  charge.Usage.InputTokens,
		OutputTokens: charge.Usage.OutputTokens,
		TotalCost:    charge.TotalCost,
		Credits:      charge.Credits,
		CreatedAt:    time.Now().UTC(),
	}
	data, _ := json.Marshal(record)
	if err := s.redis.LPush(ctx, UsageQueue, string(data)).Err(); err != nil {
		s.logger.Warn("failed to enqueue usage record", zap.String("user_id", charge.UserID.String()), zap.Error(err))
	}
	return nil
}

func (s *CreditService) PublishUpdate(ctx context.Context, userID uuid.UUID, msg models.WSMessage) {
	data, _ := json.Marshal(msg)
	if err := s.redis.Publish(ctx, UpdatesChannel(userID), string(data)).Err(); err != nil {
		s.logger.Warn("failed to publish user update", zap.String("user_id", userID.String()), zap.Error(err))
	}
}
