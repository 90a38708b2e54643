package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"ojtrust/internal/common/mq"
	"ojtrust/internal/problem/model"
	pkgerrors "ojtrust/pkg/errors"
	"ojtrust/pkg/utils/logger"

	"go.uber.org/zap"
)

// SubmissionRecorder applies a judged submission to a problem's statistics.
type SubmissionRecorder interface {
	RecordSubmissionResult(ctx context.Context, problemID int64, accepted bool) (*model.Problem, error)
}

// SubmissionConsumer feeds judged submissions into the difficulty estimator.
type SubmissionConsumer struct {
	recorder SubmissionRecorder
}

// NewSubmissionConsumer creates a new submission consumer.
func NewSubmissionConsumer(recorder SubmissionRecorder) *SubmissionConsumer {
	return &SubmissionConsumer{recorder: recorder}
}

// Subscribe registers the consumer handler on the submission topic.
func (c *SubmissionConsumer) Subscribe(ctx context.Context, consumer mq.Consumer, topic string, opts mq.SubscribeOptions) error {
	if c == nil || c.recorder == nil {
		return errors.New("submission consumer is not configured")
	}
	if consumer == nil {
		return errors.New("message consumer is nil")
	}
	if topic == "" {
		return errors.New("submission topic is empty")
	}
	return consumer.SubscribeWithOptions(ctx, topic, c.HandleMessage, &opts)
}

// HandleMessage processes one submission.judged message. Malformed payloads
// and deleted problems are dropped; other failures are retried by the queue.
func (c *SubmissionConsumer) HandleMessage(ctx context.Context, message *mq.Message) error {
	if message == nil {
		return nil
	}
	var event model.SubmissionJudgedEvent
	if err := json.Unmarshal(message.Body, &event); err != nil {
		logger.Warn(ctx, "drop malformed submission event", zap.String("message_id", message.ID), zap.Error(err))
		return nil
	}
	if event.ProblemID <= 0 {
		logger.Warn(ctx, "drop submission event without problem", zap.String("message_id", message.ID))
		return nil
	}

	problem, err := c.recorder.RecordSubmissionResult(ctx, event.ProblemID, event.Accepted)
	if err != nil {
		if pkgerrors.Is(err, pkgerrors.ProblemNotFound) {
			logger.Info(ctx, "submission for missing problem ignored",
				zap.Int64("problem_id", event.ProblemID), zap.String("submission_id", event.SubmissionID))
			return nil
		}
		return fmt.Errorf("record submission %s failed: %w", event.SubmissionID, err)
	}
	logger.Debug(ctx, "submission recorded",
		zap.Int64("problem_id", problem.ID),
		zap.Int64("submissions", problem.SubmissionCount),
		zap.String("difficulty", string(problem.Difficulty)),
	)
	return nil
}
