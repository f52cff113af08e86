package redistransport

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ryanflavor/aegistrader/internal/domain"
	"github.com/ryanflavor/aegistrader/internal/logger"
	"github.com/ryanflavor/aegistrader/internal/transport"
)

const durableStreamPrefix = "durable:"

// durableFilter records a subject pattern this adapter must mirror
// published messages into, so DurableSubscribe's consumer group sees every
// matching message regardless of which literal subject it was published on.
type durableFilter struct {
	streamKey string
	pattern   string
}

// DurableSubscribe realizes §4.1/§4.5's three consumer shapes over a Redis
// Streams consumer group, keyed by stream and subject pattern and shaped by
// mode:
//   - COMPETE: one shared group across every instance (load-balanced).
//   - BROADCAST: one group per consumerName (each instance sees everything).
//   - EXCLUSIVE: one group with a fixed consumer name (single-reader durable).
func (a *Adapter) DurableSubscribe(ctx context.Context, stream, subjectPattern, consumerName string, mode domain.SubscriptionMode, handler transport.EventHandler) (transport.Subscription, error) {
	c, err := a.pickConn()
	if err != nil {
		return nil, err
	}

	streamKey := durableStreamPrefix + stream

	var group, effectiveConsumer string
	switch mode {
	case domain.ModeCompete:
		group = streamKey + "|compete|" + subjectPattern
		effectiveConsumer = consumerName
	case domain.ModeBroadcast:
		group = streamKey + "|broadcast|" + subjectPattern + "|" + consumerName
		effectiveConsumer = consumerName
	case domain.ModeExclusive:
		group = streamKey + "|exclusive|" + subjectPattern
		effectiveConsumer = "exclusive"
	default:
		return nil, domain.NewError(domain.ErrInvalidRequest, "unknown subscription mode: "+string(mode))
	}

	if err := ensureGroup(ctx, c.client, streamKey, group); err != nil {
		return nil, err
	}

	a.durableFiltersMu.Lock()
	a.durableFilters = append(a.durableFilters, durableFilter{streamKey: streamKey, pattern: subjectPattern})
	a.durableFiltersMu.Unlock()

	subCtx, cancel := context.WithCancel(ctx)
	a.subs.Add(1)
	go a.durableLoop(subCtx, c.client, streamKey, group, effectiveConsumer, subjectPattern, handler)

	return &subscription{unsubscribe: func() error {
		cancel()
		return nil
	}}, nil
}

func (a *Adapter) durableLoop(ctx context.Context, client *redis.Client, streamKey, group, consumer, subjectPattern string, handler transport.EventHandler) {
	defer a.subs.Done()

	// Periodically reclaim entries abandoned by a dead consumer so
	// redelivery happens even if the original reader crashed mid-message.
	reclaimTicker := time.NewTicker(30 * time.Second)
	defer reclaimTicker.Stop()

	for {
		var reclaimed []redis.XMessage
		select {
		case <-ctx.Done():
			return
		case <-reclaimTicker.C:
			reclaimed = a.reclaimPending(ctx, client, streamKey, group, consumer)
		default:
		}

		res, err := client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: consumer,
			Streams:  []string{streamKey, ">"},
			Count:    10,
			Block:    2 * time.Second,
		}).Result()
		if err != nil && ctx.Err() != nil {
			return
		}
		res = append(res, redis.XStream{Stream: streamKey, Messages: reclaimed})

		for _, stream := range res {
			for _, msg := range stream.Messages {
				subject, _ := msg.Values["subject"].(string)
				if subjectPattern != "" && !matchSubject(subjectPattern, subject) {
					client.XAck(ctx, streamKey, group, msg.ID)
					continue
				}
				raw, _ := msg.Values["data"].(string)

				if err := handler(ctx, subject, []byte(raw)); err != nil {
					logger.GetLogger(ctx).Warn("durable handler nacked message",
						zap.String("stream", streamKey), zap.String("subject", subject), zap.Error(err))
					a.deadLetterIfExhausted(ctx, client, streamKey, group, subject, msg.ID, []byte(raw))
					continue // left pending unless dead-lettered; reclaimed and redelivered later
				}
				client.XAck(ctx, streamKey, group, msg.ID)
			}
		}
	}
}

// deadLetterStreamSuffix names the dead-letter stream derived from a
// durable stream key.
const deadLetterStreamSuffix = ":dead"

// deadLetterIfExhausted checks msgID's delivery count and, once it has been
// handed to a consumer maxDeliver times, moves it to streamKey's dead-letter
// stream and acks the original so XAutoClaim stops redelivering it forever.
func (a *Adapter) deadLetterIfExhausted(ctx context.Context, client *redis.Client, streamKey, group, subject, msgID string, data []byte) {
	pending, err := client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: streamKey,
		Group:  group,
		Start:  msgID,
		End:    msgID,
		Count:  1,
	}).Result()
	if err != nil || len(pending) == 0 {
		return
	}

	if int(pending[0].RetryCount) < a.maxDeliver {
		return
	}

	deadStream := streamKey + deadLetterStreamSuffix
	err = client.XAdd(ctx, &redis.XAddArgs{
		Stream: deadStream,
		Values: map[string]interface{}{"subject": subject, "data": data, "original_id": msgID},
	}).Err()
	if err != nil {
		logger.GetLogger(ctx).Warn("failed to dead-letter exhausted message",
			zap.String("stream", streamKey), zap.String("message_id", msgID), zap.Error(err))
		return
	}

	client.XAck(ctx, streamKey, group, msgID)
	logger.GetLogger(ctx).Warn("message exceeded max delivery attempts, dead-lettered",
		zap.String("stream", streamKey), zap.String("dead_letter_stream", deadStream),
		zap.String("subject", subject), zap.Int("max_deliver", a.maxDeliver))
}

// reclaimPending claims entries that have been pending longer than the
// redelivery grace period, the Redis analogue of JetStream's AckWait, and
// returns them so durableLoop hands them to the handler again.
func (a *Adapter) reclaimPending(ctx context.Context, client *redis.Client, streamKey, group, consumer string) []redis.XMessage {
	msgs, _, err := client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   streamKey,
		Group:    group,
		Consumer: consumer,
		MinIdle:  time.Minute,
		Start:    "0",
		Count:    50,
	}).Result()
	if err != nil {
		logger.GetLogger(ctx).Debug("durable reclaim pass found nothing or failed",
			zap.String("stream", streamKey), zap.Error(fmt.Errorf("%w", err)))
	}
	return msgs
}
