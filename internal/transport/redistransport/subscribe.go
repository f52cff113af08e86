package redistransport

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ryanflavor/aegistrader/internal/domain"
	"github.com/ryanflavor/aegistrader/internal/logger"
	"github.com/ryanflavor/aegistrader/internal/transport"
)

type subscription struct {
	unsubscribe func() error
}

func (s *subscription) Unsubscribe() error { return s.unsubscribe() }

// Subscribe realizes the non-durable half of §4.1: queueGroup=="" is plain
// Pub/Sub fanout; queueGroup!="" load-balances via a Redis Streams consumer
// group on a per-subject stream, since Pub/Sub has no native queue groups.
func (a *Adapter) Subscribe(ctx context.Context, subjectPattern, queueGroup string, handler transport.RequestHandler) (transport.Subscription, error) {
	if queueGroup == "" {
		return a.subscribePubSub(ctx, subjectPattern, handler)
	}
	return a.subscribeQueueGroup(ctx, subjectPattern, queueGroup, handler)
}

func (a *Adapter) subscribePubSub(ctx context.Context, subjectPattern string, handler transport.RequestHandler) (transport.Subscription, error) {
	c, err := a.pickConn()
	if err != nil {
		return nil, err
	}

	var sub *redis.PubSub
	if strings.ContainsAny(subjectPattern, "*>") {
		sub = c.client.PSubscribe(ctx, toRedisGlob(subjectPattern))
	} else {
		sub = c.client.Subscribe(ctx, subjectPattern)
	}

	subCtx, cancel := context.WithCancel(ctx)
	a.subs.Add(1)
	go func() {
		defer a.subs.Done()
		ch := sub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				a.dispatch(subCtx, msg.Channel, []byte(msg.Payload), handler)
			}
		}
	}()

	return &subscription{unsubscribe: func() error {
		cancel()
		return sub.Close()
	}}, nil
}

// queueFilter records a subject pattern Publish must mirror onto a
// queue-group stream, the same way durableFilter does for DurableSubscribe
// — without it, messages published via Pub/Sub never reach an XReadGroup
// consumer, since Pub/Sub and Streams are disjoint Redis mechanisms.
type queueFilter struct {
	streamKey string
	subject   string
}

func (a *Adapter) subscribeQueueGroup(ctx context.Context, subject, queueGroup string, handler transport.RequestHandler) (transport.Subscription, error) {
	c, err := a.pickConn()
	if err != nil {
		return nil, err
	}

	streamKey := queueStreamPrefix + subject
	if err := ensureGroup(ctx, c.client, streamKey, queueGroup); err != nil {
		return nil, err
	}

	a.queueFiltersMu.Lock()
	a.queueFilters = append(a.queueFilters, queueFilter{streamKey: streamKey, subject: subject})
	a.queueFiltersMu.Unlock()

	consumerName := queueGroup + "-" + uuid.New().String()
	subCtx, cancel := context.WithCancel(ctx)
	a.subs.Add(1)
	go func() {
		defer a.subs.Done()
		for {
			select {
			case <-subCtx.Done():
				return
			default:
			}

			res, err := c.client.XReadGroup(subCtx, &redis.XReadGroupArgs{
				Group:    queueGroup,
				Consumer: consumerName,
				Streams:  []string{streamKey, ">"},
				Count:    1,
				Block:    2 * time.Second,
			}).Result()
			if err != nil {
				if subCtx.Err() != nil {
					return
				}
				continue
			}

			for _, stream := range res {
				for _, msg := range stream.Messages {
					raw, _ := msg.Values["data"].(string)
					a.dispatch(subCtx, subject, []byte(raw), handler)
					c.client.XAck(subCtx, streamKey, queueGroup, msg.ID)
				}
			}
		}
	}()

	return &subscription{unsubscribe: func() error {
		cancel()
		return nil
	}}, nil
}

// dispatch decodes the request frame (if present), invokes handler, and
// replies to the embedded reply subject when one was supplied.
func (a *Adapter) dispatch(ctx context.Context, subject string, raw []byte, handler transport.RequestHandler) {
	frame, err := decodeFrame(raw)
	payload := raw
	replySubject := ""
	if err == nil && frame.ReplySubject != "" {
		payload = frame.Payload
		replySubject = frame.ReplySubject
	}

	reply, err := handler(ctx, subject, payload)
	if err != nil {
		logger.GetLogger(ctx).Warn("subscribe handler returned error", zap.String("subject", subject), zap.Error(err))
	}
	if replySubject != "" && reply != nil {
		if pubErr := a.Publish(ctx, replySubject, reply); pubErr != nil {
			logger.GetLogger(ctx).Warn("failed to publish reply", zap.String("reply_subject", replySubject), zap.Error(pubErr))
		}
	}
}

func ensureGroup(ctx context.Context, client *redis.Client, streamKey, group string) error {
	err := client.XGroupCreateMkStream(ctx, streamKey, group, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return domain.NewError(domain.ErrTransportUnavail, "create consumer group: "+err.Error())
	}
	return nil
}

// toRedisGlob approximates NATS '*'/'>' wildcard subjects as Redis glob
// patterns for PSubscribe. Redis glob has no token-boundary concept, so a
// single-token '*' may over-match across '.' boundaries compared to strict
// NATS semantics — acceptable here since plain-Subscribe wildcards are only
// used for broadcast fanout, never for exactly-once dispatch.
func toRedisGlob(pattern string) string {
	return strings.ReplaceAll(pattern, ">", "*")
}
