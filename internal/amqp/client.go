// Package amqp connects the record path to the mirror worker. Writes are
// local-first: the ledger row is committed to SQLite before a message is
// published, and a lost message is recovered by the worker's periodic
// pending-sync sweep.
package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

type Client struct {
	conn         *amqp091.Connection
	channel      *amqp091.Channel
	exchangeName string
	queueName    string
}

func NewClient(url, exchangeName, queueName string) (*Client, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	client := &Client{
		conn:         conn,
		channel:      channel,
		exchangeName: exchangeName,
		queueName:    queueName,
	}

	if err := client.setup(); err != nil {
		client.Close()
		return nil, fmt.Errorf("setup exchange and queue: %w", err)
	}

	return client, nil
}

func (c *Client) setup() error {
	err := c.channel.ExchangeDeclare(
		c.exchangeName,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	_, err = c.channel.QueueDeclare(
		c.queueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	// Routing key matches the queue name on a direct exchange
	err = c.channel.QueueBind(c.queueName, c.queueName, c.exchangeName, false, nil)
	if err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	return nil
}

// PublishContributionSync publishes a mirror request for one ledger entry.
func (c *Client) PublishContributionSync(ctx context.Context, contributionID int64) error {
	msg := NewContributionSyncMessage(contributionID)
	if err := c.publish(ctx, msg); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Published contribution sync message",
		"contribution_id", contributionID, "exchange", c.exchangeName, "queue", c.queueName)
	return nil
}

// PublishCycleClosed announces a completed cycle.
func (c *Client) PublishCycleClosed(ctx context.Context, cycleID, groupID string) error {
	msg := NewCycleClosedMessage(cycleID, groupID)
	if err := c.publish(ctx, msg); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Published cycle closed message",
		"cycle_id", cycleID, "group_id", groupID, "queue", c.queueName)
	return nil
}

func (c *Client) publish(ctx context.Context, msg any) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = c.channel.PublishWithContext(
		ctx,
		c.exchangeName,
		c.queueName, // routing key
		false,       // mandatory
		false,       // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

// SyncHandler processes contribution mirror requests.
type SyncHandler func(ctx context.Context, msg *ContributionSyncMessage) error

// CycleClosedHandler processes cycle-closed announcements.
type CycleClosedHandler func(ctx context.Context, msg *CycleClosedMessage) error

// Consume dispatches queue deliveries to the matching handler until ctx
// is cancelled. Malformed messages are rejected without requeue; handler
// failures requeue the delivery.
func (c *Client) Consume(ctx context.Context, onSync SyncHandler, onCycleClosed CycleClosedHandler) error {
	msgs, err := c.channel.Consume(
		c.queueName,
		"",    // consumer
		false, // manual ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	slog.InfoContext(ctx, "Started consuming sync messages", "queue", c.queueName)

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Stopping message consumption", "reason", ctx.Err())
			return ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return fmt.Errorf("message channel closed")
			}
			c.dispatch(ctx, delivery, onSync, onCycleClosed)
		}
	}
}

func (c *Client) dispatch(ctx context.Context, delivery amqp091.Delivery, onSync SyncHandler, onCycleClosed CycleClosedHandler) {
	msgType, err := messageType(delivery.Body)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to decode message envelope", "error", err)
		delivery.Nack(false, false)
		return
	}

	switch msgType {
	case TypeContributionSync:
		var msg ContributionSyncMessage
		if err := json.Unmarshal(delivery.Body, &msg); err != nil {
			slog.ErrorContext(ctx, "Failed to unmarshal sync message", "error", err)
			delivery.Nack(false, false)
			return
		}
		if onSync == nil {
			delivery.Nack(false, false)
			return
		}
		if err := onSync(ctx, &msg); err != nil {
			slog.ErrorContext(ctx, "Failed to handle sync message",
				"error", err, "contribution_id", msg.ContributionID)
			delivery.Nack(false, true)
			return
		}
	case TypeCycleClosed:
		var msg CycleClosedMessage
		if err := json.Unmarshal(delivery.Body, &msg); err != nil {
			slog.ErrorContext(ctx, "Failed to unmarshal cycle closed message", "error", err)
			delivery.Nack(false, false)
			return
		}
		if onCycleClosed == nil {
			delivery.Nack(false, false)
			return
		}
		if err := onCycleClosed(ctx, &msg); err != nil {
			slog.ErrorContext(ctx, "Failed to handle cycle closed message",
				"error", err, "cycle_id", msg.CycleID)
			delivery.Nack(false, true)
			return
		}
	default:
		slog.WarnContext(ctx, "Unknown message type", "type", msgType)
		delivery.Nack(false, false)
		return
	}

	delivery.Ack(false)
}

func (c *Client) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
