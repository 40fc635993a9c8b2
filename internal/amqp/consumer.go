package amqp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"bookkeeper/internal/core"
	"bookkeeper/internal/log"
	"bookkeeper/internal/services"
)

// FactHandler processes one decoded fact. A returned error means the fact
// could not be handled for reasons unrelated to its content; the delivery is
// requeued. Domain outcomes, including rejections, come back as a reply.
type FactHandler func(ctx context.Context, msg *ExpenseFactMessage) (*ExpenseFactReply, error)

// ExpenseAdder is the service operation facts are fed into.
type ExpenseAdder interface {
	AddExpense(ctx context.Context, caller services.Caller, fact services.ExpenseFact, auto bool) (services.AddOutcome, error)
}

// NewFactHandler maps service outcomes and errors onto reply statuses.
func NewFactHandler(adder ExpenseAdder) FactHandler {
	return func(ctx context.Context, msg *ExpenseFactMessage) (*ExpenseFactReply, error) {
		if err := msg.Validate(); err != nil {
			return &ExpenseFactReply{Status: ReplyInvalid, Message: err.Error()}, nil
		}
		amount, err := msg.ParsedAmount()
		if err != nil {
			return &ExpenseFactReply{Status: ReplyInvalid, Message: err.Error()}, nil
		}

		caller := services.Caller{
			Session:    msg.Session,
			SenderID:   msg.SenderID,
			SenderName: msg.SenderName,
			IsAdmin:    msg.IsAdmin,
		}
		fact := services.ExpenseFact{
			Item:      msg.Item,
			Amount:    amount,
			Note:      msg.Note,
			MessageID: msg.MessageID,
		}
		out, err := adder.AddExpense(ctx, caller, fact, msg.Auto)
		switch {
		case err == nil:
		case errors.Is(err, core.ErrPersistence) && out.Status == services.StatusAccepted:
			// kept in memory; a redelivery would only hit the dedup gate
			return &ExpenseFactReply{Status: ReplyError, Message: err.Error(), RecordID: out.Record.ID}, nil
		case errors.Is(err, core.ErrInvalidArgument):
			return &ExpenseFactReply{Status: ReplyInvalid, Message: err.Error()}, nil
		case errors.Is(err, core.ErrForbidden):
			return &ExpenseFactReply{Status: ReplyForbidden, Message: err.Error()}, nil
		default:
			return nil, err
		}

		reply := &ExpenseFactReply{Message: out.Message, RecordID: out.Record.ID}
		switch out.Status {
		case services.StatusAccepted:
			reply.Status = ReplyAccepted
		case services.StatusDuplicate:
			reply.Status = ReplyDuplicate
		default:
			reply.Status = ReplySkipped
			reply.RecordID = ""
		}
		return reply, nil
	}
}

// ConsumeExpenseFacts consumes the expense queue until ctx is done,
// reconnecting with exponential backoff when the broker goes away.
func (c *Client) ConsumeExpenseFacts(ctx context.Context, handler FactHandler) error {
	for attempt := 0; ; {
		err := c.consumeOnce(ctx, handler)
		if ctx.Err() != nil {
			c.log().InfoContext(ctx, "Stopping message consumption", "reason", ctx.Err())
			return nil
		}
		if !retryable(err) {
			return err
		}
		c.invalidate()

		wait := exponentialBackoff(attempt)
		attempt++
		c.log().WarnContext(ctx, "AMQP consumer disconnected, retrying",
			log.FieldError, err,
			"attempt", attempt,
			"backoff", wait.String())

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

var errDeliveriesClosed = errors.New("message channel closed")

type dialError struct{ err error }

func (e *dialError) Error() string { return e.err.Error() }
func (e *dialError) Unwrap() error { return e.err }

// retryable reports whether the consumer should reconnect after err.
// Anything other than a lost or unreachable broker is a topology problem.
func retryable(err error) bool {
	var de *dialError
	return errors.As(err, &de) || errors.Is(err, errDeliveriesClosed) || isConnectionError(err)
}

func (c *Client) consumeOnce(ctx context.Context, handler FactHandler) error {
	ch, err := c.connect()
	if err != nil {
		return &dialError{err: err}
	}
	msgs, err := ch.Consume(
		c.expenseQueue, // queue
		"",             // consumer
		false,          // auto-ack (we want manual ack)
		false,          // exclusive
		false,          // no-local
		false,          // no-wait
		nil,            // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	c.log().InfoContext(ctx, "Started consuming expense facts", "queue", c.expenseQueue)

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errDeliveriesClosed
			}
			c.handleDelivery(ctx, d, handler)
		}
	}
}

// handleDelivery acks, nacks or requeues one delivery and publishes the
// reply when the producer asked for one.
func (c *Client) handleDelivery(ctx context.Context, d amqp091.Delivery, handler FactHandler) {
	msg, err := ExpenseFactMessageFromJSON(d.Body)
	if err != nil {
		c.log().ErrorContext(ctx, "Failed to unmarshal message", log.FieldError, err)
		_ = d.Nack(false, false) // reject and don't requeue
		return
	}

	reply, err := handler(ctx, msg)
	if err != nil {
		c.log().ErrorContext(ctx, "Failed to handle expense fact",
			log.FieldSession, msg.Session,
			"message_id", msg.MessageID,
			log.FieldError, err)
		_ = d.Nack(false, true) // reject and requeue
		return
	}

	if d.ReplyTo != "" {
		if err := c.reply(ctx, d, reply); err != nil {
			c.log().WarnContext(ctx, "Failed to publish reply",
				"reply_to", d.ReplyTo,
				log.FieldError, err)
		}
	}
	_ = d.Ack(false)

	c.log().DebugContext(ctx, "Processed expense fact",
		log.FieldSession, msg.Session,
		log.FieldItem, msg.Item,
		"status", string(reply.Status))
}

func (c *Client) reply(ctx context.Context, d amqp091.Delivery, reply *ExpenseFactReply) error {
	body, err := reply.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal reply: %w", err)
	}
	// replies go through the default exchange straight to the reply queue
	return c.publish(ctx, "", d.ReplyTo, amqp091.Publishing{
		ContentType:   "application/json",
		CorrelationId: d.CorrelationId,
		Timestamp:     time.Now(),
		Body:          body,
	})
}
