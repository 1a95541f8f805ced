package mqttbus

import (
	"context"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Handler processes one inbound message. Returning an error only logs it;
// the subscription stays up regardless.
type Handler func(topic string, msg mqtt.Message) error

// IConsumer subscribes to one or more topic filters and feeds a handler.
type IConsumer interface {
	SetHandler(h Handler)
	Consume(ctx context.Context)
}

// Consumer subscribes to a set of topic filters on the shared client and
// blocks in Consume until the context is cancelled.
type Consumer struct {
	client mqtt.Client
	topics map[string]byte // filter -> qos
	h      Handler
	log    *zap.Logger
}

func NewConsumer(client mqtt.Client, topics map[string]byte, log *zap.Logger) *Consumer {
	return &Consumer{client: client, topics: topics, log: log}
}

func (c *Consumer) SetHandler(h Handler) { c.h = h }

func (c *Consumer) Consume(ctx context.Context) {
	for filter, qos := range c.topics {
		filter := filter
		token := c.client.Subscribe(filter, qos, func(_ mqtt.Client, msg mqtt.Message) {
			if c.h == nil {
				c.log.Warn("no handler set, dropping message", zap.String("topic", msg.Topic()))
				return
			}
			if err := c.h(msg.Topic(), msg); err != nil {
				c.log.Error("message handler error", zap.String("topic", msg.Topic()), zap.Error(err))
			}
		})
		if token.Wait() && token.Error() != nil {
			c.log.Error("subscribe failed", zap.String("filter", filter), zap.Error(token.Error()))
			continue
		}
		c.log.Info("subscribed", zap.String("filter", filter), zap.Uint8("qos", qos))
	}

	<-ctx.Done()

	for filter := range c.topics {
		c.client.Unsubscribe(filter)
	}
}
