package utils

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/streadway/amqp"
)

type RabbitMQConfig struct {
	URL          string
	Exchange     string
	ExchangeType string // "topic" lets consumers bind per notification kind
	Durable      bool
	Reliable     bool
}

// RabbitMQPublisher publishes JSON messages to one exchange
type RabbitMQPublisher struct {
	mu         sync.Mutex
	connection *amqp.Connection
	channel    *amqp.Channel
	confirms   chan amqp.Confirmation
	config     RabbitMQConfig
}

func NewRabbitMQPublisher(cfg RabbitMQConfig) (*RabbitMQPublisher, error) {
	if cfg.ExchangeType == "" {
		cfg.ExchangeType = amqp.ExchangeTopic
	}
	p := &RabbitMQPublisher{config: cfg}

	connection, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, err
	}
	p.connection = connection
	if p.channel, err = connection.Channel(); err != nil {
		connection.Close()
		return nil, err
	}

	if err := p.channel.ExchangeDeclare(cfg.Exchange, cfg.ExchangeType, cfg.Durable, false, false, false, nil); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to declare exchange: %v", err)
	}

	if cfg.Reliable {
		if err := p.channel.Confirm(false); err != nil {
			p.Close()
			return nil, fmt.Errorf("channel could not be put into confirm mode: %v", err)
		}
		p.confirms = p.channel.NotifyPublish(make(chan amqp.Confirmation, 1))
	}
	return p, nil
}

// Publish sends data as a persistent JSON message. With Reliable set it waits for the broker ack.
func (p *RabbitMQPublisher) Publish(routingKey string, messageID string, data interface{}) error {
	body, err := json.Marshal(data)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.Publish(
		p.config.Exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:     "application/json",
			ContentEncoding: "utf-8",
			MessageId:       messageID,
			Body:            body,
			DeliveryMode:    amqp.Persistent,
			Timestamp:       time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %v", err)
	}

	if p.confirms != nil {
		return awaitConfirm(p.confirms, messageID, confirmTimeout)
	}
	return nil
}

const confirmTimeout = 10 * time.Second

// awaitConfirm blocks until the broker acks the last publish on the channel.
func awaitConfirm(confirms <-chan amqp.Confirmation, messageID string, timeout time.Duration) error {
	select {
	case confirmed, ok := <-confirms:
		if !ok {
			return fmt.Errorf("channel closed before message %s was confirmed", messageID)
		}
		if !confirmed.Ack {
			return fmt.Errorf("broker did not confirm message %s", messageID)
		}
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timed out waiting for confirmation of %s", messageID)
	}
}

func (p *RabbitMQPublisher) Close() {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.connection != nil {
		p.connection.Close()
	}
}
