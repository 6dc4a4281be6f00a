package notify

import (
	"encoding/json"

	"github.com/netcompare/transfer/common"
	"github.com/streadway/amqp"
)

// RabbitMQ publishes every completed transfer report to a queue so sweep
// tooling can consume results live instead of scraping logs.
type RabbitMQ struct {
	ConnectionUrl    string
	TargetQueueTopic string
}

func NewRabbitMQ(connectionUrl string, targetQueueTopic string) *RabbitMQ {
	return &RabbitMQ{
		ConnectionUrl:    connectionUrl,
		TargetQueueTopic: targetQueueTopic,
	}
}

func (r *RabbitMQ) Publish(report *common.TransferReport) error {
	buf, err := json.Marshal(report)
	if err != nil {
		return err
	}

	conn, err := amqp.Dial(r.ConnectionUrl)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	channel, err := conn.Channel()
	if err != nil {
		return err
	}
	defer func() { _ = channel.Close() }()

	if _, err := channel.QueueDeclare(r.TargetQueueTopic, true, false, false, false, nil); err != nil {
		return err
	}

	return channel.Publish(
		"",
		r.TargetQueueTopic,
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        buf,
		},
	)
}
