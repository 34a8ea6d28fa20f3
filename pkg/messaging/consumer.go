package messaging

import (
	"log"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler processes one delivery. A returned error rejects the message
// without requeue.
type Handler func(amqp.Delivery) error

// SkipOrigin drops deliveries published with the given origin, used so an
// instance does not apply its own messages twice.
func SkipOrigin(origin string, next Handler) Handler {
	return func(d amqp.Delivery) error {
		if origin != "" && d.AppId == origin {
			return nil
		}
		return next(d)
	}
}

// Subscribe binds a private queue to the topic, every subscriber sees every
// message. The queue goes away with the channel.
func Subscribe(ch *amqp.Channel, prefix string, topic ChangeTopic, handle Handler) error {
	name := Exchange(prefix, topic)
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return err
	}
	if err := ch.QueueBind(q.Name, name, name, false, nil); err != nil {
		return err
	}
	return consume(ch, q.Name, topic, handle)
}

// Share reads the durable queue of the topic together with the other
// instances, each message is handled once.
func Share(ch *amqp.Channel, prefix string, topic ChangeTopic, prefetch int, handle Handler) error {
	if err := DeclareTopic(ch, prefix, topic); err != nil {
		return err
	}
	if prefetch > 0 {
		if err := ch.Qos(prefetch, 0, false); err != nil {
			return err
		}
	}
	return consume(ch, Exchange(prefix, topic), topic, handle)
}

func consume(ch *amqp.Channel, queue string, topic ChangeTopic, handle Handler) error {
	msgs, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}
	go func() {
		defer ch.Close()
		for d := range msgs {
			if err := handle(d); err != nil {
				log.Printf("error processing %s message: %v", topic, err)
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
		log.Printf("stopped listening to %s", topic)
	}()
	return nil
}
