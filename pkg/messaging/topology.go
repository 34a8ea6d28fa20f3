package messaging

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

type ChangeTopic string

const (
	SourceChanged ChangeTopic = "source_changed"
	SampleAdded   ChangeTopic = "sample_added"
	FeedIngest    ChangeTopic = "feed_ingest"
)

var AllTopics = []ChangeTopic{SourceChanged, SampleAdded, FeedIngest}

// Exchange is the name of both the exchange and the shared queue of a topic.
func Exchange(prefix string, topic ChangeTopic) string {
	return fmt.Sprintf("%s_%s", prefix, topic)
}

// DeclareTopic makes sure the durable topic exchange and its shared queue
// exist. Declaring is idempotent, every instance does it on start.
func DeclareTopic(ch *amqp.Channel, prefix string, topic ChangeTopic) error {
	name := Exchange(prefix, topic)
	if err := ch.ExchangeDeclare(name, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", name, err)
	}
	if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", name, err)
	}
	return ch.QueueBind(name, name, name, false, nil)
}

func DeclareTopics(ch *amqp.Channel, prefix string, topics ...ChangeTopic) error {
	for _, topic := range topics {
		if err := DeclareTopic(ch, prefix, topic); err != nil {
			return err
		}
	}
	return nil
}
