package main

import (
	"log"

	"github.com/matst80/woof/pkg/common/jsoncompat"
	"github.com/matst80/woof/pkg/ingest"
	"github.com/matst80/woof/pkg/messaging"
	"github.com/matst80/woof/pkg/types"
	amqp "github.com/rabbitmq/amqp091-go"
)

func (a *app) ConnectAmqp(amqpUrl string) error {
	conn, err := messaging.Connect(amqpUrl)
	if err != nil {
		return err
	}
	notifier, err := messaging.NewAmqpNotifier(conn, a.prefix)
	if err != nil {
		conn.Close()
		return err
	}
	a.conn = conn
	a.notifier = notifier
	return nil
}

// ConnectSourceChanges mirrors sources edited on other instances.
func (a *app) ConnectSourceChanges() {
	ch, err := a.conn.Channel()
	if err != nil {
		log.Fatalf("Failed to open a channel: %v", err)
	}
	err = messaging.Subscribe(ch, a.prefix, messaging.SourceChanged, messaging.SkipOrigin(a.notifier.Origin, func(d amqp.Delivery) error {
		var change types.SourceChange
		if err := jsoncompat.Unmarshal(d.Body, &change); err != nil {
			return err
		}
		a.registry.ApplyChange(change)
		return nil
	}))
	if err != nil {
		log.Fatalf("Failed to listen to %s: %v", messaging.SourceChanged, err)
	}
	log.Printf("Listening for source changes")
}

// ConnectSamples follows the samples published by polling instances.
func (a *app) ConnectSamples() {
	ch, err := a.conn.Channel()
	if err != nil {
		log.Fatalf("Failed to open a channel: %v", err)
	}
	err = messaging.Subscribe(ch, a.prefix, messaging.SampleAdded, messaging.SkipOrigin(a.notifier.Origin, func(d amqp.Delivery) error {
		var samples []types.Sample
		if err := jsoncompat.Unmarshal(d.Body, &samples); err != nil {
			return err
		}
		return a.localSink.Add(samples...)
	}))
	if err != nil {
		log.Fatalf("Failed to listen to %s: %v", messaging.SampleAdded, err)
	}
	log.Printf("Listening for samples")
}

func (a *app) ConnectFeeds() {
	feeds := ingest.New(a.registry, a.extractor, a.sink)
	if err := feeds.Listen(a.conn, a.prefix); err != nil {
		log.Fatalf("Failed to listen to %s: %v", messaging.FeedIngest, err)
	}
	log.Printf("Listening for feed bodies")
}
