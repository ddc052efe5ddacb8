package kafka

import (
	"context"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"

	"github.com/arqsystems/refdata-platform/internal/domain"
)

// EnsureTopic creates topic with the given partition count and replication
// factor if it does not already exist. Command and update topics must be
// created with the same partition count to stay co-partitioned.
func EnsureTopic(ctx context.Context, client *kgo.Client, topic string, partitions int32, replicationFactor int16) error {
	if topic == "" {
		return fmt.Errorf("kafka: topic name cannot be empty")
	}
	if partitions <= 0 {
		return fmt.Errorf("kafka: partitions must be greater than 0")
	}

	req := kmsg.NewCreateTopicsRequest()
	req.TimeoutMillis = 30000

	topicReq := kmsg.NewCreateTopicsRequestTopic()
	topicReq.Topic = topic
	topicReq.NumPartitions = partitions
	topicReq.ReplicationFactor = replicationFactor
	req.Topics = append(req.Topics, topicReq)

	raw, err := client.Request(ctx, &req)
	if err != nil {
		return fmt.Errorf("kafka: create topics request: %w", err)
	}
	resp, ok := raw.(*kmsg.CreateTopicsResponse)
	if !ok {
		return fmt.Errorf("kafka: unexpected response type: %T", raw)
	}

	for _, t := range resp.Topics {
		if t.ErrorCode == 0 {
			continue
		}
		const topicAlreadyExists = 36
		if t.ErrorCode == topicAlreadyExists {
			continue
		}
		msg := ""
		if t.ErrorMessage != nil {
			msg = *t.ErrorMessage
		}
		return fmt.Errorf("kafka: create topic %q: %s (code %d)", t.Topic, msg, t.ErrorCode)
	}
	return nil
}

// EnsureCoPartitionedTopics creates cmdTopic and updateTopic with identical
// partition counts, so the executor's command-partition assignment always
// has a matching update-partition counterpart for hydration.
func EnsureCoPartitionedTopics(ctx context.Context, client *kgo.Client, cmdTopic, updateTopic string, partitions int32, replicationFactor int16) error {
	if err := EnsureTopic(ctx, client, cmdTopic, partitions, replicationFactor); err != nil {
		return err
	}
	return EnsureTopic(ctx, client, updateTopic, partitions, replicationFactor)
}

// EnsureEntityTopics creates the command and update topics for every name in
// entityNames, co-partitioned, against a short-lived admin client. Intended
// to run once at service startup, before any consumer group joins.
func EnsureEntityTopics(ctx context.Context, brokers []string, entityNames []string, partitions int32, replicationFactor int16) error {
	client, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return fmt.Errorf("kafka: new admin client: %w", err)
	}
	defer client.Close()

	for _, name := range entityNames {
		if err := EnsureCoPartitionedTopics(ctx, client, domain.CommandTopic(name), domain.UpdateTopic(name), partitions, replicationFactor); err != nil {
			return err
		}
	}
	return nil
}
