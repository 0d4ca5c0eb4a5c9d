package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/quote-crawler/internal/crawler"
)

func newTopic(t *testing.T) (*pstest.Server, *pubsub.Topic) {
	t.Helper()
	ctx := context.Background()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(ctx, "project-id", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, "quotes")
	require.NoError(t, err)
	return srv, topic
}

func TestPushPublishesOneMessagePerRecord(t *testing.T) {
	t.Parallel()

	srv, topic := newTopic(t)
	sink := NewWithTopic(topic)

	ctx := crawler.WithRunID(context.Background(), "run-7")
	require.NoError(t, sink.Push(ctx, []crawler.Record{
		{Quote: "One", Topic: "love", Page: 1, Position: 1, SourceMode: crawler.ModeAPI},
		{Quote: "Two", Topic: "love", Page: 1, Position: 2, SourceMode: crawler.ModeAPI},
	}))
	require.NoError(t, sink.Push(ctx, nil))
	require.NoError(t, sink.Close())

	msgs := srv.Messages()
	require.Len(t, msgs, 2)
	quotes := make([]string, 0, len(msgs))
	for _, m := range msgs {
		require.Equal(t, "run-7", m.Attributes[AttrRunID])
		require.Equal(t, "love", m.Attributes[AttrTopic])
		require.Equal(t, "api", m.Attributes[AttrSourceMode])
		var rec crawler.Record
		require.NoError(t, json.Unmarshal(m.Data, &rec))
		quotes = append(quotes, rec.Quote)
	}
	require.ElementsMatch(t, []string{"One", "Two"}, quotes)
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{TopicID: "quotes"})
	require.ErrorContains(t, err, "project_id")
	_, err = New(context.Background(), Config{ProjectID: "p"})
	require.ErrorContains(t, err, "topic_id")
}
