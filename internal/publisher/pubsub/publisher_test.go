package pubsub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"cloud.google.com/go/pubsub/v2/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/adsnap/internal/ads"
)

func TestPublishFillEvent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	const topic = "projects/adsnap-test/topics/ads-fill"
	_, err := srv.GServer.CreateTopic(ctx, &pubsubpb.Topic{Name: topic})
	require.NoError(t, err)

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(ctx, "adsnap-test", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, VerifyTopic(ctx, client, "adsnap-test", "ads-fill"))
	require.Error(t, VerifyTopic(ctx, client, "adsnap-test", "missing"))

	pub, err := NewForTopic(client, "ads-fill")
	require.NoError(t, err)
	t.Cleanup(pub.Stop)

	event := ads.FillEvent{
		RunID:      "run-1",
		WeekEnd:    "2026-02-14",
		Discovered: 10,
		Filled:     8,
		Pending:    2,
		FinishedAt: time.Date(2026, 2, 14, 10, 0, 0, 0, time.UTC),
	}
	id, err := pub.Publish(ctx, "ignored", event)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "2026-02-14", msgs[0].Attributes["week_end"])
	require.Equal(t, "run-1", msgs[0].Attributes["run_id"])

	var got ads.FillEvent
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	require.Equal(t, event, got)
}

func TestPublishWithoutPublisher(t *testing.T) {
	t.Parallel()

	_, err := New(nil).Publish(context.Background(), "t", ads.FillEvent{})
	require.Error(t, err)
}

func TestNewForTopicValidates(t *testing.T) {
	t.Parallel()

	_, err := NewForTopic(nil, "t")
	require.Error(t, err)
	require.Error(t, VerifyTopic(context.Background(), nil, "p", "t"))
}

func TestCarrierKeys(t *testing.T) {
	t.Parallel()

	c := &pubsubCarrier{attrs: map[string]string{}}
	c.Set("traceparent", "00-abc")
	require.Equal(t, "00-abc", c.Get("traceparent"))
	require.Equal(t, []string{"traceparent"}, c.Keys())
}
