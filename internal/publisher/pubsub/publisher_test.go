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

	"github.com/JakeFAU/epaper-crawler/internal/crawler"
)

func TestPublishSendsNoticeWithAttributes(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	client, err := pubsub.NewClient(ctx, "epaper", option.WithGRPCConn(conn))
	require.NoError(t, err)
	defer client.Close()

	_, err = client.TopicAdminClient.CreateTopic(ctx, &pubsubpb.Topic{Name: "projects/epaper/topics/runs"})
	require.NoError(t, err)

	p := New(client.Publisher("runs"))
	notice := crawler.RunNotice{
		RunID:     "run-1",
		SourceKey: "nanfang",
		Date:      "2025-11-19",
		State:     crawler.RunStateCompleted,
		Articles:  12,
		Finished:  time.Date(2025, 11, 19, 9, 3, 0, 0, time.UTC),
	}
	id, err := p.Publish(ctx, "runs", notice)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.NoError(t, p.Close())

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "nanfang", msgs[0].Attributes["source_key"])
	require.Equal(t, "completed", msgs[0].Attributes["state"])
	var got crawler.RunNotice
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	require.Equal(t, notice, got)
}

func TestPublishWithoutPublisher(t *testing.T) {
	t.Parallel()

	_, err := (&Publisher{}).Publish(context.Background(), "runs", "x")
	require.Error(t, err)
	require.NoError(t, (&Publisher{}).Close())
}
