package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "crawl-complete", map[string]string{"run_id": "a"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "crawl-failed", "payload")
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "crawl-complete", msgs[0].Topic)
	require.Equal(t, "crawl-failed", msgs[1].Topic)

	msgs[0].Topic = "modified"
	require.Equal(t, "crawl-complete", pub.Messages()[0].Topic)
}

func TestPublisherForTopic(t *testing.T) {
	t.Parallel()

	pub := New()
	_, _ = pub.Publish(context.Background(), "a", 1)
	_, _ = pub.Publish(context.Background(), "b", 2)
	_, _ = pub.Publish(context.Background(), "a", 3)

	require.Equal(t, []any{1, 3}, pub.ForTopic("a"))
	require.Empty(t, pub.ForTopic("missing"))
}
