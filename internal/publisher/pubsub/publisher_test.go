package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublishWithoutPublisher(t *testing.T) {
	t.Parallel()

	_, err := (&Publisher{}).Publish(context.Background(), "run.finished", map[string]string{"k": "v"})
	require.Error(t, err)

	var p *Publisher
	require.NoError(t, p.Close())
}

func TestDialRequiresTopic(t *testing.T) {
	t.Parallel()

	_, err := Dial(context.Background(), "project", "")
	require.Error(t, err)
}
