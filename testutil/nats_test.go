package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/tensorscope/natsclient"
)

func TestMockNATSClient_RoundRobin(t *testing.T) {
	ctx := context.Background()
	client := NewMockNATSClient()

	for _, name := range []string{"a", "b"} {
		name := name
		require.NoError(t, client.QueueRespond(ctx, "ts.runs", "workers",
			func(context.Context, string, []byte) []byte { return []byte(name) }))
	}

	var got []string
	for i := 0; i < 4; i++ {
		reply, err := client.Request(ctx, "ts.runs", nil)
		require.NoError(t, err)
		got = append(got, string(reply))
	}

	assert.Equal(t, []string{"a", "b", "a", "b"}, got)
	assert.Equal(t, 4, client.RequestCount("ts.runs"))
	assert.Equal(t, "workers", client.QueueGroup("ts.runs"))
	assert.Equal(t, []string{"ts.runs"}, client.Subjects())
}

func TestMockNATSClient_Errors(t *testing.T) {
	ctx := context.Background()
	client := NewMockNATSClient()

	_, err := client.Request(ctx, "ts.none", nil)
	assert.Error(t, err)

	require.NoError(t, client.QueueRespond(ctx, "ts.silent", "q",
		func(context.Context, string, []byte) []byte { return nil }))
	_, err = client.Request(ctx, "ts.silent", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, client.Close())
	_, err = client.Request(ctx, "ts.silent", nil)
	assert.ErrorIs(t, err, natsclient.ErrNotConnected)
	assert.ErrorIs(t, client.QueueRespond(ctx, "x", "q", nil), natsclient.ErrNotConnected)
}
