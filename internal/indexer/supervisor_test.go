package indexer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSuperviseCancelsOnFailure(t *testing.T) {
	boom := errors.New("boom")
	stopped := make(chan struct{})

	err := Supervise(context.Background(), nil,
		Task{Name: "fails", Run: func(context.Context) error { return boom }},
		Task{Name: "waits", Run: func(ctx context.Context) error {
			<-ctx.Done()
			close(stopped)
			return nil
		}},
	)
	require.ErrorIs(t, err, boom)
	require.Contains(t, err.Error(), "fails")
	<-stopped
}

func TestSuperviseAllSucceed(t *testing.T) {
	calls := make(chan string, 2)
	err := Supervise(context.Background(), nil,
		Task{Name: "a", Run: func(context.Context) error { calls <- "a"; return nil }},
		Task{Name: "b", Run: func(context.Context) error { calls <- "b"; return nil }},
	)
	require.NoError(t, err)
	require.Len(t, calls, 2)
}
