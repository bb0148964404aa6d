package translate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIdentity(t *testing.T) {
	t.Parallel()

	out, err := Identity{}.Translate(context.Background(), "广西日报")
	require.NoError(t, err)
	require.Equal(t, "广西日报", out)
}

func TestPrefix(t *testing.T) {
	t.Parallel()

	p := Prefix{Marker: "[en] "}
	out, err := p.Translate(context.Background(), "福建日报")
	require.NoError(t, err)
	require.Equal(t, "[en] 福建日报", out)

	out, err = p.Translate(context.Background(), "  ")
	require.NoError(t, err)
	require.Equal(t, "  ", out)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Translate(ctx, "x")
	require.ErrorIs(t, err, context.Canceled)
}
