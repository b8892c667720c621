package memory

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T, max int) map[string]Store {
	t.Helper()

	sq, err := NewSQLiteStore(filepath.Join(t.TempDir(), "jarvis.db"), max, nil)
	require.NoError(t, err)
	t.Cleanup(func() { sq.Close() })

	return map[string]Store{
		"memory": NewMemStore(max),
		"sqlite": sq,
	}
}

func TestStoreContext(t *testing.T) {
	for name, s := range stores(t, 10) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := s.GetContext(ctx, "current_command")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.StoreContext(ctx, "current_command", "open calc"))
			require.NoError(t, s.StoreContext(ctx, "current_command", "lock pc"))

			v, err := s.GetContext(ctx, "current_command")
			require.NoError(t, err)
			assert.Equal(t, "lock pc", v.Value)
			assert.False(t, v.UpdatedAt.IsZero())
		})
	}
}

func TestInteractionsAreCappedOldestFirst(t *testing.T) {
	for name, s := range stores(t, 5) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < 8; i++ {
				require.NoError(t, s.AddInteraction(ctx, SpeakerUser, fmt.Sprintf("msg %d", i)))
			}

			all, err := s.RecentInteractions(ctx, 0)
			require.NoError(t, err)
			require.Len(t, all, 5)
			assert.Equal(t, "msg 3", all[0].Message)
			assert.Equal(t, "msg 7", all[4].Message)

			last2, err := s.RecentInteractions(ctx, 2)
			require.NoError(t, err)
			require.Len(t, last2, 2)
			assert.Equal(t, "msg 6", last2[0].Message)
			assert.Equal(t, "msg 7", last2[1].Message)
		})
	}
}

func TestPreferences(t *testing.T) {
	for name, s := range stores(t, 10) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := s.GetPreference(ctx, "voice")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.SetPreference(ctx, "voice", "female"))
			v, err := s.GetPreference(ctx, "voice")
			require.NoError(t, err)
			assert.Equal(t, "female", v)
		})
	}
}
