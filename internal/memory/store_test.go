package memory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/ragent/internal/session"
)

func storeBackends(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	backends := map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewInMemoryStore() },
		"sqlite": func(t *testing.T) Store {
			s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "chat.db"), true, nil)
			require.NoError(t, err)
			return s
		},
		"badger": func(t *testing.T) Store {
			s, err := NewBadgerStore(BadgerConfig{InMemory: true, Compress: true})
			require.NoError(t, err)
			return s
		},
	}
	if url := os.Getenv("TEST_DATABASE_URL"); url != "" {
		backends["postgres"] = func(t *testing.T) Store {
			s, err := NewPostgresStore(context.Background(), url)
			require.NoError(t, err)
			return s
		}
	}
	return backends
}

func sampleSession(id string) *session.Session {
	s := session.New(id)
	s.Append(session.Turn{Role: session.RoleUser, Content: "what is an NDA?", RequestID: "req-1"})
	s.Append(session.Turn{
		Role:     session.RoleToolCall,
		ToolCall: &session.ToolCall{ID: "call-1", Name: "search_documents", Query: "nda definition", K: 3},
	})
	s.Append(session.Turn{
		Role: session.RoleToolResult,
		ToolResult: &session.ToolResult{
			CallID: "call-1",
			Name:   "search_documents",
			Query:  "nda definition",
			Hits: []session.Hit{
				{Excerpt: "A non-disclosure agreement is", Score: 0.91, SourceID: "mutual-nda#0", Filename: "mutual-nda.pdf", Page: 1},
			},
		},
	})
	s.Append(session.Turn{Role: session.RoleAssistant, Content: "An NDA is a confidentiality contract."})
	return s
}

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	for name, open := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := open(t)
			defer store.Close()

			id := "roundtrip-" + name
			_, _ = store.Delete(ctx, id)

			sess := sampleSession(id)
			require.NoError(t, store.Save(ctx, sess))
			assert.Equal(t, int64(1), sess.Version)

			loaded, err := store.Load(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, int64(1), loaded.Version)
			assert.Equal(t, session.StatusActive, loaded.Status)
			require.Len(t, loaded.Turns, 4)
			assert.Equal(t, int64(4), loaded.LastSeq())
			require.NotNil(t, loaded.Turns[2].ToolResult)
			require.Len(t, loaded.Turns[2].ToolResult.Hits, 1)
			assert.Equal(t, "mutual-nda.pdf", loaded.Turns[2].ToolResult.Hits[0].Filename)
			assert.Equal(t, "req-1", loaded.Turns[0].RequestID)
			assert.NoError(t, loaded.CheckSequence())
		})
	}
}

func TestStoreRejectsStaleVersion(t *testing.T) {
	for name, open := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := open(t)
			defer store.Close()

			id := "conflict-" + name
			_, _ = store.Delete(ctx, id)

			first := sampleSession(id)
			require.NoError(t, store.Save(ctx, first))

			stale := sampleSession(id)
			err := store.Save(ctx, stale)
			assert.ErrorIs(t, err, session.ErrVersionConflict)

			first.Append(session.Turn{Role: session.RoleUser, Content: "and a mutual one?"})
			require.NoError(t, store.Save(ctx, first))
			assert.Equal(t, int64(2), first.Version)

			loaded, err := store.Load(ctx, id)
			require.NoError(t, err)
			assert.Len(t, loaded.Turns, 5)
		})
	}
}

func TestStoreSummaryAndDelete(t *testing.T) {
	for name, open := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := open(t)
			defer store.Close()

			id := "summary-" + name
			_, _ = store.Delete(ctx, id)

			sess := session.New(id)
			sess.Summary = &session.Turn{
				Seq:       1,
				SeqEnd:    10,
				Role:      session.RoleSummary,
				Content:   "user asked about unilateral NDAs",
				CreatedAt: time.Now().UTC(),
			}
			sess.Append(session.Turn{Role: session.RoleUser, Content: "thanks"})
			require.NoError(t, store.Save(ctx, sess))

			loaded, err := store.Load(ctx, id)
			require.NoError(t, err)
			require.NotNil(t, loaded.Summary)
			assert.Equal(t, int64(10), loaded.Summary.End())
			require.Len(t, loaded.Turns, 1)
			assert.Equal(t, int64(11), loaded.Turns[0].Seq)

			infos, err := store.List(ctx, 0)
			require.NoError(t, err)
			found := false
			for _, info := range infos {
				if info.ID == id {
					found = true
					assert.Equal(t, int64(11), info.LastSeq)
				}
			}
			assert.True(t, found, "saved session missing from list")

			removed, err := store.Delete(ctx, id)
			require.NoError(t, err)
			assert.True(t, removed)

			removed, err = store.Delete(ctx, id)
			require.NoError(t, err)
			assert.False(t, removed)

			_, err = store.Load(ctx, id)
			assert.ErrorIs(t, err, session.ErrNotFound)
		})
	}
}

func TestInMemoryStoreIsolatesCallers(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	sess := sampleSession("isolation")
	require.NoError(t, store.Save(ctx, sess))

	sess.Turns[0].Content = "mutated after save"
	loaded, err := store.Load(ctx, "isolation")
	require.NoError(t, err)
	assert.Equal(t, "what is an NDA?", loaded.Turns[0].Content)
}

func TestCodecCompressedBlob(t *testing.T) {
	sess := sampleSession("codec")
	raw, err := encodeSession(sess, false)
	require.NoError(t, err)
	assert.Equal(t, blobRaw, raw[0])

	packed, err := encodeSession(sess, true)
	require.NoError(t, err)
	assert.Equal(t, blobZstd, packed[0])

	decoded, err := decodeSession(packed)
	require.NoError(t, err)
	assert.Equal(t, sess.Turns[3].Content, decoded.Turns[3].Content)
	assert.True(t, sess.CreatedAt.Equal(decoded.CreatedAt))

	_, err = decodeSession([]byte{0x7f, 0x00})
	assert.Error(t, err)
	_, err = decodeSession(nil)
	assert.Error(t, err)
}

func TestNewStoreSelectsBackend(t *testing.T) {
	ctx := context.Background()

	s, err := NewStore(ctx, Config{Kind: "auto"})
	require.NoError(t, err)
	assert.IsType(t, &InMemoryStore{}, s)

	s, err = NewStore(ctx, Config{Kind: "auto", SQLitePath: filepath.Join(t.TempDir(), "c.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())

	_, err = NewStore(ctx, Config{Kind: "postgres"})
	assert.Error(t, err)

	_, err = NewStore(ctx, Config{Kind: "etcd"})
	assert.Error(t, err)
}

func TestStoreListWithoutLimitReturnsEverySession(t *testing.T) {
	for name, open := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := open(t)
			defer store.Close()

			const total = 150
			for i := 0; i < total; i++ {
				id := fmt.Sprintf("list-%s-%03d", name, i)
				_, _ = store.Delete(ctx, id)
				require.NoError(t, store.Save(ctx, session.New(id)))
			}

			all, err := store.List(ctx, 0)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, len(all), total)

			some, err := store.List(ctx, 10)
			require.NoError(t, err)
			assert.Len(t, some, 10)
		})
	}
}

func TestSQLiteStoreFailedSaveKeepsCallerVersion(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "chat.db"), false, nil)
	require.NoError(t, err)

	sess := sampleSession("retry-after-failure")
	require.NoError(t, store.Save(ctx, sess))
	stamped := sess.UpdatedAt

	other, err := store.Load(ctx, sess.ID)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, other))

	sess.Append(session.Turn{Role: session.RoleUser, Content: "one more"})
	require.ErrorIs(t, store.Save(ctx, sess), session.ErrVersionConflict)
	assert.Equal(t, int64(1), sess.Version)
	assert.Equal(t, stamped, sess.UpdatedAt)

	require.NoError(t, store.Close())
	fresh := sampleSession("after-close")
	require.Error(t, store.Save(ctx, fresh))
	assert.Equal(t, int64(0), fresh.Version)
}
