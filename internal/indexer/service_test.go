package indexer

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/store"
)

type recordingPublisher struct {
	swaps []*store.Snapshot
}

func (p *recordingPublisher) Swap(_ context.Context, snap *store.Snapshot) error {
	p.swaps = append(p.swaps, snap)
	return nil
}

func TestService_OpenBuildsWhenMissing(t *testing.T) {
	idx, _ := newTestIndexer(t, embedding.NewHashingEmbedder(16))
	data := t.TempDir()
	writeFile(t, filepath.Join(data, "leave.txt"), "Leave policy: 12 days per year")
	pub := &recordingPublisher{}
	svc := NewService(idx, []string{data}, pub)

	snap, err := svc.Open(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Manifest.DocumentCount)
	require.Len(t, pub.swaps, 1)

	// Nothing changed: no new publish.
	res, err := svc.Reindex(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Committed)
	assert.Len(t, pub.swaps, 1)

	writeFile(t, filepath.Join(data, "remote.txt"), "Remote work twice a week")
	res, err = svc.Reindex(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Committed)
	require.Len(t, pub.swaps, 2)
	assert.Equal(t, 2, pub.swaps[1].Manifest.DocumentCount)
}

func TestService_OpenLoadsExisting(t *testing.T) {
	idx, st := newTestIndexer(t, embedding.NewHashingEmbedder(16))
	data := t.TempDir()
	writeFile(t, filepath.Join(data, "a.txt"), "alpha beta")
	_, err := idx.Sync(context.Background(), []string{data})
	require.NoError(t, err)
	gen, err := st.Current()
	require.NoError(t, err)

	pub := &recordingPublisher{}
	snap, err := NewService(idx, []string{data}, pub).Open(context.Background())
	require.NoError(t, err)
	assert.Equal(t, gen, snap.Generation)
	assert.Len(t, pub.swaps, 1)
}

func TestService_OpenRejectsOtherModel(t *testing.T) {
	idx, st := newTestIndexer(t, embedding.NewHashingEmbedder(16))
	data := t.TempDir()
	writeFile(t, filepath.Join(data, "a.txt"), "alpha beta")
	_, err := idx.Sync(context.Background(), []string{data})
	require.NoError(t, err)

	other := NewIndexer(st, embedding.NewHashingEmbedder(32), idx.Chunker(), testEmbeddingConfig())
	_, err = NewService(other, []string{data}, nil).Open(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rebuild")
}
