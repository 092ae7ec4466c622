package service

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"github.com/zzenonn/zfetch/internal/blockset"
	"github.com/zzenonn/zfetch/internal/compress"
	"github.com/zzenonn/zfetch/internal/domain"
	ferrors "github.com/zzenonn/zfetch/internal/errors"
	"github.com/zzenonn/zfetch/internal/fetcher"
	"github.com/zzenonn/zfetch/internal/keys"
	"github.com/zzenonn/zfetch/internal/placement"
	"github.com/zzenonn/zfetch/internal/repository/objectstore"
	"github.com/zzenonn/zfetch/internal/scheduler"
)

type mockManifestRepository struct {
	mu                 sync.Mutex
	manifests          map[string]domain.Manifest
	createManifestFunc func(ctx context.Context, m domain.Manifest) (domain.Manifest, error)
}

func newMockManifestRepository() *mockManifestRepository {
	return &mockManifestRepository{manifests: make(map[string]domain.Manifest)}
}

func (r *mockManifestRepository) CreateManifest(ctx context.Context, m domain.Manifest) (domain.Manifest, error) {
	if r.createManifestFunc != nil {
		return r.createManifestFunc(ctx, m)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.manifests[m.Prefix+"/"+m.FileName] = m
	return m, nil
}

func (r *mockManifestRepository) GetManifest(ctx context.Context, prefix, fileName string) (domain.Manifest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.manifests[prefix+"/"+fileName]
	if !ok {
		return domain.Manifest{}, ferrors.New(ferrors.NotFound, "manifest %s/%s not found", prefix, fileName)
	}
	return m, nil
}

type testStore struct {
	placer    *placement.RoundRobinPlacer
	repos     []*objectstore.MemoryObjectRepository
	manifests *mockManifestRepository
	insert    *InsertService
	fetch     *FetchService
}

func newTestStore(t *testing.T, buckets int, opts InsertOptions) *testStore {
	t.Helper()
	ts := &testStore{
		placer:    placement.NewRoundRobinPlacer(),
		manifests: newMockManifestRepository(),
	}
	for i := 0; i < buckets; i++ {
		repo := objectstore.NewMemoryObjectRepository(fmt.Sprintf("bucket-%d", i))
		require.NoError(t, ts.placer.RegisterBucket(repo.GetBucketName(), repo))
		ts.repos = append(ts.repos, repo)
	}

	sched := scheduler.NewBlockScheduler(placement.NewBlockSource(ts.placer), scheduler.Options{Workers: 4})
	t.Cleanup(sched.Close)

	ts.insert = NewInsertService(ts.placer, ts.manifests, opts)
	ts.fetch = NewFetchService(ts.manifests, sched, FetchOptions{
		Limits: fetcher.Limits{
			MaxOutputLength:          1 << 30,
			MaxTempLength:            1 << 30,
			MaxDataBlocksPerSegment:  256,
			MaxCheckBlocksPerSegment: 256,
		},
		BlockSet: blockset.NewMemorySet(),
		Quiet:    true,
	})
	return ts
}

// perSegmentCounts returns how many of each segment's blocks every bucket holds.
func (ts *testStore) perSegmentCounts(t *testing.T, m domain.Manifest, bps, cbps int) [][]int {
	t.Helper()
	segments := (len(m.DataKeys) + bps - 1) / bps
	counts := make([][]int, segments)
	for i := range counts {
		counts[i] = make([]int, len(ts.repos))
	}
	add := func(seg int, k keys.Key) {
		name, _, err := ts.placer.Place(placement.KeyIndex(k))
		require.NoError(t, err)
		for b, repo := range ts.repos {
			if repo.GetBucketName() == name {
				data, err := objectstore.GetBlock(context.Background(), repo, k)
				require.NoError(t, err, "block %s missing from %s", k, name)
				require.True(t, k.Verify(data))
				counts[seg][b]++
			}
		}
	}
	for i, k := range m.DataKeys {
		add(i/bps, k)
	}
	for i, k := range m.CheckKeys {
		add(i/cbps, k)
	}
	return counts
}

func randomData(n int) []byte {
	data := make([]byte, n)
	rand.New(rand.NewSource(int64(n))).Read(data)
	return data
}

func TestParseURI(t *testing.T) {
	tests := []struct {
		uri        string
		wantPrefix string
		wantName   string
		wantErr    bool
	}{
		{uri: "zs://photos/2026/beach.jpg", wantPrefix: "photos/2026", wantName: "beach.jpg"},
		{uri: "zs://notes.txt", wantPrefix: "root", wantName: "notes.txt"},
		{uri: "zs://docs/a.txt/", wantPrefix: "docs", wantName: "a.txt"},
		{uri: "s3://bucket/a", wantErr: true},
		{uri: "zs://", wantErr: true},
	}
	for _, tt := range tests {
		prefix, name, err := ParseURI(tt.uri)
		if tt.wantErr {
			require.Error(t, err, tt.uri)
			continue
		}
		require.NoError(t, err, tt.uri)
		require.Equal(t, tt.wantPrefix, prefix)
		require.Equal(t, tt.wantName, name)
	}
}

func TestInsertFetch(t *testing.T) {
	tests := []struct {
		name string
		size int
		opts InsertOptions
	}{
		{name: "small nonredundant", size: 1000, opts: InsertOptions{}},
		{name: "segmented", size: 10*keys.BlockSize + 17, opts: InsertOptions{BlocksPerSegment: 4, CheckBlocksPerSegment: 4}},
		{name: "compressed", size: 3 * keys.BlockSize, opts: InsertOptions{BlocksPerSegment: 2, CheckBlocksPerSegment: 1, Codecs: []compress.Codec{compress.Zstd}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			ts := newTestStore(t, 3, tt.opts)
			data := randomData(tt.size)

			m, err := ts.insert.Insert(ctx, "zs://test/"+tt.name, bytes.NewReader(data), "application/octet-stream")
			require.NoError(t, err)
			require.Equal(t, "test", m.Prefix)

			var out bytes.Buffer
			n, err := ts.fetch.Fetch(ctx, m.URI(), &out)
			require.NoError(t, err)
			require.Equal(t, int64(len(data)), n)
			require.Equal(t, data, out.Bytes())
		})
	}
}

func TestFetch_SurvivesLostBucket(t *testing.T) {
	ctx := context.Background()
	ts := newTestStore(t, 3, InsertOptions{BlocksPerSegment: 6, CheckBlocksPerSegment: 6})
	data := randomData(12 * keys.BlockSize)

	m, err := ts.insert.Insert(ctx, "zs://test/lost", bytes.NewReader(data), "")
	require.NoError(t, err)
	// Each segment has 12 blocks and needs 6, so at most one bucket per
	// segment holds more than it can lose.
	counts := ts.perSegmentCounts(t, m, 6, 6)
	lost := -1
	for b := range ts.repos {
		if counts[0][b] <= 6 && counts[1][b] <= 6 {
			lost = b
			break
		}
	}
	require.NotEqual(t, -1, lost)
	require.NoError(t, ts.repos[lost].DeletePrefix(ctx, "blocks/"))

	var out bytes.Buffer
	_, err = ts.fetch.FetchManifest(ctx, m, &out)
	require.NoError(t, err)
	require.Equal(t, data, out.Bytes())
}

func TestFetch_NotEnoughBlocks(t *testing.T) {
	ctx := context.Background()
	ts := newTestStore(t, 2, InsertOptions{BlocksPerSegment: 4, CheckBlocksPerSegment: 1})
	m, err := ts.insert.Insert(ctx, "zs://test/gone", bytes.NewReader(randomData(4*keys.BlockSize)), "")
	require.NoError(t, err)
	// One bucket holds at least 3 of the 5 blocks, leaving fewer than 4.
	counts := ts.perSegmentCounts(t, m, 4, 1)
	fullest := 0
	if counts[0][1] > counts[0][0] {
		fullest = 1
	}
	require.NoError(t, ts.repos[fullest].DeletePrefix(ctx, "blocks/"))

	_, err = ts.fetch.FetchManifest(ctx, m, &bytes.Buffer{})
	require.Error(t, err)
	require.ErrorIs(t, err, ferrors.ErrSplitfile)
}

func TestFetch_UnknownURI(t *testing.T) {
	ts := newTestStore(t, 1, InsertOptions{})
	_, err := ts.fetch.Fetch(context.Background(), "zs://test/missing", &bytes.Buffer{})
	require.Equal(t, ferrors.NotFound, ferrors.ModeOf(err))
}

func TestInsert_ManifestStoreFailure(t *testing.T) {
	ts := newTestStore(t, 1, InsertOptions{})
	ts.manifests.createManifestFunc = func(ctx context.Context, m domain.Manifest) (domain.Manifest, error) {
		return domain.Manifest{}, fmt.Errorf("table unavailable")
	}
	_, err := ts.insert.Insert(context.Background(), "zs://test/a", bytes.NewReader([]byte("abc")), "")
	require.Error(t, err)

	_, err = ts.insert.Insert(context.Background(), "zs://test/empty", bytes.NewReader(nil), "")
	require.ErrorIs(t, err, ferrors.ErrEmptyFile)
}

// idleScheduler accepts registrations and never delivers a block.
type idleScheduler struct{}

func (idleScheduler) Register(ctx context.Context, client scheduler.Client, requests []scheduler.Request, persistent, isSplitfile bool, blocks blockset.BlockSet) error {
	_, err := client.KeyListener()
	return err
}

func (idleScheduler) RemovePendingKeys(client scheduler.Client) {}

func TestFetch_ContextCancelsJob(t *testing.T) {
	ctx := context.Background()
	ts := newTestStore(t, 1, InsertOptions{})
	m, err := ts.insert.Insert(ctx, "zs://test/slow", bytes.NewReader(randomData(100)), "")
	require.NoError(t, err)

	fetch := NewFetchService(ts.manifests, idleScheduler{}, ts.fetch.opts)
	ctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = fetch.FetchManifest(ctx, m, &bytes.Buffer{})
	require.ErrorIs(t, err, ferrors.ErrCancelled)
}

func TestManifestFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	ts := newTestStore(t, 2, InsertOptions{BlocksPerSegment: 2, CheckBlocksPerSegment: 2})
	data := randomData(5 * keys.BlockSize)
	m, err := ts.insert.Insert(context.Background(), "zs://files/data.bin", bytes.NewReader(data), "")
	require.NoError(t, err)

	require.NoError(t, WriteManifestFile(fs, "/data.zfm", m))
	loaded, err := ReadManifestFile(fs, "/data.zfm")
	require.NoError(t, err)
	require.Equal(t, m, loaded)

	var out bytes.Buffer
	_, err = ts.fetch.FetchManifest(context.Background(), loaded, &out)
	require.NoError(t, err)
	require.Equal(t, data, out.Bytes())

	_, err = ReadManifestFile(fs, "/missing.zfm")
	require.Error(t, err)
}
