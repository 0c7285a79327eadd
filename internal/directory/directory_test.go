package directory

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/poudelalish/blockchain-inventory/internal/blob"
	"github.com/poudelalish/blockchain-inventory/pkg/domain"
)

func TestRecordAndResolve(t *testing.T) {
	ctx := context.Background()
	for name, store := range map[string]blob.Store{
		"memory": blob.NewMemory(),
		"s3":     blob.NewMockS3ForTests(),
	} {
		t.Run(name, func(t *testing.T) {
			dir := New(store)
			_, err := dir.Resolve(ctx, "31337")
			var nf domain.NotFoundError
			require.ErrorAs(t, err, &nf)
			require.Equal(t, domain.EntityDeployment, nf.Entity)
			require.Empty(t, nf.Available)

			require.NoError(t, dir.Record(ctx, "31337", Deployment{Address: "http://localhost:8080"}))
			require.NoError(t, dir.Record(ctx, "5", Deployment{Address: "http://goerli:8080"}))
			require.NoError(t, dir.Record(ctx, "31337", Deployment{Address: "http://localhost:9090"}))

			dep, err := dir.Resolve(ctx, "31337")
			require.NoError(t, err)
			require.Equal(t, "http://localhost:9090", dep.Address)

			networks, err := dir.Networks(ctx)
			require.NoError(t, err)
			require.Equal(t, []string{"31337", "5"}, networks)

			_, err = dir.Resolve(ctx, "1")
			require.True(t, errors.Is(err, domain.ErrNotFound))
			require.ErrorContains(t, err, "available: 31337, 5")
		})
	}
}

func TestRecordValidatesInput(t *testing.T) {
	dir := New(blob.NewMemory())
	require.Error(t, dir.Record(context.Background(), " ", Deployment{Address: "x"}))
	require.Error(t, dir.Record(context.Background(), "1", Deployment{}))
}

func TestLoadUsesCacheUntilInvalidated(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemory()
	dir := New(store, WithCacheTTL(time.Hour), WithKey("deployments.yaml"))
	require.Equal(t, "deployments.yaml", dir.Key())
	require.NoError(t, dir.Record(ctx, "1", Deployment{Address: "a"}))
	_, err := dir.Resolve(ctx, "1")
	require.NoError(t, err)

	// An out-of-band rewrite is invisible until the cache is dropped.
	var doc Document
	doc.Set("2", ContractName, Deployment{Address: "b"})
	data, err := Encode(doc, FormatYAML)
	require.NoError(t, err)
	_, err = store.Delete(ctx, "deployments.yaml")
	require.NoError(t, err)
	_, err = store.Put(ctx, "deployments.yaml", bytes.NewReader(data), blob.PutOptions{})
	require.NoError(t, err)

	_, err = dir.Resolve(ctx, "1")
	require.NoError(t, err)
	dir.Invalidate()
	_, err = dir.Resolve(ctx, "1")
	require.ErrorIs(t, err, domain.ErrNotFound)
	dep, err := dir.Resolve(ctx, "2")
	require.NoError(t, err)
	require.Equal(t, "b", dep.Address)
}

func TestUncachedDirectoryReadsThrough(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemory()
	writer := New(store)
	reader := New(store, WithCacheTTL(0))
	require.NoError(t, writer.Record(ctx, "1", Deployment{Address: "a"}))
	_, err := reader.Resolve(ctx, "1")
	require.NoError(t, err)
	require.NoError(t, writer.Record(ctx, "2", Deployment{Address: "b"}))
	_, err = reader.Resolve(ctx, "2")
	require.NoError(t, err)
}

func TestCorruptDocumentSurfaces(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemory()
	_, err := store.Put(ctx, DefaultKey, bytes.NewReader([]byte("{not json")), blob.PutOptions{})
	require.NoError(t, err)
	_, err = New(store).Resolve(ctx, "1")
	require.ErrorContains(t, err, "decode json directory")
}

// overwriteFailingStore rejects every overwrite, leaving create-only writes
// untouched.
type overwriteFailingStore struct {
	blob.Store
}

func (s overwriteFailingStore) Put(ctx context.Context, key string, r io.Reader, opts blob.PutOptions) (blob.Info, error) {
	if opts.Overwrite {
		return blob.Info{}, errors.New("disk full")
	}
	return s.Store.Put(ctx, key, r, opts)
}

func TestFailedRecordKeepsPreviousDocument(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemory()
	require.NoError(t, New(store).Record(ctx, "1", Deployment{Address: "a"}))

	broken := New(overwriteFailingStore{Store: store}, WithCacheTTL(0))
	require.ErrorContains(t, broken.Record(ctx, "2", Deployment{Address: "b"}), "disk full")

	networks, err := New(store, WithCacheTTL(0)).Networks(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"1"}, networks)
}

func TestRecordArchivesReplacedRevisions(t *testing.T) {
	ctx := context.Background()
	fsStore, err := blob.Open(ctx, blob.Config{Driver: "fs", FSRoot: t.TempDir()})
	require.NoError(t, err)
	for name, store := range map[string]blob.Store{
		"memory": blob.NewMemory(),
		"fs":     fsStore,
		"s3":     blob.NewMockS3ForTests(),
	} {
		t.Run(name, func(t *testing.T) {
			dir := New(store, WithCacheTTL(0))
			history, err := dir.History(ctx)
			require.NoError(t, err)
			require.Empty(t, history)

			require.NoError(t, dir.Record(ctx, "1", Deployment{Address: "a"}))
			require.NoError(t, dir.Record(ctx, "2", Deployment{Address: "b"}))
			require.NoError(t, dir.Record(ctx, "1", Deployment{Address: "c"}))

			history, err = dir.History(ctx)
			require.NoError(t, err)
			require.Len(t, history, 2)

			// The newest archived revision is the document before the last write.
			_, rc, err := store.Get(ctx, history[1].Key)
			require.NoError(t, err)
			data, err := io.ReadAll(rc)
			require.NoError(t, rc.Close())
			require.NoError(t, err)
			prev, err := Decode(data, FormatJSON)
			require.NoError(t, err)
			dep, ok := prev.Lookup("1", ContractName)
			require.True(t, ok)
			require.Equal(t, "a", dep.Address)
			require.Equal(t, []string{"1", "2"}, prev.NetworkIDs(ContractName))

			current, err := dir.Resolve(ctx, "1")
			require.NoError(t, err)
			require.Equal(t, "c", current.Address)
		})
	}
}

func TestStatAndDocumentURL(t *testing.T) {
	ctx := context.Background()
	fsStore, err := blob.Open(ctx, blob.Config{Driver: "fs", FSRoot: t.TempDir()})
	require.NoError(t, err)

	dir := New(fsStore)
	_, err = dir.Stat(ctx)
	require.ErrorIs(t, err, blob.ErrNotFound)

	require.NoError(t, dir.Record(ctx, "1", Deployment{Address: "a"}))
	info, err := dir.Stat(ctx)
	require.NoError(t, err)
	require.Equal(t, DefaultKey, info.Key)
	require.NotEmpty(t, info.ETag)
	require.Positive(t, info.Size)
	require.Equal(t, "application/json", info.ContentType)
	require.False(t, info.LastModified.IsZero())

	url, err := dir.DocumentURL(ctx, 0)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(url, "file://"), url)
	require.True(t, strings.HasSuffix(url, DefaultKey), url)

	s3Dir := New(blob.NewMockS3ForTests())
	require.NoError(t, s3Dir.Record(ctx, "1", Deployment{Address: "a"}))
	url, err = s3Dir.DocumentURL(ctx, time.Minute)
	require.NoError(t, err)
	require.Contains(t, url, DefaultKey)
	require.Contains(t, url, "X-Amz-Expires=60")

	_, err = New(blob.NewMemory()).DocumentURL(ctx, time.Minute)
	require.ErrorIs(t, err, blob.ErrUnsupported)
}
