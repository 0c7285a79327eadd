package directory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/poudelalish/blockchain-inventory/internal/blob"
	"github.com/poudelalish/blockchain-inventory/pkg/domain"
)

// DefaultKey is the blob key of the directory document.
const DefaultKey = "deployments.json"

// DefaultCacheTTL bounds how long a loaded document is reused.
const DefaultCacheTTL = 30 * time.Second

// HistoryPrefix holds the revisions a Record replaced, one blob per revision
// under HistoryPrefix + key + "/", named by archive time.
const HistoryPrefix = "history/"

// DefaultURLExpiry is the lifetime of a document URL when none is given.
const DefaultURLExpiry = 15 * time.Minute

const revisionLayout = "20060102T150405.000000000Z"

const documentCacheKey = "document"

// Directory reads and writes the deployment document through a blob store,
// caching the decoded document between reads.
type Directory struct {
	store  blob.Store
	key    string
	format Format
	cache  *gocache.Cache
	now    func() time.Time

	mu sync.Mutex // serialises Record
}

// Option configures a Directory.
type Option func(*Directory)

// WithKey sets the blob key; the encoding follows its extension.
func WithKey(key string) Option {
	return func(d *Directory) {
		if key = strings.TrimSpace(key); key != "" {
			d.key = key
		}
	}
}

// WithCacheTTL sets the document cache lifetime. Zero or negative disables
// caching.
func WithCacheTTL(ttl time.Duration) Option {
	return func(d *Directory) {
		if ttl <= 0 {
			d.cache = nil
			return
		}
		d.cache = gocache.New(ttl, 2*ttl)
	}
}

// New builds a directory over store.
func New(store blob.Store, opts ...Option) *Directory {
	d := &Directory{
		store: store,
		key:   DefaultKey,
		cache: gocache.New(DefaultCacheTTL, 2*DefaultCacheTTL),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(d)
	}
	d.format = FormatForKey(d.key)
	return d
}

// Key returns the blob key of the document.
func (d *Directory) Key() string { return d.key }

// Invalidate drops the cached document.
func (d *Directory) Invalidate() {
	if d.cache != nil {
		d.cache.Delete(documentCacheKey)
	}
}

// Load returns the current document. A missing document is empty.
func (d *Directory) Load(ctx context.Context) (Document, error) {
	if d.cache != nil {
		if cached, ok := d.cache.Get(documentCacheKey); ok {
			if doc, ok := cached.(Document); ok {
				return doc, nil
			}
		}
	}
	doc, err := d.read(ctx)
	if err != nil {
		return Document{}, err
	}
	if d.cache != nil {
		d.cache.SetDefault(documentCacheKey, doc)
	}
	return doc, nil
}

func (d *Directory) read(ctx context.Context) (Document, error) {
	data, err := d.readRaw(ctx)
	if err != nil || data == nil {
		return Document{}, err
	}
	return Decode(data, d.format)
}

// readRaw returns the stored bytes, or nil when no document exists yet.
func (d *Directory) readRaw(ctx context.Context) ([]byte, error) {
	_, rc, err := d.store.Get(ctx, d.key)
	if errors.Is(err, blob.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read directory %s: %w", d.key, err)
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read directory %s: %w", d.key, err)
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

// Record upserts the ledger deployment for network. The previous document,
// if any, is archived under HistoryPrefix before the new one replaces it in a
// single overwrite, so readers always see a complete document.
func (d *Directory) Record(ctx context.Context, network string, dep Deployment) error {
	network = strings.TrimSpace(network)
	if network == "" {
		return fmt.Errorf("network id must not be empty")
	}
	if strings.TrimSpace(dep.Address) == "" {
		return fmt.Errorf("deployment address must not be empty")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	prev, err := d.readRaw(ctx)
	if err != nil {
		return err
	}
	doc := Document{}
	if prev != nil {
		if doc, err = Decode(prev, d.format); err != nil {
			return err
		}
	}
	doc.Set(network, ContractName, dep)
	data, err := Encode(doc, d.format)
	if err != nil {
		return err
	}
	opts := blob.PutOptions{ContentType: contentType(d.format)}
	if prev != nil {
		key := d.historyPrefix() + d.now().Format(revisionLayout) + "-" + uuid.NewString()[:8]
		if _, err := d.store.Put(ctx, key, bytes.NewReader(prev), opts); err != nil {
			return fmt.Errorf("archive directory %s: %w", d.key, err)
		}
	}
	opts.Overwrite = true
	if _, err := d.store.Put(ctx, d.key, bytes.NewReader(data), opts); err != nil {
		return fmt.Errorf("write directory %s: %w", d.key, err)
	}
	d.Invalidate()
	return nil
}

// Stat returns the stored document's blob metadata: size, ETag and last
// modification time.
func (d *Directory) Stat(ctx context.Context) (blob.Info, error) {
	info, err := d.store.Head(ctx, d.key)
	if err != nil {
		return blob.Info{}, fmt.Errorf("stat directory %s: %w", d.key, err)
	}
	return info, nil
}

// DocumentURL returns a time-limited GET URL for the document. Drivers that
// cannot sign URLs fail with blob.ErrUnsupported.
func (d *Directory) DocumentURL(ctx context.Context, expiry time.Duration) (string, error) {
	if expiry <= 0 {
		expiry = DefaultURLExpiry
	}
	url, err := d.store.PresignURL(ctx, d.key, blob.SignedURLOptions{Method: "GET", Expiry: expiry})
	if err != nil {
		return "", fmt.Errorf("sign directory %s: %w", d.key, err)
	}
	return url, nil
}

// History lists archived revisions of the document, oldest first.
func (d *Directory) History(ctx context.Context) ([]blob.Info, error) {
	infos, err := d.store.List(ctx, d.historyPrefix())
	if err != nil {
		return nil, fmt.Errorf("list directory history: %w", err)
	}
	return infos, nil
}

func (d *Directory) historyPrefix() string {
	return HistoryPrefix + d.key + "/"
}

// Resolve returns the ledger deployment recorded for network. Unknown
// networks fail with a NotFoundError listing the networks that exist.
func (d *Directory) Resolve(ctx context.Context, network string) (Deployment, error) {
	doc, err := d.Load(ctx)
	if err != nil {
		return Deployment{}, err
	}
	dep, ok := doc.Lookup(network, ContractName)
	if !ok || dep.Address == "" {
		return Deployment{}, domain.NotFoundError{
			Entity:    domain.EntityDeployment,
			Key:       network,
			Available: doc.NetworkIDs(ContractName),
		}
	}
	return dep, nil
}

// Networks lists the networks with a recorded ledger deployment.
func (d *Directory) Networks(ctx context.Context) ([]string, error) {
	doc, err := d.Load(ctx)
	if err != nil {
		return nil, err
	}
	return doc.NetworkIDs(ContractName), nil
}

func contentType(f Format) string {
	switch f {
	case FormatYAML:
		return "application/yaml"
	case FormatTOML:
		return "application/toml"
	}
	return "application/json"
}
