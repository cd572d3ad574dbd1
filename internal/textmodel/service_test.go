package textmodel

import (
	"context"
	"crypto/sha1" //nolint:gosec // mirrors the label digest
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/spider-emissaries/internal/emissary"
	"github.com/JakeFAU/spider-emissaries/internal/hash/digest"
	"github.com/JakeFAU/spider-emissaries/internal/markov"
	"github.com/JakeFAU/spider-emissaries/internal/storage/memory"
)

const (
	firstPage  = "p q r s t u v w"
	secondPage = "h i j s k l m n"
)

type fakeScraper struct {
	mu    sync.Mutex
	pages map[string]string
	err   error
	calls []string
}

func (f *fakeScraper) Scrape(_ context.Context, url string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	if f.err != nil {
		return "", f.err
	}
	return f.pages[url], nil
}

func (f *fakeScraper) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type failingArchive struct{}

func (failingArchive) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("bucket unavailable")
}

type racingStore struct {
	*memory.Store
}

func (r racingStore) PutModel(context.Context, string, []byte) error {
	return emissary.ErrModelExists
}

func sha1Hex(s string) string {
	sum := sha1.Sum([]byte(s)) //nolint:gosec // test mirror
	return hex.EncodeToString(sum[:])
}

type fixture struct {
	svc     *Service
	store   *memory.Store
	scraper *fakeScraper
	blobs   *memory.BlobStore
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	hasher, err := digest.New(digest.SHA1)
	require.NoError(t, err)
	store := memory.NewStore()
	scraper := &fakeScraper{pages: map[string]string{
		"https://one.test":   firstPage,
		"https://two.test":   secondPage,
		"https://empty.test": "(nothing) [usable]",
	}}
	blobs := memory.NewBlobStore()
	svc, err := New(Config{StateSize: 1, SentenceTries: 200, ArchivePrefix: "models"}, Deps{
		Store:   store,
		Scraper: scraper,
		Hasher:  hasher,
		Archive: blobs,
	})
	require.NoError(t, err)
	return fixture{svc: svc, store: store, scraper: scraper, blobs: blobs}
}

func TestNewRequiresDeps(t *testing.T) {
	t.Parallel()

	hasher, err := digest.New(digest.SHA1)
	require.NoError(t, err)
	_, err = New(Config{}, Deps{Scraper: &fakeScraper{}, Hasher: hasher})
	require.Error(t, err)
	_, err = New(Config{}, Deps{Store: memory.NewStore(), Hasher: hasher})
	require.Error(t, err)
	_, err = New(Config{}, Deps{Store: memory.NewStore(), Scraper: &fakeScraper{}})
	require.Error(t, err)
}

func TestDeriveLabelIsDeterministic(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	root, err := f.svc.DeriveLabel("", "https://one.test")
	require.NoError(t, err)
	require.Equal(t, sha1Hex("https://one.test"), root)

	again, err := f.svc.DeriveLabel("", "https://one.test")
	require.NoError(t, err)
	require.Equal(t, root, again)

	child, err := f.svc.DeriveLabel(root, "https://two.test")
	require.NoError(t, err)
	require.Equal(t, sha1Hex(root+"https://two.test"), child)
	require.NotEqual(t, root, child)
}

func TestGetOrCreateStoresAndReuses(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	label, created, err := f.svc.GetOrCreate(ctx, "", "https://one.test")
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, sha1Hex("https://one.test"), label)

	data, err := f.store.GetModel(ctx, label)
	require.NoError(t, err)
	model, err := markov.FromJSON(data)
	require.NoError(t, err)
	require.Equal(t, 1, model.StateSize())

	obj, err := f.blobs.Object("models/" + label + ".json")
	require.NoError(t, err)
	require.Equal(t, "application/json", obj.ContentType)
	require.JSONEq(t, string(data), string(obj.Data))

	again, created, err := f.svc.GetOrCreate(ctx, "", "https://one.test")
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, label, again)
	require.Equal(t, 1, f.scraper.callCount(), "existing labels are not scraped again")
}

func TestGetOrCreateCombinesWithParent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	parent, _, err := f.svc.GetOrCreate(ctx, "", "https://one.test")
	require.NoError(t, err)

	// A single sentence model can only repeat itself.
	sentence, err := f.svc.GenerateSentence(ctx, parent)
	require.NoError(t, err)
	require.Empty(t, sentence)

	child, created, err := f.svc.GetOrCreate(ctx, parent, "https://two.test")
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, sha1Hex(parent+"https://two.test"), child)

	data, err := f.store.GetModel(ctx, child)
	require.NoError(t, err)
	model, err := markov.FromJSON(data)
	require.NoError(t, err)
	require.Equal(t, 2, model.SentenceCount())

	sentence, err = f.svc.GenerateSentence(ctx, child)
	require.NoError(t, err)
	require.Contains(t, []string{"p q r s k l m n", "h i j s t u v w"}, sentence)
}

func TestGetOrCreateErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("missing url", func(t *testing.T) {
		f := newFixture(t)
		_, _, err := f.svc.GetOrCreate(ctx, "", "")
		require.ErrorIs(t, err, ErrMissingURL)
	})

	t.Run("unknown parent is checked before scraping", func(t *testing.T) {
		f := newFixture(t)
		_, _, err := f.svc.GetOrCreate(ctx, "deadbeef", "https://one.test")
		require.ErrorIs(t, err, ErrParentNotFound)
		require.Zero(t, f.scraper.callCount())
	})

	t.Run("scrape failure", func(t *testing.T) {
		f := newFixture(t)
		f.scraper.err = errors.New("dial tcp: refused")
		_, _, err := f.svc.GetOrCreate(ctx, "", "https://one.test")
		var scrapeErr *ScrapeError
		require.ErrorAs(t, err, &scrapeErr)
		require.Equal(t, "https://one.test", scrapeErr.URL)
		require.True(t, strings.Contains(err.Error(), "refused"))
	})

	t.Run("empty corpus", func(t *testing.T) {
		f := newFixture(t)
		_, _, err := f.svc.GetOrCreate(ctx, "", "https://empty.test")
		require.ErrorIs(t, err, markov.ErrEmptyCorpus)
		require.Empty(t, f.blobs.Paths())
	})
}

func TestGetOrCreateToleratesConcurrentWrite(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	hasher, err := digest.New(digest.SHA1)
	require.NoError(t, err)
	svc, err := New(Config{StateSize: 1}, Deps{
		Store:   racingStore{Store: f.store},
		Scraper: f.scraper,
		Hasher:  hasher,
	})
	require.NoError(t, err)

	label, created, err := svc.GetOrCreate(context.Background(), "", "https://one.test")
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, sha1Hex("https://one.test"), label)
}

func TestArchiveFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	hasher, err := digest.New(digest.SHA256)
	require.NoError(t, err)
	svc, err := New(Config{StateSize: 1}, Deps{
		Store:   memory.NewStore(),
		Scraper: &fakeScraper{pages: map[string]string{"https://one.test": firstPage}},
		Hasher:  hasher,
		Archive: failingArchive{},
	})
	require.NoError(t, err)

	label, created, err := svc.GetOrCreate(context.Background(), "", "https://one.test")
	require.NoError(t, err)
	require.True(t, created)
	require.Len(t, label, 64)
}

func TestGenerateSentenceErrors(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.svc.GenerateSentence(context.Background(), "")
	require.ErrorIs(t, err, ErrMissingLabel)

	_, err = f.svc.GenerateSentence(context.Background(), "unknown")
	require.ErrorIs(t, err, emissary.ErrNotFound)
}
