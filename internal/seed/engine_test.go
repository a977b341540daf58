package seed_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"github.com/vrsandeep/comicvault/internal/auth"
	"github.com/vrsandeep/comicvault/internal/media"
	"github.com/vrsandeep/comicvault/internal/models"
	"github.com/vrsandeep/comicvault/internal/seed"
	"github.com/vrsandeep/comicvault/internal/store"
	"github.com/vrsandeep/comicvault/internal/testutil"
)

const (
	defaultAvatar = "/images/default-avatar.png"
	defaultCover  = "/images/default-cover.jpg"
	defaultPage   = "/images/default-page.jpg"
)

func ptr[T any](v T) *T { return &v }

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 6))
	for x := 0; x < 4; x++ {
		for y := 0; y < 6; y++ {
			img.Set(x, y, color.RGBA{R: 200, G: uint8(x * 40), B: uint8(y * 30), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type fixture struct {
	engine *seed.Engine
	store  *store.Store
	srv    *httptest.Server
}

// newMediaServer serves a small PNG everywhere except /missing/ (404) and
// /huge/ (larger than the 1 KiB test ceiling).
func newMediaServer(t *testing.T) *httptest.Server {
	img := pngBytes(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/missing/"):
			http.NotFound(w, r)
		case strings.HasPrefix(r.URL.Path, "/huge/"):
			w.Write(bytes.Repeat([]byte("x"), 4096))
		default:
			w.Header().Set("Content-Type", "image/png")
			w.Write(img)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestMediaManager(t *testing.T) *media.Manager {
	return media.NewManager(media.NewResolver(t.TempDir(), "uploads"), media.Options{
		Enabled:        true,
		Concurrency:    2,
		Timeout:        2 * time.Second,
		Retries:        1,
		BackoffInitial: time.Millisecond,
		MaxBytes:       1024,
	}, zaptest.NewLogger(t))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := testutil.SetupTestStore(t)
	engine := seed.NewEngine(st, newTestMediaManager(t).NewSession(), auth.Hasher{Cost: bcrypt.MinCost}, seed.EngineOptions{
		Defaults:  seed.Defaults{Avatar: defaultAvatar, Cover: defaultCover, Page: defaultPage},
		Thumbnail: media.ThumbnailFromFile,
		Logger:    zaptest.NewLogger(t),
	})
	return &fixture{engine: engine, store: st, srv: newMediaServer(t)}
}

func (f *fixture) url(path string) *string { return ptr(f.srv.URL + path) }

func TestUpsertUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ann := seed.UserRecord{Name: "Ann", Email: "ann@example.com", Image: f.url("/avatars/ann.png")}

	out := f.engine.UpsertUser(ctx, ann)
	require.Equal(t, seed.OutcomeCreated, out.Kind, out.Err)
	assert.Equal(t, 1, out.ImagesDownloaded)

	u, err := f.store.GetUserByEmail(ctx, "ann@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.RoleUser, u.Role)
	assert.True(t, strings.HasPrefix(u.Image, "/uploads/"), u.Image)
	assert.True(t, auth.CheckPasswordHash(auth.SeedPassword("ann@example.com"), u.PasswordHash))
	avatar := u.Image

	t.Run("identical record is skipped", func(t *testing.T) {
		out := f.engine.UpsertUser(ctx, ann)
		assert.Equal(t, seed.OutcomeSkipped, out.Kind)
		assert.Equal(t, "unchanged", out.Reason)
		assert.Equal(t, 1, out.ImagesCached)
	})

	t.Run("role survives a record without one", func(t *testing.T) {
		out := f.engine.UpsertUser(ctx, seed.UserRecord{Name: "Ann", Email: "ann@example.com", Role: ptr(models.RoleAdmin)})
		require.Equal(t, seed.OutcomeUpdated, out.Kind, out.Err)

		out = f.engine.UpsertUser(ctx, seed.UserRecord{Name: "Ann Smith", Email: "ann@example.com"})
		require.Equal(t, seed.OutcomeUpdated, out.Kind, out.Err)

		u, err := f.store.GetUserByEmail(ctx, "ann@example.com")
		require.NoError(t, err)
		assert.Equal(t, "Ann Smith", u.Name)
		assert.Equal(t, models.RoleAdmin, u.Role)
		assert.Equal(t, avatar, u.Image)
	})

	t.Run("password changes only when it differs", func(t *testing.T) {
		rec := seed.UserRecord{Name: "Ann Smith", Email: "ann@example.com", Password: ptr("hunter22")}
		out := f.engine.UpsertUser(ctx, rec)
		require.Equal(t, seed.OutcomeUpdated, out.Kind, out.Err)
		u, _ := f.store.GetUserByEmail(ctx, "ann@example.com")
		assert.True(t, auth.CheckPasswordHash("hunter22", u.PasswordHash))

		out = f.engine.UpsertUser(ctx, rec)
		assert.Equal(t, seed.OutcomeSkipped, out.Kind)
	})

	t.Run("failed avatar keeps the existing image", func(t *testing.T) {
		out := f.engine.UpsertUser(ctx, seed.UserRecord{Name: "Ann Smith", Email: "ann@example.com", Image: f.url("/missing/ann.png")})
		assert.Equal(t, seed.OutcomeSkipped, out.Kind)
		u, _ := f.store.GetUserByEmail(ctx, "ann@example.com")
		assert.Equal(t, avatar, u.Image)
	})

	t.Run("failed avatar on insert uses the default", func(t *testing.T) {
		out := f.engine.UpsertUser(ctx, seed.UserRecord{Name: "Bo", Email: "bo@example.com", Image: f.url("/missing/bo.png")})
		require.Equal(t, seed.OutcomeCreated, out.Kind, out.Err)
		u, _ := f.store.GetUserByEmail(ctx, "bo@example.com")
		assert.Equal(t, defaultAvatar, u.Image)
	})
}

func onePiece(f *fixture) seed.ComicRecord {
	return seed.ComicRecord{
		Title:       "One Piece",
		Slug:        "one-piece",
		Description: "Pirates looking for treasure.",
		CoverImage:  f.url("/covers/one-piece.png"),
		Author:      &seed.Person{Name: "Eiichiro Oda"},
		Type:        &seed.Named{Name: "Manga"},
		Genres:      []seed.Named{{Name: "Adventure"}, {Name: "Action"}},
	}
}

func TestUpsertComic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := onePiece(f)

	out := f.engine.UpsertComic(ctx, rec)
	require.Equal(t, seed.OutcomeCreated, out.Kind, out.Err)
	assert.Equal(t, 1, out.ImagesDownloaded)

	c, err := f.store.GetComicBySlug(ctx, "one-piece")
	require.NoError(t, err)
	assert.Equal(t, "Ongoing", c.Status)
	assert.Equal(t, []string{"Action", "Adventure"}, c.Genres)
	assert.True(t, strings.HasPrefix(c.CoverImage, "/uploads/"), c.CoverImage)
	assert.True(t, strings.HasPrefix(c.Thumbnail, "data:image/jpeg;base64,"))
	require.NotNil(t, c.Author)
	assert.Equal(t, "Eiichiro Oda", c.Author.Name)
	cover := c.CoverImage

	t.Run("re-seeding is idempotent", func(t *testing.T) {
		out := f.engine.UpsertComic(ctx, rec)
		assert.Equal(t, seed.OutcomeSkipped, out.Kind)
		assert.Equal(t, 1, out.ImagesCached)
	})

	t.Run("absent genres are left alone", func(t *testing.T) {
		patched := rec
		patched.Genres = nil
		patched.Rating = ptr(9.5)
		out := f.engine.UpsertComic(ctx, patched)
		require.Equal(t, seed.OutcomeUpdated, out.Kind, out.Err)

		c, _ := f.store.GetComicBySlug(ctx, "one-piece")
		assert.Equal(t, 9.5, c.Rating)
		assert.Equal(t, []string{"Action", "Adventure"}, c.Genres)
	})

	t.Run("present genres replace stored ones", func(t *testing.T) {
		patched := rec
		patched.Genres = []seed.Named{{Name: "Comedy"}}
		out := f.engine.UpsertComic(ctx, patched)
		require.Equal(t, seed.OutcomeUpdated, out.Kind, out.Err)

		c, _ := f.store.GetComicBySlug(ctx, "one-piece")
		assert.Equal(t, []string{"Comedy"}, c.Genres)
		assert.Equal(t, 9.5, c.Rating)
	})

	t.Run("failed cover keeps the existing one", func(t *testing.T) {
		patched := rec
		patched.Genres = []seed.Named{{Name: "Comedy"}}
		patched.CoverImage = f.url("/missing/cover.png")
		out := f.engine.UpsertComic(ctx, patched)
		assert.Equal(t, seed.OutcomeSkipped, out.Kind, out.Err)

		c, _ := f.store.GetComicBySlug(ctx, "one-piece")
		assert.Equal(t, cover, c.CoverImage)
	})

	t.Run("failed cover on insert uses the default", func(t *testing.T) {
		out := f.engine.UpsertComic(ctx, seed.ComicRecord{
			Title:       "Berserk",
			Slug:        "berserk",
			Description: "A swordsman and his struggle.",
			CoverImage:  f.url("/missing/berserk.png"),
		})
		require.Equal(t, seed.OutcomeCreated, out.Kind, out.Err)
		c, _ := f.store.GetComicBySlug(ctx, "berserk")
		assert.Equal(t, defaultCover, c.CoverImage)
		assert.Empty(t, c.Thumbnail)
	})
}

func TestUpsertChapter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	comic := onePiece(f)
	comic.CoverImage = nil
	require.Equal(t, seed.OutcomeCreated, f.engine.UpsertComic(ctx, comic).Kind)
	stored, err := f.store.GetComicBySlug(ctx, "one-piece")
	require.NoError(t, err)
	ref := seed.ComicRef{Title: "One Piece", Slug: "one-piece"}

	t.Run("missing comic is an error", func(t *testing.T) {
		out := f.engine.UpsertChapter(ctx, seed.ChapterRecord{Comic: seed.ComicRef{Title: "Nope", Slug: "nope"}, Number: 1})
		assert.Equal(t, seed.OutcomeError, out.Kind)
		assert.ErrorContains(t, out.Err, "not seeded")
	})

	t.Run("no number and no title is skipped", func(t *testing.T) {
		out := f.engine.UpsertChapter(ctx, seed.ChapterRecord{Comic: ref})
		assert.Equal(t, seed.OutcomeSkipped, out.Kind)
		assert.Equal(t, "no chapter number or title", out.Reason)
	})

	t.Run("numbered chapter with pages", func(t *testing.T) {
		rec := seed.ChapterRecord{
			Comic:  ref,
			Number: 42,
			Title:  "Chapter 42",
			Images: []seed.PageRef{
				{URL: *f.url("/pages/b.png"), PageNumber: 2},
				{URL: *f.url("/pages/a.png"), PageNumber: 1},
			},
		}
		out := f.engine.UpsertChapter(ctx, rec)
		require.Equal(t, seed.OutcomeCreated, out.Kind, out.Err)
		assert.Equal(t, 2, out.ImagesDownloaded)

		ch, err := f.store.FindChapter(ctx, stored.ID, 42, "")
		require.NoError(t, err)
		require.Len(t, ch.Images, 2)
		assert.Equal(t, 1, ch.Images[0].PageNumber)
		assert.Equal(t, 2, ch.Images[1].PageNumber)
		assert.NotEqual(t, ch.Images[0].ImageURL, ch.Images[1].ImageURL)

		out = f.engine.UpsertChapter(ctx, rec)
		assert.Equal(t, seed.OutcomeSkipped, out.Kind)
		assert.Equal(t, 2, out.ImagesCached)

		rec.Title = "Chapter 42: Return"
		out = f.engine.UpsertChapter(ctx, rec)
		assert.Equal(t, seed.OutcomeUpdated, out.Kind)
	})

	t.Run("unnumbered chapters are keyed by title", func(t *testing.T) {
		require.Equal(t, seed.OutcomeCreated, f.engine.UpsertChapter(ctx, seed.ChapterRecord{Comic: ref, Title: "Prologue"}).Kind)
		require.Equal(t, seed.OutcomeCreated, f.engine.UpsertChapter(ctx, seed.ChapterRecord{Comic: ref, Title: "Extra"}).Kind)

		out := f.engine.UpsertChapter(ctx, seed.ChapterRecord{Comic: ref, Title: "Prologue", Views: ptr(int64(10))})
		assert.Equal(t, seed.OutcomeUpdated, out.Kind)

		chapters, err := f.store.ListChapters(ctx, stored.ID)
		require.NoError(t, err)
		assert.Len(t, chapters, 3)
	})

	t.Run("failed pages keep stored images", func(t *testing.T) {
		rec := seed.ChapterRecord{
			Comic:  ref,
			Number: 44,
			Images: []seed.PageRef{{URL: *f.url("/pages/44-1.png"), PageNumber: 1}},
		}
		require.Equal(t, seed.OutcomeCreated, f.engine.UpsertChapter(ctx, rec).Kind)
		before, err := f.store.FindChapter(ctx, stored.ID, 44, "")
		require.NoError(t, err)
		require.Len(t, before.Images, 1)

		rec.Images = []seed.PageRef{{URL: *f.url("/missing/44-1.png"), PageNumber: 1}}
		out := f.engine.UpsertChapter(ctx, rec)
		assert.Equal(t, seed.OutcomeSkipped, out.Kind)

		rec.Images = append(rec.Images, seed.PageRef{URL: *f.url("/pages/44-2.png"), PageNumber: 2})
		out = f.engine.UpsertChapter(ctx, rec)
		assert.Equal(t, seed.OutcomeUpdated, out.Kind)

		after, err := f.store.FindChapter(ctx, stored.ID, 44, "")
		require.NoError(t, err)
		require.Len(t, after.Images, 2)
		assert.Equal(t, before.Images[0].ImageURL, after.Images[0].ImageURL)
		assert.NotEqual(t, defaultPage, after.Images[1].ImageURL)
	})

	t.Run("oversized page falls back", func(t *testing.T) {
		out := f.engine.UpsertChapter(ctx, seed.ChapterRecord{
			Comic:  ref,
			Number: 43,
			Images: []seed.PageRef{{URL: *f.url("/huge/page.png"), PageNumber: 1}},
		})
		require.Equal(t, seed.OutcomeCreated, out.Kind, out.Err)
		assert.Equal(t, 0, out.ImagesDownloaded)

		ch, err := f.store.FindChapter(ctx, stored.ID, 43, "")
		require.NoError(t, err)
		require.Len(t, ch.Images, 1)
		assert.Equal(t, defaultPage, ch.Images[0].ImageURL)
	})
}

func TestUpsertChapter_ReseedWithDownloadsDisabled(t *testing.T) {
	ctx := context.Background()
	st := testutil.SetupTestStore(t)
	srv := newMediaServer(t)
	root := t.TempDir()
	newEngine := func(enabled bool) *seed.Engine {
		mgr := media.NewManager(media.NewResolver(root, "uploads"), media.Options{
			Enabled:        enabled,
			Concurrency:    2,
			Timeout:        2 * time.Second,
			Retries:        1,
			BackoffInitial: time.Millisecond,
			MaxBytes:       1024,
		}, zaptest.NewLogger(t))
		return seed.NewEngine(st, mgr.NewSession(), auth.Hasher{Cost: bcrypt.MinCost}, seed.EngineOptions{
			Defaults: seed.Defaults{Avatar: defaultAvatar, Cover: defaultCover, Page: defaultPage},
			Logger:   zaptest.NewLogger(t),
		})
	}

	comic := seed.ComicRecord{
		Title:       "One Piece",
		Slug:        "one-piece",
		Description: "Pirates looking for treasure.",
		CoverImage:  ptr(srv.URL + "/covers/one-piece.png"),
	}
	chapter := seed.ChapterRecord{
		Comic:  seed.ComicRef{Title: "One Piece", Slug: "one-piece"},
		Number: 1,
		Images: []seed.PageRef{
			{URL: srv.URL + "/pages/1.png", PageNumber: 1},
			{URL: srv.URL + "/pages/2.png", PageNumber: 2},
		},
	}

	online := newEngine(true)
	require.Equal(t, seed.OutcomeCreated, online.UpsertComic(ctx, comic).Kind)
	require.Equal(t, seed.OutcomeCreated, online.UpsertChapter(ctx, chapter).Kind)
	c, err := st.GetComicBySlug(ctx, "one-piece")
	require.NoError(t, err)
	before, err := st.FindChapter(ctx, c.ID, 1, "")
	require.NoError(t, err)

	offline := newEngine(false)
	assert.Equal(t, seed.OutcomeSkipped, offline.UpsertComic(ctx, comic).Kind)
	out := offline.UpsertChapter(ctx, chapter)
	assert.Equal(t, seed.OutcomeSkipped, out.Kind)
	assert.Equal(t, 2, out.ImagesCached)

	after, err := st.FindChapter(ctx, c.ID, 1, "")
	require.NoError(t, err)
	assert.Equal(t, before.Images, after.Images)
	for _, img := range after.Images {
		assert.True(t, strings.HasPrefix(img.ImageURL, "/uploads/"), img.ImageURL)
	}
}
