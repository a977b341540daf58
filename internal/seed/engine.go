package seed

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vrsandeep/comicvault/internal/auth"
	"github.com/vrsandeep/comicvault/internal/media"
	"github.com/vrsandeep/comicvault/internal/models"
	"github.com/vrsandeep/comicvault/internal/store"
	"github.com/vrsandeep/comicvault/internal/util"
)

// Lookups return an error wrapping store.ErrNotFound when nothing matches.
type UserRepository interface {
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	CreateUser(ctx context.Context, u *models.User) (*models.User, error)
	UpdateUser(ctx context.Context, u *models.User) error
}

type ComicRepository interface {
	GetComicBySlug(ctx context.Context, slug string) (*models.Comic, error)
	CreateComic(ctx context.Context, c *models.Comic) (*models.Comic, error)
	UpdateComic(ctx context.Context, c *models.Comic, replaceGenres bool) error
}

type ChapterRepository interface {
	FindChapter(ctx context.Context, comicID int64, number float64, title string) (*models.Chapter, error)
	CreateChapter(ctx context.Context, ch *models.Chapter) (*models.Chapter, error)
	UpdateChapter(ctx context.Context, ch *models.Chapter, replaceImages bool) error
}

// Repositories is everything the engine persists to.
type Repositories interface {
	UserRepository
	ComicRepository
	ChapterRepository
}

// MediaFetcher resolves image references for one run.
type MediaFetcher interface {
	Fetch(ctx context.Context, req media.Request) media.Result
	FetchAll(ctx context.Context, reqs []media.Request) []media.Result
}

type PasswordHasher interface {
	Hash(password string) (string, error)
	Matches(password, hash string) bool
}

// Defaults fill storage columns the source did not provide on insert.
type Defaults struct {
	Avatar string
	Cover  string
	Page   string
	Role   string
	Status string
}

// EngineOptions configures an Engine.
type EngineOptions struct {
	Defaults Defaults
	// Thumbnail builds a cover thumbnail from a file on disk; nil disables
	// thumbnails.
	Thumbnail func(diskPath string) (string, error)
	Logger    *zap.Logger
}

// Engine upserts validated records one at a time. Each write is a single
// store transaction, and failures become error outcomes.
type Engine struct {
	repos     Repositories
	media     MediaFetcher
	hasher    PasswordHasher
	defaults  Defaults
	thumbnail func(string) (string, error)
	logger    *zap.Logger
}

func NewEngine(repos Repositories, fetcher MediaFetcher, hasher PasswordHasher, opts EngineOptions) *Engine {
	if opts.Defaults.Role == "" {
		opts.Defaults.Role = models.RoleUser
	}
	if opts.Defaults.Status == "" {
		opts.Defaults.Status = "Ongoing"
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		repos:     repos,
		media:     fetcher,
		hasher:    hasher,
		defaults:  opts.Defaults,
		thumbnail: opts.Thumbnail,
		logger:    logger.Named("engine"),
	}
}

func (e *Engine) failed(entity Entity, key string, err error) UpsertOutcome {
	e.logger.Warn("upsert failed", zap.String("entity", string(entity)), zap.String("key", key), zap.Error(err))
	return UpsertOutcome{Kind: OutcomeError, Key: key, Err: err}
}

// patch sets *dst to v and flags a change when they differ.
func patch[T comparable](dst *T, v T, changed *bool) {
	if *dst != v {
		*dst = v
		*changed = true
	}
}

func patchTime(dst **time.Time, v *time.Time, changed *bool) {
	if v == nil {
		return
	}
	if *dst == nil || !(*dst).Equal(*v) {
		t := *v
		*dst = &t
		*changed = true
	}
}

func countMedia(out *UpsertOutcome, results ...media.Result) {
	for _, r := range results {
		switch r.State {
		case media.StateDownloaded:
			out.ImagesDownloaded++
		case media.StateCached:
			out.ImagesCached++
		}
		if r.Path != "" {
			out.Media = append(out.Media, r.Path)
		}
	}
}

func userSlug(email string) string {
	local, _, _ := strings.Cut(email, "@")
	return util.SanitizePathSegment(local)
}

// UpsertUser creates or patches the user keyed by email.
func (e *Engine) UpsertUser(ctx context.Context, rec UserRecord) UpsertOutcome {
	key := rec.Email
	existing, err := e.repos.GetUserByEmail(ctx, rec.Email)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return e.failed(EntityUsers, key, err)
	}

	var avatar *media.Result
	if rec.Image != nil {
		r := e.media.Fetch(ctx, media.Request{URL: *rec.Image, Fallback: e.defaults.Avatar, Kind: "users", Slug: userSlug(rec.Email)})
		avatar = &r
	}

	if existing == nil {
		u := &models.User{
			Name:  rec.Name,
			Email: rec.Email,
			Image: e.defaults.Avatar,
			Role:  e.defaults.Role,
		}
		if avatar != nil {
			u.Image = avatar.Path
		}
		if rec.Role != nil {
			u.Role = *rec.Role
		}
		password := auth.SeedPassword(rec.Email)
		if rec.Password != nil {
			password = *rec.Password
		}
		if u.PasswordHash, err = e.hasher.Hash(password); err != nil {
			return e.failed(EntityUsers, key, fmt.Errorf("hash password: %w", err))
		}
		if rec.CreatedAt != nil {
			u.CreatedAt = *rec.CreatedAt
		}
		if rec.UpdatedAt != nil {
			u.UpdatedAt = *rec.UpdatedAt
		}
		if _, err := e.repos.CreateUser(ctx, u); err != nil {
			return e.failed(EntityUsers, key, err)
		}
		out := UpsertOutcome{Kind: OutcomeCreated, Key: key}
		if avatar != nil {
			countMedia(&out, *avatar)
		}
		return out
	}

	merged := *existing
	changed := false
	patch(&merged.Name, rec.Name, &changed)
	if rec.Role != nil {
		patch(&merged.Role, *rec.Role, &changed)
	}
	if avatar != nil {
		// A failed fetch keeps whatever image the user already has.
		if avatar.Success || merged.Image == "" {
			patch(&merged.Image, avatar.Path, &changed)
		}
	}
	if rec.Password != nil && !e.hasher.Matches(*rec.Password, existing.PasswordHash) {
		hash, err := e.hasher.Hash(*rec.Password)
		if err != nil {
			return e.failed(EntityUsers, key, fmt.Errorf("hash password: %w", err))
		}
		merged.PasswordHash = hash
		changed = true
	}
	if rec.CreatedAt != nil && !merged.CreatedAt.Equal(*rec.CreatedAt) {
		merged.CreatedAt = *rec.CreatedAt
		changed = true
	}
	if rec.UpdatedAt != nil && !merged.UpdatedAt.Equal(*rec.UpdatedAt) {
		merged.UpdatedAt = *rec.UpdatedAt
		changed = true
	}

	out := UpsertOutcome{Key: key}
	if avatar != nil {
		countMedia(&out, *avatar)
	}
	if !changed {
		out.Kind = OutcomeSkipped
		out.Reason = "unchanged"
		return out
	}
	if rec.UpdatedAt == nil {
		merged.UpdatedAt = time.Now().UTC()
	}
	if err := e.repos.UpdateUser(ctx, &merged); err != nil {
		return e.failed(EntityUsers, key, err)
	}
	out.Kind = OutcomeUpdated
	return out
}

func toPerson(p *Person) *models.Person {
	if p == nil {
		return nil
	}
	return &models.Person{Name: p.Name, Bio: p.Bio, Image: p.Image}
}

func personChanged(old *models.Person, p *Person) bool {
	if old == nil {
		return true
	}
	return old.Name != p.Name ||
		(p.Bio != "" && p.Bio != old.Bio) ||
		(p.Image != "" && p.Image != old.Image)
}

func genreNames(genres []Named) []string {
	seen := make(map[string]bool, len(genres))
	names := make([]string, 0, len(genres))
	for _, g := range genres {
		if !seen[g.Name] {
			seen[g.Name] = true
			names = append(names, g.Name)
		}
	}
	sort.Strings(names)
	return names
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (e *Engine) makeThumbnail(slug string, cover media.Result) string {
	if e.thumbnail == nil || !cover.Success || cover.DiskPath == "" {
		return ""
	}
	thumb, err := e.thumbnail(cover.DiskPath)
	if err != nil {
		e.logger.Debug("cover thumbnail failed", zap.String("slug", slug), zap.Error(err))
		return ""
	}
	return thumb
}

// UpsertComic creates or patches the comic keyed by slug. Genres are
// replaced wholesale when the record carries them.
func (e *Engine) UpsertComic(ctx context.Context, rec ComicRecord) UpsertOutcome {
	key := rec.Slug
	existing, err := e.repos.GetComicBySlug(ctx, rec.Slug)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return e.failed(EntityComics, key, err)
	}

	var cover *media.Result
	if rec.CoverImage != nil {
		r := e.media.Fetch(ctx, media.Request{URL: *rec.CoverImage, Fallback: e.defaults.Cover, Kind: "comics", Slug: rec.Slug})
		cover = &r
	}

	out := UpsertOutcome{Key: key}
	if cover != nil {
		countMedia(&out, *cover)
	}

	if existing == nil {
		c := &models.Comic{
			Title:       rec.Title,
			Slug:        rec.Slug,
			Description: rec.Description,
			CoverImage:  e.defaults.Cover,
			Status:      e.defaults.Status,
			PublishedAt: rec.PublishedAt,
			Author:      toPerson(rec.Author),
			Artist:      toPerson(rec.Artist),
		}
		if cover != nil {
			c.CoverImage = cover.Path
			c.Thumbnail = e.makeThumbnail(rec.Slug, *cover)
		}
		if rec.Rating != nil {
			c.Rating = *rec.Rating
		}
		if rec.Status != nil {
			c.Status = *rec.Status
		}
		if rec.Serialization != nil {
			c.Serialization = *rec.Serialization
		}
		if rec.Views != nil {
			c.Views = *rec.Views
		}
		if rec.Type != nil {
			c.Type = &models.ComicType{Name: rec.Type.Name, Description: rec.Type.Description}
		}
		if rec.Genres != nil {
			c.Genres = genreNames(rec.Genres)
		}
		if _, err := e.repos.CreateComic(ctx, c); err != nil {
			return e.failed(EntityComics, key, err)
		}
		out.Kind = OutcomeCreated
		return out
	}

	merged := *existing
	changed := false
	patch(&merged.Title, rec.Title, &changed)
	patch(&merged.Description, rec.Description, &changed)
	if cover != nil && (cover.Success || merged.CoverImage == "") {
		coverChanged := merged.CoverImage != cover.Path
		patch(&merged.CoverImage, cover.Path, &changed)
		if coverChanged || merged.Thumbnail == "" {
			if thumb := e.makeThumbnail(rec.Slug, *cover); thumb != "" {
				patch(&merged.Thumbnail, thumb, &changed)
			}
		}
	}
	if rec.Rating != nil {
		patch(&merged.Rating, *rec.Rating, &changed)
	}
	if rec.Status != nil {
		patch(&merged.Status, *rec.Status, &changed)
	}
	if rec.Serialization != nil {
		patch(&merged.Serialization, *rec.Serialization, &changed)
	}
	if rec.Views != nil {
		patch(&merged.Views, *rec.Views, &changed)
	}
	patchTime(&merged.PublishedAt, rec.PublishedAt, &changed)
	if rec.Author != nil && personChanged(existing.Author, rec.Author) {
		merged.Author = toPerson(rec.Author)
		changed = true
	}
	if rec.Artist != nil && personChanged(existing.Artist, rec.Artist) {
		merged.Artist = toPerson(rec.Artist)
		changed = true
	}
	if rec.Type != nil && (existing.Type == nil || existing.Type.Name != rec.Type.Name) {
		merged.Type = &models.ComicType{Name: rec.Type.Name, Description: rec.Type.Description}
		changed = true
	}
	replaceGenres := false
	if rec.Genres != nil {
		names := genreNames(rec.Genres)
		if !sameStrings(names, existing.Genres) {
			merged.Genres = names
			replaceGenres = true
			changed = true
		}
	}

	if !changed {
		out.Kind = OutcomeSkipped
		out.Reason = "unchanged"
		return out
	}
	merged.UpdatedAt = time.Now().UTC()
	if err := e.repos.UpdateComic(ctx, &merged, replaceGenres); err != nil {
		return e.failed(EntityComics, key, err)
	}
	out.Kind = OutcomeUpdated
	return out
}

// chapterAssetKey names the directory for a chapter's locally authored pages.
func chapterAssetKey(comicSlug string, rec ChapterRecord) string {
	if rec.Slug != nil {
		return comicSlug + "-" + *rec.Slug
	}
	if rec.Number > 0 {
		return comicSlug + "-" + strconv.FormatFloat(rec.Number, 'f', -1, 64)
	}
	return comicSlug + "-" + rec.Title
}

// chapterImages fetches every page and orders the results by page number,
// keeping list order for ties. A page that cannot be fetched keeps its image
// from previous when there is one, else gets the fallback.
func (e *Engine) chapterImages(ctx context.Context, comicSlug string, rec ChapterRecord, previous []models.ChapterImage, out *UpsertOutcome) []models.ChapterImage {
	assetKey := chapterAssetKey(comicSlug, rec)
	reqs := make([]media.Request, 0, len(rec.Images))
	seen := make(map[string]bool, len(rec.Images))
	for _, page := range rec.Images {
		if seen[page.URL] {
			continue
		}
		seen[page.URL] = true
		reqs = append(reqs, media.Request{URL: page.URL, Fallback: e.defaults.Page, Kind: "chapters", Slug: assetKey})
	}

	byURL := make(map[string]media.Result, len(reqs))
	results := e.media.FetchAll(ctx, reqs)
	for _, r := range results {
		byURL[r.URL] = r
	}
	countMedia(out, results...)

	stored := make(map[int]string, len(previous))
	for _, img := range previous {
		stored[img.PageNumber] = img.ImageURL
	}

	images := make([]models.ChapterImage, 0, len(rec.Images))
	for _, page := range rec.Images {
		r := byURL[page.URL]
		path := r.Path
		if !r.Success {
			if old, ok := stored[page.PageNumber]; ok {
				path = old
			}
		}
		images = append(images, models.ChapterImage{ImageURL: path, PageNumber: page.PageNumber})
	}
	sort.SliceStable(images, func(i, j int) bool { return images[i].PageNumber < images[j].PageNumber })
	return images
}

func sameImages(a, b []models.ChapterImage) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// UpsertChapter creates or patches the chapter keyed by (comic, number),
// or (comic, title) when the number is unknown. Images are replaced
// wholesale when the record carries them.
func (e *Engine) UpsertChapter(ctx context.Context, rec ChapterRecord) UpsertOutcome {
	key := rec.NaturalKey()
	if rec.Number <= 0 && strings.TrimSpace(rec.Title) == "" {
		e.logger.Info("chapter has neither number nor title, skipping", zap.String("comic", rec.Comic.Slug))
		return UpsertOutcome{Kind: OutcomeSkipped, Key: key, Reason: "no chapter number or title"}
	}
	if len(rec.DroppedPages) > 0 {
		e.logger.Info("dropped chapter pages without a url", zap.String("chapter", key), zap.Strings("pages", rec.DroppedPages))
	}

	comic, err := e.repos.GetComicBySlug(ctx, rec.Comic.Slug)
	if errors.Is(err, store.ErrNotFound) {
		return e.failed(EntityChapters, key, fmt.Errorf("comic %q is not seeded", rec.Comic.Slug))
	}
	if err != nil {
		return e.failed(EntityChapters, key, err)
	}

	existing, err := e.repos.FindChapter(ctx, comic.ID, rec.Number, rec.Title)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return e.failed(EntityChapters, key, err)
	}

	out := UpsertOutcome{Key: key}
	var images []models.ChapterImage
	if rec.Images != nil {
		var previous []models.ChapterImage
		if existing != nil {
			previous = existing.Images
		}
		images = e.chapterImages(ctx, comic.Slug, rec, previous, &out)
	}

	if existing == nil {
		ch := &models.Chapter{
			ComicID:     comic.ID,
			Number:      rec.Number,
			Title:       rec.Title,
			ReleaseDate: rec.ReleaseDate,
			Images:      images,
		}
		if rec.Slug != nil {
			ch.Slug = *rec.Slug
		}
		if rec.Views != nil {
			ch.Views = *rec.Views
		}
		if _, err := e.repos.CreateChapter(ctx, ch); err != nil {
			return e.failed(EntityChapters, key, err)
		}
		out.Kind = OutcomeCreated
		return out
	}

	merged := *existing
	changed := false
	if rec.Title != "" {
		patch(&merged.Title, rec.Title, &changed)
	}
	if rec.Slug != nil {
		patch(&merged.Slug, *rec.Slug, &changed)
	}
	if rec.Views != nil {
		patch(&merged.Views, *rec.Views, &changed)
	}
	patchTime(&merged.ReleaseDate, rec.ReleaseDate, &changed)
	replaceImages := false
	if rec.Images != nil && !sameImages(images, existing.Images) {
		merged.Images = images
		replaceImages = true
		changed = true
	}

	if !changed {
		out.Kind = OutcomeSkipped
		out.Reason = "unchanged"
		return out
	}
	merged.UpdatedAt = time.Now().UTC()
	if err := e.repos.UpdateChapter(ctx, &merged, replaceImages); err != nil {
		return e.failed(EntityChapters, key, err)
	}
	out.Kind = OutcomeUpdated
	return out
}
