package seed_test

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrsandeep/comicvault/internal/seed"
)

func raw(t *testing.T, s string) seed.RawRecord {
	t.Helper()
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var r seed.RawRecord
	require.NoError(t, dec.Decode(&r))
	return r
}

func violations(t *testing.T, err error) map[string]string {
	t.Helper()
	var verr *seed.ValidationError
	require.ErrorAs(t, err, &verr)
	out := make(map[string]string, len(verr.Violations))
	for _, v := range verr.Violations {
		out[v.Field] = v.Message
	}
	return out
}

func TestValidateUser(t *testing.T) {
	t.Run("normalises accepted fields", func(t *testing.T) {
		rec, err := seed.ValidateUser(raw(t, `{
			"name": " Ann ",
			"email": "ANN@Example.com",
			"role": "ADMIN",
			"avatar": "https://cdn.example.com/a.png",
			"createdAt": {"$date": "2024-01-02T03:04:05Z"}
		}`))
		require.NoError(t, err)
		assert.Equal(t, "Ann", rec.Name)
		assert.Equal(t, "ann@example.com", rec.Email)
		require.NotNil(t, rec.Role)
		assert.Equal(t, "admin", *rec.Role)
		require.NotNil(t, rec.Image)
		assert.Equal(t, "https://cdn.example.com/a.png", *rec.Image)
		require.NotNil(t, rec.CreatedAt)
		assert.True(t, rec.CreatedAt.Equal(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)))
		assert.Nil(t, rec.Password)
		assert.Nil(t, rec.UpdatedAt)
	})

	t.Run("collects every violation", func(t *testing.T) {
		_, err := seed.ValidateUser(raw(t, `{"email": "not-an-email", "role": "root", "password": "abc"}`))
		v := violations(t, err)
		assert.Equal(t, "is required", v["name"])
		assert.Equal(t, "must be a valid email address", v["email"])
		assert.Equal(t, "must be one of: user, admin", v["role"])
		assert.Equal(t, "must be at least 6 characters", v["password"])
		assert.Contains(t, err.Error(), "name: is required")
		assert.Contains(t, err.Error(), "; ")
	})

	t.Run("rejects uncoercible types", func(t *testing.T) {
		_, err := seed.ValidateUser(raw(t, `{"name": ["x"], "email": "a@b.co", "createdAt": "yesterday"}`))
		v := violations(t, err)
		assert.Equal(t, "must be a string", v["name"])
		assert.Equal(t, "must be a date", v["createdAt"])
	})
}

func TestValidateComic(t *testing.T) {
	t.Run("accepts loose shapes", func(t *testing.T) {
		rec, err := seed.ValidateComic(raw(t, `{
			"title": "One Piece",
			"slug": "One-Piece",
			"description": "<p>Pirates &amp; <b>treasure</b> hunting.</p>",
			"rating": "9.5",
			"status": "completed",
			"views": {"$numberLong": "1200"},
			"author": "Eiichiro Oda",
			"artist": {"name": "Eiichiro Oda", "bio": "Mangaka", "twitter": "@oda"},
			"type": "Manga",
			"genres": "Action, Adventure"
		}`))
		require.NoError(t, err)
		assert.Equal(t, "one-piece", rec.Slug)
		assert.Equal(t, "Pirates & treasure hunting.", rec.Description)
		require.NotNil(t, rec.Rating)
		assert.Equal(t, 9.5, *rec.Rating)
		require.NotNil(t, rec.Status)
		assert.Equal(t, "Completed", *rec.Status)
		require.NotNil(t, rec.Views)
		assert.EqualValues(t, 1200, *rec.Views)
		require.NotNil(t, rec.Author)
		assert.Equal(t, "Eiichiro Oda", rec.Author.Name)
		require.NotNil(t, rec.Artist)
		assert.Equal(t, "Mangaka", rec.Artist.Bio)
		assert.Equal(t, "@oda", rec.Artist.Extra["twitter"])
		require.NotNil(t, rec.Type)
		assert.Equal(t, "Manga", rec.Type.Name)
		require.Len(t, rec.Genres, 2)
		assert.Equal(t, "Adventure", rec.Genres[1].Name)
	})

	t.Run("absent genres stay nil, empty list clears", func(t *testing.T) {
		rec, err := seed.ValidateComic(raw(t, `{"title": "T", "slug": "t", "description": "long enough text"}`))
		require.NoError(t, err)
		assert.Nil(t, rec.Genres)

		rec, err = seed.ValidateComic(raw(t, `{"title": "T", "slug": "t", "description": "long enough text", "genres": []}`))
		require.NoError(t, err)
		assert.NotNil(t, rec.Genres)
		assert.Empty(t, rec.Genres)
	})

	t.Run("rejects bad values", func(t *testing.T) {
		_, err := seed.ValidateComic(raw(t, `{
			"title": "Bad",
			"slug": "bad slug!",
			"description": "short",
			"rating": 11,
			"status": "Paused",
			"views": -1,
			"genres": [{"description": "nameless"}]
		}`))
		v := violations(t, err)
		assert.Equal(t, "must contain only lowercase letters, digits and hyphens", v["slug"])
		assert.Equal(t, "must be at least 10 characters", v["description"])
		assert.Equal(t, "must be <= 10", v["rating"])
		assert.Equal(t, "must be one of: Ongoing, Completed, Hiatus, Cancelled", v["status"])
		assert.Equal(t, "must be >= 0", v["views"])
	})

	t.Run("non-numeric rating reported once", func(t *testing.T) {
		_, err := seed.ValidateComic(raw(t, `{"title": "T", "slug": "t", "description": "long enough text", "rating": "great"}`))
		v := violations(t, err)
		assert.Len(t, v, 1)
		assert.Equal(t, "must be a number", v["rating"])
	})
}

func TestValidateChapter(t *testing.T) {
	t.Run("number from title", func(t *testing.T) {
		rec, err := seed.ValidateChapter(raw(t, `{
			"comic": {"title": "One Piece", "slug": "one-piece"},
			"name": "Chapter 42: Return",
			"images": ["https://cdn.example.com/1.jpg", {"url": "https://cdn.example.com/2.jpg", "pageNumber": 5}]
		}`))
		require.NoError(t, err)
		assert.Equal(t, 42.0, rec.Number)
		assert.Equal(t, "Chapter 42: Return", rec.Title)
		require.Len(t, rec.Images, 2)
		assert.Equal(t, 1, rec.Images[0].PageNumber)
		assert.Equal(t, 5, rec.Images[1].PageNumber)
		assert.Equal(t, "one-piece#42", rec.NaturalKey())
	})

	t.Run("explicit number wins", func(t *testing.T) {
		rec, err := seed.ValidateChapter(raw(t, `{"comic": {"title": "A", "slug": "a"}, "title": "Chapter 9", "chapterNumber": 10.5}`))
		require.NoError(t, err)
		assert.Equal(t, 10.5, rec.Number)
	})

	t.Run("unknown number is zero", func(t *testing.T) {
		rec, err := seed.ValidateChapter(raw(t, `{"comic": {"title": "A", "slug": "a"}, "title": "Prologue"}`))
		require.NoError(t, err)
		assert.Equal(t, 0.0, rec.Number)
	})

	t.Run("comic reference required", func(t *testing.T) {
		_, err := seed.ValidateChapter(raw(t, `{"title": "Prologue", "chapterNumber": -1, "images": [{"pageNumber": 1}]}`))
		v := violations(t, err)
		assert.Equal(t, "is required", v["comic.title"])
		assert.Equal(t, "is required", v["comic.slug"])
		assert.Equal(t, "must be >= 0", v["chapterNumber"])
		assert.NotContains(t, v, "images[0].url")
	})

	t.Run("pages without a url are dropped", func(t *testing.T) {
		rec, err := seed.ValidateChapter(raw(t, `{
			"comic": {"title": "A", "slug": "a"},
			"chapterNumber": 3,
			"images": [{"pageNumber": 1}, {"url": "https://cdn.example.com/2.jpg", "pageNumber": 2}, "  "]
		}`))
		require.NoError(t, err)
		require.Len(t, rec.Images, 1)
		assert.Equal(t, 2, rec.Images[0].PageNumber)
		assert.Equal(t, []string{"images[0]: no url", "images[2]: no url"}, rec.DroppedPages)

		rec, err = seed.ValidateChapter(raw(t, `{"comic": {"title": "A", "slug": "a"}, "chapterNumber": 3, "images": [{"pageNumber": 1}]}`))
		require.NoError(t, err)
		assert.Nil(t, rec.Images, "a list with no usable page does not replace stored pages")
		assert.Len(t, rec.DroppedPages, 1)
	})
}
