package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vrsandeep/comicvault/internal/models"
	"github.com/vrsandeep/comicvault/internal/store"
	"github.com/vrsandeep/comicvault/internal/testutil"
)

func TestChapterStore(t *testing.T) {
	s := testutil.SetupTestStore(t)
	ctx := context.Background()

	comic, err := s.CreateComic(ctx, &models.Comic{Title: "One Piece", Slug: "one-piece", Status: "Ongoing"})
	require.NoError(t, err)

	ch, err := s.CreateChapter(ctx, &models.Chapter{
		ComicID: comic.ID,
		Number:  1,
		Title:   "Chapter 1: Romance Dawn",
		Images: []models.ChapterImage{
			{ImageURL: "/uploads/p2.jpg", PageNumber: 2},
			{ImageURL: "/uploads/p1.jpg", PageNumber: 1},
		},
	})
	require.NoError(t, err)

	_, err = s.CreateChapter(ctx, &models.Chapter{ComicID: comic.ID, Title: "Special"})
	require.NoError(t, err)

	t.Run("Find by number", func(t *testing.T) {
		got, err := s.FindChapter(ctx, comic.ID, 1, "ignored")
		require.NoError(t, err)
		assert.Equal(t, ch.ID, got.ID)
		require.Len(t, got.Images, 2)
		assert.Equal(t, 1, got.Images[0].PageNumber, "images come back in page order")
	})

	t.Run("Find by title when number unknown", func(t *testing.T) {
		got, err := s.FindChapter(ctx, comic.ID, 0, "Special")
		require.NoError(t, err)
		assert.Equal(t, "Special", got.Title)
		assert.Empty(t, got.Images)
	})

	t.Run("Missing", func(t *testing.T) {
		_, err := s.FindChapter(ctx, comic.ID, 99, "")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("Update replaces images when asked", func(t *testing.T) {
		got, _ := s.FindChapter(ctx, comic.ID, 1, "")
		got.Views = 10
		got.Images = []models.ChapterImage{{ImageURL: "/uploads/new.jpg", PageNumber: 1}}
		require.NoError(t, s.UpdateChapter(ctx, got, false))

		after, _ := s.FindChapter(ctx, comic.ID, 1, "")
		assert.Equal(t, int64(10), after.Views)
		assert.Len(t, after.Images, 2)

		require.NoError(t, s.UpdateChapter(ctx, got, true))
		after, _ = s.FindChapter(ctx, comic.ID, 1, "")
		assert.Equal(t, []models.ChapterImage{{ImageURL: "/uploads/new.jpg", PageNumber: 1}}, after.Images)
	})

	chapters, err := s.ListChapters(ctx, comic.ID)
	require.NoError(t, err)
	require.Len(t, chapters, 2)
	assert.Equal(t, "Special", chapters[0].Title, "unknown-number chapters sort first")
}
