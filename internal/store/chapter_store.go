package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vrsandeep/comicvault/internal/models"
)

const chapterColumns = "id, comic_id, chapter_number, title, slug, release_date, views, created_at, updated_at"

func scanChapter(row interface{ Scan(...any) error }) (*models.Chapter, error) {
	var ch models.Chapter
	var release sql.NullTime
	if err := row.Scan(&ch.ID, &ch.ComicID, &ch.Number, &ch.Title, &ch.Slug, &release, &ch.Views, &ch.CreatedAt, &ch.UpdatedAt); err != nil {
		return nil, err
	}
	ch.ReleaseDate = timePtr(release)
	return &ch, nil
}

// FindChapter looks a chapter up by its natural key: the chapter number when
// it is known (> 0), otherwise the title.
func (s *Store) FindChapter(ctx context.Context, comicID int64, number float64, title string) (*models.Chapter, error) {
	var row *sql.Row
	if number > 0 {
		row = s.db.QueryRowContext(ctx,
			"SELECT "+chapterColumns+" FROM chapters WHERE comic_id = ? AND chapter_number = ?", comicID, number)
	} else {
		row = s.db.QueryRowContext(ctx,
			"SELECT "+chapterColumns+" FROM chapters WHERE comic_id = ? AND title = ? ORDER BY id LIMIT 1", comicID, title)
	}
	ch, err := scanChapter(row)
	if err != nil {
		return nil, notFound(err, "chapter")
	}
	if ch.Images, err = s.ChapterImages(ctx, ch.ID); err != nil {
		return nil, err
	}
	return ch, nil
}

// ListChapters returns a comic's chapters ordered by number then title,
// without images.
func (s *Store) ListChapters(ctx context.Context, comicID int64) ([]*models.Chapter, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+chapterColumns+" FROM chapters WHERE comic_id = ? ORDER BY chapter_number ASC, title ASC", comicID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chapters []*models.Chapter
	for rows.Next() {
		ch, err := scanChapter(rows)
		if err != nil {
			return nil, err
		}
		chapters = append(chapters, ch)
	}
	return chapters, rows.Err()
}

// ChapterImages returns a chapter's pages in reading order.
func (s *Store) ChapterImages(ctx context.Context, chapterID int64) ([]models.ChapterImage, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT image_url, page_number FROM chapter_images WHERE chapter_id = ? ORDER BY page_number ASC, id ASC", chapterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var images []models.ChapterImage
	for rows.Next() {
		var img models.ChapterImage
		if err := rows.Scan(&img.ImageURL, &img.PageNumber); err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, rows.Err()
}

// CreateChapter inserts a chapter together with its images.
func (s *Store) CreateChapter(ctx context.Context, ch *models.Chapter) (*models.Chapter, error) {
	created := *ch
	if created.CreatedAt.IsZero() {
		created.CreatedAt = time.Now().UTC()
	}
	if created.UpdatedAt.IsZero() {
		created.UpdatedAt = created.CreatedAt
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO chapters (comic_id, chapter_number, title, slug, release_date, views, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			created.ComicID, created.Number, created.Title, created.Slug, nullTime(created.ReleaseDate),
			created.Views, created.CreatedAt, created.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert chapter: %w", err)
		}
		if created.ID, err = res.LastInsertId(); err != nil {
			return err
		}
		return setChapterImages(ctx, tx, created.ID, created.Images)
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateChapter writes every column of ch. Images are replaced only when
// replaceImages is set.
func (s *Store) UpdateChapter(ctx context.Context, ch *models.Chapter, replaceImages bool) error {
	if ch.UpdatedAt.IsZero() {
		ch.UpdatedAt = time.Now().UTC()
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE chapters SET chapter_number = ?, title = ?, slug = ?, release_date = ?, views = ?, updated_at = ?
			WHERE id = ?`,
			ch.Number, ch.Title, ch.Slug, nullTime(ch.ReleaseDate), ch.Views, ch.UpdatedAt, ch.ID)
		if err != nil {
			return fmt.Errorf("update chapter: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		if !replaceImages {
			return nil
		}
		return setChapterImages(ctx, tx, ch.ID, ch.Images)
	})
}

func setChapterImages(ctx context.Context, tx *sql.Tx, chapterID int64, images []models.ChapterImage) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM chapter_images WHERE chapter_id = ?", chapterID); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO chapter_images (chapter_id, image_url, page_number) VALUES (?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, img := range images {
		if _, err := stmt.ExecContext(ctx, chapterID, img.ImageURL, img.PageNumber); err != nil {
			return fmt.Errorf("insert page %d: %w", img.PageNumber, err)
		}
	}
	return nil
}
