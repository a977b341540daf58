package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vrsandeep/comicvault/internal/models"
)

const comicSelect = `
	SELECT c.id, c.title, c.slug, c.description, c.cover_image, c.thumbnail, c.rating, c.status,
	       c.serialization, c.published_at, c.views, c.created_at, c.updated_at,
	       au.id, au.name, au.bio, au.image,
	       ar.id, ar.name, ar.bio, ar.image,
	       t.id, t.name, t.description
	FROM comics c
	LEFT JOIN authors au ON au.id = c.author_id
	LEFT JOIN artists ar ON ar.id = c.artist_id
	LEFT JOIN comic_types t ON t.id = c.type_id`

type nullPerson struct {
	id               sql.NullInt64
	name, bio, image sql.NullString
}

func (p nullPerson) person() *models.Person {
	if !p.id.Valid {
		return nil
	}
	return &models.Person{ID: p.id.Int64, Name: p.name.String, Bio: p.bio.String, Image: p.image.String}
}

// GetComicBySlug retrieves a comic with its credits and genres.
func (s *Store) GetComicBySlug(ctx context.Context, slug string) (*models.Comic, error) {
	var c models.Comic
	var published sql.NullTime
	var author, artist nullPerson
	var typeID sql.NullInt64
	var typeName, typeDesc sql.NullString

	err := s.db.QueryRowContext(ctx, comicSelect+" WHERE c.slug = ?", slug).Scan(
		&c.ID, &c.Title, &c.Slug, &c.Description, &c.CoverImage, &c.Thumbnail, &c.Rating, &c.Status,
		&c.Serialization, &published, &c.Views, &c.CreatedAt, &c.UpdatedAt,
		&author.id, &author.name, &author.bio, &author.image,
		&artist.id, &artist.name, &artist.bio, &artist.image,
		&typeID, &typeName, &typeDesc,
	)
	if err != nil {
		return nil, notFound(err, "comic "+slug)
	}
	c.PublishedAt = timePtr(published)
	c.Author = author.person()
	c.Artist = artist.person()
	if typeID.Valid {
		c.Type = &models.ComicType{ID: typeID.Int64, Name: typeName.String, Description: typeDesc.String}
	}

	c.Genres, err = s.comicGenres(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) comicGenres(ctx context.Context, comicID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT g.name FROM genres g
		JOIN comic_genres cg ON cg.genre_id = g.id
		WHERE cg.comic_id = ?
		ORDER BY g.name ASC`, comicID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// CreateComic inserts a comic, creating any referenced author, artist,
// type and genres that do not exist yet.
func (s *Store) CreateComic(ctx context.Context, c *models.Comic) (*models.Comic, error) {
	created := *c
	now := time.Now().UTC()
	if created.CreatedAt.IsZero() {
		created.CreatedAt = now
	}
	if created.UpdatedAt.IsZero() {
		created.UpdatedAt = created.CreatedAt
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		refs, err := resolveComicRefs(ctx, tx, &created)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO comics (title, slug, description, cover_image, thumbnail, rating, status, serialization,
			                    published_at, views, author_id, artist_id, type_id, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			created.Title, created.Slug, created.Description, created.CoverImage, created.Thumbnail,
			created.Rating, created.Status, created.Serialization, nullTime(created.PublishedAt), created.Views,
			refs.author, refs.artist, refs.typ, created.CreatedAt, created.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert comic: %w", err)
		}
		if created.ID, err = res.LastInsertId(); err != nil {
			return err
		}
		return setComicGenres(ctx, tx, created.ID, created.Genres)
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateComic writes every column of c. Genres are replaced only when
// replaceGenres is set.
func (s *Store) UpdateComic(ctx context.Context, c *models.Comic, replaceGenres bool) error {
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC()
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		refs, err := resolveComicRefs(ctx, tx, c)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE comics SET title = ?, description = ?, cover_image = ?, thumbnail = ?, rating = ?, status = ?,
			       serialization = ?, published_at = ?, views = ?, author_id = ?, artist_id = ?, type_id = ?, updated_at = ?
			WHERE id = ?`,
			c.Title, c.Description, c.CoverImage, c.Thumbnail, c.Rating, c.Status,
			c.Serialization, nullTime(c.PublishedAt), c.Views, refs.author, refs.artist, refs.typ, c.UpdatedAt, c.ID)
		if err != nil {
			return fmt.Errorf("update comic: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		if !replaceGenres {
			return nil
		}
		return setComicGenres(ctx, tx, c.ID, c.Genres)
	})
}

// CountComics returns the number of stored comics.
func (s *Store) CountComics(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM comics").Scan(&count)
	return count, err
}

type comicRefs struct {
	author, artist, typ sql.NullInt64
}

func resolveComicRefs(ctx context.Context, tx *sql.Tx, c *models.Comic) (comicRefs, error) {
	var refs comicRefs
	var err error
	if refs.author, err = getOrCreatePerson(ctx, tx, "authors", c.Author); err != nil {
		return refs, fmt.Errorf("author: %w", err)
	}
	if refs.artist, err = getOrCreatePerson(ctx, tx, "artists", c.Artist); err != nil {
		return refs, fmt.Errorf("artist: %w", err)
	}
	if refs.typ, err = getOrCreateType(ctx, tx, c.Type); err != nil {
		return refs, fmt.Errorf("type: %w", err)
	}
	return refs, nil
}

// getOrCreatePerson finds a person by name in table (authors or artists),
// inserting it when missing. A non-empty bio or image on p overwrites the
// stored one.
func getOrCreatePerson(ctx context.Context, tx *sql.Tx, table string, p *models.Person) (sql.NullInt64, error) {
	if p == nil || p.Name == "" {
		return sql.NullInt64{}, nil
	}
	if table != "authors" && table != "artists" {
		return sql.NullInt64{}, fmt.Errorf("unknown person table %q", table)
	}

	var id int64
	var bio, image string
	err := tx.QueryRowContext(ctx, "SELECT id, bio, image FROM "+table+" WHERE name = ?", p.Name).Scan(&id, &bio, &image)
	switch {
	case err == sql.ErrNoRows:
		res, err := tx.ExecContext(ctx, "INSERT INTO "+table+" (name, bio, image) VALUES (?, ?, ?)", p.Name, p.Bio, p.Image)
		if err != nil {
			return sql.NullInt64{}, err
		}
		if id, err = res.LastInsertId(); err != nil {
			return sql.NullInt64{}, err
		}
	case err != nil:
		return sql.NullInt64{}, err
	default:
		if (p.Bio != "" && p.Bio != bio) || (p.Image != "" && p.Image != image) {
			if p.Bio == "" {
				p.Bio = bio
			}
			if p.Image == "" {
				p.Image = image
			}
			if _, err := tx.ExecContext(ctx, "UPDATE "+table+" SET bio = ?, image = ? WHERE id = ?", p.Bio, p.Image, id); err != nil {
				return sql.NullInt64{}, err
			}
		}
	}
	p.ID = id
	return sql.NullInt64{Int64: id, Valid: true}, nil
}

func getOrCreateType(ctx context.Context, tx *sql.Tx, t *models.ComicType) (sql.NullInt64, error) {
	if t == nil || t.Name == "" {
		return sql.NullInt64{}, nil
	}
	var id int64
	err := tx.QueryRowContext(ctx, "SELECT id FROM comic_types WHERE name = ?", t.Name).Scan(&id)
	if err == sql.ErrNoRows {
		res, err := tx.ExecContext(ctx, "INSERT INTO comic_types (name, description) VALUES (?, ?)", t.Name, t.Description)
		if err != nil {
			return sql.NullInt64{}, err
		}
		if id, err = res.LastInsertId(); err != nil {
			return sql.NullInt64{}, err
		}
	} else if err != nil {
		return sql.NullInt64{}, err
	}
	t.ID = id
	return sql.NullInt64{Int64: id, Valid: true}, nil
}

func getOrCreateGenre(ctx context.Context, tx *sql.Tx, name string) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, "SELECT id FROM genres WHERE name = ?", name).Scan(&id)
	if err == sql.ErrNoRows {
		res, err := tx.ExecContext(ctx, "INSERT INTO genres (name) VALUES (?)", name)
		if err != nil {
			return 0, err
		}
		return res.LastInsertId()
	}
	return id, err
}

func setComicGenres(ctx context.Context, tx *sql.Tx, comicID int64, names []string) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM comic_genres WHERE comic_id = ?", comicID); err != nil {
		return err
	}
	for _, name := range names {
		genreID, err := getOrCreateGenre(ctx, tx, name)
		if err != nil {
			return fmt.Errorf("genre %q: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO comic_genres (comic_id, genre_id) VALUES (?, ?)", comicID, genreID); err != nil {
			return err
		}
	}
	return nil
}
