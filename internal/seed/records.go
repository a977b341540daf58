package seed

import (
	"fmt"
	"strings"
	"time"
)

// RawRecord is one decoded JSON object from a fixture file. Numbers are
// json.Number because files are decoded with UseNumber.
type RawRecord map[string]any

// Entity names a kind of seed record.
type Entity string

const (
	EntityUsers    Entity = "users"
	EntityComics   Entity = "comics"
	EntityChapters Entity = "chapters"
)

// AllEntities is the fixed seeding order: chapters reference comics by slug.
var AllEntities = []Entity{EntityUsers, EntityComics, EntityChapters}

// ParseEntities converts names to entities, de-duplicated and in seeding
// order. An empty list means all entities.
func ParseEntities(names []string) ([]Entity, error) {
	if len(names) == 0 {
		return AllEntities, nil
	}
	want := make(map[Entity]bool)
	for _, n := range names {
		e := Entity(strings.ToLower(strings.TrimSpace(n)))
		switch e {
		case EntityUsers, EntityComics, EntityChapters:
			want[e] = true
		case "all":
			return AllEntities, nil
		default:
			return nil, fmt.Errorf("unknown entity %q (want users, comics, chapters or all)", n)
		}
	}
	var out []Entity
	for _, e := range AllEntities {
		if want[e] {
			out = append(out, e)
		}
	}
	return out, nil
}

// UserRecord is a validated user. Pointer fields are nil when the source
// did not carry them, so updates leave stored values alone.
type UserRecord struct {
	Name      string     `json:"name" validate:"required"`
	Email     string     `json:"email" validate:"required,email"`
	Image     *string    `json:"image,omitempty"`
	Password  *string    `json:"password,omitempty" validate:"omitempty,min=6"`
	Role      *string    `json:"role,omitempty" validate:"omitempty,oneof=user admin"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

// Person is an author or artist as scraped. Fields other than name, bio and
// image are kept in Extra.
type Person struct {
	Name  string         `json:"name" validate:"required"`
	Bio   string         `json:"bio,omitempty"`
	Image string         `json:"image,omitempty"`
	Extra map[string]any `json:"extra,omitempty"`
}

// Named is a comic type or genre.
type Named struct {
	Name        string         `json:"name" validate:"required"`
	Description string         `json:"description,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
}

type ComicRecord struct {
	Title         string     `json:"title" validate:"required"`
	Slug          string     `json:"slug" validate:"required,slug"`
	Description   string     `json:"description" validate:"required,min=10"`
	CoverImage    *string    `json:"coverImage,omitempty"`
	Rating        *float64   `json:"rating,omitempty" validate:"omitempty,gte=0,lte=10"`
	Status        *string    `json:"status,omitempty" validate:"omitempty,oneof=Ongoing Completed Hiatus Cancelled"`
	PublishedAt   *time.Time `json:"publishedAt,omitempty"`
	Serialization *string    `json:"serialization,omitempty"`
	Views         *int64     `json:"views,omitempty" validate:"omitempty,gte=0"`
	Author        *Person    `json:"author,omitempty"`
	Artist        *Person    `json:"artist,omitempty"`
	Type          *Named     `json:"type,omitempty"`
	Genres        []Named    `json:"genres,omitempty" validate:"omitempty,dive"`
}

// ComicRef associates a chapter with its comic.
type ComicRef struct {
	Title string `json:"title" validate:"required"`
	Slug  string `json:"slug" validate:"required,slug"`
}

// PageRef is one chapter image reference.
type PageRef struct {
	URL        string `json:"url" validate:"required"`
	PageNumber int    `json:"pageNumber" validate:"gte=1"`
}

// ChapterRecord is a validated chapter. Number 0 means unknown.
type ChapterRecord struct {
	Comic       ComicRef   `json:"comic"`
	Number      float64    `json:"chapterNumber" validate:"gte=0"`
	Title       string     `json:"title"`
	Slug        *string    `json:"slug,omitempty"`
	ReleaseDate *time.Time `json:"releaseDate,omitempty"`
	Views       *int64     `json:"views,omitempty" validate:"omitempty,gte=0"`
	Images      []PageRef  `json:"images,omitempty" validate:"omitempty,dive"`

	// DroppedPages names image entries skipped for having no URL.
	DroppedPages []string `json:"droppedPages,omitempty"`
}

// NaturalKey identifies the chapter within the run's logs.
func (r ChapterRecord) NaturalKey() string {
	if r.Number > 0 {
		return fmt.Sprintf("%s#%g", r.Comic.Slug, r.Number)
	}
	return fmt.Sprintf("%s#%q", r.Comic.Slug, r.Title)
}
