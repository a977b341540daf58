// This file defines the core data structures (models) for our application.
// These structs represent the comics, chapters, and page images we store.

package models

import "time"

// Comic represents a single comic series.
type Comic struct {
	ID            int64      `json:"id"`
	Title         string     `json:"title"`
	Slug          string     `json:"slug"`
	Description   string     `json:"description"`
	CoverImage    string     `json:"cover_image"`
	Thumbnail     string     `json:"thumbnail,omitempty"` // base64 data URI
	Rating        float64    `json:"rating"`
	Status        string     `json:"status"`
	Serialization string     `json:"serialization,omitempty"`
	PublishedAt   *time.Time `json:"published_at,omitempty"`
	Views         int64      `json:"views"`
	Author        *Person    `json:"author,omitempty"`
	Artist        *Person    `json:"artist,omitempty"`
	Type          *ComicType `json:"type,omitempty"`
	Genres        []string   `json:"genres,omitempty"` // sorted names
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Person is an author or artist credited on a comic.
type Person struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Bio   string `json:"bio,omitempty"`
	Image string `json:"image,omitempty"`
}

type ComicType struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type Genre struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Chapter represents a single chapter of a comic. A Number of 0 means the
// chapter number is unknown.
type Chapter struct {
	ID          int64          `json:"id"`
	ComicID     int64          `json:"comic_id"`
	Number      float64        `json:"chapter_number"`
	Title       string         `json:"title"`
	Slug        string         `json:"slug,omitempty"`
	ReleaseDate *time.Time     `json:"release_date,omitempty"`
	Views       int64          `json:"views"`
	Images      []ChapterImage `json:"images,omitempty"`
	CreatedAt   time.Time      `json:"-"`
	UpdatedAt   time.Time      `json:"-"`
}

// ChapterImage is one page of a chapter.
type ChapterImage struct {
	ImageURL   string `json:"image_url"`
	PageNumber int    `json:"page_number"`
}
