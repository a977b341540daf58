package seed

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-playground/validator/v10"

	"github.com/vrsandeep/comicvault/internal/util"
)

// Violation is one failed field check.
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError rejects a single record. Its message lists every
// violation as "path: message", semicolon-joined.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.Field + ": " + v.Message
	}
	return strings.Join(parts, "; ")
}

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

var canonicalStatus = map[string]string{
	"ongoing":   "Ongoing",
	"completed": "Completed",
	"hiatus":    "Hiatus",
	"cancelled": "Cancelled",
	"canceled":  "Cancelled",
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	if err := v.RegisterValidation("slug", func(fl validator.FieldLevel) bool {
		return slugPattern.MatchString(fl.Field().String())
	}); err != nil {
		panic(err)
	}
	return v
}

// check runs the struct tags on rec and merges the result with coercion
// failures already collected by c.
func check(rec any, c *coercer) error {
	violations := c.violations
	flagged := make(map[string]bool, len(violations))
	for _, v := range violations {
		flagged[v.Field] = true
	}

	if err := validate.Struct(rec); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return &ValidationError{Violations: append(violations, Violation{Field: "record", Message: err.Error()})}
		}
		for _, fe := range fieldErrs {
			field := fe.Namespace()
			if i := strings.Index(field, "."); i >= 0 {
				field = field[i+1:]
			}
			if flagged[field] {
				continue
			}
			violations = append(violations, Violation{Field: field, Message: violationMessage(fe)})
		}
	}
	if len(violations) == 0 {
		return nil
	}
	return &ValidationError{Violations: violations}
}

func violationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "slug":
		return "must contain only lowercase letters, digits and hyphens"
	case "min":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at least %s characters", fe.Param())
		}
		return "must be at least " + fe.Param()
	case "gte":
		return "must be >= " + fe.Param()
	case "lte":
		return "must be <= " + fe.Param()
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	}
	return "failed " + fe.Tag() + " check"
}

// guard converts a panic while normalising a record into a rejection.
func guard(err *error) {
	if r := recover(); r != nil {
		*err = &ValidationError{Violations: []Violation{{Field: "record", Message: fmt.Sprintf("unexpected value: %v", r)}}}
	}
}

func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}

// ValidateUser normalises and checks one user record.
func ValidateUser(raw RawRecord) (rec UserRecord, err error) {
	defer guard(&err)
	c := &coercer{}

	rec.Name = c.str(raw, "name")
	rec.Email = strings.ToLower(c.str(raw, "email"))
	rec.Image = nonEmpty(c.optStr(raw, "image", "avatar"))
	rec.Password = nonEmpty(c.optStr(raw, "password"))
	if role := nonEmpty(c.optStr(raw, "role")); role != nil {
		r := strings.ToLower(*role)
		rec.Role = &r
	}
	rec.CreatedAt = c.optTime(raw, "createdAt", "created_at")
	rec.UpdatedAt = c.optTime(raw, "updatedAt", "updated_at")

	return rec, check(&rec, c)
}

// ValidateComic normalises and checks one comic record.
func ValidateComic(raw RawRecord) (rec ComicRecord, err error) {
	defer guard(&err)
	c := &coercer{}

	rec.Title = c.str(raw, "title")
	rec.Slug = strings.ToLower(c.str(raw, "slug"))
	rec.Description = plainText(c.str(raw, "description", "synopsis"))
	rec.CoverImage = nonEmpty(c.optStr(raw, "coverImage", "cover_image", "cover"))
	rec.Rating = c.optFloat(raw, "rating")
	if status := nonEmpty(c.optStr(raw, "status")); status != nil {
		s := *status
		if canon, ok := canonicalStatus[strings.ToLower(s)]; ok {
			s = canon
		}
		rec.Status = &s
	}
	rec.PublishedAt = c.optTime(raw, "publishedAt", "published_at")
	rec.Serialization = nonEmpty(c.optStr(raw, "serialization"))
	rec.Views = c.optInt(raw, "views")
	rec.Author = c.person(raw, "author")
	rec.Artist = c.person(raw, "artist")
	rec.Type = c.named(raw, "type")
	rec.Genres = c.genres(raw)

	return rec, check(&rec, c)
}

// ValidateChapter normalises and checks one chapter record. The chapter
// number comes from an explicit field, else from a "chapter <n>" match in
// the name or title, else 0.
func ValidateChapter(raw RawRecord) (rec ChapterRecord, err error) {
	defer guard(&err)
	c := &coercer{}

	if comic := c.object(raw, "comic"); comic != nil {
		cc := &coercer{prefix: "comic."}
		rec.Comic.Title = cc.str(comic, "title")
		rec.Comic.Slug = strings.ToLower(cc.str(comic, "slug"))
		c.violations = append(c.violations, cc.violations...)
	}

	name := c.str(raw, "name")
	title := c.str(raw, "title")
	rec.Title = name
	if rec.Title == "" {
		rec.Title = title
	}
	if n := c.optFloat(raw, "chapterNumber", "chapter_number", "number"); n != nil {
		rec.Number = *n
	} else {
		rec.Number = util.ExtractChapterNumber(name, title)
	}
	rec.Slug = nonEmpty(c.optStr(raw, "slug"))
	rec.ReleaseDate = c.optTime(raw, "releaseDate", "release_date")
	rec.Views = c.optInt(raw, "views")
	rec.Images, rec.DroppedPages = c.pages(raw)

	return rec, check(&rec, c)
}

// plainText reduces scraped HTML to its text content.
func plainText(s string) string {
	if !strings.ContainsAny(s, "<>&") {
		return s
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

// person accepts either a bare name or an object. Objects without a name
// are ignored.
func (c *coercer) person(raw map[string]any, key string) *Person {
	v, _, ok := lookup(raw, key)
	if !ok {
		return nil
	}
	switch t := v.(type) {
	case string:
		if name := strings.TrimSpace(t); name != "" {
			return &Person{Name: name}
		}
		return nil
	case map[string]any:
		nc := &coercer{prefix: key + "."}
		p := &Person{
			Name:  nc.str(t, "name"),
			Bio:   nc.str(t, "bio", "biography"),
			Image: nc.str(t, "image", "avatar"),
			Extra: extras(t, "name", "bio", "biography", "image", "avatar"),
		}
		c.violations = append(c.violations, nc.violations...)
		if p.Name == "" {
			return nil
		}
		return p
	}
	c.fail(key, "must be a name or an object")
	return nil
}

func (c *coercer) named(raw map[string]any, key string) *Named {
	v, _, ok := lookup(raw, key)
	if !ok {
		return nil
	}
	n, ok := c.namedValue(v, key)
	if !ok || n.Name == "" {
		return nil
	}
	return &n
}

func (c *coercer) namedValue(v any, field string) (Named, bool) {
	switch t := v.(type) {
	case string:
		return Named{Name: strings.TrimSpace(t)}, true
	case map[string]any:
		nc := &coercer{prefix: field + "."}
		n := Named{
			Name:        nc.str(t, "name"),
			Description: nc.str(t, "description"),
			Extra:       extras(t, "name", "description"),
		}
		c.violations = append(c.violations, nc.violations...)
		return n, true
	}
	c.fail(field, "must be a name or an object")
	return Named{}, false
}

// genres returns nil when the record has no genres field and a non-nil
// (possibly empty) slice otherwise, so an explicit [] clears genres.
func (c *coercer) genres(raw map[string]any) []Named {
	v, _, ok := lookup(raw, "genres")
	if !ok {
		return nil
	}
	var items []any
	switch t := v.(type) {
	case []any:
		items = t
	case string:
		for _, part := range strings.Split(t, ",") {
			items = append(items, part)
		}
	default:
		c.fail("genres", "must be a list")
		return nil
	}

	out := make([]Named, 0, len(items))
	for i, item := range items {
		n, ok := c.namedValue(item, fmt.Sprintf("genres[%d]", i))
		if ok && n.Name != "" {
			out = append(out, n)
		}
	}
	return out
}

// pages accepts image URLs as strings or {url|imageUrl, pageNumber}
// objects. Missing page numbers default to the 1-based list position.
// pages reads the chapter's image list. Entries without a URL are dropped
// and named in the second return value rather than failing the chapter.
func (c *coercer) pages(raw map[string]any) ([]PageRef, []string) {
	items, ok := c.list(raw, "images", "pages")
	if !ok {
		return nil, nil
	}
	out := make([]PageRef, 0, len(items))
	var dropped []string
	for i, item := range items {
		field := fmt.Sprintf("images[%d]", i)
		var page PageRef
		switch t := item.(type) {
		case string:
			page = PageRef{URL: strings.TrimSpace(t), PageNumber: i + 1}
		case map[string]any:
			pc := &coercer{prefix: field + "."}
			page = PageRef{URL: pc.str(t, "url", "imageUrl", "image_url", "src"), PageNumber: i + 1}
			if n := pc.optInt(t, "pageNumber", "page_number", "page"); n != nil {
				page.PageNumber = int(*n)
			}
			c.violations = append(c.violations, pc.violations...)
		default:
			c.fail(field, "must be a URL or an object")
			continue
		}
		if page.URL == "" {
			dropped = append(dropped, field+": no url")
			continue
		}
		out = append(out, page)
	}
	if len(out) == 0 && len(dropped) > 0 {
		// Nothing usable; leave stored pages alone.
		return nil, dropped
	}
	return out, dropped
}
