package notification

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Category classifies a notification. The set is closed: any value
// outside it is coerced to CategoryInfo before the record enters the
// pipeline.
type Category string

const (
	CategoryInfo    Category = "INFO"
	CategorySuccess Category = "SUCCESS"
	CategoryWarning Category = "WARNING"
	CategoryError   Category = "ERROR"
)

// Record is the canonical unit of work flowing through the pipeline.
// It is immutable once the dispatcher has assigned ID and CreatedAt:
// the journal appends it, the consumer reads it, the hub fans it out,
// and nothing mutates it along the way.
type Record struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Category  Category  `json:"category"`
	CreatedAt time.Time `json:"created_at"`
}

// New creates a canonical Record with a fresh UUID and the current UTC
// time. The category is coerced into the closed set.
func New(title, body string, category Category) Record {
	return Record{
		ID:        uuid.New().String(),
		Title:     title,
		Body:      body,
		Category:  CoerceCategory(string(category)),
		CreatedAt: time.Now().UTC(),
	}
}

// Info builds an INFO record. Convenience constructors mirror the most
// common call sites (system events, build results, alerts).
func Info(title, body string) Record { return New(title, body, CategoryInfo) }

// Success builds a SUCCESS record.
func Success(title, body string) Record { return New(title, body, CategorySuccess) }

// Warning builds a WARNING record.
func Warning(title, body string) Record { return New(title, body, CategoryWarning) }

// Error builds an ERROR record.
func Error(title, body string) Record { return New(title, body, CategoryError) }

// CoerceCategory maps an arbitrary input string onto the closed
// category set. Unknown, empty, or blank values become CategoryInfo.
// Coercion is idempotent: coercing an already-valid category returns
// it unchanged.
func CoerceCategory(raw string) Category {
	switch Category(strings.ToUpper(strings.TrimSpace(raw))) {
	case CategoryInfo:
		return CategoryInfo
	case CategorySuccess:
		return CategorySuccess
	case CategoryWarning:
		return CategoryWarning
	case CategoryError:
		return CategoryError
	default:
		return CategoryInfo
	}
}

// ValidCategory reports whether c is a member of the closed set.
func ValidCategory(c Category) bool {
	switch c {
	case CategoryInfo, CategorySuccess, CategoryWarning, CategoryError:
		return true
	default:
		return false
	}
}

// Normalize trims whitespace from the text fields and coerces the
// category. It does not touch ID or CreatedAt.
func (r Record) Normalize() Record {
	r.Title = strings.TrimSpace(r.Title)
	r.Body = strings.TrimSpace(r.Body)
	r.Category = CoerceCategory(string(r.Category))
	return r
}
