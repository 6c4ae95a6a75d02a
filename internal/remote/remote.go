// Package remote defines the document store the sync engine pushes to and
// pulls from. Documents live at accounts/{email}/{table}/{id} and carry a JSON
// field map as body.
package remote

import (
	"context"
	"errors"
	"path"
	"strings"

	"bilancio/internal/core"
)

// ErrNotFound is returned by Delete implementations that distinguish a
// missing document. Callers treat it as success.
var ErrNotFound = errors.New("document not found")

// Document is one stored record.
type Document struct {
	Path string
	Body []byte
}

// DocumentStore is a hierarchical key-value store of JSON documents.
type DocumentStore interface {
	Put(ctx context.Context, path string, body []byte) error
	// List returns every document whose path starts with prefix.
	List(ctx context.Context, prefix string) ([]Document, error)
	Delete(ctx context.Context, path string) error
}

// AccountRoot returns the path under which an account's tables are kept.
func AccountRoot(email string) string {
	return "accounts/" + core.NormalizeEmail(email)
}

// TablePrefix returns the prefix listing every document of one table,
// including the trailing separator.
func TablePrefix(email string, table core.Table) string {
	return AccountRoot(email) + "/" + string(table) + "/"
}

// RecordPath returns the document path of one record.
func RecordPath(email string, table core.Table, key string) string {
	return TablePrefix(email, table) + key
}

// RecordKey returns the last element of a document path.
func RecordKey(p string) string {
	return path.Base(strings.TrimSuffix(p, "/"))
}
