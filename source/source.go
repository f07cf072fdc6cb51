// Package source models the documents a batch is built from and resolves
// them to bytes: uploaded payloads are used as-is, local files are read from
// disk and remote links are downloaded from the document-sharing host.
package source

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Kind is the origin of a document.
type Kind string

const (
	KindUpload     Kind = "upload"
	KindLocalFile  Kind = "local_file"
	KindRemoteLink Kind = "remote_link"
)

var (
	// ErrEmptySources is returned when a batch names no documents.
	ErrEmptySources = errors.New("no documents provided")
	// ErrInvalidRemoteLink is returned for links that are not recognised
	// document-sharing links.
	ErrInvalidRemoteLink = errors.New("invalid remote link")
)

// Document is one input of a batch. Name is its identity (file name or
// URL); Data is filled once the document is resolved.
type Document struct {
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
	URL  string `json:"url,omitempty"`
	Path string `json:"path,omitempty"`
	Data []byte `json:"-"`
}

// Upload wraps bytes received from a caller.
func Upload(name string, data []byte) Document {
	return Document{Name: filepath.Base(name), Kind: KindUpload, Data: data}
}

// LocalFile refers to a file on the local filesystem.
func LocalFile(path string) Document {
	return Document{Name: filepath.Base(path), Kind: KindLocalFile, Path: path}
}

// RemoteLink refers to a document on a sharing host.
func RemoteLink(link string) Document {
	link = strings.TrimSpace(link)
	return Document{Name: link, Kind: KindRemoteLink, URL: link}
}

// FromArg classifies a CLI/MCP argument as a remote link or a local path.
func FromArg(arg string) Document {
	lower := strings.ToLower(strings.TrimSpace(arg))
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return RemoteLink(arg)
	}
	return LocalFile(arg)
}

// Resolved reports whether the document bytes are available.
func (d Document) Resolved() bool { return d.Data != nil }

// Names returns the identities of docs in order.
func Names(docs []Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.Name
	}
	return out
}

// ResolutionError names the document that could not be resolved.
type ResolutionError struct {
	Source     string
	StatusCode int
	Err        error
}

func (e *ResolutionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("resolve %s: http %d: %v", e.Source, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("resolve %s: %v", e.Source, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }
