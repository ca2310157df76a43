// Package index implements access to package indexes: remote PEP 503/691
// simple indexes, local directories of artifacts, and GitHub tags.
package index

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/url"
	"path"
	"strings"

	"golang.org/x/net/html"
)

// File is one downloadable file listed by an index.
type File struct {
	Filename       string
	URL            string // absolute URL (remote indexes)
	Path           string // file system path (local indexes)
	RequiresPython string
	Yanked         bool

	// Version is set by indexes which know the version independently of the
	// file name, e.g. GitHub tags.
	Version string
}

// PackageIndex lists and fetches the files of a project. Resolution logic is
// the same regardless of which implementation backs it.
type PackageIndex interface {
	// Files lists the files of project. A project unknown to the index
	// results in an empty list, not an error.
	Files(ctx context.Context, project string) ([]File, error)

	// Open returns the contents of f, which must have been returned by Files
	// of the same index.
	Open(ctx context.Context, f File) (io.ReadCloser, error)

	String() string
}

// JSON content type of the simple API (PEP 691).
const ContentTypeJSON = "application/vnd.pypi.simple.v1+json"

// ProjectPage is the PEP 691 JSON form of a project page.
type ProjectPage struct {
	Meta  Meta       `json:"meta"`
	Name  string     `json:"name"`
	Files []JSONFile `json:"files"`
}

// Meta is the meta object of PEP 691 responses.
type Meta struct {
	APIVersion string `json:"api-version"`
}

// JSONFile is one entry of ProjectPage.Files.
type JSONFile struct {
	Filename       string            `json:"filename"`
	URL            string            `json:"url"`
	Hashes         map[string]string `json:"hashes"`
	RequiresPython string            `json:"requires-python,omitempty"`
	Yanked         interface{}       `json:"yanked,omitempty"` // bool or reason string
}

// ProjectList is the PEP 691 JSON form of the root page.
type ProjectList struct {
	Meta     Meta         `json:"meta"`
	Projects []ProjectRef `json:"projects"`
}

// ProjectRef names one project in a ProjectList.
type ProjectRef struct {
	Name string `json:"name"`
}

func filenameFromURL(u *url.URL) string {
	fn := path.Base(u.Path)
	if unescaped, err := url.PathUnescape(fn); err == nil {
		fn = unescaped
	}
	return fn
}

// parseHTML extracts the file links of a PEP 503 project page.
func parseHTML(parent *url.URL, b []byte) ([]File, error) {
	doc, err := html.Parse(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	var files []File
	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			var file File
			var href string
			for _, attr := range n.Attr {
				switch attr.Key {
				case "href":
					href = attr.Val
				case "data-requires-python":
					file.RequiresPython = attr.Val
				case "data-yanked":
					file.Yanked = true
				}
			}
			if href != "" {
				if uri, err := url.Parse(href); err == nil {
					abs := parent.ResolveReference(uri)
					file.Filename = filenameFromURL(abs)
					abs.Fragment = ""
					file.URL = abs.String()
					files = append(files, file)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(doc)
	return files, nil
}

// parseJSON extracts the files of a PEP 691 project page.
func parseJSON(parent *url.URL, b []byte) ([]File, error) {
	var page ProjectPage
	if err := json.Unmarshal(b, &page); err != nil {
		return nil, err
	}
	files := make([]File, 0, len(page.Files))
	for _, jf := range page.Files {
		uri, err := url.Parse(jf.URL)
		if err != nil {
			continue
		}
		file := File{
			Filename:       jf.Filename,
			URL:            parent.ResolveReference(uri).String(),
			RequiresPython: jf.RequiresPython,
		}
		switch y := jf.Yanked.(type) {
		case bool:
			file.Yanked = y
		case string:
			file.Yanked = true
		}
		if file.Filename == "" {
			file.Filename = filenameFromURL(uri)
		}
		files = append(files, file)
	}
	return files, nil
}

// isJSON reports whether a Content-Type header denotes a PEP 691 response.
func isJSON(contentType string) bool {
	return strings.HasPrefix(strings.TrimSpace(contentType), "application/vnd.pypi.simple.v1+json")
}
