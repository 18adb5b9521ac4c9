// Package epub reads and writes EPUB containers while preserving every
// entry that the translation pipeline does not touch. An EPUB is a zip
// archive; the OPF package document names which entries are XHTML content
// documents. Only those become SubDocuments — styles, images, fonts and
// navigation metadata are carried through byte for byte.
package epub

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"golang.org/x/net/html"
)

// Entry is one archive member, kept exactly as read until (and unless) a
// sub-document commit replaces its bytes.
type Entry struct {
	Name   string
	Data   []byte
	Method uint16
}

// SubDocument is an XHTML content document inside the container. The
// markup tree is not retained between borrows: Borrow parses the current
// entry bytes fresh each time, so extraction is restartable.
type SubDocument struct {
	ID   string // manifest item id
	Name string // archive entry name (resolved href)

	entry *Entry
}

// Borrow parses the sub-document's current bytes into a mutable tree.
func (d *SubDocument) Borrow() (*html.Node, error) {
	node, err := html.Parse(bytes.NewReader(d.entry.Data))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", d.Name, err)
	}
	return node, nil
}

// Commit serializes tree back into the container's in-memory model,
// replacing the sub-document's bytes. Durable storage is only written by
// Write.
func (d *SubDocument) Commit(tree *html.Node) error {
	var buf bytes.Buffer
	if err := html.Render(&buf, tree); err != nil {
		return fmt.Errorf("render %s: %w", d.Name, err)
	}
	d.entry.Data = buf.Bytes()
	return nil
}

// Container is the in-memory model of one EPUB: all entries in archive
// order plus the identified sub-documents in the pipeline's stable order.
type Container struct {
	entries []*Entry
	docs    []*SubDocument
}

// Documents returns the sub-documents sorted by (id, name). The sort makes
// the order deterministic across runs on the same container, which is what
// checkpoint validity is checked against.
func (c *Container) Documents() []*SubDocument {
	return c.docs
}

// DocumentOrder returns the ordered sub-document ids.
func (c *Container) DocumentOrder() []string {
	order := make([]string, len(c.docs))
	for i, d := range c.docs {
		order[i] = d.ID
	}
	return order
}

// Entries returns all archive members in their original order.
func (c *Container) Entries() []*Entry {
	return c.entries
}

// Open reads an EPUB file and identifies its sub-documents via the OPF
// manifest. Any structural problem (not a zip, missing container.xml or
// OPF) is a fatal, run-aborting error.
func Open(name string) (*Container, error) {
	r, err := zip.OpenReader(name)
	if err != nil {
		return nil, fmt.Errorf("open container %s: %w", name, err)
	}
	defer r.Close()

	c := &Container{}
	byName := make(map[string]*Entry, len(r.File))
	for _, f := range r.File {
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open entry %s: %w", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read entry %s: %w", f.Name, err)
		}
		e := &Entry{Name: f.Name, Data: data, Method: f.Method}
		c.entries = append(c.entries, e)
		byName[f.Name] = e
	}

	opfPath, err := rootfilePath(byName)
	if err != nil {
		return nil, err
	}
	opf, ok := byName[opfPath]
	if !ok {
		return nil, fmt.Errorf("package document %s not found in container", opfPath)
	}

	items, err := contentDocuments(opf.Data, path.Dir(opfPath))
	if err != nil {
		return nil, err
	}

	for _, it := range items {
		e, ok := byName[it.href]
		if !ok {
			// Manifest entries can reference files missing from sloppy
			// containers; skip rather than abort.
			continue
		}
		c.docs = append(c.docs, &SubDocument{ID: it.id, Name: it.href, entry: e})
	}

	sort.Slice(c.docs, func(i, j int) bool {
		if c.docs[i].ID != c.docs[j].ID {
			return c.docs[i].ID < c.docs[j].ID
		}
		return c.docs[i].Name < c.docs[j].Name
	})

	return c, nil
}

// rootfilePath locates the OPF package document via META-INF/container.xml.
func rootfilePath(byName map[string]*Entry) (string, error) {
	meta, ok := byName["META-INF/container.xml"]
	if !ok {
		return "", fmt.Errorf("META-INF/container.xml not found: not an EPUB container")
	}

	var doc struct {
		Rootfiles []struct {
			FullPath  string `xml:"full-path,attr"`
			MediaType string `xml:"media-type,attr"`
		} `xml:"rootfiles>rootfile"`
	}
	if err := xml.Unmarshal(meta.Data, &doc); err != nil {
		return "", fmt.Errorf("parse container.xml: %w", err)
	}
	for _, rf := range doc.Rootfiles {
		if rf.MediaType == "application/oebps-package+xml" && rf.FullPath != "" {
			return rf.FullPath, nil
		}
	}
	return "", fmt.Errorf("container.xml declares no package document")
}

type manifestItem struct {
	id   string
	href string
}

// contentDocuments parses the OPF manifest and returns the XHTML content
// documents, resolving hrefs against the OPF directory. Navigation
// documents are metadata, never translated.
func contentDocuments(opfData []byte, opfDir string) ([]manifestItem, error) {
	var pkg struct {
		Items []struct {
			ID         string `xml:"id,attr"`
			Href       string `xml:"href,attr"`
			MediaType  string `xml:"media-type,attr"`
			Properties string `xml:"properties,attr"`
		} `xml:"manifest>item"`
	}
	if err := xml.Unmarshal(opfData, &pkg); err != nil {
		return nil, fmt.Errorf("parse package document: %w", err)
	}

	var items []manifestItem
	for _, it := range pkg.Items {
		if it.MediaType != "application/xhtml+xml" {
			continue
		}
		if hasProperty(it.Properties, "nav") {
			continue
		}
		href := it.Href
		if i := strings.IndexByte(href, '#'); i >= 0 {
			href = href[:i]
		}
		if href == "" {
			continue
		}
		items = append(items, manifestItem{id: it.ID, href: resolveHref(opfDir, href)})
	}
	return items, nil
}

func hasProperty(properties, want string) bool {
	for _, p := range strings.Fields(properties) {
		if p == want {
			return true
		}
	}
	return false
}

func resolveHref(opfDir, href string) string {
	if opfDir == "." || opfDir == "" {
		return path.Clean(href)
	}
	return path.Clean(path.Join(opfDir, href))
}
