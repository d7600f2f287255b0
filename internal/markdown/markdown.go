// Package markdown is the remote replica: a directory tree of Markdown files,
// one subdirectory per container, one file per item. An item's ID is its path
// relative to the root, its title lives in YAML front matter, and its
// modification time is the file's mtime. The tree is typically a mounted or
// synced folder shared with another machine.
package markdown

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/syncbridge/syncbridge/internal/model"
)

const frontMatterDelim = "---"

// frontMatter is the YAML header of an item file.
type frontMatter struct {
	Title string `yaml:"title"`
}

// Adapter reads and writes items as Markdown files under a root directory.
type Adapter struct {
	root string
	log  *slog.Logger
}

// New creates an Adapter over the given root directory. The directory must
// already exist; use [Adapter.Ping] to verify reachability.
func New(root string, logger *slog.Logger) *Adapter {
	return &Adapter{root: root, log: logger}
}

// Ping verifies the root directory is reachable and is a directory. A synced
// folder that is not mounted yet fails here instead of mid-run.
func (a *Adapter) Ping(_ context.Context) error {
	info, err := os.Stat(a.root)
	if err != nil {
		return fmt.Errorf("markdown root %q: %w", a.root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("markdown root %q is not a directory", a.root)
	}
	return nil
}

// ListContainers returns the names of the subdirectories under the root.
// Hidden directories are ignored.
func (a *Adapter) ListContainers(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(a.root)
	if err != nil {
		return nil, fmt.Errorf("reading markdown root: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// EnsureContainer creates the container directory if missing.
func (a *Adapter) EnsureContainer(_ context.Context, container string) error {
	if err := os.MkdirAll(filepath.Join(a.root, container), 0o755); err != nil {
		return fmt.Errorf("creating container %q: %w", container, err)
	}
	return nil
}

// List returns every .md file in the container directory as an item. A
// missing container directory yields an empty list, not an error: the file
// tree has no tombstones, absence is the deletion signal.
func (a *Adapter) List(_ context.Context, container string) ([]model.Item, error) {
	dir := filepath.Join(a.root, container)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading container %q: %w", container, err)
	}

	var items []model.Item
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		item, err := a.readItem(container, e.Name())
		if err != nil {
			// One unreadable file must not hide the rest of the container.
			a.log.Warn("skipping unreadable item file", "file", e.Name(), "error", err)
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

func (a *Adapter) readItem(container, name string) (model.Item, error) {
	path := filepath.Join(a.root, container, name)
	raw, err := os.ReadFile(path)
	if err != nil {
		return model.Item{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return model.Item{}, err
	}

	title, body := parseFile(raw)
	if title == "" {
		title = strings.TrimSuffix(name, ".md")
	}

	return model.Item{
		RemoteID:   filepath.ToSlash(filepath.Join(container, name)),
		Container:  container,
		Title:      title,
		Body:       body,
		ModifiedAt: info.ModTime().UTC(),
	}, nil
}

// Create writes a new file named after the item's title and returns its
// relative path as the item ID. Name collisions get a numeric suffix.
func (a *Adapter) Create(_ context.Context, container string, item model.Item) (string, error) {
	dir := filepath.Join(a.root, container)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating container %q: %w", container, err)
	}

	base := slugify(item.Title)
	name := base + ".md"
	for i := 2; ; i++ {
		if _, err := os.Stat(filepath.Join(dir, name)); os.IsNotExist(err) {
			break
		}
		name = fmt.Sprintf("%s-%d.md", base, i)
	}

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, renderFile(item), 0o644); err != nil {
		return "", fmt.Errorf("writing item %q: %w", item.Title, err)
	}
	return filepath.ToSlash(filepath.Join(container, name)), nil
}

// Update rewrites the file at the item's ID with the winning content. The
// file keeps its name even when the title changed, so the mapping stays
// valid.
func (a *Adapter) Update(_ context.Context, id string, item model.Item) error {
	path := filepath.Join(a.root, filepath.FromSlash(id))
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("updating item %q: %w", id, err)
	}
	if err := os.WriteFile(path, renderFile(item), 0o644); err != nil {
		return fmt.Errorf("updating item %q: %w", id, err)
	}
	return nil
}

// Delete removes the file. A file already gone counts as deleted.
func (a *Adapter) Delete(_ context.Context, id string) error {
	path := filepath.Join(a.root, filepath.FromSlash(id))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting item %q: %w", id, err)
	}
	return nil
}

// Watch reports container names whose files changed, via the callback, until
// ctx is cancelled. New container directories are picked up as they appear.
// Used by the daemon to trigger runs between polls.
func (a *Adapter) Watch(ctx context.Context, onChange func(container string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(a.root); err != nil {
		return fmt.Errorf("watching markdown root: %w", err)
	}
	err = filepath.WalkDir(a.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() || path == a.root {
			return err
		}
		if strings.HasPrefix(d.Name(), ".") {
			return fs.SkipDir
		}
		return watcher.Add(path)
	})
	if err != nil {
		return fmt.Errorf("watching container directories: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// A new container directory needs its own watch.
			if event.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = watcher.Add(event.Name)
					continue
				}
			}
			if container, ok := a.containerOf(event.Name); ok {
				a.log.Debug("markdown change detected", "container", container, "op", event.Op.String())
				onChange(container)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			a.log.Warn("markdown watcher error", "error", err)
		}
	}
}

// containerOf maps an event path to its container name. Only .md files
// directly inside a container directory qualify.
func (a *Adapter) containerOf(path string) (string, bool) {
	rel, err := filepath.Rel(a.root, path)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	parts := strings.Split(rel, "/")
	if len(parts) != 2 || !strings.HasSuffix(parts[1], ".md") {
		return "", false
	}
	if strings.HasPrefix(parts[0], ".") || strings.HasPrefix(parts[1], ".") {
		return "", false
	}
	return parts[0], true
}

// --- file format ---------------------------------------------------------------

// parseFile splits a file into front matter title and body. Files without
// front matter are all body.
func parseFile(raw []byte) (title, body string) {
	content := string(raw)
	if !strings.HasPrefix(content, frontMatterDelim+"\n") {
		return "", strings.TrimSuffix(content, "\n")
	}

	rest := content[len(frontMatterDelim)+1:]
	end := strings.Index(rest, "\n"+frontMatterDelim+"\n")
	if end < 0 {
		return "", strings.TrimSuffix(content, "\n")
	}

	var fm frontMatter
	if err := yaml.Unmarshal([]byte(rest[:end]), &fm); err != nil {
		return "", strings.TrimSuffix(content, "\n")
	}

	body = rest[end+len(frontMatterDelim)+2:]
	body = strings.TrimPrefix(body, "\n")
	return fm.Title, strings.TrimSuffix(body, "\n")
}

// renderFile produces the canonical file bytes for an item.
func renderFile(item model.Item) []byte {
	var buf bytes.Buffer
	buf.WriteString(frontMatterDelim + "\n")
	header, err := yaml.Marshal(frontMatter{Title: item.Title})
	if err != nil {
		// A plain string field cannot fail to marshal; fall back anyway.
		header = []byte("title: " + item.Title + "\n")
	}
	buf.Write(header)
	buf.WriteString(frontMatterDelim + "\n\n")
	buf.WriteString(item.Body)
	if item.Body != "" && !strings.HasSuffix(item.Body, "\n") {
		buf.WriteString("\n")
	}
	return buf.Bytes()
}

// slugify turns a title into a safe file name.
func slugify(title string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(title)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteRune('-')
		}
	}
	s := strings.Trim(b.String(), "-")
	if s == "" {
		s = "untitled"
	}
	return s
}
