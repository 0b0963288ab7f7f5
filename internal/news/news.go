// Package news implements NewsTracker: enumerating GLEP 42 style news
// items under var/lib/gentoo/news and tracking which have been
// acknowledged via a read/unread status file.
//
// Grounded on the reference NewsManager (RFC-822-style
// header block parsing, a flat status file listing read item names one
// per line).
package news

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Item is one parsed news entry.
type Item struct {
	Name                  string // filename, e.g. "2023-10-01-example-news-item"
	Title                 string
	Author                string
	Posted                string
	Revised               string
	DisplayIfUninstalled  bool
	DisplayIfInstalled    bool
	Content               string
}

// Tracker manages the news directory and read-status file under root.
type Tracker struct {
	newsDir    string
	statusFile string
}

// New returns a Tracker rooted at root.
func New(root string) *Tracker {
	dir := filepath.Join(root, "var/lib/gentoo/news")
	return &Tracker{
		newsDir:    dir,
		statusFile: filepath.Join(dir, "news-gentoo.eselect"),
	}
}

// Items returns every news item under the news directory, sorted by
// name (which embeds the posting date, so this is also chronological).
func (t *Tracker) Items() ([]Item, error) {
	entries, err := os.ReadDir(t.newsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "reading %s", t.newsDir)
	}
	var items []Item
	for _, e := range entries {
		if e.IsDir() || e.Name() == filepath.Base(t.statusFile) {
			continue
		}
		item, err := t.parseItem(filepath.Join(t.newsDir, e.Name()))
		if err != nil {
			continue // skip unparseable entries, matching the original's "if let Ok" filter
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

func (t *Tracker) parseItem(path string) (Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Item{}, err
	}
	item := Item{Name: filepath.Base(path)}
	lines := strings.Split(string(data), "\n")
	bodyStart := len(lines)
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "Title: "):
			item.Title = strings.TrimSpace(line[len("Title: "):])
		case strings.HasPrefix(line, "Author: "):
			item.Author = strings.TrimSpace(line[len("Author: "):])
		case strings.HasPrefix(line, "Posted: "):
			item.Posted = strings.TrimSpace(line[len("Posted: "):])
		case strings.HasPrefix(line, "Revised: "):
			item.Revised = strings.TrimSpace(line[len("Revised: "):])
		case strings.HasPrefix(line, "Display-If-Uninstalled: "):
			item.DisplayIfUninstalled = strings.ToLower(strings.TrimSpace(line[len("Display-If-Uninstalled: "):])) == "yes"
		case strings.HasPrefix(line, "Display-If-Installed: "):
			item.DisplayIfInstalled = strings.ToLower(strings.TrimSpace(line[len("Display-If-Installed: "):])) == "yes"
		case strings.TrimSpace(line) == "" && item.Title != "":
			bodyStart = i + 1
		}
		if bodyStart != len(lines) {
			break
		}
	}
	item.Content = strings.Join(lines[min(bodyStart, len(lines)):], "\n")
	return item, nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Unread returns the items not yet marked read.
func (t *Tracker) Unread() ([]Item, error) {
	all, err := t.Items()
	if err != nil {
		return nil, err
	}
	read, err := t.readNames()
	if err != nil {
		return nil, err
	}
	var out []Item
	for _, item := range all {
		if !read[item.Name] {
			out = append(out, item)
		}
	}
	return out, nil
}

func (t *Tracker) readNames() (map[string]bool, error) {
	data, err := os.ReadFile(t.statusFile)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]bool{}, nil
		}
		return nil, errors.Wrapf(err, "reading %s", t.statusFile)
	}
	names := map[string]bool{}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "#") {
			names[line] = true
		}
	}
	return names, nil
}

// IsRead reports whether a named item has been acknowledged.
func (t *Tracker) IsRead(name string) (bool, error) {
	names, err := t.readNames()
	if err != nil {
		return false, err
	}
	return names[name], nil
}

// MarkRead records name as acknowledged.
func (t *Tracker) MarkRead(name string) error {
	names, err := t.readNames()
	if err != nil {
		return err
	}
	names[name] = true
	return t.writeStatus(names)
}

// MarkUnread reverses MarkRead.
func (t *Tracker) MarkUnread(name string) error {
	names, err := t.readNames()
	if err != nil {
		return err
	}
	delete(names, name)
	return t.writeStatus(names)
}

func (t *Tracker) writeStatus(names map[string]bool) error {
	if err := os.MkdirAll(t.newsDir, 0o755); err != nil {
		return errors.Wrapf(err, "creating %s", t.newsDir)
	}
	sorted := make([]string, 0, len(names))
	for n := range names {
		sorted = append(sorted, n)
	}
	sort.Strings(sorted)
	var b strings.Builder
	b.WriteString("# News items that have been read\n")
	for _, n := range sorted {
		b.WriteString(n)
		b.WriteByte('\n')
	}
	return errors.Wrapf(os.WriteFile(t.statusFile, []byte(b.String()), 0o644), "writing %s", t.statusFile)
}
