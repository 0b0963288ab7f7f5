package news

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleItem = `Title: Test News Item
Author: Test Author
Posted: 2023-10-01
Display-If-Uninstalled: yes
Display-If-Installed: no

This is the content of the news item.
It can span multiple lines.`

func writeItem(t *testing.T, root, name, content string) {
	t.Helper()
	dir := filepath.Join(root, "var/lib/gentoo/news")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestParseItem(t *testing.T) {
	root := t.TempDir()
	writeItem(t, root, "20231001-1", sampleItem)
	tr := New(root)
	items, err := tr.Items()
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 {
		t.Fatalf("got %v", items)
	}
	item := items[0]
	if item.Name != "20231001-1" || item.Title != "Test News Item" || item.Author != "Test Author" {
		t.Errorf("got %+v", item)
	}
	if !item.DisplayIfUninstalled || item.DisplayIfInstalled {
		t.Errorf("got %+v", item)
	}
	if item.Content == "" {
		t.Error("expected body content")
	}
}

func TestUnreadExcludesMarkedRead(t *testing.T) {
	root := t.TempDir()
	writeItem(t, root, "20231001-1", sampleItem)
	tr := New(root)
	unread, err := tr.Unread()
	if err != nil {
		t.Fatal(err)
	}
	if len(unread) != 1 {
		t.Fatalf("got %v", unread)
	}
	if err := tr.MarkRead("20231001-1"); err != nil {
		t.Fatal(err)
	}
	unread, err = tr.Unread()
	if err != nil {
		t.Fatal(err)
	}
	if len(unread) != 0 {
		t.Errorf("got %v", unread)
	}
}

func TestMarkUnread(t *testing.T) {
	root := t.TempDir()
	writeItem(t, root, "20231001-1", sampleItem)
	tr := New(root)
	if err := tr.MarkRead("20231001-1"); err != nil {
		t.Fatal(err)
	}
	read, err := tr.IsRead("20231001-1")
	if err != nil {
		t.Fatal(err)
	}
	if !read {
		t.Fatal("expected read")
	}
	if err := tr.MarkUnread("20231001-1"); err != nil {
		t.Fatal(err)
	}
	read, _ = tr.IsRead("20231001-1")
	if read {
		t.Error("expected unread after MarkUnread")
	}
}

func TestItemsEmptyWhenDirMissing(t *testing.T) {
	tr := New(t.TempDir())
	items, err := tr.Items()
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 0 {
		t.Errorf("got %v", items)
	}
}
