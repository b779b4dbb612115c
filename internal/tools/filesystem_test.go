package tools

import (
	"context"
	"path/filepath"
	"testing"
)

func TestWriteThenReadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "notes.txt")

	write := &WriteFileTool{}
	result, err := write.Execute(context.Background(), map[string]any{"path": path, "content": "hello world"})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if result == "" {
		t.Fatal("expected a non-empty confirmation message")
	}

	read := &ReadFileTool{}
	got, err := read.Execute(context.Background(), map[string]any{"path": path})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != "hello world" {
		t.Errorf("expected 'hello world', got %q", got)
	}
}

func TestReadFileMissing(t *testing.T) {
	read := &ReadFileTool{}
	result, err := read.Execute(context.Background(), map[string]any{"path": "/nonexistent/path/x.txt"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result == "" {
		t.Fatal("expected a not-found message")
	}
}

func TestListDir(t *testing.T) {
	dir := t.TempDir()
	write := &WriteFileTool{}
	if _, err := write.Execute(context.Background(), map[string]any{"path": filepath.Join(dir, "a.txt"), "content": "x"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	list := &ListDirTool{}
	result, err := list.Execute(context.Background(), map[string]any{"path": dir})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if result != "a.txt\n" {
		t.Errorf("expected 'a.txt\\n', got %q", result)
	}
}
