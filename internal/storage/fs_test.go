package storage

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/starford/talkdrop/internal/apperr"
)

func tempRoot(t *testing.T) *FS {
	t.Helper()
	fs, err := NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

func TestWriteAndRead(t *testing.T) {
	s := tempRoot(t)
	if err := s.Write("abc-123/notes.txt", []byte("slides v2")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("abc-123/notes.txt")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "slides v2" {
		t.Errorf("content = %q", got)
	}
}

func TestEnsureDir_Idempotent(t *testing.T) {
	s := tempRoot(t)
	for range 2 {
		if err := s.EnsureDir("abc-123"); err != nil {
			t.Fatalf("EnsureDir: %v", err)
		}
	}
	info, err := os.Stat(filepath.Join(s.Root(), "abc-123"))
	if err != nil || !info.IsDir() {
		t.Fatalf("directory missing: %v", err)
	}
}

func TestWriteNew_RefusesExisting(t *testing.T) {
	s := tempRoot(t)
	if err := s.WriteNew("t/1.comment.txt", []byte("first")); err != nil {
		t.Fatalf("WriteNew: %v", err)
	}
	err := s.WriteNew("t/1.comment.txt", []byte("second"))
	if !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Fatalf("err = %v, want ErrAlreadyExists", err)
	}
	got, _ := s.Read("t/1.comment.txt")
	if string(got) != "first" {
		t.Errorf("content = %q, existing file was replaced", got)
	}
	matches, _ := filepath.Glob(filepath.Join(s.Root(), "t", ".talkdrop-tmp-*"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestImport(t *testing.T) {
	s := tempRoot(t)
	src := filepath.Join(t.TempDir(), "upload-1")
	if err := os.WriteFile(src, []byte("pdf"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := s.Import(src, "abc-123/slides.pdf"); err != nil {
		t.Fatalf("Import: %v", err)
	}
	got, err := s.Read("abc-123/slides.pdf")
	if err != nil || string(got) != "pdf" {
		t.Fatalf("Read = %q, %v", got, err)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Error("source should be gone after import")
	}
}

func TestImport_CopyFallback(t *testing.T) {
	s := tempRoot(t)
	src := filepath.Join(t.TempDir(), "upload-2")
	payload := bytes.Repeat([]byte("0123456789"), 100_000)
	if err := os.WriteFile(src, payload, 0o644); err != nil {
		t.Fatal(err)
	}
	_ = s.Write("abc-123/video.mp4", []byte("old"))

	if err := s.copyImport(src, "abc-123/video.mp4"); err != nil {
		t.Fatalf("copyImport: %v", err)
	}
	got, err := s.Read("abc-123/video.mp4")
	if err != nil || !bytes.Equal(got, payload) {
		t.Fatalf("Read = %d bytes, %v", len(got), err)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Error("source should be gone after copy")
	}
	leftovers, _ := filepath.Glob(filepath.Join(s.Root(), "abc-123", ".talkdrop-tmp-*"))
	if len(leftovers) != 0 {
		t.Errorf("temp files left behind: %v", leftovers)
	}

	if err := s.copyImport(src, "abc-123/again.mp4"); err == nil {
		t.Error("copying a missing source should fail")
	}
}

func TestOpen(t *testing.T) {
	s := tempRoot(t)
	_ = s.Write("t/a.txt", []byte("abc"))

	rc, info, err := s.Open("t/a.txt")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	if info.Size() != 3 {
		t.Errorf("size = %d", info.Size())
	}
	data, _ := io.ReadAll(rc)
	if string(data) != "abc" {
		t.Errorf("data = %q", data)
	}

	if _, _, err := s.Open("t/missing.txt"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing file err = %v", err)
	}
	if _, _, err := s.Open("t"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("directory err = %v", err)
	}
}

func TestListDirs(t *testing.T) {
	s := tempRoot(t)
	_ = s.EnsureDir("b")
	_ = s.EnsureDir("a")
	_ = s.EnsureDir(".temp")
	_ = s.Write("loose.txt", []byte("x"))

	got, err := s.ListDirs()
	if err != nil {
		t.Fatalf("ListDirs: %v", err)
	}
	if want := []string{"a", "b"}; !reflect.DeepEqual(got, want) {
		t.Errorf("ListDirs = %v, want %v", got, want)
	}
}

func TestTraversalBlocked(t *testing.T) {
	s := tempRoot(t)

	cases := []string{
		"../../etc/passwd",
		"../outside.txt",
		"/etc/shadow",
		"abc/../../x",
	}
	for _, p := range cases {
		if _, err := s.Read(p); err == nil {
			t.Errorf("expected error for path %q", p)
		}
		if err := s.Write(p, []byte("x")); err == nil {
			t.Errorf("expected error for write to %q", p)
		}
		if err := s.EnsureDir(p); err == nil {
			t.Errorf("expected error for mkdir %q", p)
		}
	}
}

func TestAtomicWriteReplaces(t *testing.T) {
	s := tempRoot(t)
	_ = s.Write("atomic.txt", []byte("original content"))

	if err := s.Write("atomic.txt", []byte("updated content")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, _ := s.Read("atomic.txt")
	if string(got) != "updated content" {
		t.Errorf("expected updated content, got %q", got)
	}

	matches, _ := filepath.Glob(filepath.Join(s.root, ".talkdrop-tmp-*"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestNewFS_CreatesMissingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "talks")
	s, err := NewFS(root)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	if s.Root() != root {
		t.Errorf("Root = %q, want %q", s.Root(), root)
	}
}

func TestNewFS_FileNotDir(t *testing.T) {
	f, _ := os.CreateTemp("", "talkdrop-test-*")
	_ = f.Close()
	defer os.Remove(f.Name())
	if _, err := NewFS(f.Name()); err == nil {
		t.Error("expected error when root is a file")
	}
}
