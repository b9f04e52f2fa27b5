package artifact

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSaveAndReadBack(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	path, n, err := s.Save(context.Background(), "job-1/model.glb", strings.NewReader("glTF-binary"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if n != int64(len("glTF-binary")) {
		t.Errorf("bytes written = %d, want %d", n, len("glTF-binary"))
	}
	if want := filepath.Join(s.Root(), "job-1", "model.glb"); path != want {
		t.Errorf("path = %q, want %q", path, want)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "glTF-binary" {
		t.Errorf("content = %q, want glTF-binary", data)
	}
}

func TestSaveCreatesNestedDirectories(t *testing.T) {
	s, err := NewStore(filepath.Join(t.TempDir(), "outputs"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	path, _, err := s.Save(context.Background(), "a/b/c.png", strings.NewReader("png"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("saved file missing: %v", err)
	}
}

func TestSaveRejectsTraversal(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	for _, key := range []string{"", ".", "..", "../escape.glb", "a/../../escape.glb"} {
		if _, _, err := s.Save(context.Background(), key, strings.NewReader("x")); err == nil {
			t.Errorf("Save(%q) = nil error, want rejection", key)
		}
	}
}

func TestSaveHonorsCancelledContext(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := s.Save(ctx, "job/model.glb", strings.NewReader("x")); !errors.Is(err, context.Canceled) {
		t.Errorf("Save with cancelled ctx = %v, want context.Canceled", err)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("connection reset")
}

func TestSaveFailedReadLeavesNoFile(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	_, _, err = s.Save(context.Background(), "job/model.glb", failingReader{})
	if err == nil {
		t.Fatal("Save with failing reader = nil error, want failure")
	}
	if _, err := os.Stat(filepath.Join(s.Root(), "job", "model.glb")); !os.IsNotExist(err) {
		t.Error("partial file left behind after failed save")
	}
}

func TestNewStoreRequiresRoot(t *testing.T) {
	if _, err := NewStore("  "); err == nil {
		t.Error("NewStore with blank root = nil error, want rejection")
	}
}
