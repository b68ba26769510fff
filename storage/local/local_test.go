package local

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	apperrors "github.com/kbukum/agentflow/errors"
	"github.com/kbukum/agentflow/logger"
	"github.com/kbukum/agentflow/storage"
)

func TestStorage_RoundTrip(t *testing.T) {
	s, err := NewStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if err := s.Upload(ctx, "src/App.tsx", strings.NewReader("export default 1")); err != nil {
		t.Fatalf("upload: %v", err)
	}
	ok, err := s.Exists(ctx, "src/App.tsx")
	if err != nil || !ok {
		t.Fatalf("exists = %v, %v", ok, err)
	}

	rc, err := s.Download(ctx, "src/App.tsx")
	if err != nil {
		t.Fatal(err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "export default 1" {
		t.Errorf("content = %q", data)
	}

	if err := s.Delete(ctx, "src/App.tsx"); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "src/App.tsx"); err != nil {
		t.Errorf("deleting a missing file should succeed, got %v", err)
	}
	if _, err := s.Download(ctx, "src/App.tsx"); apperrors.CodeOf(err) != apperrors.ErrCodeNotFound {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}

func TestStorage_RejectsEscapingPaths(t *testing.T) {
	base := t.TempDir()
	s, err := NewStorage(filepath.Join(base, "root"))
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{"../outside.txt", "a/../../outside.txt", "/etc/passwd", "", "."} {
		t.Run(p, func(t *testing.T) {
			err := s.Upload(context.Background(), p, strings.NewReader("x"))
			if apperrors.CodeOf(err) != apperrors.ErrCodeInvalidInput {
				t.Errorf("Upload(%q) = %v, want INVALID_INPUT", p, err)
			}
		})
	}
	if _, err := os.Stat(filepath.Join(base, "outside.txt")); !os.IsNotExist(err) {
		t.Error("file written outside the storage root")
	}
}

func TestStorage_List(t *testing.T) {
	s, err := NewStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	for _, p := range []string{"src/b.ts", "src/a.ts", "index.html"} {
		if err := s.Upload(ctx, p, strings.NewReader(p)); err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.List(ctx, "")
	if err != nil || len(all) != 3 {
		t.Fatalf("list all = %v, %v", all, err)
	}
	src, _ := s.List(ctx, "src/")
	if len(src) != 2 || src[0].Path != "src/a.ts" {
		t.Errorf("list src = %+v", src)
	}
	if src[0].ContentType == "" {
		t.Error("content type should be set")
	}
}

func TestFactory(t *testing.T) {
	dir := t.TempDir()
	s, err := storage.New(storage.Config{Provider: storage.ProviderLocal, BasePath: dir}, nil, logger.Nop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	client := storage.NewByteClient(s, 4)
	ctx := context.Background()
	if err := client.Upload(ctx, "ok.txt", []byte("1234")); err != nil {
		t.Fatal(err)
	}
	if err := client.Upload(ctx, "big.txt", []byte("12345")); err == nil {
		t.Error("expected size limit error")
	}
	data, err := client.Download(ctx, "ok.txt")
	if err != nil || !bytes.Equal(data, []byte("1234")) {
		t.Errorf("download = %q, %v", data, err)
	}

	if _, err := storage.New(storage.Config{Provider: "s3", BasePath: dir}, nil, logger.Nop()); err == nil {
		t.Error("expected unsupported provider error")
	}
	if _, err := storage.New(storage.Config{}, nil, logger.Nop()); err == nil {
		t.Error("expected base_path error")
	}
	if _, err := storage.New(storage.Config{BasePath: dir}, "wrong", logger.Nop()); err == nil {
		t.Error("expected provider config type error")
	}
}
