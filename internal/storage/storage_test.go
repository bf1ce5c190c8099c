package storage

import (
	"strings"
	"testing"
)

func TestPutGetRoundTrip(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}

	uri, err := s.Put("task-1/chart.svg", []byte("<svg/>"))
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if !strings.HasPrefix(uri, "file://") {
		t.Errorf("Expected file:// URI, got %s", uri)
	}

	data, err := s.Get(uri)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(data) != "<svg/>" {
		t.Errorf("Unexpected data: %q", data)
	}
}

func TestPutRejectsTraversal(t *testing.T) {
	s, _ := NewFileStore(t.TempDir())

	if _, err := s.Put("../escape.txt", []byte("x")); err == nil {
		t.Error("Expected traversal key to be rejected")
	}
	if _, err := s.Put("/etc/passwd", []byte("x")); err == nil {
		t.Error("Expected absolute key to be rejected")
	}
}

func TestGetRejectsOutsideRoot(t *testing.T) {
	s, _ := NewFileStore(t.TempDir())

	if _, err := s.Get("file:///etc/passwd"); err == nil {
		t.Error("Expected URI outside root to be rejected")
	}
}
