package envstore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestStoreMissingFileIsEmpty(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), ".env"))

	got, err := s.All()
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if diff := cmp.Diff(map[string]string{}, got); diff != "" {
		t.Errorf("values mismatch (-want +got):\n%s", diff)
	}
}

func TestStoreSetMerges(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("SEARCH_URL=https://example.com/s\nMAX_PRICE=100\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	s := New(path)

	if err := s.Set(map[string]string{"MAX_PRICE": "80", "CHAT_MESSAGE": "Hallo, noch da?"}); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, err := s.All()
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	want := map[string]string{
		"SEARCH_URL":   "https://example.com/s",
		"MAX_PRICE":    "80",
		"CHAT_MESSAGE": "Hallo, noch da?",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("values mismatch (-want +got):\n%s", diff)
	}

	v, ok, err := s.Get("CHAT_MESSAGE")
	if err != nil || !ok || v != "Hallo, noch da?" {
		t.Errorf("Get = %q, %v, %v", v, ok, err)
	}
	if _, ok, _ := s.Get("MISSING"); ok {
		t.Error("expected missing key")
	}
}

func TestStoreRejectsInvalidKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	s := New(path)

	for _, key := range []string{"", "1ABC", "WITH SPACE", "A=B"} {
		if err := s.Set(map[string]string{key: "x"}); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("Set(%q) error = %v, want ErrInvalidKey", key, err)
		}
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected no file to be written, stat err = %v", err)
	}
}
