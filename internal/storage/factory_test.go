package storage

import "testing"

func TestNewStoreMemory(t *testing.T) {
	store, err := NewStore("memory", "")
	if err != nil {
		t.Fatalf("new memory store: %v", err)
	}
	if store == nil {
		t.Fatal("expected non-nil store")
	}
}

func TestNewStoreDefaultsToMemory(t *testing.T) {
	store, err := NewStore("", "")
	if err != nil {
		t.Fatalf("new default store: %v", err)
	}
	if _, ok := store.(*MemoryStore); !ok {
		t.Fatalf("default store is %T, want *MemoryStore", store)
	}
}

func TestNewStoreUnsupported(t *testing.T) {
	_, err := NewStore("unknown", "")
	if err == nil {
		t.Fatal("expected unsupported store error")
	}
}

func TestCloseIfSupportedOnMemoryStore(t *testing.T) {
	if err := CloseIfSupported(NewMemoryStore()); err != nil {
		t.Fatalf("CloseIfSupported: %v", err)
	}
}
