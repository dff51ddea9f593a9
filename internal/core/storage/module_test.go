package storage

import (
	"bytes"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/dep2p/go-mesh/config"
)

func TestNewEngine_Memory(t *testing.T) {
	cfg := config.DefaultStorageConfig()
	cfg.Backend = config.StorageBackendMemory

	eng, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("NewEngine(memory) failed: %v", err)
	}
	defer eng.Close()

	if err := eng.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	got, err := eng.Get([]byte("k"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(got, []byte("v")) {
		t.Errorf("Get returned %q, want %q", got, "v")
	}
}

func TestNewEngine_Badger(t *testing.T) {
	cfg := config.DefaultStorageConfig()
	cfg.Backend = config.StorageBackendBadger
	cfg.Path = t.TempDir()

	eng, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("NewEngine(badger) failed: %v", err)
	}
	defer eng.Close()

	if err := eng.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	exists, err := eng.Has([]byte("k"))
	if err != nil {
		t.Fatalf("Has failed: %v", err)
	}
	if !exists {
		t.Error("Has returned false for existing key")
	}
}

func TestNewEngine_Redis(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := config.DefaultStorageConfig()
	cfg.Backend = config.StorageBackendRedis
	cfg.RedisAddr = mr.Addr()

	eng, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("NewEngine(redis) failed: %v", err)
	}
	defer eng.Close()

	if err := eng.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	got, err := eng.Get([]byte("k"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(got, []byte("v")) {
		t.Errorf("Get returned %q, want %q", got, "v")
	}
}

func TestNewEngine_Unknown(t *testing.T) {
	cfg := config.DefaultStorageConfig()
	cfg.Backend = "etcd"

	_, err := NewEngine(cfg)
	if err == nil {
		t.Fatal("NewEngine with unknown backend should fail")
	}
}

func TestNewKVStore(t *testing.T) {
	cfg := config.DefaultStorageConfig()
	eng, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	defer eng.Close()

	store := NewKVStore(eng, []byte("peer/"))
	if err := store.Put([]byte("abc"), []byte("profile")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// 前缀直接落在引擎键上
	raw, err := eng.Get([]byte("peer/abc"))
	if err != nil {
		t.Fatalf("engine Get failed: %v", err)
	}
	if !bytes.Equal(raw, []byte("profile")) {
		t.Errorf("engine stored %q, want %q", raw, "profile")
	}
}
