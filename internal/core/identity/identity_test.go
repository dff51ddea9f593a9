package identity

import (
	"bytes"
	"crypto/sha256"
	"path/filepath"
	"testing"

	"github.com/dep2p/go-mesh/internal/core/storage/engine/memory"
	"github.com/dep2p/go-mesh/internal/core/storage/kv"
)

func TestGenerate(t *testing.T) {
	id1, err := Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	id2, err := Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if id1.ID().Equal(id2.ID()) {
		t.Error("two generated identities share a node id")
	}

	// 指纹 = SHA-256(公钥)
	want := sha256.Sum256(id1.PublicKey())
	if !bytes.Equal(id1.ID().Bytes(), want[:]) {
		t.Error("fingerprint is not sha256 of the public key")
	}
}

func TestFromSeed(t *testing.T) {
	seed := bytes.Repeat([]byte{0x42}, 32)

	id1, err := FromSeed(seed)
	if err != nil {
		t.Fatalf("FromSeed failed: %v", err)
	}
	id2, err := FromSeed(seed)
	if err != nil {
		t.Fatalf("FromSeed failed: %v", err)
	}

	if !id1.ID().Equal(id2.ID()) {
		t.Error("same seed produced different identities")
	}

	if _, err := FromSeed([]byte("short")); err != ErrInvalidSeed {
		t.Errorf("FromSeed(short) = %v, want ErrInvalidSeed", err)
	}
}

func TestSignVerify(t *testing.T) {
	id, err := Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	data := []byte("mesh envelope canonical bytes")
	sig := id.Sign(data)

	if !Verify(id.PublicKey(), data, sig) {
		t.Error("valid signature rejected")
	}

	tampered := append([]byte(nil), data...)
	tampered[0] ^= 0xFF
	if Verify(id.PublicKey(), tampered, sig) {
		t.Error("signature over tampered data accepted")
	}

	if Verify(id.PublicKey(), data, sig[:10]) {
		t.Error("truncated signature accepted")
	}
}

func TestMarshalUnmarshal(t *testing.T) {
	id, err := Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	raw := id.Marshal()
	restored, err := Unmarshal(raw)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if !id.ID().Equal(restored.ID()) {
		t.Error("restored identity has different node id")
	}

	// 恢复的身份能产生可验证的签名
	sig := restored.Sign([]byte("data"))
	if !Verify(id.PublicKey(), []byte("data"), sig) {
		t.Error("restored identity signature invalid")
	}

	if _, err := Unmarshal([]byte("short")); err != ErrInvalidKeySize {
		t.Errorf("Unmarshal(short) = %v, want ErrInvalidKeySize", err)
	}
}

func TestLoadOrCreate(t *testing.T) {
	store := kv.New(memory.New(), []byte("identity/"))

	id1, err := LoadOrCreate(store)
	if err != nil {
		t.Fatalf("LoadOrCreate failed: %v", err)
	}

	id2, err := LoadOrCreate(store)
	if err != nil {
		t.Fatalf("second LoadOrCreate failed: %v", err)
	}

	if !id1.ID().Equal(id2.ID()) {
		t.Error("LoadOrCreate did not return the persisted identity")
	}
}

func TestKeyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.key")

	id, err := Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if err := SaveKeyFile(id, path); err != nil {
		t.Fatalf("SaveKeyFile failed: %v", err)
	}

	loaded, err := LoadKeyFile(path)
	if err != nil {
		t.Fatalf("LoadKeyFile failed: %v", err)
	}
	if !id.ID().Equal(loaded.ID()) {
		t.Error("loaded identity has different node id")
	}
}

func TestLoadOrCreateKeyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "node.key")

	id1, err := LoadOrCreateKeyFile(path)
	if err != nil {
		t.Fatalf("LoadOrCreateKeyFile failed: %v", err)
	}

	id2, err := LoadOrCreateKeyFile(path)
	if err != nil {
		t.Fatalf("second LoadOrCreateKeyFile failed: %v", err)
	}

	if !id1.ID().Equal(id2.ID()) {
		t.Error("LoadOrCreateKeyFile did not reload the saved identity")
	}
}

func TestLoadKeyFile_Missing(t *testing.T) {
	_, err := LoadKeyFile(filepath.Join(t.TempDir(), "nope.key"))
	if err != ErrKeyNotFound {
		t.Errorf("LoadKeyFile(missing) = %v, want ErrKeyNotFound", err)
	}
}
