package identity

import (
	"crypto/ed25519"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dep2p/go-mesh/internal/core/storage/engine"
	"github.com/dep2p/go-mesh/internal/core/storage/kv"
)

// PEM 类型常量
const pemTypeEd25519Private = "ED25519 PRIVATE KEY"

// selfKey KV 存储中自身私钥的键（Store 已带 identity/ 前缀）
var selfKey = []byte("self")

// ============================================================================
//                              KV 持久化
// ============================================================================

// LoadOrCreate 从 KV 存储加载身份，不存在则生成并写回
func LoadOrCreate(store *kv.Store) (*Identity, error) {
	raw, err := store.Get(selfKey)
	if err == nil {
		return Unmarshal(raw)
	}
	if !engine.IsNotFound(err) {
		return nil, fmt.Errorf("加载身份失败: %w", err)
	}

	id, err := Generate()
	if err != nil {
		return nil, err
	}
	if err := store.Put(selfKey, id.Marshal()); err != nil {
		return nil, fmt.Errorf("持久化身份失败: %w", err)
	}
	return id, nil
}

// ============================================================================
//                              PEM 文件持久化
// ============================================================================

// SaveKeyFile 保存私钥到 PEM 文件
//
// 使用原子写操作（临时文件 + rename）防止部分写入导致的文件损坏。
// 文件权限设置为 0600，仅所有者可读写。
func SaveKeyFile(id *Identity, path string) error {
	block := &pem.Block{
		Type:  pemTypeEd25519Private,
		Bytes: id.Marshal(),
	}
	data := pem.EncodeToMemory(block)
	return atomicWriteFile(path, data, 0600)
}

// LoadKeyFile 从 PEM 文件加载身份
func LoadKeyFile(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrKeyNotFound
		}
		return nil, err
	}

	block, _ := pem.Decode(data)
	if block == nil || block.Type != pemTypeEd25519Private {
		return nil, ErrInvalidPEM
	}
	if len(block.Bytes) != ed25519.PrivateKeySize {
		return nil, ErrInvalidKeySize
	}

	return Unmarshal(block.Bytes)
}

// LoadOrCreateKeyFile 从 PEM 文件加载身份，不存在则生成并保存
func LoadOrCreateKeyFile(path string) (*Identity, error) {
	id, err := LoadKeyFile(path)
	if err == nil {
		return id, nil
	}
	if err != ErrKeyNotFound {
		return nil, err
	}

	id, err = Generate()
	if err != nil {
		return nil, err
	}
	if err := SaveKeyFile(id, path); err != nil {
		return nil, fmt.Errorf("保存身份文件失败: %w", err)
	}
	return id, nil
}

// atomicWriteFile 原子写文件
//
// 临时文件 + rename 策略；任何步骤失败时目标文件保持不变。
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("创建目录失败: %w", err)
		}
	}

	tmpFile, err := os.CreateTemp(dir, ".tmp-")
	if err != nil {
		return fmt.Errorf("创建临时文件失败: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("写入临时文件失败: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("同步临时文件失败: %w", err)
	}
	if err := tmpFile.Chmod(perm); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("设置文件权限失败: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("关闭临时文件失败: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("原子 rename 失败: %w", err)
	}

	success = true
	return nil
}
