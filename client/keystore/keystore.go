// Package keystore 本机密钥库实现
package keystore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	sharedErrors "github.com/incyashraj/ParkShare-sub000/shared/errors"
	"github.com/incyashraj/ParkShare-sub000/shared/keys"
)

var (
	_ keys.Keystore = (*File)(nil)
	_ keys.Keystore = (*Memory)(nil)
)

// File 每个用户一个 PEM 文件，权限 0600
type File struct {
	dir string
	mu  sync.Mutex
}

func NewFile(dir string) *File {
	return &File{dir: dir}
}

func (f *File) path(ownerID int64) string {
	return filepath.Join(f.dir, strconv.FormatInt(ownerID, 10)+".pem")
}

func (f *File) Get(_ context.Context, ownerID int64) (*keys.KeyPair, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path(ownerID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, keys.ErrKeyNotFound
	}
	if err != nil {
		return nil, sharedErrors.ErrKeystoreUnavailable.Wrap(err)
	}

	kp, err := keys.UnmarshalKeyPair(data)
	if err != nil {
		return nil, sharedErrors.ErrKeystoreUnavailable.Wrap(err)
	}
	if kp.OwnerID != ownerID {
		return nil, sharedErrors.ErrKeystoreUnavailable.Wrap(fmt.Errorf("key file belongs to %d", kp.OwnerID))
	}
	return kp, nil
}

// Set 先写临时文件再重命名，避免写一半的密钥文件
func (f *File) Set(_ context.Context, kp *keys.KeyPair) error {
	data, err := keys.MarshalKeyPair(kp)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(f.dir, 0o700); err != nil {
		return sharedErrors.ErrKeystoreUnavailable.Wrap(err)
	}
	tmp, err := os.CreateTemp(f.dir, ".key-*")
	if err != nil {
		return sharedErrors.ErrKeystoreUnavailable.Wrap(err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return sharedErrors.ErrKeystoreUnavailable.Wrap(err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return sharedErrors.ErrKeystoreUnavailable.Wrap(err)
	}
	if err := tmp.Close(); err != nil {
		return sharedErrors.ErrKeystoreUnavailable.Wrap(err)
	}
	if err := os.Rename(tmp.Name(), f.path(kp.OwnerID)); err != nil {
		return sharedErrors.ErrKeystoreUnavailable.Wrap(err)
	}
	return nil
}

func (f *File) Clear(_ context.Context, ownerID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path(ownerID)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return sharedErrors.ErrKeystoreUnavailable.Wrap(err)
	}
	return nil
}

// Memory 进程内密钥库，退出即丢失
type Memory struct {
	mu    sync.RWMutex
	pairs map[int64][]byte
}

func NewMemory() *Memory {
	return &Memory{pairs: make(map[int64][]byte)}
}

// Get 返回副本，调用方修改不影响库内数据
func (m *Memory) Get(_ context.Context, ownerID int64) (*keys.KeyPair, error) {
	m.mu.RLock()
	data, ok := m.pairs[ownerID]
	m.mu.RUnlock()
	if !ok {
		return nil, keys.ErrKeyNotFound
	}
	return keys.UnmarshalKeyPair(data)
}

func (m *Memory) Set(_ context.Context, kp *keys.KeyPair) error {
	data, err := keys.MarshalKeyPair(kp)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.pairs[kp.OwnerID] = data
	m.mu.Unlock()
	return nil
}

func (m *Memory) Clear(_ context.Context, ownerID int64) error {
	m.mu.Lock()
	delete(m.pairs, ownerID)
	m.mu.Unlock()
	return nil
}
