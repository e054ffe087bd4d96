package state

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	json "github.com/goccy/go-json"
)

const fileKVVersion = 1

type fileEnvelope struct {
	Version int               `json:"version"`
	Values  map[string]string `json:"values"`
}

// FileKV keeps every key in one compressed JSON file. Each Set rewrites the
// file through a temp file, fsync and rename, so a crash leaves either the old
// or the new snapshot on disk. Get reloads the file when another process has
// replaced it.
type FileKV struct {
	mu         sync.RWMutex
	path       string
	values     map[string]string
	compressor Compressor
	modTime    time.Time
	size       int64
}

func OpenFileKV(path string, compressor Compressor) (*FileKV, error) {
	f := &FileKV{
		path:       path,
		values:     make(map[string]string),
		compressor: compressor,
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	if err := f.load(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *FileKV) load() error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	raw, err := f.compressor.Decompress(data)
	if err != nil {
		return fmt.Errorf("decompress %s: %w", f.path, err)
	}
	var env fileEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode %s: %w", f.path, err)
	}
	if env.Values == nil {
		env.Values = make(map[string]string)
	}
	f.values = env.Values
	return f.stat()
}

func (f *FileKV) stat() error {
	info, err := os.Stat(f.path)
	if err != nil {
		return err
	}
	f.modTime, f.size = info.ModTime(), info.Size()
	return nil
}

func (f *FileKV) reloadIfChanged() error {
	info, err := os.Stat(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if info.ModTime().Equal(f.modTime) && info.Size() == f.size {
		return nil
	}
	return f.load()
}

func (f *FileKV) Get(key string) (string, bool, error) {
	if err := f.reloadIfChanged(); err != nil {
		return "", false, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.values[key]
	return v, ok, nil
}

func (f *FileKV) Set(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	next := make(map[string]string, len(f.values)+1)
	for k, v := range f.values {
		next[k] = v
	}
	next[key] = value
	if err := f.write(next); err != nil {
		return err
	}
	f.values = next
	return nil
}

func (f *FileKV) write(values map[string]string) error {
	jsonData, err := json.Marshal(fileEnvelope{Version: fileKVVersion, Values: values})
	if err != nil {
		return err
	}
	data, err := f.compressor.Compress(jsonData)
	if err != nil {
		return err
	}

	tmpFile := f.path + ".tmp"
	file, err := os.Create(tmpFile)
	if err != nil {
		return err
	}

	_, err = file.Write(data)
	if err != nil {
		file.Close()
		os.Remove(tmpFile)
		return err
	}

	if err = file.Sync(); err != nil {
		file.Close()
		os.Remove(tmpFile)
		return err
	}

	if err = file.Close(); err != nil {
		os.Remove(tmpFile)
		return err
	}

	if err = os.Rename(tmpFile, f.path); err != nil {
		return err
	}
	return f.stat()
}

func (f *FileKV) Close() error {
	f.compressor.Close()
	return nil
}
