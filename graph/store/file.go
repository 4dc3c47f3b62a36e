package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sync"
)

// FileStore keeps one JSON document per thread in a directory. Each document
// holds the latest checkpoint and the full commit history, and is replaced
// atomically (write to temp file, fsync, rename) on every Save.
//
// FileStore suits single-process deployments without a database. Writers in
// other processes are detected through the version check, but two processes
// racing on the same file between read and rename are not.
//
// Type parameter S is the state type to persist.
type FileStore[S any] struct {
	dir    string
	mu     sync.Mutex
	closed bool
}

type fileDocument[S any] struct {
	Checkpoint Checkpoint[S] `json:"checkpoint"`
	History    []StepRecord  `json:"history"`
}

// NewFileStore returns a store rooted at dir and runs Setup.
func NewFileStore[S any](dir string) (*FileStore[S], error) {
	st := &FileStore[S]{dir: dir}
	if err := st.Setup(context.Background()); err != nil {
		return nil, err
	}
	return st, nil
}

// Setup creates the store directory.
func (f *FileStore[S]) Setup(_ context.Context) error {
	if err := os.MkdirAll(f.dir, 0o750); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}
	return nil
}

func (f *FileStore[S]) path(threadID string) string {
	return filepath.Join(f.dir, url.PathEscape(threadID)+".json")
}

func (f *FileStore[S]) read(threadID string) (*fileDocument[S], error) {
	data, err := os.ReadFile(f.path(threadID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}
	var doc fileDocument[S]
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint file: %w", err)
	}
	return &doc, nil
}

// Save replaces the thread's document if the stored version is cp.Version-1.
func (f *FileStore[S]) Save(ctx context.Context, cp Checkpoint[S]) error {
	if err := validate(cp); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}

	doc, err := f.read(cp.ThreadID)
	switch {
	case errors.Is(err, ErrNotFound):
		doc = &fileDocument[S]{}
	case err != nil:
		return err
	}
	if doc.Checkpoint.Version != cp.Version-1 {
		return fmt.Errorf("%w: thread %s at version %d, write expects %d",
			ErrVersionConflict, cp.ThreadID, doc.Checkpoint.Version, cp.Version-1)
	}

	doc.Checkpoint = cp
	doc.History = append(doc.History, Record(cp))

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint file: %w", err)
	}
	if err := atomicWriteFile(f.path(cp.ThreadID), data, 0o600); err != nil {
		return fmt.Errorf("failed to write checkpoint file: %w", err)
	}
	return nil
}

// Load returns the latest checkpoint for threadID.
func (f *FileStore[S]) Load(_ context.Context, threadID string) (Checkpoint[S], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return Checkpoint[S]{}, ErrClosed
	}

	doc, err := f.read(threadID)
	if err != nil {
		return Checkpoint[S]{}, err
	}
	return doc.Checkpoint, nil
}

// History returns the thread's commits, oldest first.
func (f *FileStore[S]) History(_ context.Context, threadID string) ([]StepRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrClosed
	}

	doc, err := f.read(threadID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc.History, nil
}

// Dir returns the store directory.
func (f *FileStore[S]) Dir() string {
	return f.dir
}

// Close marks the store closed.
func (f *FileStore[S]) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
