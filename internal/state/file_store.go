package state

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"alats/internal/model"
	"alats/pkg/exception"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

const (
	checkpointPrefix = "checkpoint-"
	checkpointSuffix = ".ckpt"
	archiveFile      = "orders.jsonl"
)

// FileStore keeps one file per checkpoint in a directory.
type FileStore struct {
	dir    string
	retain int

	mu sync.Mutex
}

// NewFileStore opens dir, creating it when missing. retain <= 0 keeps every
// checkpoint.
func NewFileStore(dir string, retain int) (*FileStore, error) {
	if dir == "" {
		return nil, errors.Wrap(exception.ErrInvalidArgument, "checkpoint dir is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create checkpoint dir").With("dir", dir)
	}
	return &FileStore{dir: dir, retain: retain}, nil
}

// Dir returns the checkpoint directory.
func (s *FileStore) Dir() string {
	return s.dir
}

// Path returns the file holding seq.
func (s *FileStore) Path(seq uint64) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s%020d%s", checkpointPrefix, seq, checkpointSuffix))
}

// SaveCheckpoint writes a temp file, fsyncs it and renames it into place, so a
// reader sees either the whole checkpoint or none of it.
func (s *FileStore) SaveCheckpoint(ctx context.Context, seq uint64, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, ".tmp-checkpoint-*")
	if err != nil {
		return errors.Wrap(err, "create temp checkpoint")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "write checkpoint")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "sync checkpoint")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close checkpoint")
	}
	if err := os.Rename(tmpName, s.Path(seq)); err != nil {
		return errors.Wrap(err, "rename checkpoint")
	}
	if err := syncDir(s.dir); err != nil {
		return errors.Wrap(err, "sync checkpoint dir")
	}

	s.prune()
	return nil
}

func (s *FileStore) LoadLatestCheckpoint(ctx context.Context, below uint64) (uint64, []byte, error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	seqs, err := s.sequences()
	if err != nil {
		return 0, nil, err
	}
	for i := len(seqs) - 1; i >= 0; i-- {
		seq := seqs[i]
		if below != 0 && seq >= below {
			continue
		}
		data, err := os.ReadFile(s.Path(seq))
		if err != nil {
			return seq, nil, errors.Wrap(err, "read checkpoint").With("seq", seq)
		}
		return seq, data, nil
	}
	return 0, nil, exception.ErrNoCheckpoint
}

// Archive appends a terminal order to the archive log.
func (s *FileStore) Archive(ctx context.Context, order model.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	line, err := sonic.Marshal(order)
	if err != nil {
		return errors.Wrap(err, "marshal archived order")
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(filepath.Join(s.dir, archiveFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrap(err, "open order archive")
	}
	defer f.Close()
	if _, err := f.Write(line); err != nil {
		return errors.Wrap(err, "append order archive")
	}
	return nil
}

func (s *FileStore) Close() error {
	return nil
}

// sequences lists stored sequence numbers in ascending order.
func (s *FileStore) sequences() ([]uint64, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errors.Wrap(err, "list checkpoints")
	}
	seqs := make([]uint64, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, checkpointPrefix) || !strings.HasSuffix(name, checkpointSuffix) {
			continue
		}
		seq, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimPrefix(name, checkpointPrefix), checkpointSuffix), 10, 64)
		if err != nil {
			continue
		}
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs, nil
}

func (s *FileStore) prune() {
	if s.retain <= 0 {
		return
	}
	seqs, err := s.sequences()
	if err != nil || len(seqs) <= s.retain {
		return
	}
	for _, seq := range seqs[:len(seqs)-s.retain] {
		if err := os.Remove(s.Path(seq)); err != nil {
			logs.Warnf("state: prune checkpoint %d, err: %+v", seq, err)
		}
	}
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
