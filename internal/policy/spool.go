package policy

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"sync"

	"alats/internal/replay"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"
)

// Spool appends training batches as JSON lines, one entry per line, to
// training.jsonl under dir. A nil Spool or an empty dir discards batches.
type Spool struct {
	path string

	mu sync.Mutex
	f  *os.File
}

func NewSpool(dir string) *Spool {
	if dir == "" {
		return nil
	}
	return &Spool{path: filepath.Join(dir, "training.jsonl")}
}

func (s *Spool) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

func (s *Spool) Append(ctx context.Context, batch []replay.Entry) error {
	if s == nil || len(batch) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
			return errors.Wrapf(err, "create spool dir, path: %s", s.path)
		}
		f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return errors.Wrapf(err, "open spool, path: %s", s.path)
		}
		s.f = f
	}

	w := bufio.NewWriter(s.f)
	for _, e := range batch {
		b, err := sonic.Marshal(e)
		if err != nil {
			return errors.Wrap(err, "marshal replay entry")
		}
		_, _ = w.Write(b)
		_ = w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		return errors.Wrapf(err, "write spool, path: %s", s.path)
	}
	return nil
}

func (s *Spool) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
