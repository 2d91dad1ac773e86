package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	logx "searchalert/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.subscriptions.json (snapshot, replaced atomically on write)
//   - <prefix>.audit.jsonl        (append-only JSON Lines)
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	subsPath  string
	subs      map[string]Subscription
	auditFile *os.File
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	subsPath := prefix + ".subscriptions.json"
	subs := map[string]Subscription{}
	if err := loadSubscriptions(subsPath, subs); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", subsPath, err)
	}

	af, err := os.OpenFile(prefix+".audit.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	log.Debug("file store opened", logx.String("path", subsPath), logx.Int("subscriptions", len(subs)))
	return &fileStore{
		log:       log,
		subsPath:  subsPath,
		subs:      subs,
		auditFile: af,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return nil
	}
	err := s.auditFile.Close()
	s.auditFile = nil
	return err
}

func (s *fileStore) ListSubscriptions(ctx context.Context) ([]Subscription, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fileStore) PutSubscription(ctx context.Context, sub Subscription) error {
	_ = ctx
	if err := sub.validate(); err != nil {
		return err
	}
	if sub.Created.IsZero() {
		sub.Created = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.subs[sub.ID]
	s.subs[sub.ID] = sub
	if err := s.saveLocked(); err != nil {
		if had {
			s.subs[sub.ID] = prev
		} else {
			delete(s.subs, sub.ID)
		}
		return err
	}
	return nil
}

func (s *fileStore) MarkNotified(ctx context.Context, id string, at time.Time) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok {
		return ErrNotFound
	}
	prev := sub.LastNotified
	sub.LastNotified = at.UTC()
	s.subs[id] = sub
	if err := s.saveLocked(); err != nil {
		sub.LastNotified = prev
		s.subs[id] = sub
		return err
	}
	return nil
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return errors.New("audit file closed")
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

// saveLocked writes the snapshot to a temp file and renames it into place.
func (s *fileStore) saveLocked() error {
	list := make([]Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		list = append(list, sub)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })

	tmp := s.subsPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(list); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.subsPath)
}

func loadSubscriptions(path string, out map[string]Subscription) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var list []Subscription
	if err := json.NewDecoder(f).Decode(&list); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	for _, sub := range list {
		if strings.TrimSpace(sub.ID) == "" {
			continue
		}
		out[sub.ID] = sub
	}
	return nil
}
