package histstore

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"pkt.systems/parley/schema"
	"pkt.systems/pslog"
)

const (
	historyFile = "history.jsonl"
	partialFile = "partial.json"

	maxRecordBytes = 4 * 1024 * 1024
)

// Store persists per-workspace history logs and partial slots under a root
// directory. The history log is one JSON record per line, append-only;
// structural mutations rewrite the file atomically. The partial slot is a
// single JSON document overwritten atomically.
type Store struct {
	dir string
	log pslog.Logger
}

// NewStore constructs a store rooted at dir.
func NewStore(dir string, logger pslog.Logger) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("state directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, &schema.StorageError{Op: "mkdir", Path: dir, Err: err}
	}
	if logger != nil {
		logger = logger.With("state_dir", dir)
	}
	return &Store{dir: dir, log: logger}, nil
}

// Append writes one message to the end of the workspace's history log.
func (s *Store) Append(id schema.WorkspaceID, msg schema.Message) error {
	path := s.historyPath(id)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return s.storageError("append", path, err)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return s.storageError("append", path, err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return s.storageError("append", path, err)
	}
	data = append(data, '\n')
	if _, err := file.Write(data); err != nil {
		_ = file.Close()
		return s.storageError("append", path, err)
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		return s.storageError("append", path, err)
	}
	if err := file.Close(); err != nil {
		return s.storageError("append", path, err)
	}
	if s.log != nil {
		s.log.Trace("history append ok", "workspace", id, "bytes", len(data))
	}
	return nil
}

// ReadHistory returns all committed messages in stored order. A malformed
// record is logged and skipped; one bad record never loses the rest of the
// log.
func (s *Store) ReadHistory(id schema.WorkspaceID) ([]schema.Message, error) {
	path := s.historyPath(id)
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, s.storageError("read", path, err)
	}
	defer func() { _ = file.Close() }()

	var messages []schema.Message
	skipped := 0
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRecordBytes)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var msg schema.Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			skipped++
			if s.log != nil {
				s.log.Warn("history record skipped", "workspace", id, "line", line, "err", err)
			}
			continue
		}
		messages = append(messages, msg)
	}
	if err := scanner.Err(); err != nil {
		return nil, s.storageError("read", path, err)
	}
	if skipped > 0 && s.log != nil {
		s.log.Warn("history read recovered", "workspace", id, "messages", len(messages), "skipped", skipped)
	}
	return messages, nil
}

// Rewrite replaces the workspace's history log with the given messages.
func (s *Store) Rewrite(id schema.WorkspaceID, messages []schema.Message) error {
	path := s.historyPath(id)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return s.storageError("rewrite", path, err)
	}
	var buf []byte
	for _, msg := range messages {
		data, err := json.Marshal(msg)
		if err != nil {
			return s.storageError("rewrite", path, err)
		}
		buf = append(buf, data...)
		buf = append(buf, '\n')
	}
	if err := s.writeAtomic(path, buf); err != nil {
		return err
	}
	if s.log != nil {
		s.log.Trace("history rewrite ok", "workspace", id, "messages", len(messages))
	}
	return nil
}

// SavePartial overwrites the workspace's partial slot.
func (s *Store) SavePartial(id schema.WorkspaceID, msg schema.Message) error {
	path := s.partialPath(id)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return s.storageError("partial save", path, err)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return s.storageError("partial save", path, err)
	}
	return s.writeAtomic(path, data)
}

// LoadPartial reads the workspace's partial slot, reporting absence via ok.
// A malformed slot is treated as absent and logged, not surfaced as an error.
func (s *Store) LoadPartial(id schema.WorkspaceID) (schema.Message, bool, error) {
	path := s.partialPath(id)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return schema.Message{}, false, nil
		}
		return schema.Message{}, false, s.storageError("partial load", path, err)
	}
	var msg schema.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		if s.log != nil {
			s.log.Warn("partial slot skipped", "workspace", id, "err", err)
		}
		return schema.Message{}, false, nil
	}
	return msg, true, nil
}

// ClearPartial empties the workspace's partial slot.
func (s *Store) ClearPartial(id schema.WorkspaceID) error {
	path := s.partialPath(id)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return s.storageError("partial clear", path, err)
	}
	return nil
}

func (s *Store) writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".parley-*.tmp")
	if err != nil {
		return s.storageError("write", path, err)
	}
	tmpPath := tmp.Name()
	cleanup := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return s.storageError("write", path, err)
	}
	if _, err := tmp.Write(data); err != nil {
		return cleanup(err)
	}
	if err := tmp.Sync(); err != nil {
		return cleanup(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return s.storageError("write", path, err)
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		_ = os.Remove(tmpPath)
		return s.storageError("write", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return s.storageError("write", path, err)
	}
	return nil
}

func (s *Store) historyPath(id schema.WorkspaceID) string {
	return filepath.Join(s.workspaceDir(id), historyFile)
}

func (s *Store) partialPath(id schema.WorkspaceID) string {
	return filepath.Join(s.workspaceDir(id), partialFile)
}

func (s *Store) workspaceDir(id schema.WorkspaceID) string {
	name := sanitize(string(id))
	if name == "" {
		name = "unknown"
	}
	return filepath.Join(s.dir, "workspaces", name)
}

func (s *Store) storageError(op, path string, err error) error {
	if s.log != nil {
		s.log.Warn("store "+op+" failed", "path", path, "err", err)
	}
	return &schema.StorageError{Op: op, Path: path, Err: err}
}

func sanitize(value string) string {
	var b strings.Builder
	for _, r := range value {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		if r == '-' || r == '_' || r == '.' {
			b.WriteRune(r)
			continue
		}
		b.WriteRune('_')
	}
	return b.String()
}
