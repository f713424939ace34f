package pidutil

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// meta is stored on the second line of a pid file so that a reused PID can be
// told apart from the process that originally wrote the file.
type meta struct {
	StartUnix int64 `json:"start_unix"`
}

// Write records pid in path. The second line carries the process start time when
// it can be determined.
func Write(path string, pid int) error {
	if path == "" || pid <= 0 {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	var b strings.Builder
	b.WriteString(strconv.Itoa(pid))
	b.WriteByte('\n')
	if start := StartUnix(pid); start > 0 {
		m, _ := json.Marshal(meta{StartUnix: start})
		b.Write(m)
		b.WriteByte('\n')
	}
	return os.WriteFile(path, []byte(b.String()), 0o600)
}

// Read parses a pid file written by Write. Files holding only a PID are accepted;
// startUnix is 0 for them.
func Read(path string) (pid int, startUnix int64, err error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return 0, 0, err
	}
	first, rest, _ := strings.Cut(strings.ReplaceAll(string(b), "\r\n", "\n"), "\n")
	pid, err = strconv.Atoi(strings.TrimSpace(first))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid pid in %s: %w", path, err)
	}
	line, _, _ := strings.Cut(rest, "\n")
	if line = strings.TrimSpace(line); line != "" {
		var m meta
		if json.Unmarshal([]byte(line), &m) == nil {
			startUnix = m.StartUnix
		}
	}
	return pid, startUnix, nil
}

// Remove deletes path, ignoring a missing file.
func Remove(path string) {
	if path == "" {
		return
	}
	_ = os.Remove(path)
}

// Owned reports whether pid is alive and, when startUnix is known, still the same
// process that was recorded.
func Owned(pid int, startUnix int64) bool {
	if !Alive(pid) {
		return false
	}
	if startUnix > 0 {
		if cur := StartUnix(pid); cur > 0 && cur != startUnix {
			return false
		}
	}
	return true
}
