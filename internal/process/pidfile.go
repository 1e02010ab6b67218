package process

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// PIDRecord identifies a launched worker across application restarts.
// StartUnix guards against the PID having been reused.
type PIDRecord struct {
	PID       int    `json:"pid"`
	StartUnix int64  `json:"start_unix,omitempty"`
	Worker    string `json:"worker,omitempty"`
}

// RecordFor describes the worker owned by h.
func RecordFor(h *Handle, worker string) PIDRecord {
	return PIDRecord{PID: h.Pid(), StartUnix: procStartUnix(h.Pid()), Worker: worker}
}

// Alive reports whether rec still names the same running process.
func (r PIDRecord) Alive() bool { return sameProcess(r.PID, r.StartUnix) }

// WritePIDFile writes rec as a PID line followed by its JSON form. The
// file is replaced atomically.
func WritePIDFile(path string, rec PIDRecord) error {
	if rec.PID <= 0 {
		return fmt.Errorf("invalid pid %d", rec.PID)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create pid dir: %w", err)
	}
	meta, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	body := strconv.Itoa(rec.PID) + "\n" + string(meta) + "\n"
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(body), 0o600); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	return os.Rename(tmp, path)
}

// ReadPIDFile reads a file written by WritePIDFile. A file holding only
// the PID line is accepted with an empty record otherwise.
func ReadPIDFile(path string) (PIDRecord, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return PIDRecord{}, err
	}
	pidLine, rest, _ := strings.Cut(string(b), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(pidLine))
	if err != nil || pid <= 0 {
		return PIDRecord{}, fmt.Errorf("malformed pid file %s", path)
	}
	rec := PIDRecord{PID: pid}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return rec, nil
	}
	var meta PIDRecord
	if err := json.Unmarshal([]byte(rest), &meta); err != nil {
		// Keep the PID even if the metadata cannot be parsed.
		return rec, nil
	}
	meta.PID = pid
	return meta, nil
}

// RemovePIDFile deletes path; a missing file is not an error.
func RemovePIDFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
