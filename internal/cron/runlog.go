package cron

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
)

// runLogMaxBytes is the size threshold above which a run log is pruned.
const runLogMaxBytes = 2 * 1024 * 1024

// runLogMaxLines is how many trailing lines survive a prune.
const runLogMaxLines = 2000

// runLogEntry is one line in <storeDir>/runs/<jobId>.jsonl.
type runLogEntry struct {
	AtMs       int64     `json:"atMs"`
	Status     RunStatus `json:"status"`
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"durationMs"`
}

func runLogPath(storeDir, jobID string) string {
	return filepath.Join(storeDir, "runs", jobID+".jsonl")
}

// appendRunLog appends one finished-run entry, pruning the file to its
// last runLogMaxLines lines once it exceeds runLogMaxBytes.
func appendRunLog(storeDir, jobID string, entry runLogEntry) error {
	dir := filepath.Join(storeDir, "runs")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	path := runLogPath(storeDir, jobID)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	line, err := json.Marshal(entry)
	if err != nil {
		f.Close()
		return err
	}
	_, werr := f.Write(append(line, '\n'))
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return werr
	}

	if fi, err := os.Stat(path); err == nil && fi.Size() > runLogMaxBytes {
		return pruneRunLog(path)
	}
	return nil
}

// pruneRunLog rewrites path to keep only its last runLogMaxLines lines.
func pruneRunLog(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	f.Close()
	if err := scanner.Err(); err != nil {
		return err
	}

	if len(lines) > runLogMaxLines {
		lines = lines[len(lines)-runLogMaxLines:]
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "runlog-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	w := bufio.NewWriter(tmp)
	for _, l := range lines {
		w.WriteString(l)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// readRunLog returns up to limit most-recent entries (oldest first).
func readRunLog(storeDir, jobID string, limit int) ([]runLogEntry, error) {
	path := runLogPath(storeDir, jobID)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var entries []runLogEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e runLogEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}

// removeRunLog deletes the run log for jobID (used by Remove).
func removeRunLog(storeDir, jobID string) error {
	err := os.Remove(runLogPath(storeDir, jobID))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
