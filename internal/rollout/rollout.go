// Package rollout implements the append-only, crash-safe on-disk session
// record (C4 Rollout Journal): NDJSON, one header record followed by one
// record per history item, flushed on every write, with resume-by-replay,
// listing, fork, and archive support.
package rollout

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/nexus/internal/historymodel"
)

// Header is the first NDJSON record in a rollout file.
type Header struct {
	V                   int                        `json:"v"`
	ID                  string                     `json:"id"`
	CreatedAt           time.Time                  `json:"created_at"`
	Model               string                     `json:"model"`
	InstructionsHash    string                     `json:"instructions_hash,omitempty"`
	TurnContextDefaults TurnContextDefaults        `json:"defaults"`
}

// TurnContextDefaults mirrors the subset of historymodel.TurnContext that is
// worth persisting as session-wide defaults.
type TurnContextDefaults struct {
	Cwd            string `json:"cwd"`
	ApprovalPolicy string `json:"approval_policy"`
	SandboxPolicy  string `json:"sandbox_policy"`
}

// Record is one subsequent NDJSON line: {seq, kind, payload}.
type Record struct {
	Seq     uint64                  `json:"seq"`
	Kind    historymodel.ItemKind   `json:"kind"`
	Payload json.RawMessage         `json:"payload"`
}

// Journal is an append-only writer/reader for a single rollout file.
type Journal struct {
	path   string
	file   *os.File
	writer *bufio.Writer
	seq    uint64
}

// Create creates a new rollout file at path and writes the header record.
// The path's parent directory must already exist.
func Create(path string, header Header) (*Journal, error) {
	if header.V == 0 {
		header.V = 1
	}
	if header.ID == "" {
		header.ID = uuid.NewString()
	}
	if header.CreatedAt.IsZero() {
		header.CreatedAt = time.Now()
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("rollout: create %s: %w", path, err)
	}
	j := &Journal{path: path, file: f, writer: bufio.NewWriter(f)}
	if err := j.writeLine(header); err != nil {
		f.Close()
		return nil, err
	}
	return j, nil
}

// Append writes one record per item, flushing after each write: writes are
// line-buffered and flushed after every record.
func (j *Journal) Append(items ...historymodel.ResponseItem) error {
	for _, item := range items {
		j.seq++
		payload, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("rollout: marshal item: %w", err)
		}
		rec := Record{Seq: j.seq, Kind: item.Kind(), Payload: payload}
		if err := j.writeLine(rec); err != nil {
			return err
		}
	}
	return nil
}

func (j *Journal) writeLine(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := j.writer.Write(b); err != nil {
		return err
	}
	if err := j.writer.WriteByte('\n'); err != nil {
		return err
	}
	if err := j.writer.Flush(); err != nil {
		return err
	}
	return j.file.Sync()
}

// Close flushes and closes the underlying file.
func (j *Journal) Close() error {
	if err := j.writer.Flush(); err != nil {
		j.file.Close()
		return err
	}
	return j.file.Close()
}

// Path returns the rollout file's path.
func (j *Journal) Path() string { return j.path }

// ItemDecoder decodes a Record's raw payload into a concrete
// historymodel.ResponseItem given its Kind. This indirection lets the
// replay logic stay in this package without a hard compile-time dependency
// on every concrete ResponseItem constructor signature living here.
func DecodeItem(rec Record) (historymodel.ResponseItem, error) {
	switch rec.Kind {
	case historymodel.KindUserMessage:
		var v historymodel.UserMessage
		return v, json.Unmarshal(rec.Payload, &v)
	case historymodel.KindAgentMessage:
		var v historymodel.AgentMessage
		return v, json.Unmarshal(rec.Payload, &v)
	case historymodel.KindReasoning:
		var v historymodel.Reasoning
		return v, json.Unmarshal(rec.Payload, &v)
	case historymodel.KindFunctionCall:
		var v historymodel.FunctionCall
		return v, json.Unmarshal(rec.Payload, &v)
	case historymodel.KindFunctionCallOutput:
		var v historymodel.FunctionCallOutput
		return v, json.Unmarshal(rec.Payload, &v)
	case historymodel.KindLocalShellCall:
		var v historymodel.LocalShellCall
		return v, json.Unmarshal(rec.Payload, &v)
	case historymodel.KindCustomToolCall:
		var v historymodel.CustomToolCall
		return v, json.Unmarshal(rec.Payload, &v)
	case historymodel.KindCustomToolCallOutput:
		var v historymodel.CustomToolCallOutput
		return v, json.Unmarshal(rec.Payload, &v)
	case historymodel.KindGhostSnapshot:
		var v historymodel.GhostSnapshot
		return v, json.Unmarshal(rec.Payload, &v)
	default:
		return historymodel.Other{Raw: rec.Payload}, nil
	}
}

// ReadAll reads a rollout file's header and every record, tolerating a
// partially-written trailing line by dropping it (crash recovery).
func ReadAll(path string) (Header, []Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)

	var header Header
	var records []Record
	first := true
	var lastIncomplete bool

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if first {
			if err := json.Unmarshal(line, &header); err != nil {
				lastIncomplete = true
				break
			}
			first = false
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			lastIncomplete = true
			break
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil && !lastIncomplete {
		return header, records, err
	}
	return header, records, nil
}

// Resume replays a rollout file into a fresh slice of history items,
// bypassing output-truncation (already applied at original ingestion).
// The caller feeds the result into a new history.Store via Record.
func Resume(path string) (Header, []historymodel.ResponseItem, error) {
	header, records, err := ReadAll(path)
	if err != nil {
		return Header{}, nil, err
	}
	items := make([]historymodel.ResponseItem, 0, len(records))
	for _, rec := range records {
		item, err := DecodeItem(rec)
		if err != nil {
			return Header{}, nil, fmt.Errorf("rollout: decode record seq=%d: %w", rec.Seq, err)
		}
		items = append(items, item)
	}
	return header, items, nil
}

// Fork replays records but stops after the n-th UserMessage item
// (1-indexed); the returned items are the fork's starting prefix.
func Fork(path string, n int) (Header, []historymodel.ResponseItem, error) {
	header, items, err := Resume(path)
	if err != nil {
		return Header{}, nil, err
	}
	if n <= 0 {
		return header, nil, nil
	}
	seen := 0
	for i, item := range items {
		if _, ok := item.(historymodel.UserMessage); ok {
			seen++
			if seen == n {
				return header, items[:i+1], nil
			}
		}
	}
	return header, items, nil
}

// archiveSuffix marks a rollout file as archived; archived rollouts are
// hidden from List by default.
const archiveSuffix = ".archived"

// Archive renames path to mark it archived.
func Archive(path string) (string, error) {
	if strings.HasSuffix(path, archiveSuffix) {
		return path, nil
	}
	newPath := path + archiveSuffix
	if err := os.Rename(path, newPath); err != nil {
		return "", err
	}
	return newPath, nil
}

// Entry describes one rollout file discovered by List.
type Entry struct {
	Path     string
	ModTime  time.Time
	Provider string // derived from Header.Model's provider prefix, if any.
}

// Cursor is an opaque pagination token: last-seen filename + mtime.
type Cursor struct {
	Name    string
	ModTime time.Time
}

// List enumerates known rollout files under dir with pagination. Archived
// rollouts (suffix .archived) are excluded unless includeArchived is true.
// If providerFilter is non-empty, only rollouts whose header model starts
// with that prefix are returned.
func List(dir string, cursor *Cursor, pageSize int, includeArchived bool, providerFilter string) ([]Entry, *Cursor, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, err
	}

	type candidate struct {
		path    string
		modTime time.Time
		header  Header
	}
	var all []candidate
	for _, de := range entries {
		if de.IsDir() {
			continue
		}
		name := de.Name()
		if !includeArchived && strings.HasSuffix(name, archiveSuffix) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(dir, name)
		header, _, err := ReadAll(path)
		if err != nil {
			continue
		}
		if providerFilter != "" && !strings.HasPrefix(header.Model, providerFilter) {
			continue
		}
		all = append(all, candidate{path: path, modTime: info.ModTime(), header: header})
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].modTime.Equal(all[j].modTime) {
			return all[i].path < all[j].path
		}
		return all[i].modTime.After(all[j].modTime)
	})

	startIdx := 0
	if cursor != nil {
		for i, c := range all {
			if c.path == cursor.Name && c.modTime.Equal(cursor.ModTime) {
				startIdx = i + 1
				break
			}
		}
	}

	end := startIdx + pageSize
	if pageSize <= 0 || end > len(all) {
		end = len(all)
	}

	page := make([]Entry, 0, end-startIdx)
	for _, c := range all[startIdx:end] {
		page = append(page, Entry{Path: c.path, ModTime: c.modTime, Provider: c.header.Model})
	}

	var next *Cursor
	if end < len(all) {
		next = &Cursor{Name: all[end-1].path, ModTime: all[end-1].modTime}
	}
	return page, next, nil
}

// ReadHeaderOnly reads just the header of a rollout file (used by List
// without decoding the (potentially large) body).
func ReadHeaderOnly(path string) (Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, err
	}
	defer f.Close()
	r := bufio.NewReader(f)
	line, err := r.ReadString('\n')
	if err != nil && err != io.EOF {
		return Header{}, err
	}
	var h Header
	if err := json.Unmarshal([]byte(strings.TrimRight(line, "\n")), &h); err != nil {
		return Header{}, err
	}
	return h, nil
}
