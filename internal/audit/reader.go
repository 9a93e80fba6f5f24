package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ListSegments returns the JSONL segment paths under dir with the given
// prefix, in write order. Segment names embed timestamp and sequence,
// so lexical order is write order.
func ListSegments(dir, prefix string) ([]string, error) {
	if prefix == "" {
		prefix = "audit"
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, prefix+"-") && strings.HasSuffix(name, ".jsonl") {
			out = append(out, filepath.Join(dir, name))
		}
	}
	sort.Strings(out)
	return out, nil
}

// ReadFile decodes one JSONL segment into raw objects, preserving line
// order. Only whole lines exist on disk (the writer fsyncs whole lines
// before acknowledging), so a decode failure is data corruption.
func ReadFile(path string) ([]map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []map[string]any
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8<<20)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(line), &obj); err != nil {
			return nil, fmt.Errorf("decode %s line %d: %w", path, lineNo, err)
		}
		out = append(out, obj)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ReadDir decodes all segments under dir with the given prefix in
// write order.
func ReadDir(dir, prefix string) ([]map[string]any, error) {
	paths, err := ListSegments(dir, prefix)
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	for _, path := range paths {
		objs, err := ReadFile(path)
		if err != nil {
			return nil, err
		}
		out = append(out, objs...)
	}
	return out, nil
}
