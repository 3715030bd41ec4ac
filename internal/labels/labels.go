// Package labels parses model label files into a class-id to label mapping.
package labels

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// Each non-empty line is "<integer><whitespace><text>".
var linePattern = regexp.MustCompile(`^\s*(\d+)\s*(.+)$`)

// Load parses the label file at path into a class-id to label map.
// A malformed non-empty line is an error; callers treat it as fatal
// at startup.
func Load(path string) (map[int]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open label file: %w", err)
	}
	defer f.Close()

	labels := make(map[int]string)
	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		m := linePattern.FindStringSubmatch(line)
		if m == nil {
			return nil, fmt.Errorf("malformed label line %d: %q", lineNum, line)
		}
		id, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, fmt.Errorf("malformed class id on line %d: %w", lineNum, err)
		}
		labels[id] = strings.TrimSpace(m[2])
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read label file: %w", err)
	}

	return labels, nil
}
