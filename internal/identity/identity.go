// Package identity loads the SVN-author-to-Git-identity mapping file: flat
// lines of the form "svnuser = Full Name <email@example.com>".
package identity

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Map resolves an SVN author name to the "Name <email>" string fast-import
// expects in a committer/author line.
type Map struct {
	users map[string]string
}

// Load reads an identity file. Blank lines and lines starting with '#' are
// skipped.
func Load(filename string) (*Map, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open identity file %s: %w", filename, err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads identity mappings from r.
func Parse(r io.Reader) (*Map, error) {
	return parseScanner(bufio.NewScanner(r))
}

func parseScanner(scanner *bufio.Scanner) (*Map, error) {
	m := &Map{users: make(map[string]string)}
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.Index(line, "=")
		if idx < 0 {
			return nil, fmt.Errorf("identity file line %d: missing '='", lineNum)
		}
		user := strings.TrimSpace(line[:idx])
		identity := strings.TrimSpace(line[idx+1:])
		if user == "" || identity == "" {
			return nil, fmt.Errorf("identity file line %d: empty user or identity", lineNum)
		}
		m.users[user] = identity
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return m, nil
}

// Lookup returns the "Name <email>" identity for svnUser, falling back to a
// synthetic "svnUser <svnUser@localhost>" identity when no mapping exists.
func (m *Map) Lookup(svnUser string) string {
	if id, ok := m.users[svnUser]; ok {
		return id
	}
	return fmt.Sprintf("%s <%s@localhost>", svnUser, svnUser)
}

// Len reports the number of mapped users.
func (m *Map) Len() int { return len(m.users) }
