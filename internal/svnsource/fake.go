package svnsource

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
)

// FakeEntry is one revision's recorded state for a path, used to build a
// FakeSource in tests without a real SVN repository.
type FakeEntry struct {
	Rev          int
	Path         string
	Action       ChangeAction
	Kind         NodeKind
	Content      string
	CopyFromPath string
	CopyFromRev  int
	MergeinfoMod bool
	Props        map[string]string
}

// FakeSource is an in-memory Source used to exercise the core engine
// without shelling out to real SVN tooling.
type FakeSource struct {
	changes     map[int][]FakeEntry
	revProps    map[int]RevProps
	propDiffs   map[int]string
	logs        map[int]string
	youngest    int
	repoPath    string
}

func NewFakeSource() *FakeSource {
	return &FakeSource{
		changes:   make(map[int][]FakeEntry),
		revProps:  make(map[int]RevProps),
		propDiffs: make(map[int]string),
		logs:      make(map[int]string),
		repoPath:  "/fake/repo",
	}
}

func (f *FakeSource) AddRevision(rev int, props RevProps, entries ...FakeEntry) {
	f.changes[rev] = entries
	f.revProps[rev] = props
	if rev > f.youngest {
		f.youngest = rev
	}
}

func (f *FakeSource) SetPropertyDiff(rev int, text string) { f.propDiffs[rev] = text }
func (f *FakeSource) SetLog(rev int, text string)          { f.logs[rev] = text }

func (f *FakeSource) RepositoryPath() string { return f.repoPath }

func (f *FakeSource) YoungestRevision(ctx context.Context) (int, error) {
	return f.youngest, nil
}

func (f *FakeSource) PathsChanged(ctx context.Context, rev int) ([]PathChange, error) {
	var out []PathChange
	for _, e := range f.changes[rev] {
		out = append(out, PathChange{
			Path:         e.Path,
			Action:       e.Action,
			Kind:         e.Kind,
			CopyFromPath: e.CopyFromPath,
			CopyFromRev:  e.CopyFromRev,
			MergeinfoMod: e.MergeinfoMod,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (f *FakeSource) CopiedFrom(ctx context.Context, rev int, path string) (string, int, bool, error) {
	for _, e := range f.changes[rev] {
		if e.Path == path && e.CopyFromPath != "" {
			return e.CopyFromPath, e.CopyFromRev, true, nil
		}
	}
	return "", 0, false, nil
}

func (f *FakeSource) findEntry(rev int, path string) (FakeEntry, bool) {
	for r := rev; r >= 0; r-- {
		for _, e := range f.changes[r] {
			if e.Path == path && e.Action != ActionDelete {
				return e, true
			}
			if e.Path == path && e.Action == ActionDelete && r == rev {
				return FakeEntry{}, false
			}
		}
	}
	return FakeEntry{}, false
}

func (f *FakeSource) NodeProp(ctx context.Context, rev int, path, propName string) (string, bool, error) {
	e, ok := f.findEntry(rev, path)
	if !ok || e.Props == nil {
		return "", false, nil
	}
	v, ok := e.Props[propName]
	return v, ok, nil
}

func (f *FakeSource) DirEntries(ctx context.Context, rev int, path string) ([]DirEntry, error) {
	seen := make(map[string]DirEntry)
	prefix := strings.TrimSuffix(path, "/") + "/"
	for r := 0; r <= rev; r++ {
		for _, e := range f.changes[r] {
			if !strings.HasPrefix(e.Path, prefix) {
				continue
			}
			rest := strings.TrimPrefix(e.Path, prefix)
			name := strings.SplitN(rest, "/", 2)[0]
			if e.Action == ActionDelete && rest == name {
				delete(seen, name)
				continue
			}
			kind := NodeFile
			if strings.Contains(rest, "/") || e.Kind == NodeDir {
				kind = NodeDir
			}
			seen[name] = DirEntry{Name: name, Kind: kind}
		}
	}
	var out []DirEntry
	for _, d := range seen {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *FakeSource) FileLength(ctx context.Context, rev int, path string) (int64, error) {
	e, ok := f.findEntry(rev, path)
	if !ok {
		return 0, fmt.Errorf("no such file %s at r%d", path, rev)
	}
	return int64(len(e.Content)), nil
}

type stringCloser struct{ io.Reader }

func (stringCloser) Close() error { return nil }

func (f *FakeSource) FileContents(ctx context.Context, rev int, path string) (io.ReadCloser, error) {
	e, ok := f.findEntry(rev, path)
	if !ok {
		return nil, fmt.Errorf("no such file %s at r%d", path, rev)
	}
	return stringCloser{strings.NewReader(e.Content)}, nil
}

func (f *FakeSource) CheckPath(ctx context.Context, rev int, path string) (NodeKind, error) {
	if e, ok := f.findEntry(rev, path); ok {
		if e.Kind == 0 {
			return NodeFile, nil
		}
		return e.Kind, nil
	}
	if entries, _ := f.DirEntries(ctx, rev, path); len(entries) > 0 {
		return NodeDir, nil
	}
	return NodeNone, nil
}

func (f *FakeSource) RevisionProps(ctx context.Context, rev int) (RevProps, error) {
	p, ok := f.revProps[rev]
	if !ok {
		return RevProps{}, fmt.Errorf("no revprops recorded for r%d", rev)
	}
	return p, nil
}

func (f *FakeSource) PropertyDiff(ctx context.Context, rev int) (string, error) {
	return f.propDiffs[rev], nil
}

func (f *FakeSource) Log(ctx context.Context, rev int) (string, error) {
	return f.logs[rev], nil
}

var _ Source = (*FakeSource)(nil)
var _ Source = (*ShellSource)(nil)
