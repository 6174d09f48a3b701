package merge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// mergeinfoResult is the outcome of parsing one revision's property diff.
type mergeinfoResult struct {
	Infos []Info
	Empty bool
}

var (
	propertyChangeHeaderRE = regexp.MustCompile(`(?m)^(Added|Deleted|Modified):\s*(\S+)\s*$`)
	emptyHunkRE            = regexp.MustCompile(`(?m)^## -0,0 \+0,0 ##\s*$`)
	propertyChangesOnRE    = regexp.MustCompile(`(?m)^Property changes on:\s*(.+?)\s*$`)
	nonMergeinfoPropRE     = regexp.MustCompile(`(?m)^(Added|Deleted|Modified): (svn:executable|svn:keywords|svn:eol-style|svn:mime-type|fbsd:notbinary)\s*$[^\n]*\n(?:^[^\n]*\n)*?(?:\n|\z)`)
	mergeLineRE            = regexp.MustCompile(`^\s*(Merged|Reverse-merged)\s+(\S+?):r(\d+)(?:-(\d+))?\s*$`)
)

// parseMergeinfoDiff implements §4.8.1: classify property-change headers,
// strip known noise, scan the remainder for mergeinfo change blocks, and
// decide acceptance.
func (e *Engine) parseMergeinfoDiff(ctx context.Context, rev int, raw string) (mergeinfoResult, error) {
	headers := propertyChangeHeaderRE.FindAllStringSubmatchIndex(raw, -1)
	if len(headers) == 0 {
		return mergeinfoResult{Empty: true}, nil
	}

	allEmpty := true
	onlyDeletes := true
	for _, h := range headers {
		kind := raw[h[2]:h[3]]
		if kind != "Deleted" {
			onlyDeletes = false
		}
		// Look at the text immediately following this header line for the
		// empty-hunk marker within the next 160 bytes.
		start := h[1]
		end := start + 160
		if end > len(raw) {
			end = len(raw)
		}
		if !emptyHunkRE.MatchString(raw[start:end]) {
			allEmpty = false
		}
	}
	if allEmpty {
		return mergeinfoResult{Empty: true}, nil
	}
	if onlyDeletes {
		return mergeinfoResult{Empty: true}, nil
	}

	stripped := nonMergeinfoPropRE.ReplaceAllString(raw, "")

	// Walk "Property changes on: <path>" sections, extracting Merged /
	// Reverse-merged lines within each.
	var infos []Info
	sections := propertyChangesOnRE.FindAllStringSubmatchIndex(stripped, -1)
	for i, sec := range sections {
		path := stripped[sec[2]:sec[3]]
		blockStart := sec[1]
		blockEnd := len(stripped)
		if i+1 < len(sections) {
			blockEnd = sections[i+1][0]
		}
		block := stripped[blockStart:blockEnd]
		for _, line := range strings.Split(block, "\n") {
			m := mergeLineRE.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			direction, fromPath, revStr, revEndStr := m[1], m[2], m[3], m[4]
			if direction == "Reverse-merged" {
				continue
			}
			revnum, err := strconv.Atoi(revStr)
			if err != nil {
				continue
			}
			if revEndStr != "" {
				if end, err := strconv.Atoi(revEndStr); err == nil {
					revnum = end
				}
			}
			fromBranch, ok1 := e.translatePath(fromPath, rev)
			toBranch, ok2 := e.translatePath(path, rev)
			if !ok1 || !ok2 || fromBranch == "" || toBranch == "" {
				continue
			}
			infos = append(infos, Info{FromBranch: fromBranch, Revnum: revnum, ToBranch: toBranch})
		}
	}

	infos = dedupeHighestRev(infos)

	if len(infos) > 1 {
		if !(allTargetsAre(infos, "master") || allTargetsMatchClangImport(infos)) {
			if err := e.dumpAmbiguous(ctx, rev, raw, infos); err != nil {
				return mergeinfoResult{}, err
			}
			return mergeinfoResult{}, fmt.Errorf("r%d: ambiguous mergeinfo diff (%d candidates)", rev, len(infos))
		}
	}

	return mergeinfoResult{Infos: infos}, nil
}

// translatePath maps an SVN path to its configured branch name via the rule
// matcher, mirroring the dispatch the revision walker performs.
func (e *Engine) translatePath(path string, rev int) (string, bool) {
	if e.Rules == nil {
		return "", false
	}
	rule, ok := e.Rules.Match(path, rev)
	if !ok {
		return "", false
	}
	return rule.Expand(rule.Branch, path), true
}

func dedupeHighestRev(infos []Info) []Info {
	type key struct {
		from, to string
	}
	best := make(map[key]Info)
	var order []key
	for _, info := range infos {
		k := key{info.FromBranch, info.ToBranch}
		if existing, ok := best[k]; !ok || info.Revnum > existing.Revnum {
			if !ok {
				order = append(order, k)
			}
			best[k] = info
		}
	}
	out := make([]Info, 0, len(order))
	for _, k := range order {
		out = append(out, best[k])
	}
	return out
}

func allTargetsAre(infos []Info, branch string) bool {
	for _, i := range infos {
		if i.ToBranch != branch {
			return false
		}
	}
	return true
}

var clangImportRE = regexp.MustCompile(`^projects/clang.*-import$`)

func allTargetsMatchClangImport(infos []Info) bool {
	for _, i := range infos {
		if !clangImportRE.MatchString(i.ToBranch) {
			return false
		}
	}
	return true
}

func (e *Engine) dumpAmbiguous(ctx context.Context, rev int, raw string, infos []Info) error {
	dir := e.DumpDir
	if dir == "" {
		dir = "mi"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	logText, _ := e.Source.Log(ctx, rev)
	var sb strings.Builder
	sb.WriteString("=== svn diff --properties-only ===\n")
	sb.WriteString(raw)
	sb.WriteString("\n=== svn log -v ===\n")
	sb.WriteString(logText)
	sb.WriteString("\n=== parsed candidates ===\n")
	for _, info := range infos {
		fmt.Fprintf(&sb, "%s:r%d -> %s\n", info.FromBranch, info.Revnum, info.ToBranch)
	}
	path := filepath.Join(dir, fmt.Sprintf("r%d.txt", rev))
	return os.WriteFile(path, []byte(sb.String()), 0644)
}
