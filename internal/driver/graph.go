package driver

import (
	"fmt"
	"os"
	"strings"

	"github.com/emicklei/dot"
	graphviz "github.com/goccy/go-graphviz"

	"github.com/svn2git-tools/svn2git/internal/target"
)

// GraphEmitter builds a branch/merge DAG from every transaction committed
// during the run, the same shape as the teacher's --graphfile output but
// fed from commit metadata directly (we are the producer of the fast-import
// stream, not a consumer re-parsing it).
type GraphEmitter struct {
	graph *dot.Graph
	nodes map[string]dot.Node // key: repo+"\x00"+mark string
}

// NewGraphEmitter builds an empty directed graph ready to receive commits.
func NewGraphEmitter() *GraphEmitter {
	return &GraphEmitter{
		graph: dot.NewGraph(dot.Directed),
		nodes: make(map[string]dot.Node),
	}
}

// OnCommit is installed as walker.Walker.OnCommit: it adds a node for the
// just-committed mark and edges to its parent and every recorded merge
// parent.
func (e *GraphEmitter) OnCommit(repoName string, txn *target.Transaction) {
	node := e.nodeFor(repoName, txn.CommitMark().String(), fmt.Sprintf("%s:%s\\nr%d %s", repoName, txn.CommitMark(), txn.Revnum(), txn.Branch()))
	if p := txn.ParentMark(); p != 0 {
		parent := e.nodeFor(repoName, p.String(), fmt.Sprintf("%s:%s", repoName, p))
		e.graph.Edge(parent, node, "p")
	}
	for fromBranch, m := range txn.MergeMap() {
		mergeNode := e.nodeFor(repoName, m.String(), fmt.Sprintf("%s:%s\\n%s", repoName, m, fromBranch))
		e.graph.Edge(mergeNode, node, "m")
	}
}

func (e *GraphEmitter) nodeFor(repoName, markStr, label string) dot.Node {
	key := repoName + "\x00" + markStr
	if n, ok := e.nodes[key]; ok {
		return n
	}
	n := e.graph.Node(label)
	e.nodes[key] = n
	return n
}

// WriteFile emits the accumulated graph to path: raw DOT text when path has
// no .png/.svg suffix, rendered via goccy/go-graphviz otherwise.
func (e *GraphEmitter) WriteFile(path string) error {
	src := e.graph.String()

	switch {
	case strings.HasSuffix(path, ".png"), strings.HasSuffix(path, ".svg"):
		gv := graphviz.New()
		parsed, err := graphviz.ParseBytes([]byte(src))
		if err != nil {
			return fmt.Errorf("parsing dot graph: %w", err)
		}
		format := graphviz.PNG
		if strings.HasSuffix(path, ".svg") {
			format = graphviz.SVG
		}
		if err := gv.RenderFilename(parsed, format, path); err != nil {
			return fmt.Errorf("rendering graph to %s: %w", path, err)
		}
		return nil
	default:
		return os.WriteFile(path, []byte(src), 0644)
	}
}
