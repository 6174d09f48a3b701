package target

import "context"

// ForwardingRepository is the Forwarding variant of Repository: a thin
// indirection used when the rule file declares one repository as a view
// into another, optionally prefixing file paths written through it.
// getEffectiveRepository is a transitive follow so a chain of forwards
// resolves to the one underlying TargetRepository that owns the
// fast-import child and branch state.
type ForwardingRepository struct {
	name   string
	target Repository
	prefix string
}

// NewForwardingRepository builds a Forwarding variant. Cycle detection
// happens once, at rule-graph construction time (not on every call), via
// the caller walking the forward chain before wiring it up.
func NewForwardingRepository(name string, target Repository, prefix string) *ForwardingRepository {
	return &ForwardingRepository{name: name, target: target, prefix: prefix}
}

func (f *ForwardingRepository) Name() string { return f.name }

// RepoPrefix returns this hop's own prefix composed with everything further
// down the forwarding chain, so a multi-hop forward still applies every
// prefix in order.
func (f *ForwardingRepository) RepoPrefix() string {
	return f.prefix + f.target.RepoPrefix()
}

func (f *ForwardingRepository) EffectiveRepository() *TargetRepository {
	return f.target.EffectiveRepository()
}

func (f *ForwardingRepository) NewTransaction(ctx context.Context, branch, svnPrefix string, revnum int) (*Transaction, error) {
	txn, err := f.target.NewTransaction(ctx, branch, svnPrefix, revnum)
	if err != nil {
		return nil, err
	}
	txn.repoPrefix = f.prefix + txn.repoPrefix
	return txn, nil
}

func (f *ForwardingRepository) CreateBranch(ctx context.Context, branch string, revnum int, fromBranch string, fromRev int) error {
	return f.target.CreateBranch(ctx, branch, revnum, fromBranch, fromRev)
}

func (f *ForwardingRepository) CreateBranchFromTree(ctx context.Context, branch string, revnum int, treeHash string) error {
	return f.target.CreateBranchFromTree(ctx, branch, revnum, treeHash)
}

func (f *ForwardingRepository) CreateBranchFromTreeAndParent(ctx context.Context, branch string, revnum int, treeHash, parentBranch string, parentRev int) error {
	return f.target.CreateBranchFromTreeAndParent(ctx, branch, revnum, treeHash, parentBranch, parentRev)
}

func (f *ForwardingRepository) DeleteBranch(ctx context.Context, branch string, revnum int) error {
	return f.target.DeleteBranch(ctx, branch, revnum)
}

var _ Repository = (*ForwardingRepository)(nil)
