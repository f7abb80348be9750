package asset

import (
	"sync"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/veoclip/pkg/model"
)

var ErrUnknownRef = goerr.New("live reference is not valid")

// LiveRefs holds session-scoped references to raw assets, the counterpart
// of durable data URLs. A reference stays valid until revoked.
type LiveRefs struct {
	mu   sync.Mutex
	refs map[string]*model.Asset
}

func NewLiveRefs() *LiveRefs {
	return &LiveRefs{refs: make(map[string]*model.Asset)}
}

// Mint registers the asset and returns a new reference
func (x *LiveRefs) Mint(a *model.Asset) string {
	ref := "blob:" + uuid.New().String()

	x.mu.Lock()
	defer x.mu.Unlock()
	x.refs[ref] = a
	return ref
}

func (x *LiveRefs) Resolve(ref string) (*model.Asset, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	a, ok := x.refs[ref]
	if !ok {
		return nil, goerr.Wrap(ErrUnknownRef, "failed to resolve", goerr.V("ref", ref))
	}
	return a, nil
}

// Revoke releases the reference. Revoking an unknown reference is a no-op.
func (x *LiveRefs) Revoke(ref string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.refs, ref)
}

// Len returns the number of live references
func (x *LiveRefs) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.refs)
}
