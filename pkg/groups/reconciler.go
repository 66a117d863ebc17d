package groups

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/copperline/stile/pkg/observability"
)

// Reconciler makes the store's group memberships match the groups asserted
// by the identity provider. It is driven by set difference against current
// server state rather than a delta from the previous login: the store may
// have been edited out-of-band, so recomputing from scratch is the only way
// to guarantee convergence. Running it twice with unchanged input produces
// no further mutations.
type Reconciler struct {
	store  Store
	logger *observability.Logger

	// maxInFlight bounds concurrent per-group operations.
	maxInFlight int
}

// NewReconciler creates a reconciler over the given store.
func NewReconciler(store Store, logger *observability.Logger) *Reconciler {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Reconciler{
		store:       store,
		logger:      logger,
		maxInFlight: 8,
	}
}

// Reconcile applies the minimal set of mutations needed to make the user's
// stored group memberships equal the asserted (lower-cased) group names.
// Reserved names are dropped first. Per-group operations run independently;
// a failure in one group does not stop the others. If any group failed the
// returned error is a *PartialReconciliationError.
func (r *Reconciler) Reconcile(ctx context.Context, userID string, assertedNames []string) error {
	desired := make(map[string]struct{}, len(assertedNames))
	for _, name := range assertedNames {
		if IsReserved(name) {
			continue
		}
		desired[IDForName(name)] = struct{}{}
	}

	current, err := r.store.GroupsContaining(ctx, userID)
	if err != nil {
		return fmt.Errorf("fetching current groups for %s: %w", userID, err)
	}

	currentSet := make(map[string]struct{}, len(current))
	for _, id := range current {
		currentSet[id] = struct{}{}
	}

	var toAdd, toRemove []string
	for id := range desired {
		if _, ok := currentSet[id]; !ok {
			toAdd = append(toAdd, id)
		}
	}
	for id := range currentSet {
		if _, ok := desired[id]; !ok {
			toRemove = append(toRemove, id)
		}
	}

	if len(toAdd) == 0 && len(toRemove) == 0 {
		return nil
	}

	r.logger.WithFields(map[string]interface{}{
		"user_id": userID,
		"adds":    len(toAdd),
		"removes": len(toRemove),
	}).Debug("reconciling group memberships")

	var (
		mu     sync.Mutex
		failed []*StoreError
	)
	record := func(se *StoreError) {
		mu.Lock()
		failed = append(failed, se)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.maxInFlight)

	for _, id := range toRemove {
		g.Go(func() error {
			if se := r.removeFrom(gctx, id, userID); se != nil {
				record(se)
			}
			return nil
		})
	}
	for _, id := range toAdd {
		g.Go(func() error {
			if se := r.addTo(gctx, id, userID); se != nil {
				record(se)
			}
			return nil
		})
	}

	// Closures never return errors; Wait is a pure fan-in barrier.
	_ = g.Wait()

	if len(failed) > 0 {
		return &PartialReconciliationError{Errors: failed}
	}
	return nil
}

// removeFrom takes the user out of one group. The positional unset after a
// read is racy against concurrent mutations of the same group; the next
// login converges, so a vanished member is treated as success.
func (r *Reconciler) removeFrom(ctx context.Context, groupID, userID string) *StoreError {
	members, err := r.store.Members(ctx, groupID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Group deleted out-of-band; nothing to remove.
			return nil
		}
		return &StoreError{GroupID: groupID, Op: "fetch members", Err: err}
	}

	index := -1
	for i, m := range members {
		if m == userID {
			index = i
			break
		}
	}
	if index == -1 {
		// Already removed, e.g. by a concurrent reconciliation.
		return nil
	}

	if err := r.store.RemoveMemberAt(ctx, groupID, index); err != nil {
		return &StoreError{GroupID: groupID, Op: "remove member", Err: err}
	}
	return nil
}

// addTo puts the user into one group, creating a blank group first if it
// does not exist yet.
func (r *Reconciler) addTo(ctx context.Context, groupID, userID string) *StoreError {
	doc, err := r.store.CreateIfAbsent(ctx, groupID)
	if err != nil {
		return &StoreError{GroupID: groupID, Op: "create group", Err: err}
	}

	for _, m := range doc.Members {
		if m == userID {
			return nil
		}
	}

	if err := r.store.AddMember(ctx, groupID, userID); err != nil {
		return &StoreError{GroupID: groupID, Op: "add member", Err: err}
	}
	return nil
}
