package groups

import (
	"fmt"
	"strings"
)

// StoreError records the failure of a single group operation. Failures are
// collected per group and do not abort operations on other groups.
type StoreError struct {
	GroupID string
	Op      string
	Err     error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("group %s: %s failed: %v", e.GroupID, e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// PartialReconciliationError aggregates the StoreErrors from one
// reconciliation. The reconciliation is considered best-effort complete:
// every group was attempted, these are the ones that failed.
type PartialReconciliationError struct {
	Errors []*StoreError
}

func (e *PartialReconciliationError) Error() string {
	groups := make([]string, len(e.Errors))
	for i, se := range e.Errors {
		groups[i] = se.GroupID
	}
	return fmt.Sprintf("reconciliation incomplete for %d group(s): %s",
		len(e.Errors), strings.Join(groups, ", "))
}

// FailedGroups returns the ids of the groups whose operations failed.
func (e *PartialReconciliationError) FailedGroups() []string {
	groups := make([]string, len(e.Errors))
	for i, se := range e.Errors {
		groups[i] = se.GroupID
	}
	return groups
}
