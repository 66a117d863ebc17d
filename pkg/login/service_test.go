package login

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copperline/stile/pkg/groups"
	"github.com/copperline/stile/pkg/observability"
	"github.com/copperline/stile/pkg/profile"
	"github.com/copperline/stile/pkg/sanity"
)

// memStore is an in-memory groups.Store
type memStore struct {
	mu   sync.Mutex
	docs map[string]*groups.Document
	fail map[string]error
}

func newMemStore() *memStore {
	return &memStore{
		docs: make(map[string]*groups.Document),
		fail: make(map[string]error),
	}
}

func (s *memStore) GroupsContaining(_ context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, doc := range s.docs {
		for _, m := range doc.Members {
			if m == userID {
				ids = append(ids, id)
				break
			}
		}
	}
	return ids, nil
}

func (s *memStore) Members(_ context.Context, groupID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[groupID]; err != nil {
		return nil, err
	}
	doc, ok := s.docs[groupID]
	if !ok {
		return nil, groups.ErrNotFound
	}
	return append([]string(nil), doc.Members...), nil
}

func (s *memStore) CreateIfAbsent(_ context.Context, groupID string) (*groups.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[groupID]; err != nil {
		return nil, err
	}
	if doc, ok := s.docs[groupID]; ok {
		return doc, nil
	}
	doc := &groups.Document{ID: groupID, Type: groups.DocumentType, Grants: []any{}, Members: []string{}}
	s.docs[groupID] = doc
	return doc, nil
}

func (s *memStore) AddMember(_ context.Context, groupID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[groupID]; err != nil {
		return err
	}
	s.docs[groupID].Members = append(s.docs[groupID].Members, userID)
	return nil
}

func (s *memStore) RemoveMemberAt(_ context.Context, groupID string, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[groupID]; err != nil {
		return err
	}
	members := s.docs[groupID].Members
	s.docs[groupID].Members = append(members[:index], members[index+1:]...)
	return nil
}

// fakeIssuer returns a canned session or error
type fakeIssuer struct {
	session  *sanity.Session
	err      error
	lastUser *profile.User
}

func (f *fakeIssuer) IssueSession(_ context.Context, user *profile.User) (*sanity.Session, error) {
	f.lastUser = user
	if f.err != nil {
		return nil, f.err
	}
	return f.session, nil
}

func newTestService(store groups.Store, issuer Issuer) *Service {
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	return NewService(groups.NewReconciler(store, logger), issuer, logger, nil)
}

func TestLoginEndToEnd(t *testing.T) {
	store := newMemStore()
	issuer := &fakeIssuer{session: &sanity.Session{
		Token:           "sess-token",
		EndUserClaimURL: "https://example.api.sanity.io/v1/auth/thirdParty/session/claim",
	}}
	service := newTestService(store, issuer)

	result, err := service.Login(context.Background(), &profile.Assertion{
		Email:     "a@b.com",
		FirstName: "Ada",
		LastName:  "Lovelace",
		Groups:    []string{"Engineering"},
	})
	require.NoError(t, err)
	require.NotNil(t, result.Session)
	assert.NoError(t, result.ReconcileErr)

	assert.Equal(t, "e-okta-a-b-com", result.User.UserID)
	assert.Equal(t, "Ada Lovelace", result.User.FullName)
	assert.Equal(t, profile.RoleAdministrator, result.User.Role)
	assert.Equal(t, result.User, issuer.lastUser)

	// Group name is lower-cased before reconciliation
	doc, ok := store.docs["_.groups.engineering"]
	require.True(t, ok)
	assert.Equal(t, []string{"e-okta-a-b-com"}, doc.Members)
}

func TestLoginMissingEmail(t *testing.T) {
	service := newTestService(newMemStore(), &fakeIssuer{})

	_, err := service.Login(context.Background(), &profile.Assertion{Groups: []string{"engineering"}})
	var validationErr *profile.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "email", validationErr.Field)
}

func TestLoginIssuesSessionDespiteReconcileFailure(t *testing.T) {
	store := newMemStore()
	store.fail["_.groups.broken"] = errors.New("store unavailable")

	issuer := &fakeIssuer{session: &sanity.Session{Token: "t", EndUserClaimURL: "https://claim"}}
	service := newTestService(store, issuer)

	result, err := service.Login(context.Background(), &profile.Assertion{
		Email:  "a@b.com",
		Groups: []string{"broken", "working"},
	})
	require.NoError(t, err)
	require.NotNil(t, result.Session)

	var partial *groups.PartialReconciliationError
	require.ErrorAs(t, result.ReconcileErr, &partial)
	assert.Equal(t, []string{"_.groups.broken"}, partial.FailedGroups())

	// The healthy group still converged
	doc, ok := store.docs["_.groups.working"]
	require.True(t, ok)
	assert.Equal(t, []string{"e-okta-a-b-com"}, doc.Members)
}

func TestLoginIssuanceFailureIsFatal(t *testing.T) {
	issuer := &fakeIssuer{err: &sanity.IssuanceError{StatusCode: 502, Err: errors.New("bad gateway")}}
	service := newTestService(newMemStore(), issuer)

	_, err := service.Login(context.Background(), &profile.Assertion{Email: "a@b.com"})
	var issuanceErr *sanity.IssuanceError
	require.ErrorAs(t, err, &issuanceErr)
	assert.Equal(t, 502, issuanceErr.StatusCode)
}

func TestLoginReservedGroupsNeverTouched(t *testing.T) {
	store := newMemStore()
	issuer := &fakeIssuer{session: &sanity.Session{Token: "t", EndUserClaimURL: "https://claim"}}
	service := newTestService(store, issuer)

	result, err := service.Login(context.Background(), &profile.Assertion{
		Email:  "a@b.com",
		Groups: []string{"Administrator", "read", "engineering"},
	})
	require.NoError(t, err)
	assert.NoError(t, result.ReconcileErr)

	_, ok := store.docs["_.groups.administrator"]
	assert.False(t, ok)
	_, ok = store.docs["_.groups.read"]
	assert.False(t, ok)
	_, ok = store.docs["_.groups.engineering"]
	assert.True(t, ok)
}
