package sanity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copperline/stile/pkg/groups"
)

// fakeDataset emulates the query and mutate endpoints for group documents
type fakeDataset struct {
	mu          sync.Mutex
	docs        map[string]*groups.Document
	mutateCalls int
	createCalls int
}

func newFakeDataset() *fakeDataset {
	return &fakeDataset{docs: make(map[string]*groups.Document)}
}

func (f *fakeDataset) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		switch {
		case r.URL.Path == "/v1/data/query/production":
			f.handleQuery(w, r)
		case r.URL.Path == "/v1/data/mutate/production":
			f.handleMutate(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

func (f *fakeDataset) handleQuery(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")

	var result interface{}
	switch {
	case query == `*[_type == $type && $userId in members][]._id`:
		var userID string
		json.Unmarshal([]byte(r.URL.Query().Get("$userId")), &userID)
		ids := []string{}
		for id, doc := range f.docs {
			for _, m := range doc.Members {
				if m == userID {
					ids = append(ids, id)
					break
				}
			}
		}
		result = ids
	case query == `*[_id == $id][0]`:
		var id string
		json.Unmarshal([]byte(r.URL.Query().Get("$id")), &id)
		if doc, ok := f.docs[id]; ok {
			result = doc
		}
	default:
		http.Error(w, fmt.Sprintf("unexpected query: %s", query), http.StatusBadRequest)
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{"result": result})
}

func (f *fakeDataset) handleMutate(w http.ResponseWriter, r *http.Request) {
	f.mutateCalls++

	body, _ := io.ReadAll(r.Body)
	var payload struct {
		Mutations []map[string]json.RawMessage `json:"mutations"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	for _, mutation := range payload.Mutations {
		if raw, ok := mutation["createIfNotExists"]; ok {
			f.createCalls++
			var doc groups.Document
			json.Unmarshal(raw, &doc)
			if _, exists := f.docs[doc.ID]; !exists {
				f.docs[doc.ID] = &doc
			}
		}
		if raw, ok := mutation["patch"]; ok {
			var patch struct {
				ID           string                 `json:"id"`
				SetIfMissing map[string]interface{} `json:"setIfMissing"`
				Insert       *struct {
					After string   `json:"after"`
					Items []string `json:"items"`
				} `json:"insert"`
				Unset []string `json:"unset"`
			}
			json.Unmarshal(raw, &patch)

			doc, ok := f.docs[patch.ID]
			if !ok {
				http.Error(w, "document not found", http.StatusConflict)
				return
			}
			if patch.Insert != nil {
				doc.Members = append(doc.Members, patch.Insert.Items...)
			}
			for _, path := range patch.Unset {
				var idx int
				fmt.Sscanf(path, "members[%d]", &idx)
				if idx >= 0 && idx < len(doc.Members) {
					doc.Members = append(doc.Members[:idx], doc.Members[idx+1:]...)
				}
			}
		}
	}

	json.NewEncoder(w).Encode(map[string]string{"transactionId": "txn"})
}

func newTestGroupStore(t *testing.T) (*GroupStore, *fakeDataset) {
	t.Helper()
	ds := newFakeDataset()
	client, _ := newTestClient(t, ds.handler())
	return NewGroupStore(client, nil), ds
}

func TestGroupsContaining(t *testing.T) {
	store, ds := newTestGroupStore(t)
	ds.docs["_.groups.engineering"] = &groups.Document{
		ID: "_.groups.engineering", Type: groups.DocumentType,
		Members: []string{"e-okta-a-b.com"},
	}
	ds.docs["_.groups.sales"] = &groups.Document{
		ID: "_.groups.sales", Type: groups.DocumentType,
		Members: []string{"e-okta-other-x.com"},
	}

	ids, err := store.GroupsContaining(context.Background(), "e-okta-a-b.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"_.groups.engineering"}, ids)

	ids, err = store.GroupsContaining(context.Background(), "e-okta-nobody-x.com")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestMembersNotFound(t *testing.T) {
	store, _ := newTestGroupStore(t)
	_, err := store.Members(context.Background(), "_.groups.missing")
	assert.ErrorIs(t, err, groups.ErrNotFound)
}

func TestCreateIfAbsent(t *testing.T) {
	store, ds := newTestGroupStore(t)

	doc, err := store.CreateIfAbsent(context.Background(), "_.groups.engineering")
	require.NoError(t, err)
	assert.Equal(t, "_.groups.engineering", doc.ID)
	assert.Equal(t, groups.DocumentType, doc.Type)
	assert.Empty(t, doc.Members)
	assert.Equal(t, 1, ds.createCalls)

	// Cached: the second call reads instead of mutating
	doc, err = store.CreateIfAbsent(context.Background(), "_.groups.engineering")
	require.NoError(t, err)
	assert.Equal(t, "_.groups.engineering", doc.ID)
	assert.Equal(t, 1, ds.createCalls)
}

func TestCreateIfAbsentExistingKeepsMembers(t *testing.T) {
	store, ds := newTestGroupStore(t)
	ds.docs["_.groups.engineering"] = &groups.Document{
		ID: "_.groups.engineering", Type: groups.DocumentType,
		Members: []string{"e-okta-existing-x.com"},
	}

	doc, err := store.CreateIfAbsent(context.Background(), "_.groups.engineering")
	require.NoError(t, err)
	assert.Equal(t, []string{"e-okta-existing-x.com"}, doc.Members)
}

func TestAddAndRemoveMember(t *testing.T) {
	store, ds := newTestGroupStore(t)
	ds.docs["_.groups.engineering"] = &groups.Document{
		ID: "_.groups.engineering", Type: groups.DocumentType,
		Members: []string{"e-okta-first-x.com"},
	}

	require.NoError(t, store.AddMember(context.Background(), "_.groups.engineering", "e-okta-a-b.com"))
	members, err := store.Members(context.Background(), "_.groups.engineering")
	require.NoError(t, err)
	assert.Equal(t, []string{"e-okta-first-x.com", "e-okta-a-b.com"}, members)

	require.NoError(t, store.RemoveMemberAt(context.Background(), "_.groups.engineering", 0))
	members, err = store.Members(context.Background(), "_.groups.engineering")
	require.NoError(t, err)
	assert.Equal(t, []string{"e-okta-a-b.com"}, members)
}
