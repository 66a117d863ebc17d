package sanity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/copperline/stile/pkg/groups"
	"github.com/copperline/stile/pkg/observability"
)

const (
	existenceCacheSize = 1024
	existenceCacheTTL  = 10 * time.Minute
)

// GroupStore implements groups.Store on top of the Sanity data API.
//
// Group documents are created with createIfNotExists, which is idempotent on
// the server. A short-lived existence cache lets repeat logins skip that
// write and read the document directly instead.
type GroupStore struct {
	client  *Client
	known   *expirable.LRU[string, struct{}]
	metrics *observability.Metrics
}

// NewGroupStore creates a group store backed by the given client
func NewGroupStore(client *Client, metrics *observability.Metrics) *GroupStore {
	return &GroupStore{
		client:  client,
		known:   expirable.NewLRU[string, struct{}](existenceCacheSize, nil, existenceCacheTTL),
		metrics: metrics,
	}
}

// GroupsContaining returns the ids of all groups whose members include userID
func (s *GroupStore) GroupsContaining(ctx context.Context, userID string) ([]string, error) {
	result, err := s.client.Query(ctx,
		`*[_type == $type && $userId in members][]._id`,
		map[string]interface{}{
			"type":   groups.DocumentType,
			"userId": userID,
		})
	if err != nil {
		return nil, err
	}

	var ids []string
	if err := unmarshalResult(result, &ids); err != nil {
		return nil, fmt.Errorf("decoding group ids: %w", err)
	}
	return ids, nil
}

// Members returns the membership list of a group, or groups.ErrNotFound
func (s *GroupStore) Members(ctx context.Context, groupID string) ([]string, error) {
	doc, err := s.fetch(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, groups.ErrNotFound
	}
	return doc.Members, nil
}

// CreateIfAbsent creates a blank group document if none exists and returns
// the current document
func (s *GroupStore) CreateIfAbsent(ctx context.Context, groupID string) (*groups.Document, error) {
	if _, ok := s.known.Get(groupID); ok {
		s.recordCache(true)
		doc, err := s.fetch(ctx, groupID)
		if err != nil {
			return nil, err
		}
		if doc != nil {
			return doc, nil
		}
		// Deleted out-of-band since we cached it; recreate below.
		s.known.Remove(groupID)
	} else {
		s.recordCache(false)
	}

	blank := groups.Document{
		ID:      groupID,
		Type:    groups.DocumentType,
		Grants:  []any{},
		Members: []string{},
	}
	err := s.client.Mutate(ctx, []Mutation{
		{"createIfNotExists": blank},
	})
	s.recordMutation("create", err)
	if err != nil {
		return nil, err
	}
	s.known.Add(groupID, struct{}{})

	doc, err := s.fetch(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		// The mutation succeeded, so a missing document here means it was
		// deleted in between. Treat the blank document as current.
		return &blank, nil
	}
	return doc, nil
}

// AddMember appends userID to the group's members
func (s *GroupStore) AddMember(ctx context.Context, groupID, userID string) error {
	err := s.client.Mutate(ctx, []Mutation{
		{"patch": map[string]interface{}{
			"id":           groupID,
			"setIfMissing": map[string]interface{}{"members": []string{}},
			"insert": map[string]interface{}{
				"after": "members[-1]",
				"items": []string{userID},
			},
		}},
	})
	s.recordMutation("add", err)
	return err
}

// RemoveMemberAt unsets the member at the given index
func (s *GroupStore) RemoveMemberAt(ctx context.Context, groupID string, index int) error {
	err := s.client.Mutate(ctx, []Mutation{
		{"patch": map[string]interface{}{
			"id":    groupID,
			"unset": []string{fmt.Sprintf("members[%d]", index)},
		}},
	})
	s.recordMutation("remove", err)
	return err
}

// fetch returns the group document, or nil if it does not exist
func (s *GroupStore) fetch(ctx context.Context, groupID string) (*groups.Document, error) {
	result, err := s.client.Query(ctx,
		`*[_id == $id][0]`,
		map[string]interface{}{"id": groupID})
	if err != nil {
		return nil, err
	}

	var doc *groups.Document
	if err := unmarshalResult(result, &doc); err != nil {
		return nil, fmt.Errorf("decoding group document: %w", err)
	}
	return doc, nil
}

func (s *GroupStore) recordMutation(op string, err error) {
	if s.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	s.metrics.GroupMutationsTotal.WithLabelValues(op, status).Inc()
}

func (s *GroupStore) recordCache(hit bool) {
	if s.metrics == nil {
		return
	}
	if hit {
		s.metrics.CacheHitsTotal.WithLabelValues("group_existence").Inc()
	} else {
		s.metrics.CacheMissesTotal.WithLabelValues("group_existence").Inc()
	}
}

// unmarshalResult decodes a query result, treating an empty or null result
// as the zero value
func unmarshalResult(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, v)
}
