package dynamostore

import (
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/lockstore/entity"
	"github.com/jacentio/lockstore/internal/shard"
	"github.com/jacentio/lockstore/store"
)

// Attribute names shared by the entity tables.
const (
	attrID          = "id"
	attrVersion     = "version"
	attrName        = "name"
	attrParentID    = "parent_id"
	attrParentRef   = "parent_ref"
	attrUpdatedAt   = "updated_at"
	attrLockOwner   = "lock_owner"
	attrLockExpires = "lock_expires"
	attrTTL         = "ttl"
)

// item is the stored form of a record in its kind's table.
type item struct {
	ID          int64  `dynamodbav:"id"`
	Version     int64  `dynamodbav:"version"`
	Name        string `dynamodbav:"name"`
	ParentID    int64  `dynamodbav:"parent_id,omitempty"`
	EntityRef   string `dynamodbav:"entity_ref"`
	ParentRef   string `dynamodbav:"parent_ref,omitempty"`
	CreatedAt   string `dynamodbav:"created_at,omitempty"`
	UpdatedAt   string `dynamodbav:"updated_at,omitempty"`
	LockOwner   string `dynamodbav:"lock_owner,omitempty"`
	LockExpires int64  `dynamodbav:"lock_expires,omitempty"`
	TTL         int64  `dynamodbav:"ttl,omitempty"`
}

func newItem(row store.Row, now time.Time) item {
	it := item{
		ID:        row.Ref.ID,
		Version:   row.Version,
		Name:      row.Name,
		EntityRef: row.Ref.String(),
		CreatedAt: now.UTC().Format(time.RFC3339),
		UpdatedAt: now.UTC().Format(time.RFC3339),
	}
	if owner, ok := row.OwnerRef(); ok {
		it.ParentID = owner.ID
		it.ParentRef = owner.String()
	}
	return it
}

func (it item) row(kind entity.Kind) store.Row {
	return store.Row{
		Ref:      entity.Ref{Kind: kind, ID: it.ID},
		Version:  it.Version,
		Name:     it.Name,
		ParentID: it.ParentID,
	}
}

func unmarshalItem(raw map[string]types.AttributeValue) (item, error) {
	var it item
	if err := attributevalue.UnmarshalMap(raw, &it); err != nil {
		return item{}, fmt.Errorf("unmarshal item: %w", err)
	}
	return it, nil
}

// relationship indexes one owned record under its owner.
type relationship struct {
	PK        string `dynamodbav:"pk"`
	ChildRef  string `dynamodbav:"child_ref"`
	ParentRef string `dynamodbav:"parent_ref"`
	ChildKind string `dynamodbav:"child_kind"`
	ChildID   int64  `dynamodbav:"child_id"`
	CreatedAt string `dynamodbav:"created_at"`
}

func (r relationship) ref() entity.Ref {
	return entity.Ref{Kind: entity.Kind(r.ChildKind), ID: r.ChildID}
}

func keyOf(ref entity.Ref) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrID: &types.AttributeValueMemberN{Value: strconv.FormatInt(ref.ID, 10)},
	}
}

func relationshipKey(owner, child entity.Ref, numShards int) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk":        &types.AttributeValueMemberS{Value: shard.RelationshipPK(owner.String(), child.String(), numShards)},
		"child_ref": &types.AttributeValueMemberS{Value: child.String()},
	}
}

// owned maps a kind to the kind it owns.
var owned = map[entity.Kind]entity.Kind{
	entity.KindParent: entity.KindChild,
	entity.KindChild:  entity.KindGrandChild,
}
