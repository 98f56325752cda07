package dynamostore

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/lockstore/entity"
	"github.com/jacentio/lockstore/internal/shard"
	"github.com/jacentio/lockstore/store"
)

// fakeAPI serves reads from in-memory tables and records every write
// request without applying it.
type fakeAPI struct {
	mu sync.Mutex

	items map[string]map[string]types.AttributeValue // table|id
	rels  map[string][]map[string]types.AttributeValue

	gets      int
	updates   []*dynamodb.UpdateItemInput
	transacts []*dynamodb.TransactWriteItemsInput

	updateErr   func(*dynamodb.UpdateItemInput) error
	transactErr error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		items: make(map[string]map[string]types.AttributeValue),
		rels:  make(map[string][]map[string]types.AttributeValue),
	}
}

func itemKey(table string, key map[string]types.AttributeValue) string {
	return table + "|" + key[attrID].(*types.AttributeValueMemberN).Value
}

func (f *fakeAPI) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	return &dynamodb.GetItemOutput{Item: f.items[itemKey(*in.TableName, in.Key)]}, nil
}

func (f *fakeAPI) UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, in)
	if f.updateErr != nil {
		if err := f.updateErr(in); err != nil {
			return nil, err
		}
	}
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeAPI) Query(ctx context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pk := in.ExpressionAttributeValues[":pk"].(*types.AttributeValueMemberS).Value
	return &dynamodb.QueryOutput{Items: f.rels[pk]}, nil
}

func (f *fakeAPI) TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transacts = append(f.transacts, in)
	if f.transactErr != nil {
		return nil, f.transactErr
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

// put stores row as a live item.
func (f *fakeAPI) put(t *testing.T, row store.Row) {
	t.Helper()
	f.putItem(t, row.Ref.Kind, newItem(row, time.Now()))
}

func (f *fakeAPI) putItem(t *testing.T, kind entity.Kind, it item) {
	t.Helper()
	raw, err := attributevalue.MarshalMap(it)
	if err != nil {
		t.Fatalf("marshal item: %v", err)
	}
	table := DefaultConfig().TableName(kind)
	f.items[itemKey(table, keyOf(entity.Ref{Kind: kind, ID: it.ID}))] = raw
}

// link stores a relationship record of child under owner.
func (f *fakeAPI) link(t *testing.T, owner, child entity.Ref) {
	t.Helper()
	pk := shard.RelationshipPK(owner.String(), child.String(), 1)
	raw, err := attributevalue.MarshalMap(relationship{
		PK:        pk,
		ChildRef:  child.String(),
		ParentRef: owner.String(),
		ChildKind: string(child.Kind),
		ChildID:   child.ID,
	})
	if err != nil {
		t.Fatalf("marshal relationship: %v", err)
	}
	f.rels[pk] = append(f.rels[pk], raw)
}

func (f *fakeAPI) lastTransact(t *testing.T) []types.TransactWriteItem {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.transacts) == 0 {
		t.Fatal("expected a TransactWriteItems call")
	}
	return f.transacts[len(f.transacts)-1].TransactItems
}

func newTestBackend(api API) *Backend {
	cfg := DefaultConfig()
	cfg.LockTimeout = 30 * time.Millisecond
	cfg.LockRetryInterval = 5 * time.Millisecond
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(api, cfg)
}

func begin(t *testing.T, b *Backend) *tx {
	t.Helper()
	stx, err := b.Begin(context.Background())
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	return stx.(*tx)
}

func parentRow(id, version int64) store.Row {
	return store.Row{Ref: entity.Ref{Kind: entity.KindParent, ID: id}, Version: version, Name: "parent"}
}

func childRow(id, parentID, version int64) store.Row {
	return store.Row{Ref: entity.Ref{Kind: entity.KindChild, ID: id}, Version: version, Name: "child", ParentID: parentID}
}

func leasedItem(owner string, until time.Time) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrID:          numberValue(1),
		attrVersion:     numberValue(0),
		attrLockOwner:   &types.AttributeValueMemberS{Value: owner},
		attrLockExpires: numberValue(until.UnixMilli()),
	}
}

func numberString(av types.AttributeValue) string {
	n, ok := av.(*types.AttributeValueMemberN)
	if !ok {
		return ""
	}
	return n.Value
}

func cancelled(codes ...string) error {
	reasons := make([]types.CancellationReason, len(codes))
	for i, code := range codes {
		reasons[i] = types.CancellationReason{Code: aws.String(code)}
	}
	return &types.TransactionCanceledException{
		Message:             aws.String("Transaction cancelled"),
		CancellationReasons: reasons,
	}
}
