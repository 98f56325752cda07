package dynamostore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"golang.org/x/sync/errgroup"

	"github.com/jacentio/lockstore/entity"
	"github.com/jacentio/lockstore/internal/shard"
	"github.com/jacentio/lockstore/store"
)

var (
	errTxDone    = errors.New("dynamostore: transaction already finished")
	errLeaseHeld = errors.New("dynamostore: lease held by another transaction")
)

type writeKind int

const (
	writeInsert writeKind = iota
	writeUpdate
	writeDelete
)

func (k writeKind) String() string {
	switch k {
	case writeInsert:
		return "insert"
	case writeUpdate:
		return "update"
	default:
		return "delete"
	}
}

// write is the buffered state of one item. Successive writes to the same
// item collapse into one.
type write struct {
	kind writeKind

	// row is the state after the write. For deletes it is the last state.
	row store.Row

	// stored is the row as read from the table; nil for inserts.
	stored *store.Row
}

type tx struct {
	b     *Backend
	owner string

	writes map[entity.Ref]*write
	order  []entity.Ref

	// leases are the items this transaction holds a lease on.
	leases map[entity.Ref]bool

	// verify holds versions read by Version for items without a write.
	verify map[entity.Ref]int64

	done bool
}

func (t *tx) check() error {
	if t.done {
		return errTxDone
	}
	return nil
}

func (t *tx) Get(ctx context.Context, ref entity.Ref, lock store.RowLock) (store.Row, error) {
	if err := t.check(); err != nil {
		return store.Row{}, err
	}
	if lock != store.RowLockNone {
		if w, ok := t.writes[ref]; ok && w.kind == writeInsert {
			// Nobody else can see a pending insert.
			return w.row, nil
		}
		if err := t.acquire(ctx, ref); err != nil {
			return store.Row{}, err
		}
	}
	row, _, err := t.lookup(ctx, ref)
	return row, err
}

// lookup returns the current state of ref as seen by this transaction and
// its buffered write, if any.
func (t *tx) lookup(ctx context.Context, ref entity.Ref) (store.Row, *write, error) {
	if w, ok := t.writes[ref]; ok {
		if w.kind == writeDelete {
			return store.Row{}, w, fmt.Errorf("%w: %s", store.ErrNotFound, ref)
		}
		return w.row, w, nil
	}
	row, err := t.read(ctx, ref)
	return row, nil, err
}

// read fetches the stored row with a strongly consistent read.
func (t *tx) read(ctx context.Context, ref entity.Ref) (store.Row, error) {
	out, err := t.b.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(t.b.config.TableName(ref.Kind)),
		Key:            keyOf(ref),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return store.Row{}, fmt.Errorf("get %s: %w", ref, err)
	}
	if out.Item == nil || isDeletedAt(out.Item, t.b.now()) {
		return store.Row{}, fmt.Errorf("%w: %s", store.ErrNotFound, ref)
	}
	it, err := unmarshalItem(out.Item)
	if err != nil {
		return store.Row{}, err
	}
	return it.row(ref.Kind), nil
}

// acquire takes a lease on ref, retrying until the lock timeout.
func (t *tx) acquire(ctx context.Context, ref entity.Ref) error {
	if t.leases[ref] {
		return nil
	}
	deadline := t.b.now().Add(t.b.config.LockTimeout)
	for attempt := 1; ; attempt++ {
		err := t.lease(ctx, ref)
		if err == nil {
			t.leases[ref] = true
			t.b.logger.Debug("lease acquired", "ref", ref, "owner", t.owner, "attempts", attempt)
			return nil
		}
		if !errors.Is(err, errLeaseHeld) {
			return err
		}
		if !t.b.now().Before(deadline) {
			return fmt.Errorf("%w: %s after %s", store.ErrLockTimeout, ref, t.b.config.LockTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(t.b.config.LockRetryInterval):
		}
	}
}

func (t *tx) lease(ctx context.Context, ref entity.Ref) error {
	now := t.b.now()
	_, err := t.b.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(t.b.config.TableName(ref.Kind)),
		Key:                 keyOf(ref),
		UpdateExpression:    aws.String("SET #lock_owner = :owner, #lock_expires = :expires"),
		ConditionExpression: aws.String(ExistsCondition() + " AND " + leaseFreeCondition()),
		ExpressionAttributeNames: mergeExprNames(
			TTLFilterNames(),
			leaseNames(),
		),
		ExpressionAttributeValues: mergeExprValues(
			TTLFilterValues(now),
			leaseValues(t.owner, now),
			map[string]types.AttributeValue{
				":expires": numberValue(now.Add(t.b.config.LeaseDuration).UnixMilli()),
			},
		),
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err == nil {
		return nil
	}
	var ccf *types.ConditionalCheckFailedException
	if !errors.As(err, &ccf) {
		return fmt.Errorf("lease %s: %w", ref, err)
	}
	if ccf.Item == nil || isDeletedAt(ccf.Item, now) {
		return fmt.Errorf("%w: %s", store.ErrNotFound, ref)
	}
	return errLeaseHeld
}

func (t *tx) Children(ctx context.Context, ref entity.Ref) ([]store.Row, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	kind, ok := owned[ref.Kind]
	if !ok {
		return nil, nil
	}

	refs, err := t.queryChildren(ctx, ref)
	if err != nil {
		return nil, err
	}

	var rows []store.Row
	seen := make(map[entity.Ref]bool)
	for _, child := range refs {
		if seen[child] {
			continue
		}
		seen[child] = true
		row, _, err := t.lookup(ctx, child)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		// The relationship record can outlive a move to another owner.
		if row.ParentID != ref.ID {
			continue
		}
		rows = append(rows, row)
	}
	for _, r := range t.order {
		w := t.writes[r]
		if r.Kind != kind || seen[r] || w.kind == writeDelete || w.row.ParentID != ref.ID {
			continue
		}
		rows = append(rows, w.row)
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].Ref.ID < rows[j].Ref.ID })
	return rows, nil
}

// queryChildren lists the active relationship records of ref across all
// shards in parallel.
func (t *tx) queryChildren(ctx context.Context, ref entity.Ref) ([]entity.Ref, error) {
	var (
		mu   sync.Mutex
		refs []entity.Ref
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, pk := range shard.Keys(ref.String(), t.b.config.NumShards) {
		pk := pk
		g.Go(func() error {
			found, err := t.queryShard(gctx, pk)
			if err != nil {
				return err
			}
			mu.Lock()
			refs = append(refs, found...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("query children of %s: %w", ref, err)
	}
	return refs, nil
}

func (t *tx) queryShard(ctx context.Context, pk string) ([]entity.Ref, error) {
	input := &dynamodb.QueryInput{
		TableName:                aws.String(t.b.config.RelationshipTable),
		KeyConditionExpression:   aws.String("pk = :pk"),
		FilterExpression:         aws.String(TTLFilterExpr()),
		ExpressionAttributeNames: TTLFilterNames(),
		ExpressionAttributeValues: mergeExprValues(
			map[string]types.AttributeValue{
				":pk": &types.AttributeValueMemberS{Value: pk},
			},
			TTLFilterValues(t.b.now()),
		),
		ConsistentRead: aws.Bool(true),
	}

	var refs []entity.Ref
	paginator := dynamodb.NewQueryPaginator(t.b.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range page.Items {
			var rel relationship
			if err := attributevalue.UnmarshalMap(raw, &rel); err != nil {
				return nil, fmt.Errorf("unmarshal relationship: %w", err)
			}
			refs = append(refs, rel.ref())
		}
	}
	return refs, nil
}

func (t *tx) Version(ctx context.Context, ref entity.Ref) (int64, error) {
	if err := t.check(); err != nil {
		return 0, err
	}
	row, w, err := t.lookup(ctx, ref)
	if err != nil {
		return 0, err
	}
	if w == nil {
		t.verify[ref] = row.Version
	}
	return row.Version, nil
}

func (t *tx) Insert(ctx context.Context, row store.Row) error {
	if err := t.check(); err != nil {
		return err
	}
	row.Version = 0

	if w, ok := t.writes[row.Ref]; ok {
		if w.kind != writeDelete {
			return fmt.Errorf("%w: %s", store.ErrAlreadyExists, row.Ref)
		}
		// Re-inserting an id deleted in this transaction overwrites the
		// stored item.
		if err := t.checkOwner(ctx, row); err != nil {
			return err
		}
		w.kind = writeUpdate
		w.row = row
		return nil
	}

	if _, err := t.read(ctx, row.Ref); err == nil {
		return fmt.Errorf("%w: %s", store.ErrAlreadyExists, row.Ref)
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if err := t.checkOwner(ctx, row); err != nil {
		return err
	}
	t.buffer(row.Ref, &write{kind: writeInsert, row: row})
	return nil
}

// checkOwner fails with ErrParentNotFound when the owner of row is missing.
func (t *tx) checkOwner(ctx context.Context, row store.Row) error {
	owner, ok := row.OwnerRef()
	if !ok {
		return nil
	}
	if _, _, err := t.lookup(ctx, owner); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s owner of %s", store.ErrParentNotFound, owner, row.Ref)
		}
		return err
	}
	return nil
}

func (t *tx) Update(ctx context.Context, row store.Row, expected int64) error {
	if err := t.check(); err != nil {
		return err
	}
	cur, w, err := t.current(ctx, row.Ref, expected)
	if err != nil {
		return err
	}
	if row.ParentID != cur.ParentID {
		if err := t.checkOwner(ctx, row); err != nil {
			return err
		}
	}
	row.Version = expected + 1
	t.apply(row.Ref, w, cur, row)
	return nil
}

func (t *tx) IncrementVersion(ctx context.Context, ref entity.Ref, expected int64) error {
	if err := t.check(); err != nil {
		return err
	}
	cur, w, err := t.current(ctx, ref, expected)
	if err != nil {
		return err
	}
	next := cur
	next.Version = expected + 1
	t.apply(ref, w, cur, next)
	return nil
}

func (t *tx) Delete(ctx context.Context, ref entity.Ref, expected int64) error {
	if err := t.check(); err != nil {
		return err
	}
	cur, w, err := t.current(ctx, ref, expected)
	if err != nil {
		return err
	}
	children, err := t.Children(ctx, ref)
	if err != nil {
		return err
	}
	if len(children) > 0 {
		return fmt.Errorf("%w: %s owns %d records", store.ErrHasChildren, ref, len(children))
	}

	switch {
	case w == nil:
		t.buffer(ref, &write{kind: writeDelete, row: cur, stored: &cur})
	case w.kind == writeInsert:
		delete(t.writes, ref)
		t.order = slices.DeleteFunc(t.order, func(r entity.Ref) bool { return r == ref })
	default:
		w.kind = writeDelete
	}
	delete(t.verify, ref)
	return nil
}

// current returns the row for a guarded write, failing with
// ErrOptimisticLock when it is gone or its version is not expected.
func (t *tx) current(ctx context.Context, ref entity.Ref, expected int64) (store.Row, *write, error) {
	cur, w, err := t.lookup(ctx, ref)
	if errors.Is(err, store.ErrNotFound) {
		return store.Row{}, nil, fmt.Errorf("%w: %s was deleted", store.ErrOptimisticLock, ref)
	}
	if err != nil {
		return store.Row{}, nil, err
	}
	if cur.Version != expected {
		return store.Row{}, nil, fmt.Errorf("%w: %s is at version %d, expected %d",
			store.ErrOptimisticLock, ref, cur.Version, expected)
	}
	return cur, w, nil
}

// apply buffers next as the new state of ref.
func (t *tx) apply(ref entity.Ref, w *write, cur, next store.Row) {
	if w != nil {
		w.row = next
		return
	}
	stored := cur
	t.buffer(ref, &write{kind: writeUpdate, row: next, stored: &stored})
	delete(t.verify, ref)
}

func (t *tx) buffer(ref entity.Ref, w *write) {
	t.writes[ref] = w
	t.order = append(t.order, ref)
}

func (t *tx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.release(ctx)
	t.b.logger.Debug("transaction discarded", "owner", t.owner, "writes", len(t.writes))
	return nil
}

// release drops the leases this transaction holds outside of a commit.
// A lease that can't be released expires on its own.
func (t *tx) release(ctx context.Context) {
	for ref := range t.leases {
		_, err := t.b.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                aws.String(t.b.config.TableName(ref.Kind)),
			Key:                      keyOf(ref),
			UpdateExpression:         aws.String("REMOVE #lock_owner, #lock_expires"),
			ConditionExpression:      aws.String("#lock_owner = :owner"),
			ExpressionAttributeNames: leaseNames(),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":owner": &types.AttributeValueMemberS{Value: t.owner},
			},
		})
		var ccf *types.ConditionalCheckFailedException
		if err != nil && !errors.As(err, &ccf) {
			t.b.logger.Warn("lease release failed", "ref", ref, "owner", t.owner, "error", err)
		}
	}
	clear(t.leases)
}
