package dynamostore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/jacentio/lockstore/entity"
	"github.com/jacentio/lockstore/store"
)

func (t *tx) Commit(ctx context.Context) error {
	if err := t.check(); err != nil {
		return err
	}
	t.done = true

	b, err := t.transaction(t.b.now())
	if err != nil {
		t.release(ctx)
		return err
	}
	if len(b.items) == 0 {
		return nil
	}
	if len(b.items) > maxTransactItems {
		t.release(ctx)
		return fmt.Errorf("%w: %d items", ErrTransactionTooLarge, len(b.items))
	}

	_, err = t.b.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems:      b.items,
		ClientRequestToken: aws.String(uuid.NewString()),
	})
	if err != nil {
		t.release(ctx)
		return b.mapError(err)
	}
	clear(t.leases)

	t.b.logger.Debug("transaction committed",
		"owner", t.owner,
		"writes", len(t.writes),
		"items", len(b.items),
	)
	return nil
}

// transaction builds the commit request: buffered writes in order, then
// version checks, then lease releases for items that were only locked.
// Each item appears at most once.
func (t *tx) transaction(now time.Time) (*batch, error) {
	touched := make(map[entity.Ref]bool)
	for ref := range t.writes {
		touched[ref] = true
	}
	for ref := range t.verify {
		touched[ref] = true
	}
	for ref := range t.leases {
		touched[ref] = true
	}

	b := &batch{}
	for _, ref := range t.order {
		w := t.writes[ref]
		var err error
		switch w.kind {
		case writeInsert:
			err = t.addInsert(b, w, touched, now)
		case writeUpdate:
			err = t.addUpdate(b, w, touched, now)
		case writeDelete:
			t.addDelete(b, w, now)
		}
		if err != nil {
			return nil, err
		}
	}

	for _, ref := range sortedRefs(t.verify) {
		if _, ok := t.writes[ref]; ok {
			continue
		}
		t.addVerify(b, ref, t.verify[ref], now)
	}
	for _, ref := range sortedRefs(t.leases) {
		if _, ok := t.writes[ref]; ok {
			continue
		}
		if _, ok := t.verify[ref]; ok {
			continue
		}
		t.addRelease(b, ref)
	}
	return b, nil
}

func (t *tx) addInsert(b *batch, w *write, touched map[entity.Ref]bool, now time.Time) error {
	ref := w.row.Ref
	raw, err := attributevalue.MarshalMap(newItem(w.row, now))
	if err != nil {
		return fmt.Errorf("marshal %s: %w", ref, err)
	}
	b.add(types.TransactWriteItem{
		Put: &types.Put{
			TableName:                 aws.String(t.b.config.TableName(ref.Kind)),
			Item:                      raw,
			ConditionExpression:       aws.String("attribute_not_exists(id) OR #ttl <= :now"),
			ExpressionAttributeNames:  TTLFilterNames(),
			ExpressionAttributeValues: TTLFilterValues(now),
		},
	}, func(map[string]types.AttributeValue) error {
		return fmt.Errorf("%w: %s", store.ErrAlreadyExists, ref)
	})

	if owner, ok := w.row.OwnerRef(); ok {
		if err := t.addLink(b, owner, ref, now); err != nil {
			return err
		}
		t.addOwnerCheck(b, owner, ref, touched, now)
	}
	return nil
}

func (t *tx) addUpdate(b *batch, w *write, touched map[entity.Ref]bool, now time.Time) error {
	ref := w.row.Ref
	names := mergeExprNames(TTLFilterNames(), leaseNames(), map[string]string{
		"#version":    attrVersion,
		"#name":       attrName,
		"#updated_at": attrUpdatedAt,
	})
	values := mergeExprValues(TTLFilterValues(now), leaseValues(t.owner, now), map[string]types.AttributeValue{
		":expected":   numberValue(w.stored.Version),
		":version":    numberValue(w.row.Version),
		":name":       &types.AttributeValueMemberS{Value: w.row.Name},
		":updated_at": &types.AttributeValueMemberS{Value: now.UTC().Format(time.RFC3339)},
	})
	set := "SET #version = :version, #name = :name, #updated_at = :updated_at"

	owner, owned := w.row.OwnerRef()
	if owned {
		set += ", #parent_id = :parent_id, #parent_ref = :parent_ref"
		names["#parent_id"] = attrParentID
		names["#parent_ref"] = attrParentRef
		values[":parent_id"] = numberValue(owner.ID)
		values[":parent_ref"] = &types.AttributeValueMemberS{Value: owner.String()}
	}

	b.add(types.TransactWriteItem{
		Update: &types.Update{
			TableName:                           aws.String(t.b.config.TableName(ref.Kind)),
			Key:                                 keyOf(ref),
			UpdateExpression:                    aws.String(set + " REMOVE #lock_owner, #lock_expires"),
			ConditionExpression:                 aws.String(guardCondition()),
			ExpressionAttributeNames:            names,
			ExpressionAttributeValues:           values,
			ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
		},
	}, t.conflict(ref, now))

	if !owned {
		return nil
	}
	previous, _ := w.stored.OwnerRef()
	if previous == owner {
		return nil
	}
	t.addUnlink(b, previous, ref, now)
	if err := t.addLink(b, owner, ref, now); err != nil {
		return err
	}
	t.addOwnerCheck(b, owner, ref, touched, now)
	return nil
}

func (t *tx) addDelete(b *batch, w *write, now time.Time) {
	ref := w.row.Ref
	b.add(types.TransactWriteItem{
		Update: &types.Update{
			TableName:           aws.String(t.b.config.TableName(ref.Kind)),
			Key:                 keyOf(ref),
			UpdateExpression:    aws.String("SET #ttl = :now, #updated_at = :updated_at REMOVE #lock_owner, #lock_expires"),
			ConditionExpression: aws.String(guardCondition()),
			ExpressionAttributeNames: mergeExprNames(TTLFilterNames(), leaseNames(), map[string]string{
				"#version":    attrVersion,
				"#updated_at": attrUpdatedAt,
			}),
			ExpressionAttributeValues: mergeExprValues(TTLFilterValues(now), leaseValues(t.owner, now), map[string]types.AttributeValue{
				":expected":   numberValue(w.stored.Version),
				":updated_at": &types.AttributeValueMemberS{Value: now.UTC().Format(time.RFC3339)},
			}),
			ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
		},
	}, t.conflict(ref, now))

	if owner, ok := w.stored.OwnerRef(); ok {
		t.addUnlink(b, owner, ref, now)
	}
}

// addVerify checks a version read by an optimistic lock. A leased item also
// gets its lease released.
func (t *tx) addVerify(b *batch, ref entity.Ref, version int64, now time.Time) {
	names := mergeExprNames(TTLFilterNames(), map[string]string{"#version": attrVersion})
	values := mergeExprValues(TTLFilterValues(now), map[string]types.AttributeValue{
		":expected": numberValue(version),
	})
	cond := "#version = :expected AND " + ExistsCondition()
	onFail := func(map[string]types.AttributeValue) error {
		return fmt.Errorf("%w: %s changed since version %d", store.ErrOptimisticLock, ref, version)
	}

	if !t.leases[ref] {
		b.add(types.TransactWriteItem{
			ConditionCheck: &types.ConditionCheck{
				TableName:                 aws.String(t.b.config.TableName(ref.Kind)),
				Key:                       keyOf(ref),
				ConditionExpression:       aws.String(cond),
				ExpressionAttributeNames:  names,
				ExpressionAttributeValues: values,
			},
		}, onFail)
		return
	}

	names = mergeExprNames(names, leaseNames())
	values[":owner"] = &types.AttributeValueMemberS{Value: t.owner}
	b.add(types.TransactWriteItem{
		Update: &types.Update{
			TableName:                 aws.String(t.b.config.TableName(ref.Kind)),
			Key:                       keyOf(ref),
			UpdateExpression:          aws.String("REMOVE #lock_owner, #lock_expires"),
			ConditionExpression:       aws.String(cond + " AND #lock_owner = :owner"),
			ExpressionAttributeNames:  names,
			ExpressionAttributeValues: values,
		},
	}, onFail)
}

func (t *tx) addRelease(b *batch, ref entity.Ref) {
	b.add(types.TransactWriteItem{
		Update: &types.Update{
			TableName:                aws.String(t.b.config.TableName(ref.Kind)),
			Key:                      keyOf(ref),
			UpdateExpression:         aws.String("REMOVE #lock_owner, #lock_expires"),
			ConditionExpression:      aws.String("#lock_owner = :owner"),
			ExpressionAttributeNames: leaseNames(),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":owner": &types.AttributeValueMemberS{Value: t.owner},
			},
		},
	}, func(map[string]types.AttributeValue) error {
		return fmt.Errorf("%w: lease on %s expired", store.ErrPessimisticLock, ref)
	})
}

// addOwnerCheck verifies that the owner exists, unless the transaction
// already writes or checks it.
func (t *tx) addOwnerCheck(b *batch, owner, child entity.Ref, touched map[entity.Ref]bool, now time.Time) {
	if touched[owner] {
		return
	}
	b.add(types.TransactWriteItem{
		ConditionCheck: &types.ConditionCheck{
			TableName:                 aws.String(t.b.config.TableName(owner.Kind)),
			Key:                       keyOf(owner),
			ConditionExpression:       aws.String(ExistsCondition()),
			ExpressionAttributeNames:  TTLFilterNames(),
			ExpressionAttributeValues: TTLFilterValues(now),
		},
	}, func(map[string]types.AttributeValue) error {
		return fmt.Errorf("%w: %s owner of %s", store.ErrParentNotFound, owner, child)
	})
	touched[owner] = true
}

func (t *tx) addLink(b *batch, owner, child entity.Ref, now time.Time) error {
	key := relationshipKey(owner, child, t.b.config.NumShards)
	raw, err := attributevalue.MarshalMap(relationship{
		PK:        key["pk"].(*types.AttributeValueMemberS).Value,
		ChildRef:  child.String(),
		ParentRef: owner.String(),
		ChildKind: string(child.Kind),
		ChildID:   child.ID,
		CreatedAt: now.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshal relationship %s: %w", child, err)
	}
	b.add(types.TransactWriteItem{
		Put: &types.Put{
			TableName: aws.String(t.b.config.RelationshipTable),
			Item:      raw,
		},
	}, nil)
	return nil
}

// addUnlink expires the relationship record of child under owner.
func (t *tx) addUnlink(b *batch, owner, child entity.Ref, now time.Time) {
	b.add(types.TransactWriteItem{
		Update: &types.Update{
			TableName:                 aws.String(t.b.config.RelationshipTable),
			Key:                       relationshipKey(owner, child, t.b.config.NumShards),
			UpdateExpression:          aws.String("SET #ttl = :now"),
			ExpressionAttributeNames:  TTLFilterNames(),
			ExpressionAttributeValues: TTLFilterValues(now),
		},
	}, nil)
}

// conflict tells a lost lease race from a version mismatch using the item
// as it was when the condition failed.
func (t *tx) conflict(ref entity.Ref, now time.Time) failureFunc {
	return func(old map[string]types.AttributeValue) error {
		if old != nil && !isDeletedAt(old, now) && leasedByOther(old, t.owner, now) {
			return fmt.Errorf("%w: %s is leased by another transaction", store.ErrPessimisticLock, ref)
		}
		return fmt.Errorf("%w: %s", store.ErrOptimisticLock, ref)
	}
}

// guardCondition holds for a live item at the expected version that no
// other transaction has leased.
func guardCondition() string {
	return "#version = :expected AND " + ExistsCondition() + " AND " + leaseFreeCondition()
}

func sortedRefs[V any](m map[entity.Ref]V) []entity.Ref {
	refs := make([]entity.Ref, 0, len(m))
	for ref := range m {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Kind != refs[j].Kind {
			return refs[i].Kind < refs[j].Kind
		}
		return refs[i].ID < refs[j].ID
	})
	return refs
}
