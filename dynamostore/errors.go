package dynamostore

import (
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/lockstore/store"
)

// maxTransactItems is the TransactWriteItems item limit.
const maxTransactItems = 100

// ErrTransactionTooLarge is returned by Commit when the buffered writes need
// more than 100 transaction items.
var ErrTransactionTooLarge = errors.New("dynamostore: transaction exceeds 100 items")

// failureFunc maps a failed condition on one transaction item to an error.
// old is the item before the transaction, nil if it did not exist.
type failureFunc func(old map[string]types.AttributeValue) error

// batch is a TransactWriteItems request under construction.
type batch struct {
	items  []types.TransactWriteItem
	onFail []failureFunc
}

func (b *batch) add(item types.TransactWriteItem, onFail failureFunc) {
	b.items = append(b.items, item)
	b.onFail = append(b.onFail, onFail)
}

// mapError converts a TransactWriteItems error into a store error using the
// cancellation reason of the first failed item.
func (b *batch) mapError(err error) error {
	if err == nil {
		return nil
	}

	var conflict *types.TransactionConflictException
	if errors.As(err, &conflict) {
		return fmt.Errorf("%w: %s", store.ErrOptimisticLock, conflict.ErrorMessage())
	}

	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		return fmt.Errorf("transact write: %w", err)
	}

	for i, reason := range tce.CancellationReasons {
		if reason.Code == nil {
			continue
		}
		switch *reason.Code {
		case "ConditionalCheckFailed":
			if i < len(b.onFail) && b.onFail[i] != nil {
				return b.onFail[i](reason.Item)
			}
			return fmt.Errorf("%w: condition failed on item %d", store.ErrOptimisticLock, i)
		case "TransactionConflict":
			return fmt.Errorf("%w: concurrent transaction on item %d", store.ErrOptimisticLock, i)
		}
	}
	return fmt.Errorf("transact write: %w", err)
}
