// Package dynamostore implements the lockstore backend on DynamoDB.
//
// Each record kind lives in its own table keyed by a numeric id. Ownership is
// indexed in a relationship table whose partition key is sharded per parent
// (see [Config.NumShards]), so listing the children of a record is a fan-out
// query over every shard.
//
// # Transactions
//
// DynamoDB has no interactive transactions. A transaction reads with strong
// consistency and buffers its writes; reads inside the transaction see the
// buffered state. Commit sends every buffered write in a single
// TransactWriteItems call guarded by conditions:
//
//   - inserts require the id to be free: attribute_not_exists(id)
//   - updates and deletes require the version read earlier: #version = :expected
//   - owned inserts check that the owner exists and is not deleted
//
// A failed condition is mapped back to the write that caused it, so callers
// see [store.ErrAlreadyExists], [store.ErrParentNotFound],
// [store.ErrOptimisticLock] or [store.ErrPessimisticLock].
//
// # Row locks
//
// Locking reads take a lease on the item: lock_owner and lock_expires are set
// with a conditional update that only succeeds when no other transaction holds
// an unexpired lease. Acquisition is retried every
// [Config.LockRetryInterval] until [Config.LockTimeout]. Writes from other
// transactions fail while the lease is held. Leases are released by the
// commit transaction or on rollback, and expire after [Config.LeaseDuration]
// if the holder disappears. Shared and exclusive locks are both leases.
//
// # Deletes
//
// Deletes set the ttl attribute to the current time. Items with an expired
// ttl are treated as missing by every read until DynamoDB removes them.
package dynamostore
