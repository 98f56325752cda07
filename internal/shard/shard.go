// Package shard computes partition keys for the sharded relationship table.
package shard

import (
	"fmt"
	"hash/fnv"
)

// Of returns the shard a child ref is assigned to.
// With numShards<=1 every child lands in shard 0.
func Of(childRef string, numShards int) int {
	if numShards <= 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(childRef))
	return int(h.Sum32() % uint32(numShards))
}

// PK returns the partition key of one shard of a parent.
func PK(parentRef string, shard int) string {
	return fmt.Sprintf("%s#%02x", parentRef, shard)
}

// RelationshipPK computes the sharded partition key for a relationship record.
func RelationshipPK(parentRef, childRef string, numShards int) string {
	return PK(parentRef, Of(childRef, numShards))
}

// Keys lists the partition keys of every shard of a parent, in shard order.
func Keys(parentRef string, numShards int) []string {
	if numShards < 1 {
		numShards = 1
	}
	keys := make([]string, numShards)
	for i := range keys {
		keys[i] = PK(parentRef, i)
	}
	return keys
}
