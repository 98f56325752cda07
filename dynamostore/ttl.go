package dynamostore

import (
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// IsDeleted checks if an item has an expired TTL (is marked for deletion).
func IsDeleted(item map[string]types.AttributeValue) bool {
	return isDeletedAt(item, time.Now())
}

func isDeletedAt(item map[string]types.AttributeValue, now time.Time) bool {
	ttl, ok := numberAttr(item, attrTTL)
	if !ok {
		return false // No TTL = active
	}
	return ttl <= now.Unix()
}

// TTLFilterExpr returns the filter expression to exclude deleted items.
func TTLFilterExpr() string {
	return "attribute_not_exists(#ttl) OR #ttl > :now"
}

// TTLFilterNames returns expression attribute names for TTL filter.
func TTLFilterNames() map[string]string {
	return map[string]string{"#ttl": attrTTL}
}

// TTLFilterValues returns expression attribute values for TTL filter.
func TTLFilterValues(now time.Time) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{":now": unixAttr(now)}
}

// ExistsCondition returns the condition expression for an item that exists
// and is not deleted. It uses the TTL filter names and values.
func ExistsCondition() string {
	return "attribute_exists(id) AND (" + TTLFilterExpr() + ")"
}

// leaseFreeCondition holds when nobody else has an unexpired lease.
func leaseFreeCondition() string {
	return "(attribute_not_exists(#lock_owner) OR #lock_owner = :owner OR #lock_expires < :now_ms)"
}

func leaseNames() map[string]string {
	return map[string]string{
		"#lock_owner":   attrLockOwner,
		"#lock_expires": attrLockExpires,
	}
}

func leaseValues(owner string, now time.Time) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		":owner":  &types.AttributeValueMemberS{Value: owner},
		":now_ms": numberValue(now.UnixMilli()),
	}
}

// leasedByOther reports whether item carries an unexpired lease that owner
// does not hold.
func leasedByOther(item map[string]types.AttributeValue, owner string, now time.Time) bool {
	holder, ok := item[attrLockOwner].(*types.AttributeValueMemberS)
	if !ok || holder.Value == owner {
		return false
	}
	expires, ok := numberAttr(item, attrLockExpires)
	return ok && expires >= now.UnixMilli()
}

func numberAttr(item map[string]types.AttributeValue, name string) (int64, bool) {
	n, ok := item[name].(*types.AttributeValueMemberN)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func numberValue(v int64) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(v, 10)}
}

func unixAttr(t time.Time) *types.AttributeValueMemberN {
	return numberValue(t.Unix())
}

// mergeExprNames merges multiple expression attribute name maps.
func mergeExprNames(maps ...map[string]string) map[string]string {
	result := make(map[string]string)
	for _, m := range maps {
		for k, v := range m {
			result[k] = v
		}
	}
	return result
}

// mergeExprValues merges multiple expression attribute value maps.
func mergeExprValues(maps ...map[string]types.AttributeValue) map[string]types.AttributeValue {
	result := make(map[string]types.AttributeValue)
	for _, m := range maps {
		for k, v := range m {
			result[k] = v
		}
	}
	return result
}
