package cache

import (
	"encoding/binary"
	"encoding/hex"
	"strconv"

	"github.com/spaolacci/murmur3"

	"github.com/eventdeck/eventdeck/pkg/types"
)

// FilterKey returns the cache key for a filter set: namespace, a separator,
// and the murmur3-128 digest of the set's cache form. Equivalent filter sets
// resolved on the same day always produce the same key.
func FilterKey(namespace string, f types.FilterSet, today string) string {
	return namespace + ":q:" + digest(f.CacheString(today))
}

// EventKey returns the per-event cache key. It shares the namespace so a
// namespace clear drops single-event entries too.
func EventKey(namespace string, id int64) string {
	return namespace + ":e:" + strconv.FormatInt(id, 10)
}

func digest(s string) string {
	h1, h2 := murmur3.Sum128([]byte(s))
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], h1)
	binary.BigEndian.PutUint64(buf[8:], h2)
	return hex.EncodeToString(buf[:])
}
