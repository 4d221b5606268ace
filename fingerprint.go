package lobby

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"

	"lobby/common"
	"lobby/internal/utils"
)

const hashLen = 16

// hashKeyArgs hashes the normalized key arguments of a request.
// The first 16 hex characters are kept. Buckets are never evicted, so the
// hash must stay collision-free across every search string ever cached.
func hashKeyArgs(args map[string]interface{}) string {
	normalized := utils.NormalizeValue(args)
	argsJSON, err := json.Marshal(normalized)
	if err != nil {
		// A map of strings always marshals; keep a stable fallback regardless.
		return "0000000000000000"
	}
	hasher := sha256.New()
	hasher.Write(argsJSON)
	fullHash := hex.EncodeToString(hasher.Sum(nil))
	return fullHash[:hashLen]
}

// Fingerprint returns the cache partition key of a request:
// page:{field}:{hash of normalized key args}.
// Requests that differ only in offset, limit, or non-key filter values share
// a fingerprint.
func Fingerprint(req PageRequest) string {
	n := req.Normalize()
	return fmt.Sprintf("%s:%s:%s", common.KeyPrefix, n.Field, hashKeyArgs(n.keyArgs()))
}

// BucketKey joins a fingerprint and start offset: {fingerprint}:{start}.
func BucketKey(fingerprint string, start int) string {
	return fingerprint + ":" + strconv.Itoa(start)
}
