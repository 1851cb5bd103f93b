package scheduler

import "fmt"

// Coordination-store key layout. Bit-exact: these names are part of the
// multi-process interop contract and must not be renamed or prefixed.
const (
	hasTokensSet = "gemini:full_token_keys"
	emptySet     = "gemini:empty_token_keys"
	retiredSet   = "gemini:retired_keys"
	quarantine   = "gemini:quarantine_keys"
)

func bucketKey(cred string) string {
	return fmt.Sprintf("key:%s:bucket", cred)
}

func dailyCountKey(cred string) string {
	return fmt.Sprintf("key:%s:daily_count", cred)
}

func failuresKey(cred string) string {
	return fmt.Sprintf("key:%s:failures", cred)
}
