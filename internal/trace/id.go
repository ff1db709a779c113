package trace

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// NewExecutionID generates an opaque 24-hex-character execution id
// (12 random bytes), distinct from the uuids used elsewhere (event ids,
// stream subscriber ids). Spec §3 requires execution_id be
// an opaque string; a short hex id keeps trace rows and their indexes
// compact without implying any ordering.
func NewExecutionID() (string, error) {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate execution id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
