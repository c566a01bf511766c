package common

import (
	"strings"

	"github.com/google/uuid"
)

// NewID mints an opaque identifier with a short kind prefix so ids remain
// greppable in logs and trace dumps (mem_…, blob_…, job_…, tr_…).
func NewID(prefix string) string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return raw
	}
	return prefix + "_" + raw
}
