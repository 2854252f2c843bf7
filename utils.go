package queueflow

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// newJobID derives a unique job id from the task id, the current time, and a
// random suffix, so repeated triggers never collide unless the caller
// explicitly overrides the id.
func newJobID(taskID string) string {
	return fmt.Sprintf("%s:%d:%s", taskID, time.Now().UnixMilli(), uuid.NewString()[:8])
}
