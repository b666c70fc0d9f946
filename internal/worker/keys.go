package worker

import "fmt"

// Pool keys serialize writers. Every code path that writes a given row must
// submit under the same key, or two writers can land on different workers and
// interleave. These helpers are the single source of keys for rows that are
// written from more than one package.

// ProjectKey serializes all writes touching a project: its row, its member
// rows, its task rows and their local mirrors, whether the write comes from a
// user operation or a remote snapshot apply.
func ProjectKey(projectID string) string {
	return "project:" + projectID
}

// TaskKey serializes writes to a standalone task row.
func TaskKey(taskID uint) string {
	return fmt.Sprintf("task:%d", taskID)
}
