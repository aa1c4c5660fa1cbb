package operations

import (
	"context"
	"fmt"
	"strings"

	"fieldsync/backend"
	"fieldsync/internal/utils"
)

// FindTask resolves a task reference typed by the rider. An exact id wins;
// otherwise the reference must be an unambiguous id prefix.
func FindTask(ctx context.Context, store backend.TaskStore, riderID, ref string) (*backend.Task, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("task id is required")
	}

	task, err := store.GetTask(ctx, ref)
	if err == nil {
		return task, nil
	}

	tasks, err := store.GetTasks(ctx, riderID, nil)
	if err != nil {
		return nil, fmt.Errorf("error searching for tasks: %w", err)
	}

	var matches []backend.Task
	for _, t := range tasks {
		if strings.HasPrefix(t.ID, ref) {
			matches = append(matches, t)
		}
	}

	switch len(matches) {
	case 0:
		return nil, utils.ErrTaskNotFound(ref, backend.ErrTaskNotFound)
	case 1:
		return &matches[0], nil
	}

	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.ID)
	}
	return nil, utils.WrapWithSuggestion(
		fmt.Errorf("%d tasks match '%s': %s", len(matches), ref, strings.Join(ids, ", ")),
		"Use a longer id prefix",
	)
}
