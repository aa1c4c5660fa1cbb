package backend

import (
	"fmt"
	"slices"
	"strings"
)

// AvailableActions returns the actions a rider may take on a task of the given
// type in the given status, in display order. Terminal states return nil.
func AvailableActions(taskType TaskType, status TaskStatus) []ActionType {
	switch taskType {
	case TaskTypePickup:
		switch status {
		case StatusAssigned:
			return []ActionType{ActionReach}
		case StatusReached:
			return []ActionType{ActionPickUp, ActionFailPickup}
		}
	case TaskTypeDrop:
		switch status {
		case StatusAssigned:
			return []ActionType{ActionReach}
		case StatusReached:
			return []ActionType{ActionDeliver, ActionFailDelivery}
		case StatusFailedDelivery:
			return []ActionType{ActionReturn}
		}
	}
	return nil
}

// ResultingStatus returns the status a task lands in after the action.
// Callers only pass actions present in AvailableActions.
func ResultingStatus(action ActionType) TaskStatus {
	switch action {
	case ActionReach:
		return StatusReached
	case ActionPickUp:
		return StatusPickedUp
	case ActionDeliver:
		return StatusDelivered
	case ActionFailPickup:
		return StatusFailedPickup
	case ActionFailDelivery:
		return StatusFailedDelivery
	case ActionReturn:
		return StatusReturned
	}
	return ""
}

// CanPerform reports whether action is legal for a task in the given state
func CanPerform(taskType TaskType, status TaskStatus, action ActionType) bool {
	return slices.Contains(AvailableActions(taskType, status), action)
}

// IsTerminal reports whether no further actions are possible
func IsTerminal(taskType TaskType, status TaskStatus) bool {
	return len(AvailableActions(taskType, status)) == 0
}

var (
	taskTypes    = []TaskType{TaskTypePickup, TaskTypeDrop}
	taskStatuses = []TaskStatus{
		StatusAssigned, StatusReached, StatusPickedUp, StatusDelivered,
		StatusFailedPickup, StatusFailedDelivery, StatusReturned,
	}
	actionTypes = []ActionType{
		ActionReach, ActionPickUp, ActionDeliver,
		ActionFailPickup, ActionFailDelivery, ActionReturn,
	}
)

// AllTaskTypes returns every task type
func AllTaskTypes() []TaskType { return slices.Clone(taskTypes) }

// AllTaskStatuses returns every task status
func AllTaskStatuses() []TaskStatus { return slices.Clone(taskStatuses) }

// AllActionTypes returns every action type
func AllActionTypes() []ActionType { return slices.Clone(actionTypes) }

// ParseTaskType parses a task type, case-insensitively
func ParseTaskType(s string) (TaskType, error) {
	t := TaskType(normalizeEnum(s))
	if !slices.Contains(taskTypes, t) {
		return "", fmt.Errorf("invalid task type %q", s)
	}
	return t, nil
}

// ParseTaskStatus parses a task status, case-insensitively
func ParseTaskStatus(s string) (TaskStatus, error) {
	st := TaskStatus(normalizeEnum(s))
	if !slices.Contains(taskStatuses, st) {
		return "", fmt.Errorf("invalid task status %q", s)
	}
	return st, nil
}

// ParseActionType parses an action, accepting "pick-up" style spellings
func ParseActionType(s string) (ActionType, error) {
	a := ActionType(normalizeEnum(s))
	if !slices.Contains(actionTypes, a) {
		return "", fmt.Errorf("invalid action %q", s)
	}
	return a, nil
}

func normalizeEnum(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	return strings.NewReplacer("-", "_", " ", "_").Replace(s)
}
