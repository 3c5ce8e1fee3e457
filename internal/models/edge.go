package models

import "context"

// Edge types stored in the edge table.
const (
	EdgeTaskHasSubscriber    = "task.subscriber"
	EdgeTaskHasProject       = "task.project"
	EdgeTaskDependsOnTask    = "task.depends-on"
	EdgeTaskDependedOnByTask = "task.depended-on-by"
)

// EdgeLoader reads edge destinations for a source object.
type EdgeLoader interface {
	LoadDestinationPHIDs(ctx context.Context, srcPHID, edgeType string) ([]string, error)
}

var inverseEdges = map[string]string{
	EdgeTaskDependsOnTask:    EdgeTaskDependedOnByTask,
	EdgeTaskDependedOnByTask: EdgeTaskDependsOnTask,
}

// InverseEdge returns the edge type written in the other direction when an
// edge of edgeType is added, if it has one.
func InverseEdge(edgeType string) (string, bool) {
	inv, ok := inverseEdges[edgeType]
	return inv, ok
}
