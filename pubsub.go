package campaign

import (
	"context"
	"fmt"
)

// Publisher emits change notifications after a mutation commits. Consumers
// may observe notifications in arbitrary order relative to other mutations.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// EntityChangedTopic is the topic published on every committed entity mutation.
func EntityChangedTopic(entityType EntityType, entityID string) string {
	return fmt.Sprintf("entity.%s.%s.changed", entityType, entityID)
}

// BranchForkedTopic is the topic published after a fork commits.
func BranchForkedTopic(branchID UUID) string {
	return fmt.Sprintf("branch.%s.forked", branchID)
}

// BranchMergedTopic is the topic published after a merge commits.
func BranchMergedTopic(branchID UUID) string {
	return fmt.Sprintf("branch.%s.merged", branchID)
}
