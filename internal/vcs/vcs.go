// internal/vcs/vcs.go
package vcs

import (
	git "github.com/go-git/go-git/v5"
	"go.uber.org/zap"

	"github.com/xkilldash9x/caliper-cli/api/schemas"
)

// Describe resolves the version-control state of the tree a run was started
// from: HEAD commit, branch when on one, and whether the worktree is dirty.
// Outside a repository it returns nil without complaint; runs do not require
// version control.
func Describe(path string, logger *zap.Logger) *schemas.VCSInfo {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		logger.Debug("No repository detected; run carries no VCS info.",
			zap.String("path", path), zap.Error(err))
		return nil
	}

	head, err := repo.Head()
	if err != nil {
		// Freshly initialized repository, nothing committed yet.
		logger.Debug("Repository has no HEAD.", zap.Error(err))
		return nil
	}

	info := &schemas.VCSInfo{Commit: head.Hash().String()}
	if head.Name().IsBranch() {
		info.Branch = head.Name().Short()
	}

	wt, err := repo.Worktree()
	if err != nil {
		logger.Debug("Worktree unavailable; dirty flag left unset.", zap.Error(err))
		return info
	}
	status, err := wt.Status()
	if err != nil {
		logger.Debug("Worktree status failed; dirty flag left unset.", zap.Error(err))
		return info
	}
	info.Dirty = !status.IsClean()

	return info
}
