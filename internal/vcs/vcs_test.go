// internal/vcs/vcs_test.go
package vcs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// initRepo creates a repository with one commit and returns its path.
func initRepo(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644))

	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("README.md")
	require.NoError(t, err)
	_, err = wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(t, err)

	return dir
}

func TestDescribeOutsideRepository(t *testing.T) {
	t.Parallel()

	assert.Nil(t, Describe(t.TempDir(), zaptest.NewLogger(t)))
}

func TestDescribeCleanRepository(t *testing.T) {
	t.Parallel()

	dir := initRepo(t)
	info := Describe(dir, zaptest.NewLogger(t))

	require.NotNil(t, info)
	assert.Len(t, info.Commit, 40)
	assert.Equal(t, "master", info.Branch)
	assert.False(t, info.Dirty)
}

func TestDescribeDirtyWorktree(t *testing.T) {
	t.Parallel()

	dir := initRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scratch.txt"), []byte("wip\n"), 0o644))

	info := Describe(dir, zaptest.NewLogger(t))
	require.NotNil(t, info)
	assert.True(t, info.Dirty)
}

func TestDescribeDetectsDotGitFromSubdirectory(t *testing.T) {
	t.Parallel()

	dir := initRepo(t)
	sub := filepath.Join(dir, "nested", "deep")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	info := Describe(sub, zaptest.NewLogger(t))
	require.NotNil(t, info)
	assert.Len(t, info.Commit, 40)
}

func TestDescribeEmptyRepositoryHasNoInfo(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	_, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	assert.Nil(t, Describe(dir, zaptest.NewLogger(t)))
}
