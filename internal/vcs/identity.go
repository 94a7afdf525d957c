// Package vcs reads branch identity facts from the local git repository.
package vcs

import (
	"errors"
	"fmt"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// ErrDetachedHead is returned by CurrentBranch when HEAD does not point at a
// branch reference.
var ErrDetachedHead = errors.New("HEAD is not on a branch")

// Identity reads the current branch pointer and branch-existence facts.
//
// Callers must treat a CurrentBranch error as "identity unknown", never as
// "branch deleted": a misread here would otherwise trigger destructive
// cleanup of a remote branch that still exists.
type Identity interface {
	// CurrentBranch returns the short name of the branch HEAD points at.
	CurrentBranch() (string, error)

	// BranchExists reports whether refs/heads/<name> exists. A false result
	// with a nil error is the only definitive "deleted" answer; any error
	// means existence could not be determined.
	BranchExists(name string) (bool, error)
}

// gitIdentity implements Identity on top of go-git. The repository is
// reopened on every call so the sidecar always observes the latest refs of
// the mounted repository without holding it open across reloads.
type gitIdentity struct {
	dir string
}

// NewGitIdentity creates an Identity reading from the repository at dir.
// dir may point at a worktree or directly at a .git directory.
func NewGitIdentity(dir string) Identity {
	return &gitIdentity{dir: dir}
}

func (g *gitIdentity) CurrentBranch() (string, error) {
	repo, err := git.PlainOpen(g.dir)
	if err != nil {
		return "", fmt.Errorf("failed to open repository at %s: %w", g.dir, err)
	}

	ref, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	if !ref.Name().IsBranch() {
		return "", ErrDetachedHead
	}

	return ref.Name().Short(), nil
}

// BranchExists looks up the branch reference through the repository storer.
// Unlike a raw ref-file check this also covers packed refs.
func (g *gitIdentity) BranchExists(name string) (bool, error) {
	repo, err := git.PlainOpen(g.dir)
	if err != nil {
		return false, fmt.Errorf("failed to open repository at %s: %w", g.dir, err)
	}

	_, err = repo.Reference(plumbing.NewBranchReferenceName(name), false)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up branch %s: %w", name, err)
	}

	return true, nil
}
