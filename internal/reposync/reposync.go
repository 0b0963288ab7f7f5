// Package reposync implements RepoSyncer: refreshing a repository
// tree (git checkout of an ebuild repository) in place. Rsync/webrsync
// backends are a documented Non-goal; the package otherwise backs the
// CLI's --sync flag with a real git implementation.
package reposync

import (
	"context"
	"os"

	"github.com/Masterminds/vcs"
	"github.com/pkg/errors"
)

// Syncer refreshes a repository checkout at localPath against the
// source it was cloned from, returning the revision now checked out.
type Syncer interface {
	Sync(ctx context.Context, localPath string) (revision string, err error)
}

// ErrNoSyncer is returned by NotImplemented.Sync.
type ErrNoSyncer struct{}

func (ErrNoSyncer) Error() string { return "no RepoSyncer configured" }

// NotImplemented is the zero Syncer: every call reports that no
// syncer is configured.
type NotImplemented struct{}

func (NotImplemented) Sync(ctx context.Context, localPath string) (string, error) {
	return "", ErrNoSyncer{}
}

// Git syncs a repository tree from a remote git URL, backed by
// Masterminds/vcs's *GitRepo (the same method set a
// vcs_repo.go/vcs_source.go drive: Get/Update/Current).
type Git struct {
	Remote string
}

// Sync clones localPath from g.Remote if it doesn't exist, otherwise
// pulls the latest commit, and returns the checked-out revision.
func (g Git) Sync(ctx context.Context, localPath string) (string, error) {
	repo, err := vcs.NewGitRepo(g.Remote, localPath)
	if err != nil {
		return "", errors.Wrapf(err, "opening git repo at %s", localPath)
	}
	if _, err := os.Stat(localPath); os.IsNotExist(err) {
		if err := repo.Get(); err != nil {
			return "", errors.Wrapf(err, "cloning %s", g.Remote)
		}
	} else if err := repo.Update(); err != nil {
		return "", errors.Wrapf(err, "updating %s", localPath)
	}
	rev, err := repo.Current()
	if err != nil {
		return "", errors.Wrapf(err, "determining revision at %s", localPath)
	}
	return rev, nil
}
