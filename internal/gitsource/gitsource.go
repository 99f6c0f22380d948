// Package gitsource keeps a local checkout of a remote notes repository.
package gitsource

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
)

// IsRemote reports whether source names a git repository rather than a
// local path.
func IsRemote(source string) bool {
	if strings.HasPrefix(source, "git@") {
		return true
	}
	u, err := url.Parse(source)
	if err != nil {
		return false
	}
	return u.Scheme == "https" || u.Scheme == "http" || u.Scheme == "ssh"
}

// LocalPath returns where repoURL is checked out under baseDir.
func LocalPath(baseDir, repoURL string) (string, error) {
	parsedURL, err := url.Parse(repoURL)
	if err != nil || parsedURL.Scheme == "" {
		// scp-like syntax: git@host:owner/repo.git
		user, rest, ok := strings.Cut(repoURL, "@")
		host, repoPath, ok2 := strings.Cut(rest, ":")
		if !ok || !ok2 || user == "" || host == "" || repoPath == "" {
			return "", fmt.Errorf("could not parse git URL: %s", repoURL)
		}
		return filepath.Join(baseDir, host, strings.TrimSuffix(repoPath, ".git")), nil
	}

	if parsedURL.Host == "" {
		return "", fmt.Errorf("could not parse git URL: %s", repoURL)
	}
	return filepath.Join(baseDir, parsedURL.Host, strings.TrimSuffix(parsedURL.Path, ".git")), nil
}

// Sync clones a git repository if it doesn't exist at the given path,
// or pulls the latest changes if it does.
func Sync(ctx context.Context, repoURL, localPath string) error {
	_, err := os.Stat(localPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		slog.Info("Cloning repository", "url", repoURL, "path", localPath)
		_, err := git.PlainCloneContext(ctx, localPath, false, &git.CloneOptions{URL: repoURL})
		if err != nil {
			return fmt.Errorf("failed to clone repo %s: %w", repoURL, err)
		}
	case err == nil:
		slog.Info("Pulling repository", "path", localPath)
		repo, err := git.PlainOpen(localPath)
		if err != nil {
			return fmt.Errorf("failed to open existing repo at %s: %w", localPath, err)
		}
		worktree, err := repo.Worktree()
		if err != nil {
			return fmt.Errorf("failed to get worktree for repo at %s: %w", localPath, err)
		}
		err = worktree.PullContext(ctx, &git.PullOptions{RemoteName: "origin"})
		if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
			return fmt.Errorf("failed to pull changes for repo at %s: %w", localPath, err)
		}
	default:
		return fmt.Errorf("error checking path %s: %w", localPath, err)
	}
	return nil
}
