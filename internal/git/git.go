// Package git reads source-control metadata for a workflow run.
package git

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	gogit "github.com/go-git/go-git/v5"
)

// CommandContext is the function used to create exec.Cmd instances.
// It can be replaced in tests to mock command execution.
var CommandContext = exec.CommandContext

// ErrNotRepository is returned when dir is not inside a git repository.
var ErrNotRepository = errors.New("not a git repository")

// Status represents the git workspace status.
type Status struct {
	Clean bool
	Files []string
}

// Repo answers source-control questions about a project directory.
type Repo struct{}

// New creates a Repo.
func New() *Repo {
	return &Repo{}
}

func open(dir string) (*gogit.Repository, error) {
	repo, err := gogit.PlainOpenWithOptions(dir, &gogit.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, gogit.ErrRepositoryNotExists) {
			return nil, ErrNotRepository
		}
		return nil, fmt.Errorf("failed to open repository: %w", err)
	}
	return repo, nil
}

// Head returns the commit hash HEAD points at. A repository without commits
// yields an empty revision and no error.
func (r *Repo) Head(dir string) (string, error) {
	repo, err := open(dir)
	if err != nil {
		return "", err
	}
	head, err := repo.Head()
	if err != nil {
		return "", nil
	}
	return head.Hash().String(), nil
}

// Branch returns the current branch name, or an empty string when HEAD is
// detached or unborn.
func (r *Repo) Branch(dir string) (string, error) {
	repo, err := open(dir)
	if err != nil {
		return "", err
	}
	head, err := repo.Head()
	if err != nil {
		return "", nil
	}
	// head.Name() returns refs/heads/branch-name format
	if head.Name().IsBranch() {
		return head.Name().Short(), nil
	}
	return "", nil
}

// Status returns the git workspace status for dir.
func (r *Repo) Status(ctx context.Context, dir string) (*Status, error) {
	output, err := r.output(ctx, dir, "status", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("git status failed: %w", err)
	}

	var files []string
	for _, line := range strings.Split(output, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		// git status --porcelain format: XY filename
		// e.g., "?? file.txt", " M file.txt", "A  file.txt"
		if len(line) > 3 {
			files = append(files, line[3:])
		} else {
			files = append(files, strings.TrimSpace(line))
		}
	}

	return &Status{
		Clean: len(files) == 0,
		Files: files,
	}, nil
}

// DiffSince returns the working tree diff against revision followed by the
// names of untracked files. An empty revision diffs against HEAD.
func (r *Repo) DiffSince(ctx context.Context, dir, revision string) (string, error) {
	if revision == "" {
		revision = "HEAD"
	}
	diff, err := r.output(ctx, dir, "diff", revision)
	if err != nil {
		return "", fmt.Errorf("git diff %s failed: %w", revision, err)
	}

	untracked, err := r.output(ctx, dir, "ls-files", "--others", "--exclude-standard")
	if err == nil && strings.TrimSpace(untracked) != "" {
		diff += "\nUntracked files:\n" + untracked
	}
	return diff, nil
}

func (r *Repo) output(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	return string(out), err
}
