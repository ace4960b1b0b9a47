// Package repoinfo reads version-control metadata for the working copy a
// tracked run executes in.
package repoinfo

import (
	"context"
	"log/slog"
	"sort"

	"github.com/go-git/go-git/v5"

	verrors "github.com/veil-org/veil/pkg/errors"
	"github.com/veil-org/veil/pkg/tracking"
)

// Info holds repository metadata. Empty fields could not be determined.
type Info struct {
	RemoteURL string `json:"remote_url" yaml:"remote_url"`
	Commit    string `json:"commit" yaml:"commit"`
	Branch    string `json:"branch" yaml:"branch"`
}

// Tags returns the metadata keyed by the mlflow git tag names.
// Absent values are present as empty strings.
func (i Info) Tags() map[string]string {
	return map[string]string{
		tracking.TagGitRepoURL: i.RemoteURL,
		tracking.TagGitCommit:  i.Commit,
		tracking.TagGitBranch:  i.Branch,
	}
}

// Prober looks up repository metadata. Implementations never fail; any
// field that cannot be determined is left empty.
type Prober interface {
	Probe(ctx context.Context) Info
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) Info

func (f ProberFunc) Probe(ctx context.Context) Info { return f(ctx) }

// Static returns a Prober that always reports info.
func Static(info Info) Prober {
	return ProberFunc(func(context.Context) Info { return info })
}

// GitProbe reads metadata from the git repository containing Path.
type GitProbe struct {
	Path   string
	logger *slog.Logger
}

// NewGitProbe creates a probe for the repository at or above path.
// A nil logger uses slog.Default().
func NewGitProbe(path string, logger *slog.Logger) *GitProbe {
	if path == "" {
		path = "."
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GitProbe{Path: path, logger: logger}
}

// Probe opens the repository and reads remote, commit and branch. Each
// lookup fails independently and failures are logged at info.
func (p *GitProbe) Probe(ctx context.Context) Info {
	repo, err := git.PlainOpenWithOptions(p.Path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		p.report(ctx, verrors.Repo(err, verrors.ErrRepoNotFound, "no git repository found"))
		return Info{}
	}

	var info Info
	if url, err := remoteURL(repo); err != nil {
		p.report(ctx, verrors.Repo(err, verrors.ErrRepoRemoteUnavailable, "failed to read remote url"))
	} else {
		info.RemoteURL = url
	}

	head, err := repo.Head()
	if err != nil {
		p.report(ctx, verrors.Repo(err, verrors.ErrRepoHeadUnavailable, "failed to resolve HEAD"))
		return info
	}
	info.Commit = head.Hash().String()

	if head.Name().IsBranch() {
		info.Branch = head.Name().Short()
	} else {
		p.report(ctx, verrors.Repo(nil, verrors.ErrRepoDetachedHead, "HEAD is detached"))
	}
	return info
}

func (p *GitProbe) report(ctx context.Context, err *verrors.VeilError) {
	attrs := []any{"path", p.Path, "code", err.Code}
	if err.Cause != nil {
		attrs = append(attrs, "error", err.Cause.Error())
	}
	p.logger.InfoContext(ctx, err.Message, attrs...)
}

// remoteURL returns the first URL of origin, or of the lexicographically
// first remote when origin does not exist.
func remoteURL(repo *git.Repository) (string, error) {
	remotes, err := repo.Remotes()
	if err != nil {
		return "", err
	}
	if len(remotes) == 0 {
		return "", git.ErrRemoteNotFound
	}

	sort.Slice(remotes, func(i, j int) bool {
		return remotes[i].Config().Name < remotes[j].Config().Name
	})
	chosen := remotes[0]
	for _, r := range remotes {
		if r.Config().Name == git.DefaultRemoteName {
			chosen = r
			break
		}
	}

	urls := chosen.Config().URLs
	if len(urls) == 0 {
		return "", git.ErrRemoteNotFound
	}
	return urls[0], nil
}
