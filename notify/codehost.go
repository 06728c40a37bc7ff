package notify

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"path"
	"regexp"
	"strings"
	"sync"

	"github.com/goliatone/go-errors"

	"github.com/betagouv/secretariat"
)

var branchUnsafe = regexp.MustCompile(`[ .\\~^:?*\[]`)

// ProposedChange is a pull request recorded by LogCodeHost
type ProposedChange struct {
	Path  string
	Edits []secretariat.FileEdit
	Title string
	Ref   secretariat.PullRequestRef
}

// LogCodeHost records proposed profile changes and logs them. It hands out
// pull request numbers the way the hosted repository would.
type LogCodeHost struct {
	mu         sync.Mutex
	repository string
	logger     secretariat.Logger
	next       int
	proposed   []ProposedChange
}

var _ secretariat.CodeHostClient = (*LogCodeHost)(nil)

func NewLogCodeHost(repository string, logger secretariat.Logger) *LogCodeHost {
	return &LogCodeHost{
		repository: repository,
		logger:     logger,
		next:       1,
	}
}

func (h *LogCodeHost) ProposeFileChange(ctx context.Context, filePath string, edits []secretariat.FileEdit, title string) (*secretariat.PullRequestRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(edits) == 0 {
		return nil, errors.New("no edits to propose", errors.CategoryBadInput).
			WithMetadata(map[string]any{"path": filePath})
	}

	branch, err := BranchName(filePath)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ref := secretariat.PullRequestRef{
		Number: h.next,
		URL:    fmt.Sprintf("https://github.com/%s/pull/%d", h.repository, h.next),
		Branch: branch,
	}
	h.next++

	h.proposed = append(h.proposed, ProposedChange{
		Path:  filePath,
		Edits: append([]secretariat.FileEdit(nil), edits...),
		Title: title,
		Ref:   ref,
	})

	if h.logger != nil {
		h.logger.Info("pull request proposed", "path", filePath, "branch", branch, "title", title, "url", ref.URL)
	}
	return &ref, nil
}

// Proposed returns the recorded changes
func (h *LogCodeHost) Proposed() []ProposedChange {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]ProposedChange, len(h.proposed))
	copy(out, h.proposed)
	return out
}

// BranchName derives a unique branch for edits on an author file
func BranchName(filePath string) (string, error) {
	suffix := make([]byte, 3)
	if _, err := rand.Read(suffix); err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to generate branch suffix")
	}
	username := strings.TrimSuffix(path.Base(filePath), path.Ext(filePath))
	return fmt.Sprintf("author%s-update-end-date-%s", branchUnsafe.ReplaceAllString(username, "-"), hex.EncodeToString(suffix)), nil
}
