package secretariat

import (
	"context"
	"fmt"
)

const authorsDir = "content/_authors"

type RequestEndDateChangeMessage struct {
	AccountActionRequest
	Payload EndDatePayload
}

func (m RequestEndDateChangeMessage) Type() string { return string(ActionRequestEndDateChange) }

// AuthorFilePath is the profile file of username on the code host
func AuthorFilePath(username string) string {
	return fmt.Sprintf("%s/%s.md", authorsDir, username)
}

// RequestEndDateChange opens a pull request updating the end date on the
// target profile. The profile changes once the pull request is merged.
func (a *AccountActions) RequestEndDateChange(ctx context.Context, msg RequestEndDateChangeMessage) (*Outcome, error) {
	return a.run(ctx, ActionRequestEndDateChange, msg.AccountActionRequest, func(ctx context.Context) (*Outcome, error) {
		target, err := a.record(ctx, msg.TargetUsername)
		if err != nil {
			return nil, err
		}

		if err := a.policy.CanRequestEndDateChange(target).Err(); err != nil {
			return nil, err
		}

		if err := validatePayload(msg.Payload); err != nil {
			return nil, err
		}

		edits := []FileEdit{
			{Key: "end", Old: msg.Payload.End, New: msg.Payload.NewEnd},
		}
		title := "Update the end date of " + msg.TargetUsername

		pr, err := a.codeHost.ProposeFileChange(ctx, AuthorFilePath(msg.TargetUsername), edits, title)
		if err != nil {
			return nil, WrapCollaborator(err, "code_host.propose_file_change", "failed to open the pull request for the profile of "+msg.TargetUsername)
		}

		url := ""
		if pr != nil {
			url = pr.URL
		}

		return &Outcome{
			Message: fmt.Sprintf(
				"Pull request to update the profile of %s opened at %s. Once merged the profile will be updated.",
				msg.TargetUsername, url,
			),
			Redirect:    ProfilePath(msg.TargetUsername),
			PullRequest: pr,
		}, nil
	})
}
