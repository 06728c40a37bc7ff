package secretariat

import (
	"context"
	"strings"
)

type DeleteRedirectionMessage struct {
	AccountActionRequest
	ToEmail string
}

func (m DeleteRedirectionMessage) Type() string { return string(ActionDeleteRedirection) }

// DeleteRedirection removes a redirection of the target mailbox. Only the
// acting member's record is consulted, the target may already be gone from
// the directory.
func (a *AccountActions) DeleteRedirection(ctx context.Context, msg DeleteRedirectionMessage) (*Outcome, error) {
	return a.run(ctx, ActionDeleteRedirection, msg.AccountActionRequest, func(ctx context.Context) (*Outcome, error) {
		acting, err := a.record(ctx, msg.ActingUsername)
		if err != nil {
			return nil, err
		}

		if err := a.policy.CanDeleteRedirection(acting).Err(); err != nil {
			return nil, err
		}

		to := strings.TrimSpace(msg.ToEmail)
		if to == "" {
			return nil, NewInvalidInput("to_email: cannot be blank")
		}

		a.notify(ctx, a.onBehalf(msg.AccountActionRequest, "I am deleting the email redirection of "+msg.TargetUsername+" to "+to))

		from := a.MemberEmail(msg.TargetUsername)
		if err := a.mailboxes.DeleteRedirection(ctx, from, to); err != nil {
			return nil, WrapCollaborator(err, "mailbox.delete_redirection", "failed to delete the redirection")
		}

		return &Outcome{
			Message:  "The redirection has been deleted.",
			Redirect: ProfilePath(msg.TargetUsername),
		}, nil
	})
}
