package secretariat

import (
	"context"
	"fmt"
)

type DeleteEmailMessage struct {
	AccountActionRequest
}

func (m DeleteEmailMessage) Type() string { return string(ActionDeleteEmail) }

// DeleteEmail removes the redirections of the target mailbox and then the
// mailbox itself. A member deleting their own mailbox loses their session.
func (a *AccountActions) DeleteEmail(ctx context.Context, msg DeleteEmailMessage) (*Outcome, error) {
	return a.run(ctx, ActionDeleteEmail, msg.AccountActionRequest, func(ctx context.Context) (*Outcome, error) {
		target, err := a.record(ctx, msg.TargetUsername)
		if err != nil {
			return nil, err
		}

		self := msg.IsSelf()
		if err := a.policy.CanDeleteEmail(target, self).Err(); err != nil {
			return nil, err
		}

		a.notify(ctx, fmt.Sprintf("Deleting the email account of %s (at the request of %s)", msg.TargetUsername, msg.ActingUsername))

		from := a.MemberEmail(msg.TargetUsername)
		for _, redirection := range target.Redirections {
			source := redirection.From
			if source == "" {
				source = from
			}
			if err := a.mailboxes.DeleteRedirection(ctx, source, redirection.To); err != nil {
				return nil, WrapCollaborator(err, "mailbox.delete_redirection", "failed to delete the redirections of "+msg.TargetUsername)
			}
		}

		if err := a.mailboxes.DeleteEmail(ctx, msg.TargetUsername); err != nil {
			return nil, WrapCollaborator(err, "mailbox.delete_email", "failed to delete the email account")
		}

		if self {
			return &Outcome{
				Message:        "Your email account has been deleted.",
				Redirect:       LoginPath,
				SessionRevoked: true,
			}, nil
		}

		return &Outcome{
			Message:  fmt.Sprintf("The email account of %s has been deleted.", msg.TargetUsername),
			Redirect: ProfilePath(msg.TargetUsername),
		}, nil
	})
}
