package secretariat

import (
	"context"
)

type CreateRedirectionMessage struct {
	AccountActionRequest
	Payload CreateRedirectionPayload
}

func (m CreateRedirectionMessage) Type() string { return string(ActionCreateRedirection) }

// CreateRedirection forwards the target mailbox to Payload.ToEmail
func (a *AccountActions) CreateRedirection(ctx context.Context, msg CreateRedirectionMessage) (*Outcome, error) {
	return a.run(ctx, ActionCreateRedirection, msg.AccountActionRequest, func(ctx context.Context) (*Outcome, error) {
		in, err := a.policyInput(ctx, msg.AccountActionRequest)
		if err != nil {
			return nil, err
		}

		if err := a.policy.CanCreateRedirection(in).Err(); err != nil {
			return nil, err
		}

		if err := validatePayload(msg.Payload); err != nil {
			return nil, err
		}

		a.notify(ctx, a.onBehalf(msg.AccountActionRequest, "I am creating an email redirection for "+msg.TargetUsername))

		from := a.MemberEmail(msg.TargetUsername)
		if err := a.mailboxes.CreateRedirection(ctx, from, msg.Payload.ToEmail, msg.Payload.KeepCopy); err != nil {
			return nil, WrapCollaborator(err, "mailbox.create_redirection", "failed to create the redirection")
		}

		return &Outcome{
			Message:  "The redirection has been created.",
			Redirect: ProfilePath(msg.TargetUsername),
		}, nil
	})
}
