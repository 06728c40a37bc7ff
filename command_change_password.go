package secretariat

import (
	"context"
)

type ChangePasswordMessage struct {
	AccountActionRequest
	Payload ChangePasswordPayload
}

func (m ChangePasswordMessage) Type() string { return string(ActionChangePassword) }

// ChangePassword sets a new mailbox password for the target member
func (a *AccountActions) ChangePassword(ctx context.Context, msg ChangePasswordMessage) (*Outcome, error) {
	return a.run(ctx, ActionChangePassword, msg.AccountActionRequest, func(ctx context.Context) (*Outcome, error) {
		target, err := a.record(ctx, msg.TargetUsername)
		if err != nil {
			return nil, err
		}

		decision := a.policy.CanChangePassword(PolicyInput{
			Target:         target,
			ActingIsTarget: msg.IsSelf(),
		})
		if err := decision.Err(); err != nil {
			return nil, err
		}

		if err := validatePayload(msg.Payload); err != nil {
			return nil, err
		}

		a.notify(ctx, a.onBehalf(msg.AccountActionRequest, "I am changing the password of "+msg.TargetUsername+"."))

		if err := a.mailboxes.ChangePassword(ctx, msg.TargetUsername, msg.Payload.NewPassword); err != nil {
			return nil, WrapCollaborator(err, "mailbox.change_password", "failed to change the password")
		}

		return &Outcome{
			Message:  "The password has been changed.",
			Redirect: ProfilePath(msg.TargetUsername),
		}, nil
	})
}
