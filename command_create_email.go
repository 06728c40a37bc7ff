package secretariat

import (
	"context"
)

// CreateEmailMessage asks for a new mailbox for the target member. The
// generated credentials are mailed to ToEmail.
type CreateEmailMessage struct {
	AccountActionRequest
	Payload CreateEmailPayload
}

func (m CreateEmailMessage) Type() string { return string(ActionCreateEmail) }

// CreateEmail creates the target mailbox with a generated password
func (a *AccountActions) CreateEmail(ctx context.Context, msg CreateEmailMessage) (*Outcome, error) {
	return a.run(ctx, ActionCreateEmail, msg.AccountActionRequest, func(ctx context.Context) (*Outcome, error) {
		in, err := a.policyInput(ctx, msg.AccountActionRequest)
		if err != nil {
			return nil, err
		}

		if err := a.policy.CanCreateEmail(in).Err(); err != nil {
			return nil, err
		}

		if err := validatePayload(msg.Payload); err != nil {
			return nil, err
		}

		password, err := a.generatePassword()
		if err != nil {
			return nil, err
		}

		email := a.MemberEmail(msg.TargetUsername)
		a.notify(ctx, a.onBehalf(msg.AccountActionRequest, "I am creating an email account for "+msg.TargetUsername))

		if err := a.mailboxes.CreateEmail(ctx, msg.TargetUsername, password); err != nil {
			return nil, WrapCollaborator(err, "mailbox.create_email", "failed to create the email account")
		}

		mail, err := RenderCredentialsMail(a.baseURL, email, password)
		if err != nil {
			return nil, err
		}

		// the mailbox exists at this point, the caller still has to learn the
		// credentials never reached the recipient
		if err := a.mailer.Send(ctx, msg.Payload.ToEmail, mail.Subject, mail.Body); err != nil {
			return nil, WrapCollaborator(err, "mailer.send_credentials", "failed to send the credentials to "+msg.Payload.ToEmail)
		}

		return &Outcome{
			Message:  "The email account has been created.",
			Redirect: ProfilePath(msg.TargetUsername),
		}, nil
	})
}
