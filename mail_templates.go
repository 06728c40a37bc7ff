package secretariat

import (
	"github.com/flosch/pongo2/v6"
	"github.com/goliatone/go-errors"
)

var loginMailTemplate = pongo2.Must(pongo2.FromString(`Hello {{ username }},

Use the link below to sign in to {{ base_url }}:

{{ link|safe }}

This link can be used once and expires in {{ ttl }}.
If you did not ask for it you can ignore this email.
`))

var credentialsMailTemplate = pongo2.Must(pongo2.FromString(`Hello,

The email account {{ email }} has been created.

Password: {{ password|safe }}

Change it from your profile on {{ base_url }} once you are signed in.
`))

// MailMessage is a rendered email ready for a Mailer
type MailMessage struct {
	Subject string
	Body    string
}

// RenderLoginMail builds the email carrying a login link
func RenderLoginMail(baseURL, username, link, ttl string) (MailMessage, error) {
	body, err := loginMailTemplate.Execute(pongo2.Context{
		"base_url": baseURL,
		"username": username,
		"link":     link,
		"ttl":      ttl,
	})
	if err != nil {
		return MailMessage{}, errors.Wrap(err, errors.CategoryInternal, "failed to render login email")
	}
	return MailMessage{
		Subject: "Sign in to the secretariat",
		Body:    body,
	}, nil
}

// RenderCredentialsMail builds the email sent after a mailbox is created
func RenderCredentialsMail(baseURL, email, password string) (MailMessage, error) {
	body, err := credentialsMailTemplate.Execute(pongo2.Context{
		"base_url": baseURL,
		"email":    email,
		"password": password,
	})
	if err != nil {
		return MailMessage{}, errors.Wrap(err, errors.CategoryInternal, "failed to render credentials email")
	}
	return MailMessage{
		Subject: "Email account " + email + " created",
		Body:    body,
	}, nil
}
