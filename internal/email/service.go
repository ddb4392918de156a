// Package email sends platform mail over SMTP.
package email

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
)

type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

type Service struct {
	config Config
	server string
	auth   smtp.Auth
}

func NewService(config Config) *Service {
	auth := smtp.PlainAuth("", config.Username, config.Password, config.Host)
	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
	}
}

// IsConfigured reports whether SMTP settings are present. When false
// the account flows fall back to returning tokens in the response.
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

func (s *Service) SendHTMLEmail(to []string, subject, htmlBody string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	boundary := "boundary-ecidadania"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "Please view this email in an HTML-capable email client.\r\n")
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", htmlBody)
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return smtp.SendMail(s.server, s.auth, s.config.From, to, msg.Bytes())
}

type verificationData struct {
	Username string
	URL      string
}

// SendVerificationEmail mails the account activation link after
// signup.
func (s *Service) SendVerificationEmail(to, username, verificationURL string) error {
	html, err := renderTemplate(verificationEmailTemplate, verificationData{Username: username, URL: verificationURL})
	if err != nil {
		return fmt.Errorf("render verification template: %w", err)
	}
	return s.SendHTMLEmail([]string{to}, "Activate your e-cidadania account", html)
}

// SendPasswordResetEmail mails the password reset link.
func (s *Service) SendPasswordResetEmail(to, username, resetURL string) error {
	html, err := renderTemplate(passwordResetEmailTemplate, verificationData{Username: username, URL: resetURL})
	if err != nil {
		return fmt.Errorf("render password reset template: %w", err)
	}
	return s.SendHTMLEmail([]string{to}, "Reset your e-cidadania password", html)
}

// SendEmailValidation mails the key that confirms a changed profile
// email address.
func (s *Service) SendEmailValidation(to, username, validationURL string) error {
	html, err := renderTemplate(emailValidationTemplate, verificationData{Username: username, URL: validationURL})
	if err != nil {
		return fmt.Errorf("render email validation template: %w", err)
	}
	return s.SendHTMLEmail([]string{to}, "Confirm your new email address", html)
}

func renderTemplate(tmpl string, data any) (string, error) {
	t := template.Must(template.New("email").Parse(tmpl))
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const verificationEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Activate your account</title>
    <style>
        body { font-family: 'Helvetica Neue', Arial, sans-serif; line-height: 1.5; color: #222; max-width: 580px; margin: 0 auto; padding: 24px; }
        .button { display: inline-block; padding: 10px 22px; background: #2a7a3b; color: white; text-decoration: none; border-radius: 3px; }
        .link { word-break: break-all; color: #2a7a3b; }
        .footer { margin-top: 28px; font-size: 12px; color: #777; }
    </style>
</head>
<body>
    <h2>Welcome, {{.Username}}</h2>
    <p>Your e-cidadania account is almost ready. Confirm your email address to activate it.</p>
    <p><a href="{{.URL}}" class="button">Activate account</a></p>
    <p>Or open this link directly:</p>
    <p class="link">{{.URL}}</p>
    <p>The activation link expires in 24 hours.</p>
    <div class="footer">
        <p>If you did not sign up, you can ignore this email.</p>
    </div>
</body>
</html>`

const passwordResetEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Password reset</title>
    <style>
        body { font-family: 'Helvetica Neue', Arial, sans-serif; line-height: 1.5; color: #222; max-width: 580px; margin: 0 auto; padding: 24px; }
        .button { display: inline-block; padding: 10px 22px; background: #2a7a3b; color: white; text-decoration: none; border-radius: 3px; }
        .link { word-break: break-all; color: #2a7a3b; }
        .footer { margin-top: 28px; font-size: 12px; color: #777; }
    </style>
</head>
<body>
    <h2>Hi {{.Username}},</h2>
    <p>Someone asked to reset the password for your account. If that was you, use the button below.</p>
    <p><a href="{{.URL}}" class="button">Reset password</a></p>
    <p>Or open this link directly:</p>
    <p class="link">{{.URL}}</p>
    <p>The reset link expires in 1 hour.</p>
    <div class="footer">
        <p>If you did not ask for a reset, your password stays as it is.</p>
    </div>
</body>
</html>`

const emailValidationTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Confirm your new email</title>
    <style>
        body { font-family: 'Helvetica Neue', Arial, sans-serif; line-height: 1.5; color: #222; max-width: 580px; margin: 0 auto; padding: 24px; }
        .button { display: inline-block; padding: 10px 22px; background: #2a7a3b; color: white; text-decoration: none; border-radius: 3px; }
        .link { word-break: break-all; color: #2a7a3b; }
        .footer { margin-top: 28px; font-size: 12px; color: #777; }
    </style>
</head>
<body>
    <h2>Hi {{.Username}},</h2>
    <p>You asked to use this address for your e-cidadania profile. Confirm it with the button below.</p>
    <p><a href="{{.URL}}" class="button">Confirm email address</a></p>
    <p>Or open this link directly:</p>
    <p class="link">{{.URL}}</p>
    <div class="footer">
        <p>If you did not request this change, you can ignore this email.</p>
    </div>
</body>
</html>`
