package services

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"html/template"
	"net"
	"net/smtp"
	"os"

	appContext "github.com/alphabatem/common/context"
	log "github.com/sirupsen/logrus"

	"github.com/tradeyard/otc_api/shared"
)

type EmailService struct {
	appContext.DefaultService

	settingsSvc settingsReader

	smtpHost     string
	smtpPort     string
	smtpUsername string
	smtpPassword string
	fromEmail    string
	fromName     string

	templates map[string]*template.Template
}

const EMAIL_SVC = "email_svc"

func (svc EmailService) Id() string {
	return EMAIL_SVC
}

func (svc *EmailService) Configure(ctx *appContext.Context) error {
	svc.smtpHost = os.Getenv("SMTP_HOST")
	svc.smtpPort = os.Getenv("SMTP_PORT")
	svc.smtpUsername = os.Getenv("SMTP_USERNAME")
	svc.smtpPassword = os.Getenv("SMTP_PASSWORD")
	svc.fromEmail = os.Getenv("FROM_EMAIL")
	svc.fromName = os.Getenv("FROM_NAME")

	if svc.smtpPort == "" {
		svc.smtpPort = "587"
	}
	if svc.fromName == "" {
		svc.fromName = shared.DefaultPlatformName
	}

	svc.templates = make(map[string]*template.Template)

	return svc.DefaultService.Configure(ctx)
}

func (svc *EmailService) Start() error {
	svc.settingsSvc = svc.Service(SETTINGS_SVC).(*SettingsService)

	if err := svc.loadTemplates(); err != nil {
		log.WithError(err).Error("Failed to load email templates")
		return err
	}

	return nil
}

const verificationCodeEmailHTML = `
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Your Verification Code - {{.AppName}}</title>
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { background-color: #4F46E5; color: white; padding: 20px; text-align: center; }
        .content { padding: 20px; background-color: #f9f9f9; }
        .code { font-size: 32px; letter-spacing: 8px; font-weight: bold; text-align: center; padding: 16px; background-color: white; border-radius: 5px; margin: 20px 0; }
        .footer { padding: 20px; text-align: center; color: #666; font-size: 12px; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h1>{{.AppName}}</h1>
        </div>
        <div class="content">
            <p>Your verification code is:</p>
            <div class="code">{{.Code}}</div>
            <p>This code expires in {{.ExpiresMinutes}} minutes. If you did not request it, you can safely ignore this email.</p>
            <p>Need help? Contact us at <a href="mailto:{{.ContactEmail}}">{{.ContactEmail}}</a>.</p>
        </div>
        <div class="footer">
            <p>&copy; {{.AppName}}. All rights reserved.</p>
        </div>
    </div>
</body>
</html>
`

type verificationCodeEmailData struct {
	AppName        string
	Code           string
	ExpiresMinutes int
	ContactEmail   string
}

func (svc *EmailService) loadTemplates() error {
	var err error

	svc.templates["verification_code"], err = template.New("verification_code").Parse(verificationCodeEmailHTML)
	if err != nil {
		return fmt.Errorf("failed to parse verification code email template: %v", err)
	}

	return nil
}

// SendVerificationCodeEmail delivers a one-time code to the address.
func (svc *EmailService) SendVerificationCodeEmail(ctx context.Context, toAddress, code, purpose string) error {
	appName, _, err := svc.settingsSvc.GetSetting(ctx, shared.SettingPlatformName)
	if err != nil || appName == "" {
		appName = shared.DefaultPlatformName
	}

	contactEmail, _, err := svc.settingsSvc.GetSetting(ctx, shared.SettingContactEmail)
	if err != nil || contactEmail == "" {
		contactEmail = svc.fromEmail
	}

	data := verificationCodeEmailData{
		AppName:        appName,
		Code:           code,
		ExpiresMinutes: 5,
		ContactEmail:   contactEmail,
	}

	tmpl, exists := svc.templates["verification_code"]
	if !exists {
		return fmt.Errorf("template verification_code not found")
	}

	var htmlBody bytes.Buffer
	if err := tmpl.Execute(&htmlBody, data); err != nil {
		return fmt.Errorf("failed to execute template: %v", err)
	}

	subject := fmt.Sprintf("Your %s verification code", appName)
	plainText := fmt.Sprintf("Your %s verification code is %s. It expires in %d minutes.", appName, code, data.ExpiresMinutes)

	return svc.SendEmail(ctx, toAddress, subject, plainText, htmlBody.String())
}

// SendEmail sends a multipart plain+HTML email over SMTP. Credentials come
// from the environment, never from code. The dial and every read or write on
// the connection are bounded by the context deadline, so a hung server
// returns an error instead of stalling the caller.
func (svc *EmailService) SendEmail(ctx context.Context, toAddress, subject, plainTextBody, htmlBody string) error {
	if svc.smtpHost == "" {
		log.Warn("SMTP not configured, cannot send email")
		return fmt.Errorf("SMTP not configured")
	}

	msg := svc.buildMessage(toAddress, subject, plainTextBody, htmlBody)

	if err := svc.transmit(ctx, toAddress, msg); err != nil {
		log.WithError(err).WithFields(log.Fields{"to": toAddress, "subject": subject}).Error("Failed to send email")
		return fmt.Errorf("failed to send email: %v", err)
	}

	log.WithFields(log.Fields{"to": toAddress, "subject": subject}).Info("Email sent successfully")
	return nil
}

func (svc *EmailService) buildMessage(toAddress, subject, plainTextBody, htmlBody string) []byte {
	boundary := "----=_otc_boundary"
	return []byte(fmt.Sprintf(
		"From: %s <%s>\r\n"+
			"To: %s\r\n"+
			"Subject: %s\r\n"+
			"MIME-Version: 1.0\r\n"+
			"Content-Type: multipart/alternative; boundary=%q\r\n"+
			"\r\n"+
			"--%s\r\n"+
			"Content-Type: text/plain; charset=UTF-8\r\n"+
			"\r\n"+
			"%s\r\n"+
			"--%s\r\n"+
			"Content-Type: text/html; charset=UTF-8\r\n"+
			"\r\n"+
			"%s\r\n"+
			"--%s--\r\n",
		svc.fromName, svc.fromEmail, toAddress, subject,
		boundary, boundary, plainTextBody, boundary, htmlBody, boundary))
}

// transmit speaks the SMTP session over a connection whose deadline is taken
// from the context. smtp.SendMail cannot be used here: it ignores the context
// entirely once dialing starts.
func (svc *EmailService) transmit(ctx context.Context, toAddress string, msg []byte) error {
	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", svc.smtpHost+":"+svc.smtpPort)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %v", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, svc.smtpHost)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("SMTP handshake failed: %v", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: svc.smtpHost}); err != nil {
			return fmt.Errorf("STARTTLS failed: %v", err)
		}
	}

	if svc.smtpUsername != "" {
		if ok, _ := client.Extension("AUTH"); ok {
			auth := smtp.PlainAuth("", svc.smtpUsername, svc.smtpPassword, svc.smtpHost)
			if err := client.Auth(auth); err != nil {
				return fmt.Errorf("SMTP auth failed: %v", err)
			}
		}
	}

	if err := client.Mail(svc.fromEmail); err != nil {
		return err
	}
	if err := client.Rcpt(toAddress); err != nil {
		return err
	}

	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		_ = w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	return client.Quit()
}
