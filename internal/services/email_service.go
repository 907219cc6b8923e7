package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// EmailService is the outbound notifier: verification and welcome mail.
// Both calls are best-effort from the caller's perspective; the account
// lifecycle never fails because a notification failed.
type EmailService interface {
	SendVerificationEmail(ctx context.Context, email, token string) error
	SendWelcomeEmail(ctx context.Context, email string) error
}

// AWSSESEmailService sends emails using AWS SES
type AWSSESEmailService struct {
	sesClient   *ses.Client
	fromAddress string
	baseURL     string
	logger      *slog.Logger
}

// NewAWSSESEmailService creates a new AWS SES email service
func NewAWSSESEmailService(region, fromAddress, baseURL string, logger *slog.Logger) (*AWSSESEmailService, error) {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSSESEmailService{
		sesClient:   ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
		baseURL:     baseURL,
		logger:      logger,
	}, nil
}

// SendVerificationEmail sends the verification link for a freshly generated token
func (s *AWSSESEmailService) SendVerificationEmail(ctx context.Context, email, token string) error {
	verificationLink := fmt.Sprintf("%s/api/auth/verify?token=%s", s.baseURL, token)

	htmlBody := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<body>
    <h1>Verify Your Email Address</h1>
    <p>Thank you for creating a StagInfra account. To complete your registration,
    please verify your email address by clicking the link below:</p>
    <p><a href="%s">Verify Email Address</a></p>
    <p>Or copy and paste this link in your browser:<br><code>%s</code></p>
    <p>This link will expire in 48 hours.</p>
    <p>If you didn't sign up for this account, you can ignore this email.
    Your email address will not be verified.</p>
</body>
</html>
`, verificationLink, verificationLink)

	textBody := fmt.Sprintf(`Verify Your Email Address

Thank you for creating a StagInfra account. To complete your registration,
please verify your email address by opening the link below:

%s

This link will expire in 48 hours.

If you didn't sign up for this account, you can ignore this email.
Your email address will not be verified.
`, verificationLink)

	return s.send(ctx, email, "Verify your email address", htmlBody, textBody)
}

// SendWelcomeEmail sends the post-verification welcome message
func (s *AWSSESEmailService) SendWelcomeEmail(ctx context.Context, email string) error {
	htmlBody := `
<!DOCTYPE html>
<html>
<body>
    <h1>Welcome to StagInfra</h1>
    <p>Your email address has been verified and your account is ready to use.</p>
    <p>You can now sign in and start estimating your infrastructure costs.</p>
</body>
</html>
`

	textBody := `Welcome to StagInfra

Your email address has been verified and your account is ready to use.
You can now sign in and start estimating your infrastructure costs.
`

	return s.send(ctx, email, "Welcome to StagInfra", htmlBody, textBody)
}

func (s *AWSSESEmailService) send(ctx context.Context, email, subject, htmlBody, textBody string) error {
	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{email},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(subject),
			},
			Body: &types.Body{
				Html: &types.Content{
					Data: aws.String(htmlBody),
				},
				Text: &types.Content{
					Data: aws.String(textBody),
				},
			},
		},
	}

	result, err := s.sesClient.SendEmail(ctx, input)
	if err != nil {
		s.logger.Error("failed to send email via SES",
			slog.String("subject", subject),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("email sent",
		slog.String("subject", subject),
		slog.String("message_id", aws.ToString(result.MessageId)))

	return nil
}
