// Package alert posts operator notifications to the team chat. Alerts are
// for data-quality problems an operator has to fix upstream (duplicate photo
// names, PDF attachments, undecodable images); transient transport failures
// only go to the logs.
package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

// secretName holds the JSON blob with the chat webhook URL.
const secretName = "slack_nd_alerts_webhook"

type secretGetter interface {
	GetSecretValueWithContext(aws.Context, *secretsmanager.GetSecretValueInput, ...request.Option) (*secretsmanager.GetSecretValueOutput, error)
}

// Notifier posts formatted text blocks to the chat webhook. The webhook URL
// is fetched from the secret store on first use and cached for the run.
type Notifier struct {
	secrets    secretGetter
	httpClient *http.Client
	webhookURL string
	log        *zap.Logger
}

// New creates a notifier on the given AWS session.
func New(sess *session.Session, log *zap.Logger) *Notifier {
	return &Notifier{
		secrets:    secretsmanager.New(sess),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		log:        log,
	}
}

// Notify posts one markdown section block. Failures are returned but safe to
// ignore; an alert is advisory.
func (n *Notifier) Notify(ctx context.Context, text string) error {
	url, err := n.webhook(ctx)
	if err != nil {
		return err
	}

	msg := &slack.WebhookMessage{
		Blocks: &slack.Blocks{
			BlockSet: []slack.Block{
				slack.NewSectionBlock(
					slack.NewTextBlockObject(slack.MarkdownType, text, false, false),
					nil, nil),
			},
		},
	}
	if err := slack.PostWebhookCustomHTTPContext(ctx, url, n.httpClient, msg); err != nil {
		return fmt.Errorf("post alert: %w", err)
	}
	n.log.Info("posted operator alert", zap.Int("chars", len(text)))
	return nil
}

func (n *Notifier) webhook(ctx context.Context) (string, error) {
	if n.webhookURL != "" {
		return n.webhookURL, nil
	}

	out, err := n.secrets.GetSecretValueWithContext(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretName),
	})
	if err != nil {
		return "", fmt.Errorf("fetch webhook secret: %w", err)
	}

	var blob struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal([]byte(aws.StringValue(out.SecretString)), &blob); err != nil {
		return "", fmt.Errorf("decode webhook secret: %w", err)
	}
	if blob.URL == "" {
		return "", fmt.Errorf("webhook secret %s has no url", secretName)
	}
	n.webhookURL = blob.URL
	return blob.URL, nil
}

var _ secretGetter = (*secretsmanager.SecretsManager)(nil)
