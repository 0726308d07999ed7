package alert

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeSecrets struct {
	value string
	calls int
}

func (f *fakeSecrets) GetSecretValueWithContext(_ aws.Context, input *secretsmanager.GetSecretValueInput, _ ...request.Option) (*secretsmanager.GetSecretValueOutput, error) {
	f.calls++
	if aws.StringValue(input.SecretId) != "slack_nd_alerts_webhook" {
		return nil, &secretsmanager.ResourceNotFoundException{}
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(f.value)}, nil
}

func TestNotify_PostsSectionBlock(t *testing.T) {
	var posted []byte
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		posted = body
	}))
	defer ts.Close()

	secrets := &fakeSecrets{value: `{"url":"` + ts.URL + `"}`}
	n := &Notifier{
		secrets:    secrets,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		log:        zaptest.NewLogger(t),
	}

	require.NoError(t, n.Notify(context.Background(), "Spot has duplicate photo names"))

	var msg struct {
		Blocks []struct {
			Type string `json:"type"`
			Text struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"text"`
		} `json:"blocks"`
	}
	require.NoError(t, json.Unmarshal(posted, &msg))
	require.Len(t, msg.Blocks, 1)
	assert.Equal(t, "section", msg.Blocks[0].Type)
	assert.Equal(t, "mrkdwn", msg.Blocks[0].Text.Type)
	assert.Equal(t, "Spot has duplicate photo names", msg.Blocks[0].Text.Text)

	// Webhook URL is cached across alerts.
	require.NoError(t, n.Notify(context.Background(), "second alert"))
	assert.Equal(t, 1, secrets.calls)
}

func TestNotify_BadSecret(t *testing.T) {
	n := &Notifier{
		secrets:    &fakeSecrets{value: `{}`},
		httpClient: http.DefaultClient,
		log:        zaptest.NewLogger(t),
	}
	require.Error(t, n.Notify(context.Background(), "text"))
}
