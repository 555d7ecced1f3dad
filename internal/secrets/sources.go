package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"reminder-service/internal/apperrors"
)

// EnvSource reads secrets from environment variables. The key
// "telegram-bot-token" maps to TELEGRAM_BOT_TOKEN.
type EnvSource struct {
	// Overrides maps keys to fixed values, checked before the environment.
	Overrides map[string]string
}

func (s EnvSource) Fetch(_ context.Context, key string) (string, error) {
	if v, ok := s.Overrides[key]; ok && v != "" {
		return v, nil
	}
	name := EnvName(key)
	v := os.Getenv(name)
	if v == "" {
		return "", apperrors.Wrap(apperrors.ErrNotFound, apperrors.KindNotFound, "secrets.env", map[string]any{"env": name})
	}
	return v, nil
}

// EnvName converts a secret key to its environment variable name.
func EnvName(key string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_", "/", "_").Replace(key))
}

// secretsManagerAPI is the subset of the Secrets Manager client in use.
type secretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSSource reads secrets from AWS Secrets Manager as "<prefix><key>".
type AWSSource struct {
	client secretsManagerAPI
	prefix string
}

// NewAWSSource loads the default AWS configuration chain.
func NewAWSSource(ctx context.Context, prefix string) (*AWSSource, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &AWSSource{client: secretsmanager.NewFromConfig(cfg), prefix: prefix}, nil
}

func (s *AWSSource) Fetch(ctx context.Context, key string) (string, error) {
	name := s.prefix + key
	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get secret %s: %w", name, err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("secret %s has no string value", name)
	}
	return aws.ToString(out.SecretString), nil
}
