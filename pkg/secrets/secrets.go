package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// API is the subset of the Secrets Manager client used here
type API interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// Fetcher reads JSON secrets from AWS Secrets Manager
type Fetcher struct {
	api    API
	region string
}

// NewFetcher creates a Secrets Manager backed fetcher for a region
func NewFetcher(ctx context.Context, region string) (*Fetcher, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return NewFetcherWithAPI(secretsmanager.NewFromConfig(cfg), region), nil
}

// NewFetcherWithAPI wraps an existing client
func NewFetcherWithAPI(api API, region string) *Fetcher {
	return &Fetcher{api: api, region: region}
}

// Fetch retrieves a secret and decodes its string value as a flat JSON object.
// Non-string values are kept in their JSON text form.
func (f *Fetcher) Fetch(ctx context.Context, name string) (map[string]string, error) {
	out, err := f.api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		return nil, fmt.Errorf("getting secret %s in %s: %w", name, f.region, err)
	}
	if out.SecretString == nil {
		return nil, fmt.Errorf("secret %s has no string value", name)
	}
	return Decode([]byte(aws.ToString(out.SecretString)))
}

// Decode parses a secret payload
func Decode(data []byte) (map[string]string, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing secret: %w", err)
	}
	if raw == nil {
		return nil, errors.New("parsing secret: not a JSON object")
	}

	secret := make(map[string]string, len(raw))
	for k, v := range raw {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			secret[k] = s
			continue
		}
		secret[k] = string(v)
	}
	return secret, nil
}
