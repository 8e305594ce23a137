package secrets

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	value *string
	err   error
	asked []string
}

func (f *fakeAPI) GetSecretValue(_ context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.asked = append(f.asked, aws.ToString(in.SecretId))
	if f.err != nil {
		return nil, f.err
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: f.value}, nil
}

func TestFetch(t *testing.T) {
	api := &fakeAPI{value: aws.String(`{"db_user":"reporter","db_pass":"hunter2","port":27017}`)}
	f := NewFetcherWithAPI(api, "us-east-1")

	secret, err := f.Fetch(context.Background(), "reports/mongo")
	require.NoError(t, err)

	assert.Equal(t, []string{"reports/mongo"}, api.asked)
	assert.Equal(t, "reporter", secret["db_user"])
	assert.Equal(t, "hunter2", secret["db_pass"])
	assert.Equal(t, "27017", secret["port"])
}

func TestFetchErrors(t *testing.T) {
	denied := errors.New("AccessDeniedException")

	tests := []struct {
		name string
		api  *fakeAPI
		want string
	}{
		{"api error", &fakeAPI{err: denied}, "AccessDeniedException"},
		{"binary secret", &fakeAPI{}, "no string value"},
		{"malformed", &fakeAPI{value: aws.String("db_user=reporter")}, "parsing secret"},
		{"not an object", &fakeAPI{value: aws.String("null")}, "not a JSON object"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFetcherWithAPI(tt.api, "us-east-1").Fetch(context.Background(), "reports/mongo")
			assert.ErrorContains(t, err, tt.want)
		})
	}

	_, err := NewFetcherWithAPI(&fakeAPI{err: denied}, "us-east-1").Fetch(context.Background(), "x")
	assert.ErrorIs(t, err, denied)
}
