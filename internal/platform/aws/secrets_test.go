package aws

import (
	"context"
	"errors"
	"testing"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSecrets struct {
	values map[string]*string
	calls  int
}

func (f *fakeSecrets) GetSecretValue(_ context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.calls++
	v, ok := f.values[*in.SecretId]
	if !ok {
		return nil, errors.New("ResourceNotFoundException")
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: v}, nil
}

func TestGetSecret_CachesValue(t *testing.T) {
	api := &fakeSecrets{values: map[string]*string{"orderflow/postgres": sdkaws.String("postgres://u:p@db/orders")}}
	client := NewSecretsClientWithAPI(api)

	for i := 0; i < 3; i++ {
		v, err := client.GetSecret(context.Background(), "orderflow/postgres")
		require.NoError(t, err)
		assert.Equal(t, "postgres://u:p@db/orders", v)
	}
	assert.Equal(t, 1, api.calls)
}

func TestGetSecret_Errors(t *testing.T) {
	api := &fakeSecrets{values: map[string]*string{"binary": nil}}
	client := NewSecretsClientWithAPI(api)

	_, err := client.GetSecret(context.Background(), "missing")
	assert.ErrorContains(t, err, "failed to get secret missing")

	_, err = client.GetSecret(context.Background(), "binary")
	assert.ErrorContains(t, err, "has no string value")
}
