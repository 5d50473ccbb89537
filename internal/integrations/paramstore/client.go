// Package paramstore reads bot configuration and credentials from AWS SSM
// Parameter Store.
package paramstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ssmAPI is the slice of *ssm.Client used here.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Getter returns the raw value of a parameter.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// Client reads decrypted parameters.
type Client struct {
	api    ssmAPI
	prefix string
}

// New creates a Client. Relative parameter names are resolved under prefix.
func New(api ssmAPI, prefix string) (*Client, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	return &Client{api: api, prefix: strings.TrimRight(strings.TrimSpace(prefix), "/")}, nil
}

// GetParameter returns the value of name. Names without a leading slash are
// joined to the client prefix.
func (c *Client) GetParameter(ctx context.Context, name string) (string, error) {
	if c.api == nil {
		return "", errors.New("paramstore: client not initialized")
	}
	name = c.qualify(name)
	if name == "" {
		return "", errors.New("paramstore: name is required")
	}

	withDecryption := true
	out, err := c.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: &withDecryption,
	})
	if err != nil {
		return "", fmt.Errorf("paramstore: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("paramstore: parameter %q missing value", name)
	}
	return *out.Parameter.Value, nil
}

// GetSecret reads a JSON object parameter and returns its string field.
// Secrets are stored as {"<field>": "..."} so the value can be rotated
// together with metadata.
func (c *Client) GetSecret(ctx context.Context, name, field string) (string, error) {
	raw, err := c.GetParameter(ctx, name)
	if err != nil {
		return "", err
	}
	return SecretField(raw, field)
}

// SecretField extracts field from a JSON object value.
func SecretField(raw, field string) (string, error) {
	field = strings.TrimSpace(field)
	if field == "" {
		return "", errors.New("paramstore: secret field is required")
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return "", fmt.Errorf("paramstore: decode secret as JSON: %w", err)
	}
	v, ok := payload[field].(string)
	if !ok || strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("paramstore: secret field %q is empty", field)
	}
	return v, nil
}

func (c *Client) qualify(name string) string {
	name = strings.TrimSpace(name)
	if name == "" || strings.HasPrefix(name, "/") || c.prefix == "" {
		return name
	}
	return c.prefix + "/" + name
}
