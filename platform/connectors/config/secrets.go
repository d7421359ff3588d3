// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretDecoder turns the opaque stored form of a server secret into the
// plaintext password. It is called only when a pool is about to be opened.
// Implementations must never log the plaintext.
type SecretDecoder interface {
	Decode(ctx context.Context, opaque []byte) (string, error)
}

// RawSecretDecoder treats the stored bytes as the UTF-8 password
type RawSecretDecoder struct{}

func (RawSecretDecoder) Decode(ctx context.Context, opaque []byte) (string, error) {
	return string(opaque), nil
}

// Base64SecretDecoder expects standard base64 encoded bytes
type Base64SecretDecoder struct{}

func (Base64SecretDecoder) Decode(ctx context.Context, opaque []byte) (string, error) {
	trimmed := bytes.TrimSpace(opaque)
	out := make([]byte, base64.StdEncoding.DecodedLen(len(trimmed)))
	n, err := base64.StdEncoding.Decode(out, trimmed)
	if err != nil {
		return "", fmt.Errorf("secret is not valid base64")
	}
	return string(out[:n]), nil
}

// AWSSecretRefPrefix marks a stored secret as a reference into AWS Secrets Manager
const AWSSecretRefPrefix = "aws-sm:"

// SecretsManagerAPI is the subset of the Secrets Manager client we use
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSSecretDecoder resolves "aws-sm:<arn>" references through AWS Secrets
// Manager and hands every other value to Fallback. Resolved values are cached.
type AWSSecretDecoder struct {
	client   SecretsManagerAPI
	cache    *TTLCache[string]
	ttl      time.Duration
	Fallback SecretDecoder
	logger   *log.Logger
}

// AWSSecretDecoderOptions holds options for creating an AWSSecretDecoder
type AWSSecretDecoderOptions struct {
	Region   string
	CacheTTL time.Duration
	Fallback SecretDecoder
	Logger   *log.Logger
}

// NewAWSSecretDecoder loads the default AWS configuration and creates a decoder
func NewAWSSecretDecoder(ctx context.Context, opts AWSSecretDecoderOptions) (*AWSSecretDecoder, error) {
	cfgOpts := []func(*awsconfig.LoadOptions) error{}
	if opts.Region != "" {
		cfgOpts = append(cfgOpts, awsconfig.WithRegion(opts.Region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, cfgOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewAWSSecretDecoderWithClient(secretsmanager.NewFromConfig(cfg), opts), nil
}

// NewAWSSecretDecoderWithClient creates a decoder around an existing client
func NewAWSSecretDecoderWithClient(client SecretsManagerAPI, opts AWSSecretDecoderOptions) *AWSSecretDecoder {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[SECRETS_MANAGER] ", log.LstdFlags)
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute // Cache secrets for 5 minutes by default
	}
	fallback := opts.Fallback
	if fallback == nil {
		fallback = RawSecretDecoder{}
	}

	return &AWSSecretDecoder{
		client:   client,
		cache:    NewTTLCache[string](ttl, 0),
		ttl:      ttl,
		Fallback: fallback,
		logger:   logger,
	}
}

// Decode resolves a secret reference or delegates to the fallback decoder
func (d *AWSSecretDecoder) Decode(ctx context.Context, opaque []byte) (string, error) {
	ref := strings.TrimSpace(string(opaque))
	if !strings.HasPrefix(ref, AWSSecretRefPrefix) {
		return d.Fallback.Decode(ctx, opaque)
	}
	secretARN := strings.TrimPrefix(ref, AWSSecretRefPrefix)

	if value, ok := d.cache.Get(secretARN); ok {
		return value, nil
	}

	d.logger.Printf("Fetching secret %s from AWS Secrets Manager", maskARN(secretARN))

	result, err := d.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretARN),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get secret %s: %w", maskARN(secretARN), err)
	}
	if result.SecretString == nil {
		return "", fmt.Errorf("secret %s has no string value", maskARN(secretARN))
	}

	password := parseSecretString(*result.SecretString)
	d.cache.Set(secretARN, password, d.ttl)
	return password, nil
}

// Invalidate drops every cached secret
func (d *AWSSecretDecoder) Invalidate() {
	d.cache.InvalidateAll()
	d.logger.Println("Invalidated all cached secrets")
}

// parseSecretString accepts either a JSON object with a "password" field
// (the RDS rotation format) or a bare string.
func parseSecretString(s string) string {
	var fields map[string]interface{}
	if err := json.Unmarshal([]byte(s), &fields); err == nil {
		if pw, ok := fields["password"].(string); ok {
			return pw
		}
	}
	return s
}

// maskARN masks the secret ARN for logging (shows only last 8 characters)
func maskARN(arn string) string {
	if len(arn) <= 12 {
		return "***"
	}
	return "..." + arn[len(arn)-8:]
}

// NewSecretDecoder builds the decoder named by backend: "raw", "base64" or "aws"
func NewSecretDecoder(ctx context.Context, backend, region string) (SecretDecoder, error) {
	switch strings.ToLower(backend) {
	case "", "raw":
		return RawSecretDecoder{}, nil
	case "base64":
		return Base64SecretDecoder{}, nil
	case "aws":
		return NewAWSSecretDecoder(ctx, AWSSecretDecoderOptions{Region: region})
	default:
		return nil, fmt.Errorf("unknown secrets backend %q", backend)
	}
}
