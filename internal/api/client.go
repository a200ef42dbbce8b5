// Package api provides the default executor-invocation collaborator,
// backed by the Anthropic API.
package api

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/config"
)

// maxTokens bounds one executor response.
const maxTokens = 8192

// ClientConfig contains configuration for creating a new Client.
type ClientConfig struct {
	// APIKey is the Anthropic API key. If empty, uses ANTHROPIC_API_KEY env var.
	APIKey string
	// Model is the default model when an executor has no mapping.
	Model string
	// Executors maps executor IDs to model names.
	Executors map[string]string
	// UseAWSBedrock indicates whether to use AWS Bedrock instead of direct API.
	UseAWSBedrock bool
	// AWSRegion is the AWS region for Bedrock (e.g., "us-west-2").
	AWSRegion string
	// AWSProfile is the optional AWS profile name to use.
	AWSProfile string
}

// Client maps executor IDs to models and invokes them synchronously.
// It satisfies the scheduler's Invoker contract.
type Client struct {
	inner        anthropic.Client
	defaultModel anthropic.Model
	executors    map[string]string
}

// NewClient creates a new executor client.
func NewClient(cfg ClientConfig) (*Client, error) {
	var opts []option.RequestOption

	if cfg.UseAWSBedrock {
		// AWS Bedrock path
		ctx := context.Background()

		var loadOpts []func(*config.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, config.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.AWSProfile))
		}

		opts = append(opts, bedrock.WithLoadDefaultConfig(ctx, loadOpts...))
	} else {
		// Traditional API key path
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is not set")
		}
		opts = append(opts, option.WithAPIKey(apiKey))
	}

	model := anthropic.Model(cfg.Model)
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_20250514
	}

	return &Client{
		inner:        anthropic.NewClient(opts...),
		defaultModel: model,
		executors:    cfg.Executors,
	}, nil
}

// modelFor resolves an executor ID to a model name.
func (c *Client) modelFor(executorID string) anthropic.Model {
	if name, ok := c.executors[executorID]; ok && name != "" {
		return anthropic.Model(name)
	}
	return c.defaultModel
}

// Invoke sends the payload to the executor's model, with the assembled
// context as the system prompt, and returns the text response.
func (c *Client) Invoke(ctx context.Context, executorID, payload, assembledContext string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     c.modelFor(executorID),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(payload)),
		},
	}
	if assembledContext != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: assembledContext},
		}
	}

	resp, err := c.inner.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("API call failed: %w", err)
	}

	var result strings.Builder
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			result.WriteString(variant.Text)
		}
	}

	return result.String(), nil
}
