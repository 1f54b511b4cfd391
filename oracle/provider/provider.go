package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"

	"github.com/openllm-network/oracled/oracle/log"
)

var (
	ErrUnknownPlatform = errors.New("unknown platform")
	ErrMissingAPIKey   = errors.New("api key not set")
)

// Platform describes one LLM provider: where to post, how to authenticate,
// how to shape the request body, and where the answer text lives in the
// response.
type Platform struct {
	endpoint string // full URL; gemini carries %s verbs for model and key
	keyEnv   string
	build    func(model, prompt string) string
	headers  func(key string) map[string]string
	path     string // gjson path to the generated text

	// retryNoTemperature re-sends once without the temperature field when
	// the provider rejects it as unsupported for the selected model.
	retryNoTemperature bool
}

func (p *Platform) url(model, key string) string {
	if strings.Contains(p.endpoint, "%s") {
		return fmt.Sprintf(p.endpoint, model, key)
	}

	return p.endpoint
}

// Dispatcher routes invocations to the fixed platform table over a shared
// retrying HTTP client.
type Dispatcher struct {
	client    *retryablehttp.Client
	platforms map[string]*Platform
}

func NewDispatcher() *Dispatcher {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 1 * time.Second
	client.RetryWaitMax = 10 * time.Second
	client.Logger = nil
	client.HTTPClient.Timeout = 120 * time.Second

	return &Dispatcher{
		client:    client,
		platforms: defaultPlatforms(),
	}
}

func defaultPlatforms() map[string]*Platform {
	table := map[string]*Platform{
		"openai": {
			endpoint:           "https://api.openai.com/v1/chat/completions",
			keyEnv:             "OPENAI_API_KEY",
			build:              func(model, prompt string) string { return chatBody(model, prompt, 0, false) },
			headers:            bearerHeaders,
			path:               "choices.0.message.content",
			retryNoTemperature: true,
		},
		"anthropic": {
			endpoint: "https://api.anthropic.com/v1/messages",
			keyEnv:   "ANTHROPIC_API_KEY",
			build:    anthropicBody,
			headers: func(key string) map[string]string {
				return map[string]string{
					"x-api-key":         key,
					"anthropic-version": "2023-06-01",
				}
			},
			path: "content.0.text",
		},
		"gemini": {
			endpoint: "https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent?key=%s",
			keyEnv:   "GEMINI_API_KEY",
			build:    geminiBody,
			headers:  func(string) map[string]string { return nil },
			path:     "candidates.0.content.parts.0.text",
		},
		"grok": {
			endpoint: "https://api.x.ai/v1/chat/completions",
			keyEnv:   "GROK_API_KEY",
			build:    func(model, prompt string) string { return chatBody(model, prompt, 4096, true) },
			headers:  bearerHeaders,
			path:     "choices.0.message.content",
		},
		"groq": {
			endpoint: "https://api.groq.com/openai/v1/chat/completions",
			keyEnv:   "GROQ_API_KEY",
			build:    func(model, prompt string) string { return chatBody(model, prompt, 4096, false) },
			headers:  bearerHeaders,
			path:     "choices.0.message.content",
		},
		"deepseek": {
			endpoint: "https://api.deepseek.com/v1/chat/completions",
			keyEnv:   "DEEPSEEK_API_KEY",
			build:    func(model, prompt string) string { return chatBody(model, prompt, 4096, false) },
			headers:  bearerHeaders,
			path:     "choices.0.message.content",
		},
		"qwen": {
			endpoint: "https://dashscope.aliyuncs.com/api/v1/services/aigc/text-generation/generation",
			keyEnv:   "QWEN_API_KEY",
			build:    qwenBody,
			headers:  bearerHeaders,
			path:     "output.text",
		},
		"kimi": {
			endpoint: "https://api.moonshot.cn/v1/chat/completions",
			keyEnv:   "MOONSHOT_API_KEY",
			build:    func(model, prompt string) string { return chatBody(model, prompt, 0, false) },
			headers:  bearerHeaders,
			path:     "choices.0.message.content",
		},
		"zai": {
			endpoint: "https://api.z.ai/api/paas/v4/chat/completions",
			keyEnv:   "ZAI_API_KEY",
			build:    func(model, prompt string) string { return chatBody(model, prompt, 4096, false) },
			headers:  bearerHeaders,
			path:     "choices.0.message.content",
		},
		"perplexity": {
			endpoint: "https://api.perplexity.ai/chat/completions",
			keyEnv:   "PERPLEXITY_API_KEY",
			build:    func(model, prompt string) string { return chatBody(model, prompt, 4096, false) },
			headers:  bearerHeaders,
			path:     "choices.0.message.content",
		},
	}
	table["zhipu"] = table["zai"]

	return table
}

func bearerHeaders(key string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + key}
}

// Invoke sends prompt to the named platform and returns the trimmed answer
// text.
func (d *Dispatcher) Invoke(ctx context.Context, platform, model, prompt string) (string, error) {
	name := strings.ToLower(strings.TrimSpace(platform))
	p, ok := d.platforms[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownPlatform, platform)
	}

	key := os.Getenv(p.keyEnv)
	if key == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingAPIKey, p.keyEnv)
	}

	body := p.build(model, prompt)
	status, respBody, err := d.post(ctx, p, key, model, body)
	if err != nil {
		return "", err
	}

	if p.retryNoTemperature && temperatureUnsupported(respBody) {
		log.Warnf("platform %s rejected temperature for model %s, retrying without it", name, model)
		status, respBody, err = d.post(ctx, p, key, model, withoutTemperature(body))
		if err != nil {
			return "", err
		}
	}

	if status < 200 || status >= 300 {
		return "", fmt.Errorf("platform %s returned status %d: %s", name, status, strings.TrimSpace(string(respBody)))
	}

	text := gjson.GetBytes(respBody, p.path)
	if !text.Exists() {
		return "", fmt.Errorf("platform %s response missing %s: %s", name, p.path, strings.TrimSpace(string(respBody)))
	}

	return strings.TrimSpace(text.String()), nil
}

func (d *Dispatcher) post(ctx context.Context, p *Platform, key, model, body string) (int, []byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, p.url(model, key), []byte(body))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for name, value := range p.headers(key) {
		req.Header.Set(name, value)
	}

	res, err := d.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to call provider: %w", err)
	}
	defer res.Body.Close()

	respBody, err := io.ReadAll(res.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read provider response: %w", err)
	}

	return res.StatusCode, respBody, nil
}

// temperatureUnsupported matches the OpenAI error shape for models that only
// accept the default temperature.
func temperatureUnsupported(respBody []byte) bool {
	return gjson.GetBytes(respBody, "error.code").String() == "unsupported_value" &&
		gjson.GetBytes(respBody, "error.param").String() == "temperature"
}

// SetEndpointForTesting rewires one platform to a test server.
func (d *Dispatcher) SetEndpointForTesting(name, endpoint string) {
	if p, ok := d.platforms[name]; ok {
		p.endpoint = endpoint
	}
}
