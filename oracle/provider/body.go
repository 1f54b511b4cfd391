package provider

import (
	"github.com/tidwall/sjson"
)

// set applies one sjson write. Paths are static literals, so the only error
// sjson can report is an invalid path, which would be a programming mistake.
func set(body, path string, value any) string {
	out, err := sjson.Set(body, path, value)
	if err != nil {
		panic(err)
	}

	return out
}

// chatBody builds the OpenAI-compatible chat completion body shared by most
// platforms. maxTokens 0 omits the field; stream adds an explicit
// "stream": false.
func chatBody(model, prompt string, maxTokens int, stream bool) string {
	body := set("{}", "model", model)
	body = set(body, "messages.0.role", "user")
	body = set(body, "messages.0.content", prompt)
	body = set(body, "temperature", 0)
	if maxTokens > 0 {
		body = set(body, "max_tokens", maxTokens)
	}
	if stream {
		body = set(body, "stream", false)
	}

	return body
}

func anthropicBody(model, prompt string) string {
	body := set("{}", "model", model)
	body = set(body, "messages.0.role", "user")
	body = set(body, "messages.0.content", prompt)
	body = set(body, "temperature", 0)
	body = set(body, "max_tokens", 4096)

	return body
}

func geminiBody(_, prompt string) string {
	body := set("{}", "contents.0.parts.0.text", prompt)
	body = set(body, "generationConfig.temperature", 0)
	body = set(body, "generationConfig.maxOutputTokens", 4096)

	return body
}

func qwenBody(model, prompt string) string {
	body := set("{}", "model", model)
	body = set(body, "input.messages.0.role", "user")
	body = set(body, "input.messages.0.content", prompt)
	body = set(body, "parameters.temperature", 0)
	body = set(body, "parameters.max_tokens", 4096)

	return body
}

// withoutTemperature strips the top-level temperature field for the OpenAI
// retry path.
func withoutTemperature(body string) string {
	out, err := sjson.Delete(body, "temperature")
	if err != nil {
		panic(err)
	}

	return out
}
