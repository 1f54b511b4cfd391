package resolver

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/openllm-network/oracled/oracle/log"
	"github.com/openllm-network/oracled/oracle/store"
	"github.com/openllm-network/oracled/oracle/types"
)

var (
	ErrConfigMissing    = errors.New("prompt config not in store")
	ErrConfigInvalid    = errors.New("prompt config malformed")
	ErrModelUnspecified = errors.New("platform or model unspecified")
)

const modelPrefix = "model: "

// Config is the parsed form of a stored prompt config: an optional
// "model: <platform>/<model>" first line followed by the prompt template.
type Config struct {
	Platform string
	Model    string
	Template string
}

// Resolved carries everything the provider dispatch needs for one request.
type Resolved struct {
	Platform string
	Model    string
	Prompt   string
}

// ParseConfig splits raw into platform/model and template. A first line that
// does not carry the model prefix makes the entire content the template; a
// malformed model line is ErrConfigInvalid.
func ParseConfig(raw []byte) (Config, error) {
	content := string(raw)

	head, rest, found := strings.Cut(content, "\n")
	first := strings.TrimSpace(head)
	if !strings.HasPrefix(first, modelPrefix) {
		return Config{Template: content}, nil
	}

	spec := strings.TrimSpace(strings.TrimPrefix(first, modelPrefix))
	platform, model, ok := strings.Cut(spec, "/")
	platform = strings.TrimSpace(platform)
	model = strings.TrimSpace(model)
	if !ok || platform == "" || model == "" {
		return Config{}, fmt.Errorf("%w: %q", ErrConfigInvalid, first)
	}

	var template string
	if found {
		template = rest
	}

	return Config{Platform: platform, Model: model, Template: template}, nil
}

// Resolve fetches the request's prompt config from the store, substitutes
// {{key}} placeholders from the request input (indirecting through the store
// when a value is a known content hash), and merges platform/model with the
// request fields, config first.
func Resolve(st *store.Store, req types.Request) (Resolved, error) {
	raw, err := st.Get(req.Prompt)
	if errors.Is(err, store.ErrNotFound) {
		return Resolved{}, fmt.Errorf("%w: %s", ErrConfigMissing, req.Prompt)
	}
	if err != nil {
		return Resolved{}, err
	}

	cfg, err := ParseConfig(raw)
	if err != nil {
		return Resolved{}, err
	}

	prompt := cfg.Template
	for key, value := range parseInput(req.Input) {
		if store.ValidHash(value) && st.Has(value) {
			blob, err := st.Get(value)
			if err != nil {
				return Resolved{}, err
			}
			value = string(blob)
		}

		pattern := regexp.MustCompile(`\{\{\s*` + regexp.QuoteMeta(key) + `\s*\}\}`)
		prompt = pattern.ReplaceAllLiteralString(prompt, value)
	}

	platform := cfg.Platform
	if platform == "" {
		platform = req.Platform
	}
	model := cfg.Model
	if model == "" {
		model = req.Model
	}
	if platform == "" || model == "" {
		return Resolved{}, ErrModelUnspecified
	}

	return Resolved{Platform: platform, Model: model, Prompt: prompt}, nil
}

// parseInput decodes the request's JSON input into substitution variables.
// Malformed input is logged and treated as empty rather than failing the
// request.
func parseInput(input string) map[string]string {
	if strings.TrimSpace(input) == "" {
		return nil
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(input), &decoded); err != nil {
		log.Warnf("failed to parse request input, substituting nothing: %v", err)
		return nil
	}

	vars := make(map[string]string, len(decoded))
	for key, value := range decoded {
		if s, ok := value.(string); ok {
			vars[key] = s
		} else {
			vars[key] = fmt.Sprint(value)
		}
	}

	return vars
}
