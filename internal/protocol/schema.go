package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	vjsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

// inboundSchemas maps each client->daemon frame Type to its compiled JSON
// Schema, generated once per process on first validation from the Go
// structs via
// invopop/jsonschema and compiled for validation via
// santhosh-tekuri/jsonschema/v5 — the same generate+validate pairing the
// teacher uses for its own config documents (config/schema.go +
// schema/validator.go), applied here to wire frames instead.
var (
	once           sync.Once
	inboundSchemas map[Type]*vjsonschema.Schema
	buildErr       error
)

var inboundSamples = map[Type]interface{}{
	TypeRegisterClient: RegisterClient{},
	TypeChatRequest:    ChatRequest{},
	TypeSetModel:       SetModel{},
	TypeNewSession:     NewSession{},
	TypePing:           Ping{},
	TypeGetConfig:      GetConfig{},
}

func buildSchemas() {
	reflector := &jsonschema.Reflector{ExpandedStruct: true}
	inboundSchemas = make(map[Type]*vjsonschema.Schema, len(inboundSamples))

	for t, sample := range inboundSamples {
		s := reflector.Reflect(sample)
		data, err := json.Marshal(s)
		if err != nil {
			buildErr = fmt.Errorf("marshal schema for %s: %w", t, err)
			return
		}

		resourceName := string(t) + ".schema.json"
		compiler := vjsonschema.NewCompiler()
		if err := compiler.AddResource(resourceName, strings.NewReader(string(data))); err != nil {
			buildErr = fmt.Errorf("add schema resource for %s: %w", t, err)
			return
		}
		compiled, err := compiler.Compile(resourceName)
		if err != nil {
			buildErr = fmt.Errorf("compile schema for %s: %w", t, err)
			return
		}
		inboundSchemas[t] = compiled
	}
}

// ValidateInbound checks a raw decoded frame value (as produced by
// json.Unmarshal into interface{}) against the generated schema for t. An
// unrecognized Type is itself a protocol error, surfaced by the caller.
func ValidateInbound(t Type, raw interface{}) error {
	once.Do(buildSchemas)
	if buildErr != nil {
		return buildErr
	}

	schema, ok := inboundSchemas[t]
	if !ok {
		return fmt.Errorf("unknown frame type %q", t)
	}
	if err := schema.Validate(raw); err != nil {
		if verr, ok := err.(*vjsonschema.ValidationError); ok {
			var messages []string
			collectErrors(verr, &messages)
			return fmt.Errorf("frame validation failed:\n%s", strings.Join(messages, "\n"))
		}
		return fmt.Errorf("frame validation failed: %w", err)
	}
	return nil
}

func collectErrors(err *vjsonschema.ValidationError, messages *[]string) {
	if err.InstanceLocation != "" {
		*messages = append(*messages, fmt.Sprintf("- %s: %s", err.InstanceLocation, err.Message))
	}
	for _, cause := range err.Causes {
		collectErrors(cause, messages)
	}
}
