package registry

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/invopop/jsonschema"

	"github.com/open-autonomy/kernel/internal/kmodel"
)

// SynthesizeContract builds a ToolContract from a ToolDescriptor (spec
// §4.1): the descriptor's declared parameters become a generated JSON
// Schema document via invopop/jsonschema, and the descriptor's
// HandlerType determines the derived risk class.
func SynthesizeContract(desc kmodel.ToolDescriptor) (kmodel.ToolContract, error) {
	if desc.Name == "" {
		return kmodel.ToolContract{}, fmt.Errorf("registry: descriptor name is required")
	}

	schemaDoc, err := buildParamsSchema(desc.Parameters)
	if err != nil {
		return kmodel.ToolContract{}, fmt.Errorf("registry: build params schema: %w", err)
	}

	risk, approvalRequired := desc.HandlerType.DerivedRisk()
	timeout := desc.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	contract := kmodel.ToolContract{
		Name:             desc.Name,
		Version:          "synthesized",
		Description:      desc.Description,
		RiskClass:        risk,
		ParamsSchema:      schemaDoc,
		ApprovalRequired: approvalRequired,
		Timeout:          timeout,
		Tags:             []string{"synthesized", string(desc.HandlerType)},
	}
	if issues := contract.Validate(); len(issues) > 0 {
		return kmodel.ToolContract{}, fmt.Errorf("registry: synthesized contract invalid: %v", issues)
	}
	return contract, nil
}

// buildParamsSchema turns a flat DescriptorParam list into a JSON Schema
// object document using invopop/jsonschema's reflector against a
// dynamically-shaped struct is unnecessary here — descriptors are
// data-driven, not Go types — so the object schema is assembled directly
// from the jsonschema.Schema value type the library exposes, keeping the
// same dependency the rest of the kernel uses for struct-derived schemas
// (see DescriptorParam's own jsonschema struct tags).
func buildParamsSchema(params []kmodel.DescriptorParam) ([]byte, error) {
	root := &jsonschema.Schema{
		Type:                 "object",
		Properties:           jsonschema.NewProperties(),
		AdditionalProperties: jsonschema.FalseSchema,
	}
	var required []string
	for _, p := range params {
		prop := &jsonschema.Schema{
			Type:        p.Type,
			Description: p.Description,
		}
		root.Properties.Set(p.Name, prop)
		if p.Required {
			required = append(required, p.Name)
		}
	}
	root.Required = required

	return json.Marshal(root)
}
