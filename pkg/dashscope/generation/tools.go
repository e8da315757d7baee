// Copyright 2026 The dashscope-go Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package generation

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// Tool declares a tool the model may call. Only "function" tools carry a
// payload today.
type Tool struct {
	Type     string        `json:"type"`
	Function *FunctionTool `json:"function,omitempty"`
}

// FunctionTool defines a callable function; Parameters is a JSON Schema.
type FunctionTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// NewFunctionTool wraps a function declaration into a Tool.
func NewFunctionTool(name, description string, parameters map[string]any) Tool {
	return Tool{
		Type: "function",
		Function: &FunctionTool{
			Name:        name,
			Description: description,
			Parameters:  parameters,
		},
	}
}

// CompileParameters parses and resolves Parameters as a JSON Schema. It
// returns (nil, nil) when the tool declares no parameters.
func (f FunctionTool) CompileParameters() (*jsonschema.Resolved, error) {
	if len(f.Parameters) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(f.Parameters)
	if err != nil {
		return nil, fmt.Errorf("generation: encode parameters schema: %w", err)
	}
	var s jsonschema.Schema
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("generation: parse parameters schema: %w", err)
	}
	return s.Resolve(&jsonschema.ResolveOptions{ValidateDefaults: true})
}

// ValidateArguments checks a tool-call arguments payload against the
// declared parameter schema. Tools without a schema accept anything.
func (f FunctionTool) ValidateArguments(args json.RawMessage) error {
	resolved, err := f.CompileParameters()
	if err != nil {
		return err
	}
	if resolved == nil {
		return nil
	}
	var v any
	dec := json.NewDecoder(bytes.NewReader(args))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("generation: parse arguments: %w", err)
	}
	return resolved.Validate(v)
}
