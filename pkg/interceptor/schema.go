// Copyright 2023 The emqx-go Authors
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

package interceptor

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

const registerSchemaJSON = `{
	"$id": "register",
	"type": "object",
	"required": ["serial", "mac"],
	"properties": {
		"serial": {"type": "string", "minLength": 1},
		"mac": {"type": "string", "minLength": 1},
		"device_type": {"type": "string"},
		"firmware_version": {"type": "string"},
		"hardware_version": {"type": "string"}
	}
}`

const healthSchemaJSON = `{
	"$id": "health",
	"type": "object",
	"required": ["serial", "mac", "timestamp"],
	"properties": {
		"serial": {"type": "string", "minLength": 1},
		"mac": {"type": "string", "minLength": 1},
		"timestamp": {"type": "string", "minLength": 1},
		"battery_level": {"type": "number"},
		"uptime": {"type": "number"}
	}
}`

// schemas holds the compiled register/health payload validators, built
// once at construction so a busy broker never recompiles a schema on the
// hot path.
type schemas struct {
	register *gojsonschema.Schema
	health   *gojsonschema.Schema
}

func newSchemas() (*schemas, error) {
	reg, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(registerSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("interceptor: compile register schema: %w", err)
	}
	health, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(healthSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("interceptor: compile health schema: %w", err)
	}
	return &schemas{register: reg, health: health}, nil
}

// validate runs payload (already parsed into a Go value) against schema
// and returns a single combined error describing every violation, or nil.
func validate(schema *gojsonschema.Schema, payload any) error {
	result, err := schema.Validate(gojsonschema.NewGoLoader(payload))
	if err != nil {
		return fmt.Errorf("interceptor: validate payload: %w", err)
	}
	if result.Valid() {
		return nil
	}
	msg := result.Errors()[0].String()
	for _, e := range result.Errors()[1:] {
		msg += "; " + e.String()
	}
	return fmt.Errorf("interceptor: payload invalid: %s", msg)
}
