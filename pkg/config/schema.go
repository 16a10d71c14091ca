// Copyright 2025 Kadir Pekel
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

package config

import (
	"github.com/invopop/jsonschema"
)

// Schema returns the JSON Schema of the configuration document.
func Schema() *jsonschema.Schema {
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	schema := reflector.Reflect(&Config{})
	schema.ID = "https://github.com/kadirpekel/sprout/schemas/config.json"
	schema.Title = "Sprout Configuration Schema"
	schema.Description = "Usage ceilings, ledger, session limits and provider adapters of the Sprout shopping assistant"
	schema.Version = "http://json-schema.org/draft-07/schema#"

	schema.Examples = []any{
		map[string]any{
			"quotas": map[string]any{
				"time_zone": "Europe/Amsterdam",
				"text_generation": map[string]any{
					"daily":   DefaultDailyTokenCeiling,
					"monthly": DefaultMonthlyTokenCeiling,
				},
				"web_search": map[string]any{
					"daily":   DefaultDailySearchCeiling,
					"monthly": DefaultMonthlySearchCeiling,
				},
			},
			"ledger": map[string]any{
				"backend":  "sql",
				"database": "main",
			},
			"databases": map[string]any{
				"main": map[string]any{
					"driver":   "sqlite",
					"database": ".sprout/sprout.db",
				},
			},
		},
	}

	return schema
}
