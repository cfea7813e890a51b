// Copyright 2025 Poiesic Systems
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

// Package config holds the settings for a knowledge base.
//
// A Config is a plain struct handed to constructors; nothing reads it from
// globals. Load decodes a YAML or TOML file over the defaults, applies
// environment overrides and validates the result:
//
//	cfg, err := config.Load("lattice.yaml")
//	if err != nil {
//	    return err
//	}
//
// Recognized environment variables:
//   - LATTICE_DB_PATH overrides Storage.Path
//   - LATTICE_LLM_HOST overrides the host of every configured provider
//   - LATTICE_LLM_TOKEN overrides the token of every configured provider
//   - DATABASE_URL overrides Storage.PostgresURL
package config
