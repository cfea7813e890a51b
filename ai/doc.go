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

// Package ai provides the abstractions for the language-model backends used
// by lattice.
//
// A Provider offers text generation, embeddings, or both, declared through
// its Capabilities. Concept extraction and relationship scoring depend on
// Generator; the ingestion pipeline and the retriever depend on Embedder.
// None of them talk to a concrete backend directly.
//
// # Implementation Packages
//
//   - ai/openai: OpenAI-compatible HTTP APIs through langchaingo
//   - ai/ollama: the native Ollama API through langchaingo
//   - ai/mock: deterministic providers for tests
//   - ai/manager: ranked fallback across several providers
//
// # Errors
//
// Provider failures are classified by Classify into transient (timeouts,
// rate limits, unreachable servers) and permanent (authentication, unknown
// model) ProviderErrors. The manager retries transient failures with
// RetryWithBackoff and moves straight to the next provider on permanent ones.
package ai
