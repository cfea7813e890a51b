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

// Package search provides hybrid vector and graph retrieval.
//
// The Retriever runs two queries for every search:
//   - a vector similarity query against the chunk embedding collection
//   - a bounded-hop traversal of the concept graph, starting from the
//     concepts named in the query
//
// Vector hits keep their cosine similarity. Graph hits score the product of
// the edge strengths along the discovery path divided by the number of
// concepts on it, weighted by how prominently the chunk mentions the
// concept reached. The two lists are fused by chunk id and ranked
// deterministically.
package search
