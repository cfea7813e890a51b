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

// Package reembed rebuilds derived data for every stored document.
//
// A Reembedder writes fresh chunk embeddings into a vector collection,
// typically after the embedding model changes. A Rechunker re-splits all
// documents with new chunk settings. Both walk documents in ID order in
// batches, retry failed embedding calls with exponential backoff and report
// progress on a writer.
package reembed
