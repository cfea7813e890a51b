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

// Package ingestion turns documents into graph and vector records.
//
// The Pipeline adds one document at a time:
//   - Duplicate detection by fingerprint and title similarity
//   - Chunking and per-chunk embedding and concept extraction on worker pools
//   - Relationship building and store writes under a per-document lock
//
// The document record is written last, so a document is only visible as
// stored once all of its chunks, vectors, mentions and relationships are.
// A failed write removes what was written for the document.
//
// Loaders turn .txt, .md, .html, .pdf and .xlsx files into text, and
// FileSource lists and reads them from local or remote folders.
package ingestion
