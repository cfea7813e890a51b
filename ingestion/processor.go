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

package ingestion

import (
	"context"
	"errors"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/lattice/core"
	"github.com/poiesic/lattice/extraction"
)

// documentWork is the in-flight state of one document while its chunks are
// enriched.
type documentWork struct {
	doc       *core.Document
	chunks    []*core.Chunk
	extracted []*extraction.Result // Parallel to chunks
}

// processor enriches the chunks of a document.
// Implementations handle one task like embeddings or concept extraction.
type processor interface {
	process(ctx context.Context, work *documentWork) error
}

// runTasks runs tasks on pool and waits for all of them. The first failure
// cancels the context passed to the remaining tasks.
func runTasks(ctx context.Context, pool *ants.Pool, tasks []func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	fail := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
		cancel()
	}

	for _, task := range tasks {
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			if err := task(ctx); err != nil {
				fail(err)
			}
		})
		if err != nil {
			wg.Done()
			fail(err)
			break
		}
	}
	wg.Wait()
	return errors.Join(errs...)
}
