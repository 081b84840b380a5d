package embeddings

import (
	"context"
	"image"
	"sync"
)

// Job is a single image to embed. Jobs with a non-empty Key share a cache slot.
type Job struct {
	Key   string
	Image image.Image
}

// Result is the outcome of one Job
type Result struct {
	Key       string
	Embedding []float32
	Error     error
}

type work struct {
	ctx    context.Context
	job    Job
	result chan<- indexedResult
	index  int
}

type indexedResult struct {
	index  int
	result Result
}

// Pool embeds images on a fixed set of workers and caches keyed results
type Pool struct {
	provider   Provider
	numWorkers int
	workQueue  chan work
	cache      sync.Map // key -> []float32
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

// NewPool creates a new embedding pool with the specified number of workers
func NewPool(provider Provider, numWorkers int) *Pool {
	if numWorkers <= 0 {
		numWorkers = 4
	}

	p := &Pool{
		provider:   provider,
		numWorkers: numWorkers,
		workQueue:  make(chan work, numWorkers*4),
	}
	p.startWorkers()
	return p
}

// startWorkers starts a pool of goroutines for generating embeddings
func (p *Pool) startWorkers() {
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for w := range p.workQueue {
				w.result <- indexedResult{index: w.index, result: p.embed(w.ctx, w.job)}
			}
		}()
	}
}

func (p *Pool) embed(ctx context.Context, job Job) Result {
	if err := ctx.Err(); err != nil {
		return Result{Key: job.Key, Error: err}
	}

	if job.Key != "" {
		if cached, ok := p.cache.Load(job.Key); ok {
			return Result{Key: job.Key, Embedding: cached.([]float32)}
		}
	}

	vec, err := EmbedImage(ctx, p.provider, job.Image)
	if err == nil && job.Key != "" {
		p.cache.Store(job.Key, vec)
	}
	return Result{Key: job.Key, Embedding: vec, Error: err}
}

// Embed runs all jobs and returns results index-aligned with jobs. A failing
// job only affects its own Result.
func (p *Pool) Embed(ctx context.Context, jobs []Job) []Result {
	results := make([]Result, len(jobs))
	if len(jobs) == 0 {
		return results
	}

	resultChan := make(chan indexedResult, len(jobs))

	go func() {
		for i, job := range jobs {
			w := work{ctx: ctx, job: job, result: resultChan, index: i}
			select {
			case p.workQueue <- w:
			case <-ctx.Done():
				resultChan <- indexedResult{index: i, result: Result{Key: job.Key, Error: ctx.Err()}}
			}
		}
	}()

	for range jobs {
		r := <-resultChan
		results[r.index] = r.result
	}
	return results
}

// Close shuts down the pool and waits for all workers to finish
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.workQueue)
	})
	p.wg.Wait()
}
