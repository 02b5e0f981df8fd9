// Package stream moves large attachments through encryption without
// unbounded memory use. Content is split into fixed-size chunks, each
// sealed independently under a per-file key, so encryption overlaps with
// blob-store I/O on upload and partial fetches stay possible on download.
package stream

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jmcleod/inkwell/crypto"
	"github.com/jmcleod/inkwell/internal/util"
	"github.com/jmcleod/inkwell/storage"
)

// DefaultChunkSize is the plaintext size of each chunk.
const DefaultChunkSize = 1 << 20 // 1 MiB

// ProgressFunc receives a monotonically increasing chunksProcessed after
// each chunk. totalChunks is 0 while still unknown (during upload, before
// the source is fully read). Advisory only; never gates correctness.
type ProgressFunc func(chunksProcessed, totalChunks int)

// Pipeline drives chunked encrypt/upload and download/decrypt against a
// blob store.
type Pipeline struct {
	store       storage.BlobStore
	chunkSize   int
	concurrency int
	progress    ProgressFunc
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithChunkSize overrides the plaintext chunk size.
func WithChunkSize(size int) Option {
	return func(p *Pipeline) {
		p.chunkSize = size
	}
}

// WithConcurrency sets how many chunks are encrypted and transferred in
// flight at once.
func WithConcurrency(n int) Option {
	return func(p *Pipeline) {
		p.concurrency = n
	}
}

// WithProgress registers a progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(p *Pipeline) {
		p.progress = fn
	}
}

// New creates a Pipeline over the given blob store.
func New(store storage.BlobStore, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:       store,
		chunkSize:   DefaultChunkSize,
		concurrency: 4,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.chunkSize <= 0 {
		p.chunkSize = DefaultChunkSize
	}
	if p.concurrency <= 0 {
		p.concurrency = 1
	}
	return p
}

type uploadJob struct {
	index uint64
	plain []byte
}

// storeAttempts bounds per-chunk retries against the blob store. Locators
// are idempotent, so a put retried after an ambiguous failure is safe.
const storeAttempts = 3

func (p *Pipeline) putChunk(ctx context.Context, locator string, blob []byte) error {
	var err error
	for attempt := 0; attempt < storeAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err = p.store.PutChunk(ctx, locator, blob); err == nil {
			return nil
		}
	}
	return err
}

func (p *Pipeline) getChunk(ctx context.Context, locator string) ([]byte, error) {
	var err error
	for attempt := 0; attempt < storeAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var blob []byte
		if blob, err = p.store.GetChunk(ctx, locator); err == nil {
			return blob, nil
		}
		if errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
	}
	return nil, err
}

// Upload reads src in chunkSize slices, seals each with a fresh nonce, and
// stores the blobs under uuid locators. Reads, encryption, and puts are
// pipelined: the first chunk is in flight before the source is fully read.
// The manifest is returned only after every chunk is durably stored; on
// error or cancellation nothing is recorded, so metadata never references
// a partially written chunk.
func (p *Pipeline) Upload(ctx context.Context, fileID string, src io.Reader, fileKey []byte) (*Manifest, error) {
	if fileID == "" {
		return nil, fmt.Errorf("file ID must not be empty")
	}

	g, ctx := errgroup.WithContext(ctx)
	jobs := make(chan uploadJob, p.concurrency)

	var (
		mu        sync.Mutex
		chunks    []Chunk
		processed int
		size      int64
	)
	var total atomic.Int64
	sum := crypto.NewChecksum()

	// Producer: sequential reads, hashing as it goes.
	g.Go(func() error {
		defer close(jobs)
		var index uint64
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			buf := make([]byte, p.chunkSize)
			n, err := io.ReadFull(src, buf)
			if n > 0 {
				sum.Write(buf[:n])
				size += int64(n)
				select {
				case jobs <- uploadJob{index: index, plain: buf[:n]}:
				case <-ctx.Done():
					return ctx.Err()
				}
				index++
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				total.Store(int64(index))
				return nil
			}
			if err != nil {
				return fmt.Errorf("reading source: %w", err)
			}
		}
	})

	// Consumers: encrypt and store concurrently.
	for i := 0; i < p.concurrency; i++ {
		g.Go(func() error {
			for job := range jobs {
				blob, err := EncryptChunk(fileID, job.index, fileKey, job.plain)
				util.WipeBytes(job.plain)
				if err != nil {
					return err
				}
				locator := uuid.NewString()
				if err := p.putChunk(ctx, locator, blob); err != nil {
					return fmt.Errorf("storing chunk %d: %w", job.index, err)
				}

				mu.Lock()
				chunks = append(chunks, Chunk{
					Index:     job.index,
					Locator:   locator,
					PlainSize: len(job.plain),
				})
				processed++
				// Emitted under the lock so observers see a strictly
				// increasing count even with concurrent consumers.
				if p.progress != nil {
					p.progress(processed, int(total.Load()))
				}
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Index < chunks[j].Index })

	return &Manifest{
		FileID:   fileID,
		Chunks:   chunks,
		Checksum: sum.Sum(nil),
		Size:     size,
	}, nil
}

// Download fetches and decrypts every chunk in index order, verifying each
// chunk's tag before reassembly and the whole-file checksum after, which
// catches any successfully-decrypted-but-misordered reassembly. Output is
// written to dst; on any error the written prefix must be discarded.
func (p *Pipeline) Download(ctx context.Context, manifest *Manifest, fileKey []byte, dst io.Writer) error {
	if manifest == nil {
		return fmt.Errorf("manifest must not be nil")
	}
	for i, c := range manifest.Chunks {
		if c.Index != uint64(i) {
			return fmt.Errorf("manifest chunk %d has index %d: %w", i, c.Index, crypto.ErrIntegrity)
		}
	}

	sum := crypto.NewChecksum()
	var written int64
	total := len(manifest.Chunks)

	for i, c := range manifest.Chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		plain, err := p.FetchChunk(ctx, manifest, uint64(i), fileKey)
		if err != nil {
			return err
		}
		sum.Write(plain)
		n, err := dst.Write(plain)
		written += int64(n)
		util.WipeBytes(plain)
		if err != nil {
			return fmt.Errorf("writing chunk %d: %w", c.Index, err)
		}
		if p.progress != nil {
			p.progress(i+1, total)
		}
	}

	if written != manifest.Size {
		return fmt.Errorf("reassembled %d bytes, manifest declares %d: %w", written, manifest.Size, crypto.ErrIntegrity)
	}
	if subtle.ConstantTimeCompare(sum.Sum(nil), manifest.Checksum) != 1 {
		return fmt.Errorf("whole-file checksum mismatch: %w", crypto.ErrIntegrity)
	}
	return nil
}

// FetchChunk retrieves and decrypts a single chunk by index, independent of
// all others. Used for partial and resumable downloads.
func (p *Pipeline) FetchChunk(ctx context.Context, manifest *Manifest, index uint64, fileKey []byte) ([]byte, error) {
	if manifest == nil {
		return nil, fmt.Errorf("manifest must not be nil")
	}
	if index >= uint64(len(manifest.Chunks)) {
		return nil, fmt.Errorf("chunk index %d out of range", index)
	}
	c := manifest.Chunks[index]

	blob, err := p.getChunk(ctx, c.Locator)
	if err != nil {
		return nil, fmt.Errorf("fetching chunk %d: %w", c.Index, err)
	}
	plain, err := DecryptChunk(manifest.FileID, c.Index, fileKey, blob)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", crypto.ErrIntegrity, err)
	}
	if len(plain) != c.PlainSize {
		return nil, fmt.Errorf("chunk %d decrypted to %d bytes, manifest declares %d: %w",
			c.Index, len(plain), c.PlainSize, crypto.ErrIntegrity)
	}
	return plain, nil
}
