// Command offer-import loads gzipped NDJSON offer exports into the offers
// table. Every line goes through the same decoder the service prices with,
// so rows the service would skip are rejected here instead.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	pgzip "github.com/klauspost/pgzip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront-fulfillment/internal/domain/offer"
	"github.com/xenking/storefront-fulfillment/internal/storage/postgres"
)

const (
	bloomCapacity = 10_000_000
	bloomFPR      = 0.001
	progressEvery = 100_000
	maxLineSize   = 1 << 20
)

// offerStore is the part of the offer repository the importer writes through.
type offerStore interface {
	UpsertBatch(ctx context.Context, records []offer.Record, batch string) error
	InBatch(ctx context.Context, id, batch string) (bool, error)
}

// stats counts what happened to every line of the run.
type stats struct {
	read      atomic.Int64
	invalid   atomic.Int64
	duplicate atomic.Int64
	written   atomic.Int64
}

func main() {
	var (
		databaseURL string
		batchSize   int
	)
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&batchSize, "batch-size", 500, "offers upserted per round trip")
	flag.Usage = func() {
		_, _ = fmt.Fprintf(flag.CommandLine.Output(), "usage: offer-import [flags] offers1.ndjson.gz [offers2.ndjson.gz ...]\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("database URL is required: set --database-url or DATABASE_URL")
	}
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		lg.Fatal("Connect to database", zap.Error(err))
	}
	defer pool.Close()

	imp := &importer{
		store:     postgres.NewOfferRepository(pool),
		batch:     uuid.NewString(),
		batchSize: batchSize,
		lg:        lg,
	}
	if err := imp.Run(ctx, flag.Args()); err != nil {
		lg.Error("Offer import failed", zap.Error(err))
		os.Exit(1)
	}
}

type importer struct {
	store     offerStore
	batch     string
	batchSize int
	lg        *zap.Logger

	stats stats
}

// Run streams every file concurrently into a single writer.
func (imp *importer) Run(ctx context.Context, files []string) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return errors.Wrapf(err, "check file %s", f)
		}
	}
	if imp.batchSize <= 0 {
		imp.batchSize = 500
	}
	imp.lg.Info("Importing offers",
		zap.Strings("files", files),
		zap.String("batch", imp.batch),
	)

	records := make(chan offer.Record, imp.batchSize)
	g, gctx := errgroup.WithContext(ctx)

	producers, pctx := errgroup.WithContext(gctx)
	for _, f := range files {
		producers.Go(func() error {
			return imp.readFile(pctx, f, records)
		})
	}
	g.Go(func() error {
		defer close(records)
		return producers.Wait()
	})
	g.Go(func() error {
		return imp.write(gctx, records)
	})
	if err := g.Wait(); err != nil {
		return err
	}

	imp.lg.Info("Offer import complete",
		zap.Int64("read", imp.stats.read.Load()),
		zap.Int64("invalid", imp.stats.invalid.Load()),
		zap.Int64("duplicate", imp.stats.duplicate.Load()),
		zap.Int64("written", imp.stats.written.Load()),
	)
	return nil
}

// readFile decodes and validates each line of a gzipped NDJSON export.
func (imp *importer) readFile(ctx context.Context, path string, out chan<- offer.Record) error {
	lg := imp.lg.With(zap.String("file", path))
	var line int64

	err := streamGzFile(ctx, path, func(data []byte) error {
		line++
		if len(data) == 0 {
			return nil
		}
		if n := imp.stats.read.Add(1); n%progressEvery == 0 {
			lg.Info("Read progress", zap.Int64("lines", n))
		}

		rec, err := offer.DecodeRecord(data)
		if err == nil {
			_, err = offer.Decode(rec)
		}
		if err != nil {
			imp.stats.invalid.Add(1)
			lg.Warn("Skipping invalid offer", zap.Int64("line", line), zap.Error(err))
			return nil
		}

		select {
		case out <- rec:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if err != nil {
		return errors.Wrapf(err, "read %s", path)
	}
	lg.Info("File complete", zap.Int64("lines", line))
	return nil
}

// write upserts records in batches. The first record seen for an id wins;
// bloom filter hits are confirmed against the pending batch and the rows this
// run already wrote.
func (imp *importer) write(ctx context.Context, in <-chan offer.Record) error {
	var (
		seen    = bloom.NewWithEstimates(bloomCapacity, bloomFPR)
		pending = make([]offer.Record, 0, imp.batchSize)
		queued  = make(map[string]struct{}, imp.batchSize)
	)
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		if err := imp.store.UpsertBatch(ctx, pending, imp.batch); err != nil {
			return err
		}
		imp.stats.written.Add(int64(len(pending)))
		pending = pending[:0]
		clear(queued)
		return nil
	}

	for rec := range in {
		if seen.TestString(rec.ID) {
			dup, err := imp.alreadyImported(ctx, rec.ID, queued)
			if err != nil {
				return err
			}
			if dup {
				imp.stats.duplicate.Add(1)
				continue
			}
		}
		seen.AddString(rec.ID)
		pending = append(pending, rec)
		queued[rec.ID] = struct{}{}

		if len(pending) >= imp.batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

func (imp *importer) alreadyImported(ctx context.Context, id string, queued map[string]struct{}) (bool, error) {
	if _, ok := queued[id]; ok {
		return true, nil
	}
	return imp.store.InBatch(ctx, id, imp.batch)
}

// streamGzFile opens a gzip-compressed file and calls fn for each line.
func streamGzFile(ctx context.Context, path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(scanner.Bytes()); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}
