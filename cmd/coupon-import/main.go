package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"math/bits"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/shopfront/internal/domain/coupon"
	"github.com/xenking/shopfront/internal/storage/postgres"
)

const (
	bloomCapacity = 1_000_000
	bloomFPR      = 0.001
	progressEvery = 100_000
	maxFiles      = 64
)

// lineError points at a malformed definition.
type lineError struct {
	File string
	Line int
	Err  error
}

func (e *lineError) Error() string {
	return e.File + ":" + strconv.Itoa(e.Line) + ": " + e.Err.Error()
}

func (e *lineError) Unwrap() error { return e.Err }

func main() {
	var (
		dataDir     string
		databaseURL string
		validDays   int
		dryRun      bool
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing *.csv.gz coupon files")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&validDays, "valid-days", 365, "validity window of imported coupons, starting now")
	flag.BoolVar(&dryRun, "dry-run", false, "parse and report conflicts without writing")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" && !dryRun {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	now := time.Now().UTC()
	window := validity{from: now, until: now.AddDate(0, 0, validDays)}
	if err := run(ctx, dataDir, databaseURL, window, dryRun); err != nil {
		slog.Error("coupon import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon import completed successfully")
}

type validity struct {
	from, until time.Time
}

func run(ctx context.Context, dataDir, databaseURL string, window validity, dryRun bool) error {
	files, err := filepath.Glob(filepath.Join(dataDir, "*.csv.gz"))
	if err != nil {
		return errors.Wrap(err, "list coupon files")
	}
	if len(files) == 0 {
		return errors.Errorf("no *.csv.gz files in %s", dataDir)
	}
	if len(files) > maxFiles {
		return errors.Errorf("too many files: %d > %d", len(files), maxFiles)
	}
	sort.Strings(files)

	// Pass 1: validate every line and build one bloom filter per file.
	slog.Info("pass 1: validating definitions", slog.Int("files", len(files)))

	filters, err := buildBloomFilters(ctx, files, window)
	if err != nil {
		return errors.Wrap(err, "build bloom filters")
	}

	// Pass 2: codes defined in more than one file are conflicts.
	slog.Info("pass 2: finding conflicting codes")

	conflicts, err := findConflicts(ctx, files, filters)
	if err != nil {
		return errors.Wrap(err, "find conflicts")
	}
	for _, code := range sortedKeys(conflicts) {
		slog.Warn("skipping coupon defined in several files",
			slog.String("code", code),
			slog.Any("files", filesOf(files, conflicts[code])),
		)
	}

	if dryRun {
		slog.Info("dry run, nothing written", slog.Int("conflicts", len(conflicts)))
		return nil
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	// Pass 3: upsert everything that is not in conflict.
	repo := postgres.NewCouponRepository(pool)
	return writeCoupons(ctx, files, window, conflicts, repo)
}

// buildBloomFilters creates one bloom filter per file, concurrently.
func buildBloomFilters(ctx context.Context, files []string, window validity) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
			var count int
			if err := streamDefinitions(ctx, f, window, func(c *coupon.Coupon) error {
				filter.AddString(c.Code)
				count++
				if count%progressEvery == 0 {
					slog.Info("pass 1 progress", slog.String("file", f), slog.Int("codes", count))
				}
				return nil
			}); err != nil {
				return err
			}
			slog.Info("pass 1 complete", slog.String("file", f), slog.Int("total_codes", count))
			filters[i] = filter
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

// findConflicts re-streams each file and checks codes against the other
// files' filters. A code seen by two or more files sets two or more bits in
// its mask, so bloom false positives (which only set the scanning file's bit)
// never count as conflicts.
func findConflicts(ctx context.Context, files []string, filters []*bloom.BloomFilter) (map[string]uint64, error) {
	results := make([]map[string]uint64, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(func() error {
			candidates := make(map[string]uint64)
			fileBit := uint64(1) << uint(i)
			err := streamDefinitions(ctx, f, validity{}, func(c *coupon.Coupon) error {
				for j, other := range filters {
					if j != i && other.TestString(c.Code) {
						candidates[c.Code] |= fileBit
						break
					}
				}
				return nil
			})
			if err != nil {
				return err
			}
			results[i] = candidates
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return mergeCandidates(results), nil
}

func mergeCandidates(results []map[string]uint64) map[string]uint64 {
	merged := make(map[string]uint64)
	for _, r := range results {
		for code, mask := range r {
			merged[code] |= mask
		}
	}
	for code, mask := range merged {
		if bits.OnesCount64(mask) < 2 {
			delete(merged, code)
		}
	}
	return merged
}

// writeCoupons upserts the definitions of all files, skipping conflicts.
// Later lines of the same file replace earlier ones.
func writeCoupons(
	ctx context.Context,
	files []string,
	window validity,
	conflicts map[string]uint64,
	repo coupon.Repository,
) error {
	var written, skipped int
	for _, f := range files {
		err := streamDefinitions(ctx, f, window, func(c *coupon.Coupon) error {
			if _, ok := conflicts[c.Code]; ok {
				skipped++
				return nil
			}
			if err := repo.Upsert(ctx, c); err != nil {
				return errors.Wrapf(err, "upsert coupon %s", c.Code)
			}
			written++
			if written%progressEvery == 0 {
				slog.Info("write progress", slog.Int("written", written))
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	slog.Info("coupons written", slog.Int("written", written), slog.Int("skipped", skipped))
	return nil
}

// streamDefinitions opens a gzip-compressed CSV file and calls fn for each
// coupon definition. Blank lines, comments and the header are skipped.
func streamDefinitions(ctx context.Context, path string, window validity, fn func(c *coupon.Coupon) error) error {
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
	var line int
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line++
		c, ok, err := parseLine(scanner.Text(), window)
		if err != nil {
			return &lineError{File: path, Line: line, Err: err}
		}
		if !ok {
			continue
		}
		if err := fn(c); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}

// parseLine parses "CODE,TYPE,VALUE,MIN_PURCHASE,USAGE_LIMIT". MIN_PURCHASE
// and USAGE_LIMIT may be empty. ok is false for lines that carry no
// definition.
func parseLine(text string, window validity) (c *coupon.Coupon, ok bool, err error) {
	text = strings.TrimSpace(text)
	if text == "" || strings.HasPrefix(text, "#") {
		return nil, false, nil
	}
	fields := strings.Split(text, ",")
	if len(fields) != 5 {
		return nil, false, errors.Errorf("expected 5 fields, got %d", len(fields))
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	if strings.EqualFold(fields[0], "CODE") {
		return nil, false, nil
	}

	code := coupon.NormalizeCode(fields[0])
	if code == "" {
		return nil, false, errors.New("empty code")
	}
	discountType, err := coupon.ParseDiscountType(strings.ToLower(fields[1]))
	if err != nil {
		return nil, false, err
	}
	value, err := decimal.NewFromString(fields[2])
	if err != nil {
		return nil, false, errors.Wrap(err, "value")
	}
	if !value.IsPositive() {
		return nil, false, errors.Errorf("value must be positive, got %s", value)
	}
	if discountType == coupon.DiscountPercentage && value.GreaterThan(decimal.NewFromInt(100)) {
		return nil, false, errors.Errorf("percentage %s exceeds 100", value)
	}

	minPurchase := decimal.Zero
	if fields[3] != "" {
		if minPurchase, err = decimal.NewFromString(fields[3]); err != nil {
			return nil, false, errors.Wrap(err, "minimum purchase")
		}
		if minPurchase.IsNegative() {
			return nil, false, errors.Errorf("minimum purchase must not be negative, got %s", minPurchase)
		}
	}

	var limit *int
	if fields[4] != "" {
		n, err := strconv.Atoi(fields[4])
		if err != nil || n < 0 {
			return nil, false, errors.Errorf("invalid usage limit %q", fields[4])
		}
		limit = &n
	}

	return &coupon.Coupon{
		Code:                  code,
		DiscountType:          discountType,
		DiscountValue:         value,
		MinimumPurchaseAmount: minPurchase,
		ValidFrom:             window.from,
		ValidUntil:            window.until,
		IsActive:              true,
		UsageLimitTotal:       limit,
	}, true, nil
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func filesOf(files []string, mask uint64) []string {
	var out []string
	for i, f := range files {
		if mask&(uint64(1)<<uint(i)) != 0 {
			out = append(out, filepath.Base(f))
		}
	}
	return out
}
