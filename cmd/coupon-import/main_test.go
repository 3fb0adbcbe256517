package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/shopfront/internal/domain/coupon"
)

// --- Mock implementations ---

type memRepo struct {
	coupons map[string]*coupon.Coupon
}

func (r *memRepo) FindByCode(_ context.Context, code string) (*coupon.Coupon, error) {
	c, ok := r.coupons[code]
	if !ok {
		return nil, coupon.ErrCouponNotFound
	}
	return c, nil
}

func (r *memRepo) Upsert(_ context.Context, c *coupon.Coupon) error {
	r.coupons[c.Code] = c
	return nil
}

// --- Helpers ---

func writeGz(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := pgzip.NewWriter(f)
	_, err = gz.Write([]byte(strings.Join(lines, "\n") + "\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
	return path
}

var testWindow = validity{
	from:  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	until: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
}

// --- Tests ---

func TestParseLine(t *testing.T) {
	ten := 10

	tests := []struct {
		name    string
		line    string
		want    *coupon.Coupon
		skip    bool
		wantErr bool
	}{
		{name: "blank", line: "   ", skip: true},
		{name: "comment", line: "# seasonal codes", skip: true},
		{name: "header", line: "CODE,TYPE,VALUE,MIN_PURCHASE,USAGE_LIMIT", skip: true},
		{
			name: "percentage",
			line: " summer15 , percentage, 15, , ",
			want: &coupon.Coupon{
				Code:                  "SUMMER15",
				DiscountType:          coupon.DiscountPercentage,
				DiscountValue:         decimal.NewFromInt(15),
				MinimumPurchaseAmount: decimal.Zero,
			},
		},
		{
			name: "fixed with limits",
			line: "SAVE30,FIXED_AMOUNT,30.00,150,10",
			want: &coupon.Coupon{
				Code:                  "SAVE30",
				DiscountType:          coupon.DiscountFixedAmount,
				DiscountValue:         decimal.RequireFromString("30.00"),
				MinimumPurchaseAmount: decimal.NewFromInt(150),
				UsageLimitTotal:       &ten,
			},
		},
		{name: "too few fields", line: "A,percentage,10", wantErr: true},
		{name: "empty code", line: ",percentage,10,,", wantErr: true},
		{name: "unknown type", line: "A,bogo,10,,", wantErr: true},
		{name: "bad value", line: "A,percentage,ten,,", wantErr: true},
		{name: "zero value", line: "A,fixed_amount,0,,", wantErr: true},
		{name: "percentage over 100", line: "A,percentage,101,,", wantErr: true},
		{name: "negative minimum", line: "A,percentage,10,-1,", wantErr: true},
		{name: "negative limit", line: "A,percentage,10,,-3", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, ok, err := parseLine(tt.line, testWindow)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.skip {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			assert.Equal(t, tt.want.Code, c.Code)
			assert.Equal(t, tt.want.DiscountType, c.DiscountType)
			assert.True(t, tt.want.DiscountValue.Equal(c.DiscountValue))
			assert.True(t, tt.want.MinimumPurchaseAmount.Equal(c.MinimumPurchaseAmount))
			assert.Equal(t, tt.want.UsageLimitTotal, c.UsageLimitTotal)
			assert.True(t, c.IsActive)
			assert.Equal(t, testWindow.from, c.ValidFrom)
			assert.Equal(t, testWindow.until, c.ValidUntil)
		})
	}
}

func TestMergeCandidates(t *testing.T) {
	merged := mergeCandidates([]map[string]uint64{
		{"BOTH": 1 << 0, "FALSEPOS": 1 << 0},
		{"BOTH": 1 << 1},
		{"THREE": 1 << 2},
	})
	assert.Equal(t, map[string]uint64{"BOTH": 0b11}, merged)
}

func TestImport(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	files := []string{
		writeGz(t, dir, "a.csv.gz",
			"CODE,TYPE,VALUE,MIN_PURCHASE,USAGE_LIMIT",
			"ONLYA,percentage,10,,",
			"SHARED,percentage,20,,",
			"REPEAT,percentage,5,,",
			"REPEAT,percentage,7,,",
		),
		writeGz(t, dir, "b.csv.gz",
			"ONLYB,fixed_amount,3,20,100",
			"shared,fixed_amount,9,,",
		),
	}

	filters, err := buildBloomFilters(ctx, files, testWindow)
	require.NoError(t, err)
	require.Len(t, filters, 2)

	conflicts, err := findConflicts(ctx, files, filters)
	require.NoError(t, err)
	assert.Equal(t, []string{"SHARED"}, sortedKeys(conflicts))
	assert.Equal(t, []string{"a.csv.gz", "b.csv.gz"}, filesOf(files, conflicts["SHARED"]))

	repo := &memRepo{coupons: map[string]*coupon.Coupon{}}
	require.NoError(t, writeCoupons(ctx, files, testWindow, conflicts, repo))

	assert.Len(t, repo.coupons, 3)
	assert.NotContains(t, repo.coupons, "SHARED")
	assert.True(t, decimal.NewFromInt(7).Equal(repo.coupons["REPEAT"].DiscountValue), "later lines win")
	require.NotNil(t, repo.coupons["ONLYB"].UsageLimitTotal)
	assert.Equal(t, 100, *repo.coupons["ONLYB"].UsageLimitTotal)
}

func TestImport_MalformedLine(t *testing.T) {
	dir := t.TempDir()
	path := writeGz(t, dir, "bad.csv.gz",
		"GOOD,percentage,10,,",
		"BAD,percentage,abc,,",
	)

	_, err := buildBloomFilters(context.Background(), []string{path}, testWindow)
	require.Error(t, err)

	var le *lineError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, 2, le.Line)
	assert.Equal(t, path, le.File)
}
