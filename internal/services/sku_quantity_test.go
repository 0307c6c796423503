package services

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestDecodeSKUQuantitiesAcceptedShapes(t *testing.T) {
	cases := []struct {
		name  string
		raw   any
		want  map[string]string
		issue int
	}{
		{name: "nil", raw: nil, want: map[string]string{}},
		{name: "blank string", raw: "   ", want: map[string]string{}},
		{name: "json list", raw: `[{"sku":" ab c-1 ","quantity":2},{"sku":"ABC-1","quantity":"3"}]`, want: map[string]string{"ABC-1": "5"}},
		{name: "json mapping", raw: []byte(`{"x1": 4, "y2": 1.5}`), want: map[string]string{"X1": "4", "Y2": "1.5"}},
		{name: "decoded records", raw: []any{map[string]any{"sku": "z9", "quantity": float64(7)}}, want: map[string]string{"Z9": "7"}},
		{name: "typed entries", raw: []SKUQuantityEntry{{SKU: "k", Quantity: dec("2")}}, want: map[string]string{"K": "2"}},
		{name: "skips bad entries", raw: `[{"sku":null,"quantity":1},{"sku":"a","quantity":0},{"sku":"b","quantity":false},"oops",{"sku":"c","quantity":1}]`, want: map[string]string{"C": "1"}, issue: 4},
		{name: "boolean true is one unit", raw: `[{"sku":"d","quantity":true},{"sku":"d","quantity":2}]`, want: map[string]string{"D": "3"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, issues, err := DecodeSKUQuantities(tc.raw)
			if err != nil {
				t.Fatalf("DecodeSKUQuantities: %v", err)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("expected %d skus, got %v", len(tc.want), got)
			}
			for sku, qty := range tc.want {
				if !got[sku].Equal(dec(qty)) {
					t.Fatalf("expected %s=%s, got %s", sku, qty, got[sku])
				}
			}
			if len(issues) != tc.issue {
				t.Fatalf("expected %d issues, got %+v", tc.issue, issues)
			}
		})
	}
}

func TestDecodeSKUQuantitiesRejectsUnreadablePayload(t *testing.T) {
	for _, raw := range []any{`{"sku":`, `42`, 3.5} {
		if _, _, err := DecodeSKUQuantities(raw); !errors.Is(err, ErrSKUQuantityMalformed) {
			t.Fatalf("expected malformed error for %v, got %v", raw, err)
		}
		if got := ParseSKUQuantities(raw); len(got) != 0 {
			t.Fatalf("expected lenient parse to return empty map for %v, got %v", raw, got)
		}
	}
}

func TestValidateSKUQuantities(t *testing.T) {
	if !ValidateSKUQuantities(`[{"sku":"a","quantity":1}]`) {
		t.Fatalf("expected payload to be valid")
	}
	if ValidateSKUQuantities(`[]`) {
		t.Fatalf("expected empty payload to be invalid")
	}
	if ValidateSKUQuantities(`not json`) {
		t.Fatalf("expected malformed payload to be invalid")
	}
}

func TestSKUQuantitiesRender(t *testing.T) {
	quantities := ParseSKUQuantities(`[{"sku":"b","quantity":2},{"sku":"a","quantity":1.5}]`)
	if got, want := quantities.Render(), "{'A': 1.5, 'B': 2.0}"; got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if !quantities.Total().Equal(dec("3.5")) {
		t.Fatalf("expected total 3.5, got %s", quantities.Total())
	}
}

func TestSKUNormalizationProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("normalising twice is a no-op", prop.ForAll(
		func(left, right string) bool {
			raw := " " + left + " \t" + right + " "
			once := NormalizeSKU(raw)
			return NormalizeSKU(once) == once && !strings.ContainsAny(once, " \t")
		},
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.Property("decoded total equals the sum of positive quantities", prop.ForAll(
		func(quantities []int) bool {
			var b strings.Builder
			b.WriteByte('[')
			sum := int64(0)
			for i, qty := range quantities {
				if i > 0 {
					b.WriteByte(',')
				}
				fmt.Fprintf(&b, `{"sku":"sku-%d","quantity":%d}`, i%3, qty)
				sum += int64(qty)
			}
			b.WriteByte(']')
			decoded, issues, err := DecodeSKUQuantities(b.String())
			if err != nil || len(issues) != 0 {
				return false
			}
			return decoded.Total().IntPart() == sum && len(decoded) <= 3
		},
		gen.SliceOf(gen.IntRange(1, 500)),
	))

	properties.Property("entry order does not change the decoded quantities", prop.ForAll(
		func(quantities []int, seed int64) bool {
			entries := make([]string, len(quantities))
			for i, qty := range quantities {
				entries[i] = fmt.Sprintf(`{"sku":"sku-%d","quantity":%d}`, i%4, qty)
			}
			original := ParseSKUQuantities("[" + strings.Join(entries, ",") + "]")
			rand.New(rand.NewSource(seed)).Shuffle(len(entries), func(i, j int) {
				entries[i], entries[j] = entries[j], entries[i]
			})
			shuffled := ParseSKUQuantities("[" + strings.Join(entries, ",") + "]")
			if len(original) != len(shuffled) {
				return false
			}
			for sku, qty := range original {
				if !shuffled[sku].Equal(qty) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(1, 500)),
		gen.Int64(),
	))

	properties.TestingRun(t)
}
