package analysis

import (
	"strings"
	"testing"
)

func complexity(t *testing.T, path, content string) []ComplexityEstimate {
	t.Helper()
	est, err := newEngine(t, Options{}).AnalyzeComplexity(path, content)
	if err != nil {
		t.Fatalf("AnalyzeComplexity: %v", err)
	}
	return est
}

func TestComplexitySingleLoop(t *testing.T) {
	src := `function sum(items: number[]): number {
  let total = 0;
  for (const item of items) {
    total += item;
  }
  return total;
}
`
	est := complexity(t, "sum.ts", src)
	if len(est) != 1 {
		t.Fatalf("expected 1 estimate, got %d: %+v", len(est), est)
	}
	if est[0].Estimate != EstimateLinear || est[0].Line != 3 {
		t.Errorf("expected O(n) at line 3, got %+v", est[0])
	}
	if est[0].Construct != "for loop" {
		t.Errorf("expected for loop, got %q", est[0].Construct)
	}
}

func TestComplexityNestedLoops(t *testing.T) {
	est := complexity(t, "search.ts", nestedLoopTS)
	if len(est) != 2 {
		t.Fatalf("expected 2 estimates, got %d: %+v", len(est), est)
	}
	outer, inner := est[0], est[1]
	if outer.Line != 2 || outer.Estimate != EstimateQuadratic {
		t.Errorf("outer loop: expected O(n^2) at line 2, got %+v", outer)
	}
	if !strings.Contains(outer.Rationale, "same collection items") || !strings.Contains(outer.Rationale, "for loop at line 3") {
		t.Errorf("outer rationale should name the shared collection and the inner loop: %q", outer.Rationale)
	}
	if inner.Estimate != EstimateQuadratic {
		t.Errorf("inner loop: expected O(n^2), got %s", inner.Estimate)
	}
	if !strings.Contains(inner.Rationale, "same collection items") {
		t.Errorf("rationale should name the shared collection: %q", inner.Rationale)
	}
}

func TestComplexityOuterLoopTakesWorstInnerLoop(t *testing.T) {
	src := `function pairs(xs: number[], ys: number[]) {
  for (const x of xs) {
    for (const y of ys) {
      visit(x, y);
    }
    let n = ys.length;
    while (n > 1) {
      n = n / 2;
    }
  }
}
`
	est := complexity(t, "pairs.ts", src)
	if len(est) != 3 {
		t.Fatalf("expected 3 estimates, got %+v", est)
	}
	if est[0].Estimate != EstimateQuadratic {
		t.Errorf("outer loop: expected O(n^2), got %+v", est[0])
	}
	if !strings.Contains(est[0].Rationale, "nested 2 loops deep") || !strings.Contains(est[0].Rationale, "line 3") {
		t.Errorf("outer rationale should name the costliest inner loop: %q", est[0].Rationale)
	}
	if est[2].Estimate != EstimateLinearithmic {
		t.Errorf("halving loop inside a pass: expected O(n log n), got %+v", est[2])
	}
}

func TestComplexityTripleNestingNamesDepth(t *testing.T) {
	src := `func triples(xs []int) {
	for _, a := range xs {
		for _, b := range xs {
			for _, c := range xs {
				_ = a + b + c
			}
		}
	}
}
`
	est := complexity(t, "triples.go", src)
	if len(est) != 3 {
		t.Fatalf("expected 3 estimates, got %+v", est)
	}
	inner := est[2]
	if inner.Estimate != EstimateQuadratic {
		t.Errorf("expected capped O(n^2), got %s", inner.Estimate)
	}
	if !strings.Contains(inner.Rationale, "nested 3 deep") || !strings.Contains(inner.Rationale, "O(n^3)") {
		t.Errorf("rationale should name the depth: %q", inner.Rationale)
	}
	if inner.Construct != "range loop" {
		t.Errorf("expected range loop, got %q", inner.Construct)
	}
	if outer := est[0]; outer.Estimate != EstimateQuadratic || !strings.Contains(outer.Rationale, "O(n^3)") {
		t.Errorf("outer loop should carry the whole nest: %+v", outer)
	}
}

func TestComplexityHeuristics(t *testing.T) {
	tests := []struct {
		name      string
		src       string
		construct string
		want      string
	}{
		{
			name: "halving",
			src: `function bits(n: number) {
  let count = 0;
  while (n > 1) {
    n = n / 2;
    count++;
  }
  return count;
}
`,
			construct: "while loop",
			want:      EstimateLogarithmic,
		},
		{
			name: "scaling an unrelated variable",
			src: `function grow(n: number) {
  let total = 1;
  let i = 0;
  while (i < n) {
    total = total * 2;
    i++;
  }
  return total;
}
`,
			construct: "while loop",
			want:      EstimateLinear,
		},
		{
			name: "binary search midpoint",
			src: `function find(xs: number[], t: number) {
  let lo = 0;
  let hi = xs.length - 1;
  while (lo <= hi) {
    const mid = (lo + hi) >> 1;
    if (xs[mid] < t) {
      lo = mid + 1;
    } else {
      hi = mid - 1;
    }
  }
  return -1;
}
`,
			construct: "while loop",
			want:      EstimateLogarithmic,
		},
		{
			name: "doubling for",
			src: `function steps(n: number) {
  for (let i = 1; i < n; i *= 2) {
    visit(i);
  }
}
`,
			construct: "for loop",
			want:      EstimateLogarithmic,
		},
		{
			name: "sort inside loop",
			src: `function ranks(groups: number[][]) {
  for (const g of groups) {
    g.sort((a, b) => a - b);
  }
}
`,
			construct: "for loop",
			want:      EstimateQuadratic,
		},
		{
			name: "linear scan inside loop",
			src: `function common(a: number[], b: number[]) {
  for (const x of a) {
    if (b.includes(x)) {
      console.log(x);
    }
  }
}
`,
			construct: "for loop",
			want:      EstimateQuadratic,
		},
		{
			name: "set lookups keep the level",
			src: `function common(a: number[], b: Set<number>) {
  for (const x of a) {
    if (b.has(x)) {
      console.log(x);
    }
  }
}
`,
			construct: "for loop",
			want:      EstimateLinear,
		},
		{
			name: "unbounded",
			src: `function spin() {
  while (true) {
    poll();
  }
}
`,
			construct: "while loop",
			want:      EstimateIndeterminate,
		},
		{
			name: "bounded by break",
			src: `function drain(queue: number[]) {
  while (true) {
    if (queue.length === 0) {
      break;
    }
    queue.pop();
  }
}
`,
			construct: "while loop",
			want:      EstimateLinear,
		},
		{
			name: "callback loop",
			src: `function show(items: string[]) {
  items.forEach(item => {
    console.log(item);
  });
}
`,
			construct: "forEach callback",
			want:      EstimateLinear,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			est := complexity(t, "x.ts", tt.src)
			var found bool
			for _, e := range est {
				if e.Construct == tt.construct {
					found = true
					if e.Estimate != tt.want {
						t.Errorf("%s: got %s (%s), want %s", tt.construct, e.Estimate, e.Rationale, tt.want)
					}
				}
			}
			if !found {
				t.Errorf("no %s construct in %+v", tt.construct, est)
			}
		})
	}
}

func TestComplexityRecursion(t *testing.T) {
	fib := `function fib(n: number): number {
  if (n < 2) {
    return n;
  }
  return fib(n - 1) + fib(n - 2);
}
`
	est := complexity(t, "fib.ts", fib)
	if len(est) != 1 || est[0].Estimate != EstimateExponential || est[0].Construct != "recursion in fib" {
		t.Errorf("expected exponential recursion, got %+v", est)
	}

	fact := `func fact(n int) int {
	if n <= 1 {
		return 1
	}
	return n * fact(n-1)
}
`
	est = complexity(t, "fact.go", fact)
	if len(est) != 1 || est[0].Estimate != EstimateLinear {
		t.Errorf("expected linear recursion, got %+v", est)
	}

	mergeSort := `function mergeSort(xs: number[]): number[] {
  if (xs.length <= 1) {
    return xs;
  }
  const mid = xs.length >> 1;
  return merge(mergeSort(xs.slice(0, mid)), mergeSort(xs.slice(mid)));
}
`
	est = complexity(t, "merge.ts", mergeSort)
	if len(est) != 1 || est[0].Estimate != EstimateLinearithmic {
		t.Errorf("expected divide-and-conquer estimate, got %+v", est)
	}
}

func TestComplexitySortCall(t *testing.T) {
	src := `function sorted(items: number[]) {
  return [...items].sort((a, b) => a - b);
}
`
	est := complexity(t, "sorted.ts", src)
	if len(est) != 1 || est[0].Construct != "sort call" || est[0].Estimate != EstimateLinearithmic {
		t.Errorf("expected one O(n log n) sort call, got %+v", est)
	}
}

func TestComplexityNoConstructs(t *testing.T) {
	if est := complexity(t, "const.ts", "export const answer = 42;\n"); len(est) != 0 {
		t.Errorf("expected no estimates, got %+v", est)
	}
}
