package service_test

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/ipastusi/jsonlatch/cache"
	"github.com/ipastusi/jsonlatch/memory"
	"github.com/ipastusi/jsonlatch/result"
	"github.com/ipastusi/jsonlatch/schema"
	"github.com/ipastusi/jsonlatch/service"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

const (
	stringSchema   = `{"type":"string"}`
	numberSchema   = `{"type":"number"}`
	requiredSchema = `{"type":"object","required":["a"]}`
)

func newService(t *testing.T, engine string, policy cache.Policy, limit uint64) (*service.Service, *memory.Heap) {
	t.Helper()
	e, err := schema.NewEngine(engine)
	if err != nil {
		t.Fatal("unexpected engine error:", err)
	}
	heap := memory.NewHeap(limit)
	return service.NewService(nil, heap, schema.NewCompiler(e), policy), heap
}

func check(t *testing.T, host service.Host, doc string, src string) bool {
	t.Helper()
	ok, err := host.Check([]byte(doc), []byte(src))
	if err != nil {
		t.Fatal("unexpected validation error:", err)
	}
	return ok
}

func Test_Scenarios(t *testing.T) {
	t.Parallel()

	for _, engine := range schema.Engines() {
		t.Run(engine, func(t *testing.T) {
			t.Parallel()
			svc, heap := newService(t, engine, cache.PolicyFirst, 0)
			host := service.NewHost(svc)

			// bootstrap
			if !check(t, host, `"hello"`, stringSchema) {
				t.Fatal("bootstrap: string rejected")
			}
			if n := svc.Stats().Compilations; n != 1 {
				t.Fatal("bootstrap: unexpected compilation count:", n)
			}

			// cached reuse
			if check(t, host, `42`, stringSchema) {
				t.Fatal("cached reuse: number accepted by string schema")
			}
			if n := svc.Stats().Compilations; n != 1 {
				t.Fatal("cached reuse: unexpected compilation count:", n)
			}

			// differing schema, no eviction
			if !check(t, host, `42`, numberSchema) {
				t.Fatal("differing schema: number rejected")
			}
			if n := svc.Stats().Compilations; n != 2 {
				t.Fatal("differing schema: unexpected compilation count:", n)
			}
			if !check(t, host, `"x"`, stringSchema) {
				t.Fatal("reverted schema: string rejected")
			}
			if n := svc.Stats().Compilations; n != 2 {
				t.Fatal("reverted schema: latched schema not reused, compilations:", n)
			}
			if svc.LatchState().Schema != stringSchema {
				t.Fatal("latched schema changed:", svc.LatchState().Schema)
			}

			stats := svc.Stats()
			if stats.Cache.Bootstraps != 1 || stats.Cache.Hits != 2 || stats.Cache.Transient != 1 {
				t.Fatalf("unexpected cache stats: %+v", stats.Cache)
			}
			assertBalanced(t, heap)
		})
	}
}

func Test_ScenarioReverting(t *testing.T) {
	t.Parallel()

	// a fresh number schema first: every string schema call afterwards is transient
	svc, _ := newService(t, schema.EngineKaptinlin, cache.PolicyFirst, 0)
	host := service.NewHost(svc)

	check(t, host, `42`, numberSchema)
	if !check(t, host, `42`, numberSchema) {
		t.Fatal("number rejected")
	}
	if check(t, host, `42`, stringSchema) {
		t.Fatal("number accepted by string schema")
	}
	if !check(t, host, `"x"`, stringSchema) {
		t.Fatal("string rejected")
	}
	if n := svc.Stats().Compilations; n != 3 {
		t.Fatal("unexpected compilation count:", n)
	}
}

func Test_ScenarioErrorDetail(t *testing.T) {
	t.Parallel()

	for _, engine := range schema.Engines() {
		t.Run(engine, func(t *testing.T) {
			t.Parallel()
			svc, heap := newService(t, engine, cache.PolicyFirst, 0)
			host := service.NewHost(svc)

			report, err := host.Detail([]byte(`{}`), []byte(requiredSchema))
			if err != nil {
				t.Fatal("unexpected validation error:", err)
			}
			if report.OK {
				t.Fatal("empty object accepted")
			}

			found := false
			for _, line := range report.Lines() {
				message, isRoot := strings.CutPrefix(line, ": ")
				lower := strings.ToLower(message)
				if isRoot && strings.Contains(message, "a") &&
					(strings.Contains(lower, "required") || strings.Contains(lower, "missing")) {
					found = true
				}
			}
			if !found {
				t.Fatalf("no root record about the missing property: %q", report.Transcript)
			}

			report, err = host.Detail([]byte(`{"a":1}`), []byte(requiredSchema))
			if err != nil {
				t.Fatal("unexpected validation error:", err)
			}
			if !report.OK || report.Transcript != "" || report.Lines() != nil {
				t.Fatalf("unexpected report: %+v", report)
			}
			assertBalanced(t, heap)
		})
	}
}

func Test_DetailNestedAndStable(t *testing.T) {
	t.Parallel()

	nested := `{"properties":{"a":{"properties":{"b":{"type":"string"}}}}}`
	wide := `{"properties":{"a":{"type":"string"},"b":{"type":"string"},"c":{"type":"string"},"d":{"type":"string"},"e":{"type":"string"}}}`
	wideDoc := `{"a":1,"b":2,"c":3,"d":4,"e":5}`

	for _, engine := range schema.Engines() {
		t.Run(engine, func(t *testing.T) {
			t.Parallel()
			svc, _ := newService(t, engine, cache.PolicyFirst, 0)
			report, err := service.NewHost(svc).Detail([]byte(`{"a":{"b":1}}`), []byte(nested))
			if err != nil {
				t.Fatal("unexpected validation error:", err)
			}
			found := false
			for _, line := range report.Lines() {
				if strings.HasPrefix(line, "a.b: ") {
					found = true
				}
				if strings.HasPrefix(line, "b: ") {
					t.Fatalf("nested record lost its parent: %q", report.Transcript)
				}
			}
			if !found {
				t.Fatalf("no record located at a.b: %q", report.Transcript)
			}

			var first string
			for i := range 100 {
				svc, _ := newService(t, engine, cache.PolicyFirst, 0)
				report, err := service.NewHost(svc).Detail([]byte(wideDoc), []byte(wide))
				if err != nil {
					t.Fatal("unexpected validation error:", err)
				}
				if i == 0 {
					first = report.Transcript
				} else if report.Transcript != first {
					t.Fatalf("transcript changed between calls, first: %q, now: %q", first, report.Transcript)
				}
			}
		})
	}
}

func Test_ResultSlotOverwrite(t *testing.T) {
	t.Parallel()

	svc, heap := newService(t, schema.EngineKaptinlin, cache.PolicyFirst, 0)
	place := func(data string) memory.Address {
		addr, err := svc.Allocate(uint32(len(data)))
		if err != nil {
			t.Fatal("unexpected allocation error:", err)
		}
		_ = heap.Write(addr, []byte(data))
		return addr
	}
	call := func(doc string) memory.Address {
		addr, err := svc.ValidateWithErrors(place(doc), uint32(len(doc)), place(numberSchema), uint32(len(numberSchema)))
		if err != nil {
			t.Fatal("unexpected validation error:", err)
		}
		return addr
	}

	first := call(`"nope"`)
	record, transcript, err := result.Load(heap, first)
	if err != nil || record.OK || len(transcript) == 0 {
		t.Fatalf("unexpected first result: %+v %q %v", record, transcript, err)
	}
	// reading before the next call is safe
	if _, err = heap.Bytes(record.ErrorsAddr, record.ErrorsLen); err != nil {
		t.Fatal("transcript not readable before the next call:", err)
	}

	second := call(`7`)
	if second != first {
		t.Fatal("result record moved")
	}
	if _, err = heap.Bytes(record.ErrorsAddr, record.ErrorsLen); !errors.Is(err, memory.ErrNotOwned) {
		t.Fatal("previous transcript survived the next call:", err)
	}
	record, _, _ = result.Load(heap, second)
	if !record.OK || record.ErrorsAddr != 0 || record.ErrorsLen != 0 {
		t.Fatalf("unexpected second record: %+v", record)
	}
}

func Test_ValidateLeavesResultSlot(t *testing.T) {
	t.Parallel()

	svc, heap := newService(t, schema.EngineKaptinlin, cache.PolicyFirst, 0)
	host := service.NewHost(svc)

	report, _ := host.Detail([]byte(`"nope"`), []byte(numberSchema))
	var transcriptBlock memory.Block
	for _, block := range heap.Live() {
		if block.Owner == memory.OwnerResult && block.Size != result.RecordSize {
			transcriptBlock = block
		}
	}
	if transcriptBlock.Addr == 0 {
		t.Fatal("no transcript block after a failed call")
	}

	check(t, host, `1`, numberSchema)
	b, err := heap.Bytes(transcriptBlock.Addr, transcriptBlock.Size)
	if err != nil || string(b) != report.Transcript {
		t.Fatalf("boolean call disturbed the result slot: %q %v", b, err)
	}
}

func Test_MalformedInputs(t *testing.T) {
	t.Parallel()

	data := map[string]struct {
		doc    string
		schema string
		prefix string
	}{
		"malformed document": {`{"a":`, numberSchema, ": malformed document"},
		"malformed schema":   {`1`, `{"type":`, ": malformed schema"},
	}

	for name, d := range data {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			svc, heap := newService(t, schema.EngineKaptinlin, cache.PolicyFirst, 0)
			host := service.NewHost(svc)

			if check(t, host, d.doc, d.schema) {
				t.Fatal("malformed input accepted")
			}
			report, err := host.Detail([]byte(d.doc), []byte(d.schema))
			if err != nil {
				t.Fatal("unexpected validation error:", err)
			}
			lines := report.Lines()
			if report.OK || len(lines) != 1 || !strings.HasPrefix(lines[0], d.prefix) {
				t.Fatalf("unexpected report: %q", report.Transcript)
			}
			assertBalanced(t, heap)
		})
	}
}

func Test_FailedBootstrapNotLatched(t *testing.T) {
	t.Parallel()

	svc, heap := newService(t, schema.EngineKaptinlin, cache.PolicyFirst, 0)
	host := service.NewHost(svc)

	check(t, host, `1`, `{"type":`)
	if svc.Stats().Latched {
		t.Fatal("malformed schema latched")
	}
	if !check(t, host, `1`, numberSchema) || !svc.Stats().Latched {
		t.Fatal("valid schema not latched after a failed bootstrap")
	}
	assertBalanced(t, heap)
}

func Test_LatestPolicyReleasesEvicted(t *testing.T) {
	t.Parallel()

	svc, heap := newService(t, schema.EngineKaptinlin, cache.PolicyLatest, 0)
	host := service.NewHost(svc)

	check(t, host, `1`, numberSchema)
	check(t, host, `"x"`, stringSchema)
	if svc.LatchState().Schema != stringSchema {
		t.Fatal("latest schema not latched:", svc.LatchState().Schema)
	}
	check(t, host, `"y"`, stringSchema)
	if n := svc.Stats().Compilations; n != 2 {
		t.Fatal("unexpected compilation count:", n)
	}
	assertBalanced(t, heap)
}

func Test_Warm(t *testing.T) {
	t.Parallel()

	svc, heap := newService(t, schema.EngineKaptinlin, cache.PolicyFirst, 0)
	if err := svc.Warm([]byte(`{"type":`)); !errors.Is(err, schema.ErrMalformedSchema) {
		t.Fatal("expected malformed schema error, got:", err)
	}
	if err := svc.Warm([]byte(stringSchema)); err != nil {
		t.Fatal("unexpected warm error:", err)
	}

	host := service.NewHost(svc)
	if !check(t, host, `"hello"`, stringSchema) {
		t.Fatal("string rejected")
	}
	if stats := svc.Stats(); stats.Compilations != 2 || stats.Cache.Hits != 1 {
		t.Fatalf("warmed schema not reused: %+v", stats)
	}
	assertBalanced(t, heap)
}

func Test_OwnershipViolations(t *testing.T) {
	t.Parallel()

	svc, heap := newService(t, schema.EngineKaptinlin, cache.PolicyFirst, 0)
	doc, _ := svc.Allocate(1)
	_ = heap.Write(doc, []byte("1"))
	src, _ := svc.Allocate(uint32(len(numberSchema)))
	_ = heap.Write(src, []byte(numberSchema))

	data := map[string]func() error{
		"unknown document": func() error {
			_, err := svc.Validate(doc+memory.MaxAlign*64, 1, src, uint32(len(numberSchema)))
			return err
		},
		"shared block": func() error {
			_, err := svc.Validate(src, 1, src, uint32(len(numberSchema)))
			return err
		},
		"release foreign": func() error {
			return svc.Release(src, 2)
		},
	}
	for name, call := range data {
		if err := call(); !errors.Is(err, memory.ErrNotOwned) {
			t.Fatalf("%v: expected ErrNotOwned, got: %v", name, err)
		}
	}

	// a latched schema block belongs to the cache
	if _, err := svc.Validate(doc, 1, src, uint32(len(numberSchema))); err != nil {
		t.Fatal("unexpected validation error:", err)
	}
	if err := svc.Release(src, uint32(len(numberSchema))); !errors.Is(err, memory.ErrNotOwned) {
		t.Fatal("host released the latched schema:", err)
	}
}

func Test_OutOfMemoryIsFatal(t *testing.T) {
	t.Parallel()

	svc, _ := newService(t, schema.EngineKaptinlin, cache.PolicyFirst, uint64(len(requiredSchema)+2+result.RecordSize))
	host := service.NewHost(svc)

	_, err := host.Detail([]byte(`{}`), []byte(requiredSchema))
	if !errors.Is(err, memory.ErrOutOfMemory) {
		t.Fatal("expected out of memory, got:", err)
	}
}

func Test_LogsCacheDecisions(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	engine, _ := schema.NewEngine(schema.EngineKaptinlin)
	svc := service.NewService(handler, memory.NewHeap(0), schema.NewCompiler(engine), cache.PolicyFirst)
	host := service.NewHost(svc)

	check(t, host, `1`, numberSchema)
	check(t, host, `1`, numberSchema)
	check(t, host, `1`, stringSchema)

	logged := buf.String()
	for _, msg := range []string{"schema latched", "latched schema reused", "schema compiled for one call"} {
		if !strings.Contains(logged, `"msg":"`+msg+`"`) {
			t.Fatalf("%q not logged: %v", msg, logged)
		}
	}
}

// assertBalanced fails when a host block outlived its call or the cache holds
// more than one source.
func assertBalanced(t *testing.T, heap *memory.Heap) {
	t.Helper()
	if err := balanced(heap); err != nil {
		t.Fatal(err)
	}
}

func balanced(heap *memory.Heap) error {
	cached, transcripts := 0, 0
	for _, block := range heap.Live() {
		switch {
		case block.Owner == memory.OwnerHost:
			return errors.New("host block still live after the call")
		case block.Owner == memory.OwnerCache:
			cached++
		case block.Size != result.RecordSize:
			transcripts++
		}
	}
	if cached > 1 || transcripts > 1 {
		return errors.New("more than one cached source or transcript is live")
	}
	return nil
}

var (
	pool = []string{
		stringSchema,
		numberSchema,
		`{ "type": "number" }`,
		requiredSchema,
		`{"type":`,
	}
	docs = []string{`"s"`, `42`, `{}`, `{"a":true}`, `[`}
)

func Test_NoLeaksProperty(t *testing.T) {
	t.Parallel()

	parameters := gopter.DefaultTestParameters()
	parameters.MaxSize = 40
	properties := gopter.NewProperties(parameters)

	steps := len(pool) * len(docs) * 2
	for _, policy := range []cache.Policy{cache.PolicyFirst, cache.PolicyLatest} {
		properties.Property("every input is released or latched, policy "+string(policy), prop.ForAll(
			func(calls []int) bool {
				svc, heap := newService(t, schema.EngineKaptinlin, policy, 0)
				host := service.NewHost(svc)

				for _, call := range calls {
					src, doc := pool[call%len(pool)], docs[call/len(pool)%len(docs)]
					withErrors := call/(len(pool)*len(docs)) == 1

					var ok bool
					var err error
					if withErrors {
						var report service.Report
						report, err = host.Detail([]byte(doc), []byte(src))
						ok = report.OK
					} else {
						ok, err = host.Check([]byte(doc), []byte(src))
					}
					if err != nil || balanced(heap) != nil {
						return false
					}

					// a cold service can only use the call's own schema
					cold, _ := newService(t, schema.EngineKaptinlin, cache.PolicyFirst, 0)
					expected, err := service.NewHost(cold).Check([]byte(doc), []byte(src))
					if err != nil || ok != expected {
						return false
					}
				}
				return true
			},
			gen.SliceOf(gen.IntRange(0, steps-1)),
		))
	}

	properties.TestingRun(t)
}
