package validation

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	"github.com/ipastusi/jsonlatch/schema"
)

type Kind int

const (
	Valid Kind = iota
	Invalid
	MalformedDocument
	MalformedSchema
	InvalidSchema
)

func (k Kind) String() string {
	switch k {
	case Valid:
		return "valid"
	case Invalid:
		return "invalid"
	case MalformedDocument:
		return "malformedDocument"
	case MalformedSchema:
		return "malformedSchema"
	case InvalidSchema:
		return "invalidSchema"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Outcome is the result of one validation call. Errors is only populated
// when error detail was requested.
type Outcome struct {
	Kind   Kind
	Errors []schema.ErrorRecord
}

func (o Outcome) OK() bool {
	return o.Kind == Valid
}

type Executor struct {
	logHandler slog.Handler
}

func NewExecutor(logHandler slog.Handler) Executor {
	return Executor{logHandler: logHandler}
}

// Run validates document against compiled. Without collect it only asks the
// engine for a verdict, which skips building error records altogether.
func (e Executor) Run(document []byte, compiled schema.Compiled, collect bool) Outcome {
	var instance any
	if err := json.Unmarshal(document, &instance); err != nil {
		outcome := failure(MalformedDocument, collect, fmt.Sprintf("malformed document: %v", err))
		e.logOutcome(outcome, len(document))
		return outcome
	}

	var outcome Outcome
	switch {
	case !collect && compiled.Check(instance):
		outcome = Outcome{Kind: Valid}
	case !collect:
		outcome = Outcome{Kind: Invalid}
	default:
		valid, records := compiled.Collect(instance)
		switch {
		case valid:
			outcome = Outcome{Kind: Valid}
		case len(records) == 0:
			// the verdict stands even when the engine gives no reason
			outcome = failure(Invalid, true, "document does not match the schema")
		default:
			outcome = Outcome{Kind: Invalid, Errors: records}
		}
	}
	e.logOutcome(outcome, len(document))
	return outcome
}

// Failed turns a schema that could not be compiled into the outcome of the
// call that supplied it.
func (e Executor) Failed(err error, collect bool) Outcome {
	kind := InvalidSchema
	if errors.Is(err, schema.ErrMalformedSchema) {
		kind = MalformedSchema
	}
	outcome := failure(kind, collect, err.Error())
	e.logOutcome(outcome, 0)
	return outcome
}

func (e Executor) logOutcome(outcome Outcome, docLen int) {
	if e.logHandler == nil || !e.logHandler.Enabled(nil, slog.LevelDebug) {
		return
	}

	r := slog.NewRecord(time.Now(), slog.LevelDebug, "document validated", 0)
	r.AddAttrs(
		slog.String("outcome", outcome.Kind.String()),
		slog.Int("documentBytes", docLen),
		slog.Int("errors", len(outcome.Errors)),
	)
	_ = e.logHandler.Handle(nil, r)
}

func failure(kind Kind, collect bool, message string) Outcome {
	if !collect {
		return Outcome{Kind: kind}
	}
	return Outcome{
		Kind:   kind,
		Errors: []schema.ErrorRecord{{Message: message}},
	}
}
