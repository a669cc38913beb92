package eval

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	invopop "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"rag_assistant/internal/llm"
)

// ErrInvalidVerdict is returned when the judge output does not match the
// verdict schema.
var ErrInvalidVerdict = errors.New("invalid verdict")

// Verdict is the structured judge output.
type Verdict struct {
	Explanation string `json:"explanation" jsonschema_description:"Обоснование оценки"`
	Correct     bool   `json:"correct" jsonschema_description:"True если ответ корректен"`
}

const verdictFunction = "grade"

var (
	schemaOnce     sync.Once
	verdictSchema  *jsonschema.Schema
	verdictParams  json.RawMessage
	verdictInitErr error
)

func loadVerdictSchema() (*jsonschema.Schema, json.RawMessage, error) {
	schemaOnce.Do(func() {
		r := &invopop.Reflector{DoNotReference: true, ExpandedStruct: true}
		raw, err := json.Marshal(r.Reflect(&Verdict{}))
		if err != nil {
			verdictInitErr = fmt.Errorf("marshal verdict schema: %w", err)
			return
		}

		verdictSchema, err = jsonschema.CompileString("verdict.json", string(raw))
		if err != nil {
			verdictInitErr = fmt.Errorf("compile verdict schema: %w", err)
			return
		}

		// Function parameters are sent without the meta keywords some
		// providers reject.
		var params map[string]any
		if err := json.Unmarshal(raw, &params); err != nil {
			verdictInitErr = err
			return
		}
		delete(params, "$schema")
		delete(params, "$id")
		verdictParams, verdictInitErr = json.Marshal(params)
	})
	return verdictSchema, verdictParams, verdictInitErr
}

// VerdictFunction is the function the judge model is forced to call.
func VerdictFunction() (llm.FunctionSpec, error) {
	_, params, err := loadVerdictSchema()
	if err != nil {
		return llm.FunctionSpec{}, err
	}
	return llm.FunctionSpec{
		Name:        verdictFunction,
		Description: "Return the grading verdict",
		Parameters:  params,
	}, nil
}

// DecodeVerdict validates raw against the verdict schema: both fields are
// required, no other fields are allowed and types must match.
func DecodeVerdict(raw json.RawMessage) (Verdict, error) {
	schema, _, err := loadVerdictSchema()
	if err != nil {
		return Verdict{}, err
	}

	var v any
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return Verdict{}, fmt.Errorf("%w: %v", ErrInvalidVerdict, err)
	}
	if err := schema.Validate(v); err != nil {
		return Verdict{}, fmt.Errorf("%w: %v", ErrInvalidVerdict, err)
	}

	var out Verdict
	if err := json.Unmarshal(raw, &out); err != nil {
		return Verdict{}, fmt.Errorf("%w: %v", ErrInvalidVerdict, err)
	}
	return out, nil
}
