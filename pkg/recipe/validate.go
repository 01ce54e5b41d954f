package recipe

import (
	"encoding/json"
	"fmt"
	"strings"

	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/quayside/workorder/pkg/render"
)

// ValidationError represents a single validation error with location context.
type ValidationError struct {
	Phase    string `json:"phase"` // structural, schema, domain
	Path     string `json:"path"`  // JSON-path-like location (e.g. "steps[2].on_success")
	Message  string `json:"message"`
	Severity string `json:"severity"` // error, warning
}

func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("[%s] %s at %s", e.Phase, e.Message, e.Path)
	}
	return fmt.Sprintf("[%s] %s", e.Phase, e.Message)
}

func errorf(phase, path, msg string, args ...any) *ValidationError {
	return &ValidationError{Phase: phase, Path: path, Message: fmt.Sprintf(msg, args...), Severity: "error"}
}

func warningf(phase, path, msg string, args ...any) *ValidationError {
	return &ValidationError{Phase: phase, Path: path, Message: fmt.Sprintf(msg, args...), Severity: "warning"}
}

// HasErrors reports whether any entry is an error (warnings alone pass).
func HasErrors(errs []*ValidationError) bool {
	for _, e := range errs {
		if e.Severity == "error" {
			return true
		}
	}
	return false
}

// ValidateFile runs the full pipeline on one recipe file:
// structural (strict decode) → schema (generated JSON Schema) → domain rules.
func ValidateFile(path string) (*Recipe, []*ValidationError) {
	rc, err := LoadFile(path)
	if err != nil {
		return nil, []*ValidationError{errorf("structural", "", "failed to load: %s", err)}
	}
	return rc, ValidateRecipe(rc)
}

// ValidateRecipe runs the schema and domain phases on a loaded recipe.
func ValidateRecipe(rc *Recipe) []*ValidationError {
	errs := validateSchema(rc)
	if HasErrors(errs) {
		return errs
	}
	return append(errs, validateDomain(rc)...)
}

// validateSchema validates the recipe against the JSON Schema generated from
// the Go types — the same document exported as schema.json.
func validateSchema(rc *Recipe) []*ValidationError {
	data, err := json.Marshal(rc)
	if err != nil {
		return []*ValidationError{errorf("schema", "", "marshal for schema validation: %s", err)}
	}

	schemaJSON, err := GenerateJSONSchema()
	if err != nil {
		return []*ValidationError{errorf("schema", "", "generate schema: %s", err)}
	}
	schemaDoc, err := sjsonschema.UnmarshalJSON(strings.NewReader(string(schemaJSON)))
	if err != nil {
		return []*ValidationError{errorf("schema", "", "unmarshal schema: %s", err)}
	}

	c := sjsonschema.NewCompiler()
	if err := c.AddResource("recipe-v1.json", schemaDoc); err != nil {
		return []*ValidationError{errorf("schema", "", "add schema resource: %s", err)}
	}
	sch, err := c.Compile("recipe-v1.json")
	if err != nil {
		return []*ValidationError{errorf("schema", "", "compile schema: %s", err)}
	}

	doc, err := sjsonschema.UnmarshalJSON(strings.NewReader(string(data)))
	if err != nil {
		return []*ValidationError{errorf("schema", "", "unmarshal document: %s", err)}
	}

	if err := sch.Validate(doc); err != nil {
		var errs []*ValidationError
		if ve, ok := err.(*sjsonschema.ValidationError); ok {
			for _, cause := range flattenValidationErrors(ve) {
				errs = append(errs, errorf("schema",
					strings.Join(cause.InstanceLocation, "/"),
					"%v", cause.ErrorKind))
			}
		} else {
			errs = append(errs, errorf("schema", "", "%s", err))
		}
		return errs
	}
	return nil
}

func flattenValidationErrors(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var flat []*sjsonschema.ValidationError
	for _, cause := range ve.Causes {
		flat = append(flat, flattenValidationErrors(cause)...)
	}
	return flat
}

// validateDomain applies the hand-coded recipe rules: unique step numbers,
// resolvable jump targets, branch condition/else pairing, per-kind field
// requirements, and identifier safety for everything that names a table or
// column.
func validateDomain(rc *Recipe) []*ValidationError {
	var errs []*ValidationError

	if rc.WorkOrderType == "" {
		errs = append(errs, errorf("domain", "work_order_type", "work_order_type is required"))
	}
	if rc.Description == "" {
		errs = append(errs, warningf("domain", "description", "empty description: the matcher cannot rank this recipe"))
	}
	if len(rc.Steps) == 0 {
		errs = append(errs, errorf("domain", "steps", "at least one step is required"))
		return errs
	}

	seen := make(map[int]bool, len(rc.Steps))
	for i, s := range rc.Steps {
		path := fmt.Sprintf("steps[%d]", i)
		if seen[s.Step] {
			errs = append(errs, errorf("domain", path+".step", "duplicate step number %d", s.Step))
		}
		seen[s.Step] = true

		switch s.Operation {
		case KindQuery:
			errs = append(errs, validateQueryStep(&s, path)...)
		case KindGenerateDML:
			errs = append(errs, validateDMLStep(&s, path)...)
		case KindReturnSuccess:
			// message is optional
		case KindReturnError:
			if s.Message == "" {
				errs = append(errs, errorf("domain", path+".message", "RETURN_ERROR requires a message"))
			}
		default:
			errs = append(errs, errorf("domain", path+".operation", "unknown operation %q", s.Operation))
		}
	}

	// Jump targets must resolve to an existing step or the "end" sentinel.
	for i, s := range rc.Steps {
		path := fmt.Sprintf("steps[%d]", i)
		// at is the full location of the reference being checked.
		checkRef := func(ref StepRef, at string) {
			if ref.Present && !ref.Null && !seen[ref.Step] {
				errs = append(errs, errorf("domain", at, "jump target %d does not exist", ref.Step))
			}
		}
		checkBranch := func(b *Branch, at string) {
			if b == nil {
				return
			}
			checkRef(b.NextStep, at+".next_step")
			checkRef(b.ElseStep, at+".else_step")
			if b.Condition != "" && !b.ElseStep.Present {
				errs = append(errs, errorf("domain", at, "branch with a condition requires else_step"))
			}
		}
		checkBranch(s.OnSuccess, path+".on_success")
		checkBranch(s.OnFailure, path+".on_failure")
		checkRef(s.NextStep, path+".next_step")
	}

	return errs
}

func validateQueryStep(s *Step, path string) []*ValidationError {
	var errs []*ValidationError
	if s.Table == "" {
		errs = append(errs, errorf("domain", path+".table", "QUERY requires table"))
	} else if !render.ValidIdentifier(s.Table) {
		errs = append(errs, errorf("domain", path+".table", "invalid table identifier %q", s.Table))
	}
	if s.Where == "" {
		errs = append(errs, errorf("domain", path+".where", "QUERY requires where"))
	}
	if len(s.OutputFields) == 0 {
		errs = append(errs, errorf("domain", path+".output_fields", "QUERY requires output_fields"))
	}
	for j, f := range s.OutputFields {
		if !render.ValidIdentifier(f) {
			errs = append(errs, errorf("domain", fmt.Sprintf("%s.output_fields[%d]", path, j), "invalid column identifier %q", f))
		}
	}
	if s.Type != "" || s.Set.Len() > 0 || s.Values.Len() > 0 {
		errs = append(errs, errorf("domain", path, "QUERY step carries GENERATE_DML fields"))
	}
	return errs
}

func validateDMLStep(s *Step, path string) []*ValidationError {
	var errs []*ValidationError
	if s.Table == "" {
		errs = append(errs, errorf("domain", path+".table", "GENERATE_DML requires table"))
	} else if !render.ValidIdentifier(s.Table) {
		errs = append(errs, errorf("domain", path+".table", "invalid table identifier %q", s.Table))
	}

	checkColumns := func(m FieldMap, at string) {
		for _, k := range m.Keys() {
			if !render.ValidIdentifier(k) {
				errs = append(errs, errorf("domain", at, "invalid column identifier %q", k))
			}
		}
	}

	switch s.Type {
	case DMLUpdate:
		if s.Set.Len() == 0 {
			errs = append(errs, errorf("domain", path+".set", "UPDATE requires set"))
		}
		if s.Where == "" {
			errs = append(errs, errorf("domain", path+".where", "UPDATE requires where"))
		}
		if s.Values.Len() > 0 {
			errs = append(errs, errorf("domain", path+".values", "UPDATE does not take values"))
		}
		checkColumns(s.Set, path+".set")
	case DMLInsert:
		if s.Values.Len() == 0 {
			errs = append(errs, errorf("domain", path+".values", "INSERT requires values"))
		}
		if s.Set.Len() > 0 || s.Where != "" {
			errs = append(errs, errorf("domain", path, "INSERT takes only values"))
		}
		checkColumns(s.Values, path+".values")
	case DMLDelete:
		if s.Where == "" {
			errs = append(errs, errorf("domain", path+".where", "DELETE requires where"))
		}
		if s.Set.Len() > 0 || s.Values.Len() > 0 {
			errs = append(errs, errorf("domain", path, "DELETE takes only where"))
		}
	case "":
		errs = append(errs, errorf("domain", path+".type", "GENERATE_DML requires type"))
	default:
		errs = append(errs, errorf("domain", path+".type", "unknown DML type %q", s.Type))
	}
	if len(s.OutputFields) > 0 || s.OnSuccess != nil || s.OnFailure != nil {
		errs = append(errs, errorf("domain", path, "GENERATE_DML step carries QUERY fields"))
	}
	return errs
}
