package scheduler

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var taskIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// SchemaValidator checks a normalized batch against the declared input
// schema.
type SchemaValidator interface {
	Validate(nodes []Node) []Violation
}

type structValidator struct {
	validate *validator.Validate
}

// NewSchemaValidator returns the struct-tag based validator for Node.
func NewSchemaValidator() SchemaValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	err := v.RegisterValidation("taskid", func(fl validator.FieldLevel) bool {
		return taskIDPattern.MatchString(fl.Field().String())
	})
	if err != nil {
		panic(err)
	}
	return &structValidator{validate: v}
}

func (s *structValidator) Validate(nodes []Node) []Violation {
	if len(nodes) == 0 {
		return []Violation{{Kind: KindSchemaViolation, Detail: "batch must contain at least one task"}}
	}

	var violations []Violation
	for i, n := range nodes {
		err := s.validate.Struct(n)
		if err == nil {
			continue
		}
		fieldErrs, ok := err.(validator.ValidationErrors)
		if !ok {
			violations = append(violations, Violation{
				Kind:   KindSchemaViolation,
				TaskID: n.TaskID,
				Ref:    fmt.Sprintf("tasks[%d]", i),
				Detail: err.Error(),
			})
			continue
		}
		for _, fe := range fieldErrs {
			violations = append(violations, Violation{
				Kind:   KindSchemaViolation,
				TaskID: n.TaskID,
				Ref:    fmt.Sprintf("tasks[%d].%s", i, strings.TrimPrefix(fe.Namespace(), "Node.")),
				Detail: describe(fe),
			})
		}
	}
	return violations
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return "must be at most " + fe.Param()
	case "min":
		return "must be at least " + fe.Param()
	case "taskid":
		return "must match " + taskIDPattern.String()
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}
