// Sonicmirror - Offline Library Mirror for Subsonic Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sonicmirror

// Package validation wraps a go-playground/validator v10 singleton.
//
// The mirror uses it to reject malformed server entities before they are
// merged, and the HTTP surface uses it for path parameters:
//
//	if err := validation.ValidateStruct(&entity); err != nil {
//	    skipped++
//	    continue
//	}
package validation

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// FieldError is a single failed rule.
type FieldError struct {
	Field   string
	Tag     string
	Param   string
	Message string
}

func (e FieldError) Error() string {
	return e.Message
}

// Error collects every failed rule for one struct.
type Error struct {
	Fields []FieldError
}

func (e *Error) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	messages := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		messages[i] = f.Message
	}
	return strings.Join(messages, "; ")
}

// GetValidator returns the singleton validator. Safe for concurrent use.
func GetValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// Registration only fails for empty tags or nil funcs.
		_ = validate.RegisterValidation("entityid", validateEntityID)
	})
	return validate
}

// validateEntityID accepts opaque server IDs: non-blank, no control characters.
func validateEntityID(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if strings.TrimSpace(s) == "" {
		return false
	}
	for _, r := range s {
		if unicode.IsControl(r) {
			return false
		}
	}
	return true
}

// ValidateStruct validates s. It returns nil on success or an *Error.
func ValidateStruct(s any) error {
	err := GetValidator().Struct(s)
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return &Error{Fields: []FieldError{{Field: "unknown", Tag: "unknown", Message: err.Error()}}}
	}

	fields := make([]FieldError, len(validationErrs))
	for i, fe := range validationErrs {
		fields[i] = FieldError{
			Field:   fe.Field(),
			Tag:     fe.Tag(),
			Param:   fe.Param(),
			Message: translateError(fe),
		}
	}
	return &Error{Fields: fields}
}

// ValidateVar validates a single value against tag, e.g. "required,entityid".
func ValidateVar(value any, tag string) error {
	if err := GetValidator().Var(value, tag); err != nil {
		return fmt.Errorf("invalid value: %w", err)
	}
	return nil
}

var messageTemplates = map[string]string{
	"required": "%s is required",
	"entityid": "%s must be a non-blank id without control characters",
}

var messageWithParam = map[string]string{
	"oneof":   "%s must be one of: %s",
	"nefield": "%s must differ from %s",
	"min":     "%s must be at least %s",
	"max":     "%s must be at most %s",
}

func translateError(fe validator.FieldError) string {
	if tmpl, ok := messageTemplates[fe.Tag()]; ok {
		return fmt.Sprintf(tmpl, fe.Field())
	}
	if tmpl, ok := messageWithParam[fe.Tag()]; ok {
		if fe.Kind().String() == "string" && (fe.Tag() == "min" || fe.Tag() == "max") {
			return fmt.Sprintf(tmpl+" characters", fe.Field(), fe.Param())
		}
		return fmt.Sprintf(tmpl, fe.Field(), fe.Param())
	}
	return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
}
