// Package errors defines the structured error type shared by the scan,
// load and render paths.
//
// Naming and registry operations never fail. Loads and renders fail with a
// *BindError whose Type and Code identify the failure, so callers can match
// with errors.Is against the sentinel values below or use the Is* helpers.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeLoad       ErrorType = "load"
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeRender     ErrorType = "render"
	ErrorTypeConfig     ErrorType = "config"
)

// Common error codes.
const (
	ErrCodeTemplateNotFound     = "ERR_TEMPLATE_NOT_FOUND"
	ErrCodeLoadFailed           = "ERR_LOAD_FAILED"
	ErrCodeUnsupportedExtension = "ERR_UNSUPPORTED_EXTENSION"
	ErrCodeDegenerateName       = "ERR_DEGENERATE_NAME"
	ErrCodeInvalidSelector      = "ERR_INVALID_SELECTOR"
	ErrCodeReentrantRender      = "ERR_REENTRANT_RENDER"
	ErrCodeNotMarkupRenderer    = "ERR_NOT_MARKUP_RENDERER"
	ErrCodeConfigInvalid        = "ERR_CONFIG_INVALID"
)

// Sentinels for errors.Is. Matching compares Type and Code only.
var (
	ErrTemplateNotFound     = &BindError{Type: ErrorTypeNotFound, Code: ErrCodeTemplateNotFound}
	ErrLoadFailed           = &BindError{Type: ErrorTypeLoad, Code: ErrCodeLoadFailed}
	ErrUnsupportedExtension = &BindError{Type: ErrorTypeValidation, Code: ErrCodeUnsupportedExtension}
	ErrDegenerateName       = &BindError{Type: ErrorTypeValidation, Code: ErrCodeDegenerateName}
	ErrInvalidSelector      = &BindError{Type: ErrorTypeValidation, Code: ErrCodeInvalidSelector}
	ErrReentrantRender      = &BindError{Type: ErrorTypeRender, Code: ErrCodeReentrantRender}
	ErrNotMarkupRenderer    = &BindError{Type: ErrorTypeRender, Code: ErrCodeNotMarkupRenderer}
)

// BindError is a structured error type with context.
type BindError struct {
	Type    ErrorType
	Code    string
	Message string
	// Name is the logical template name involved, if any.
	Name string
	// URI is the template URI involved, if any.
	URI     string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface.
func (e *BindError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}
	if e.Name != "" {
		parts = append(parts, "template:"+e.Name)
	}
	if e.URI != "" {
		parts = append(parts, "uri:"+e.URI)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	}

	result := strings.Join(parts, " ")
	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *BindError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison.
func (e *BindError) Is(target error) bool {
	var t *BindError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *BindError) WithContext(key string, value interface{}) *BindError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithURI records the URI the error relates to.
func (e *BindError) WithURI(uri string) *BindError {
	e.URI = uri

	return e
}

// Error creation functions

// NewTemplateNotFound reports a render of a name the cache does not hold.
func NewTemplateNotFound(name string) *BindError {
	return &BindError{
		Type:    ErrorTypeNotFound,
		Code:    ErrCodeTemplateNotFound,
		Message: "template not loaded",
		Name:    name,
	}
}

// NewLoadFailure reports a fetch, compile or script failure for name.
func NewLoadFailure(name, uri string, cause error) *BindError {
	return &BindError{
		Type:    ErrorTypeLoad,
		Code:    ErrCodeLoadFailed,
		Message: "load failed",
		Name:    name,
		URI:     uri,
		Cause:   cause,
	}
}

// NewUnsupportedExtension reports a URI whose extension has no loader.
func NewUnsupportedExtension(name, uri, ext string) *BindError {
	msg := "unsupported extension " + ext
	if ext == "" {
		msg = "missing extension"
	}
	return &BindError{
		Type:    ErrorTypeValidation,
		Code:    ErrCodeUnsupportedExtension,
		Message: msg,
		Name:    name,
		URI:     uri,
	}
}

// NewDegenerateName reports a URI without an extension. It is a warning,
// the name is still usable.
func NewDegenerateName(name, uri string) *BindError {
	return &BindError{
		Type:    ErrorTypeValidation,
		Code:    ErrCodeDegenerateName,
		Message: "uri has no extension",
		Name:    name,
		URI:     uri,
	}
}

// NewInvalidSelector reports a selector that does not compile.
func NewInvalidSelector(selector string, cause error) *BindError {
	return &BindError{
		Type:    ErrorTypeValidation,
		Code:    ErrCodeInvalidSelector,
		Message: fmt.Sprintf("invalid selector %q", selector),
		Cause:   cause,
	}
}

// NewReentrantRender reports a render of name started while name was
// already rendering.
func NewReentrantRender(name string) *BindError {
	return &BindError{
		Type:    ErrorTypeRender,
		Code:    ErrCodeReentrantRender,
		Message: "render already in progress",
		Name:    name,
	}
}

// NewNotMarkupRenderer reports a markup request for a template installed
// as a scoped renderer.
func NewNotMarkupRenderer(name string) *BindError {
	return &BindError{
		Type:    ErrorTypeRender,
		Code:    ErrCodeNotMarkupRenderer,
		Message: "scoped renderer cannot return markup, pass a selector",
		Name:    name,
	}
}

// NewRenderError wraps a failure raised by a renderer itself.
func NewRenderError(name string, cause error) *BindError {
	return &BindError{
		Type:    ErrorTypeRender,
		Code:    "ERR_RENDER_FAILED",
		Message: "render failed",
		Name:    name,
		Cause:   cause,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(message string) *BindError {
	return &BindError{
		Type:    ErrorTypeConfig,
		Code:    ErrCodeConfigInvalid,
		Message: message,
	}
}

// IsTemplateNotFound checks if an error reports a missing template.
func IsTemplateNotFound(err error) bool {
	return errors.Is(err, ErrTemplateNotFound)
}

// IsLoadFailure checks if an error reports a failed load.
func IsLoadFailure(err error) bool {
	return errors.Is(err, ErrLoadFailed)
}

// IsUnsupportedExtension checks if an error reports an extension without a
// loader.
func IsUnsupportedExtension(err error) bool {
	return errors.Is(err, ErrUnsupportedExtension)
}

// NameOf returns the template name carried by err, or "".
func NameOf(err error) string {
	var be *BindError
	if errors.As(err, &be) {
		return be.Name
	}
	return ""
}
