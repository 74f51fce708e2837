package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBindError_Error(t *testing.T) {
	err := NewLoadFailure("other", "/tpl/b/other.js", errors.New("connection refused"))

	msg := err.Error()
	assert.Contains(t, msg, "[ERR_LOAD_FAILED]")
	assert.Contains(t, msg, "template:other")
	assert.Contains(t, msg, "uri:/tpl/b/other.js")
	assert.Contains(t, msg, "connection refused")
}

func TestBindError_Is(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{"not found", NewTemplateNotFound("widget"), ErrTemplateNotFound, true},
		{"wrapped not found", fmt.Errorf("render: %w", NewTemplateNotFound("widget")), ErrTemplateNotFound, true},
		{"load vs not found", NewLoadFailure("a", "a.js", nil), ErrTemplateNotFound, false},
		{"unsupported", NewUnsupportedExtension("a", "a.txt", ".txt"), ErrUnsupportedExtension, true},
		{"reentrant", NewReentrantRender("a"), ErrReentrantRender, true},
		{"selector", NewInvalidSelector("[[", nil), ErrInvalidSelector, true},
		{"plain error", errors.New("x"), ErrLoadFailed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errors.Is(tt.err, tt.target))
		})
	}
}

func TestBindError_Unwrap(t *testing.T) {
	cause := errors.New("404")
	err := NewLoadFailure("a", "a.hbs", cause)

	assert.ErrorIs(t, err, cause)
	assert.True(t, IsLoadFailure(err))
	assert.False(t, IsTemplateNotFound(err))
}

func TestHelpers(t *testing.T) {
	assert.True(t, IsTemplateNotFound(NewTemplateNotFound("a")))
	assert.True(t, IsUnsupportedExtension(NewUnsupportedExtension("a", "a", "")))
	assert.Equal(t, "widget", NameOf(fmt.Errorf("x: %w", NewTemplateNotFound("widget"))))
	assert.Equal(t, "", NameOf(errors.New("x")))
	assert.Contains(t, NewUnsupportedExtension("a", "a", "").Error(), "missing extension")
}

func TestWithContext(t *testing.T) {
	err := NewConfigError("bad mode").WithContext("field", "binding.mode")
	assert.Equal(t, "binding.mode", err.Context["field"])
	assert.Equal(t, ErrorTypeConfig, err.Type)
}
