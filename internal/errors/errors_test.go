package errors_test

import (
	stderrors "errors"
	"fmt"
	"testing"

	"codeberg.org/mutker/sensorctl/internal/errors"
	"github.com/stretchr/testify/assert"
)

func TestErrorMessage(t *testing.T) {
	errFactory := errors.New()

	assert.Equal(t, "Resource not found", errFactory.New(errors.ErrResourceNotFound).Error())
	assert.Equal(t, "custom", errFactory.WithMessage(errors.ErrInternal, "custom").Error())
	assert.Equal(t, "Invalid parameters: no domain selected",
		errFactory.WithData(errors.ErrInvalidParams, "no domain selected").Error())

	wrapped := errFactory.Wrap(errors.ErrExportFailure, fmt.Errorf("boom"))
	assert.Equal(t, "Failed to export report: boom", wrapped.Error())
}

func TestHasCode(t *testing.T) {
	errFactory := errors.New()
	base := stderrors.New("disk full")
	err := fmt.Errorf("export: %w", errFactory.Wrap(errors.ErrExportFailure, base))

	assert.True(t, errors.HasCode(err, errors.ErrExportFailure))
	assert.False(t, errors.HasCode(err, errors.ErrRunInProgress))
	assert.ErrorIs(t, err, base)
	assert.Equal(t, errors.ErrExportFailure, errors.CodeOf(err))
	assert.Equal(t, errors.ErrInternal, errors.CodeOf(base))
}

func TestWithDataKeepsCode(t *testing.T) {
	errFactory := errors.New()
	err := errFactory.New(errors.ErrDuplicateName).WithData("camera")

	assert.Equal(t, errors.ErrDuplicateName, err.Code())
	assert.Equal(t, "camera", err.GetData())
	assert.True(t, errors.HasCode(err, errors.ErrDuplicateName))
}
