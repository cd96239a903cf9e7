package camunda

import (
	stderrors "errors"
	"testing"

	"sgpa-enrollment/internal/common/errors"

	"github.com/stretchr/testify/assert"
)

func TestMapZeebeError(t *testing.T) {
	tests := []struct {
		msg  string
		want errors.ErrorCode
	}{
		{"rpc error: code = Unavailable desc = connection refused", errors.ErrCodeExternalService},
		{"context deadline exceeded", errors.ErrCodeTimeout},
		{"process definition with BPMN id 'sgpa' not found", errors.ErrCodeNotFound},
		{"rpc error: code = Unauthenticated", errors.ErrCodeAuthentication},
		{"something odd", errors.ErrCodeExternalService},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			err := MapZeebeError(stderrors.New(tt.msg), "create-instance")
			assert.Equal(t, tt.want, errors.CodeOf(err))
			assert.Contains(t, err.Error(), "create-instance")
		})
	}
}
