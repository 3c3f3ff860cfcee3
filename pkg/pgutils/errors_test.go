package pgutils

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestIsUniqueViolation(t *testing.T) {
	typed := &pgconn.PgError{Code: CodeUniqueViolation, ConstraintName: "wechat_integrations_open_id_key"}

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "typed", err: typed, want: true},
		{name: "wrapped typed", err: fmt.Errorf("consume: %w", typed), want: true},
		{name: "other typed code", err: &pgconn.PgError{Code: CodeForeignKeyViolation}, want: false},
		{name: "text fallback", err: errors.New("ERROR: duplicate key (SQLSTATE 23505)"), want: true},
		{name: "unrelated", err: errors.New("connection refused"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsUniqueViolation(tt.err))
		})
	}
}

func TestCodeAndConstraint(t *testing.T) {
	err := fmt.Errorf("wrap: %w", &pgconn.PgError{Code: CodeSerializationFailure, ConstraintName: "c"})

	assert.Equal(t, CodeSerializationFailure, Code(err))
	assert.Equal(t, "c", Constraint(err))
	assert.True(t, IsSerializationFailure(err))
	assert.False(t, IsForeignKeyViolation(err))

	assert.Empty(t, Code(errors.New("plain")))
	assert.Empty(t, Constraint(nil))
}
