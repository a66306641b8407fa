package errors

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestMapDBError_NilError(t *testing.T) {
	if err := MapDBError(nil); err != nil {
		t.Errorf("MapDBError(nil) = %v, want nil", err)
	}
}

func TestMapDBError_Codes(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCode  ErrorCode
		wantField string
	}{
		{name: "deadline exceeded", err: context.DeadlineExceeded, wantCode: ErrCodeTimeout},
		{name: "canceled", err: fmt.Errorf("query: %w", context.Canceled), wantCode: ErrCodeCanceled},
		{name: "pgx no rows", err: pgx.ErrNoRows, wantCode: ErrCodeNotFound},
		{name: "sql no rows", err: sql.ErrNoRows, wantCode: ErrCodeNotFound},
		{
			name:      "unique violation with column",
			err:       &pgconn.PgError{Code: pgerrcode.UniqueViolation, ColumnName: "line_user_id"},
			wantCode:  ErrCodeConflict,
			wantField: "line_user_id",
		},
		{
			name: "unique violation from detail",
			err: &pgconn.PgError{
				Code:   pgerrcode.UniqueViolation,
				Detail: "Key (student_code)=(S001) already exists.",
			},
			wantCode:  ErrCodeConflict,
			wantField: "student_code",
		},
		{
			name:     "foreign key violation",
			err:      &pgconn.PgError{Code: pgerrcode.ForeignKeyViolation},
			wantCode: ErrCodeForeignKey,
		},
		{
			name:      "check violation",
			err:       &pgconn.PgError{Code: pgerrcode.CheckViolation, ColumnName: "risk_level"},
			wantCode:  ErrCodeValidation,
			wantField: "risk_level",
		},
		{
			name:     "not null violation",
			err:      &pgconn.PgError{Code: pgerrcode.NotNullViolation},
			wantCode: ErrCodeValidation,
		},
		{
			name:     "query canceled by server",
			err:      &pgconn.PgError{Code: pgerrcode.QueryCanceled},
			wantCode: ErrCodeCanceled,
		},
		{
			name:     "other postgres error",
			err:      &pgconn.PgError{Code: pgerrcode.DeadlockDetected},
			wantCode: ErrCodeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := MapDBError(tt.err)
			if got := CodeOf(err); got != tt.wantCode {
				t.Errorf("MapDBError() code = %v, want %v", got, tt.wantCode)
			}
			if got := FieldOf(err); got != tt.wantField {
				t.Errorf("MapDBError() field = %q, want %q", got, tt.wantField)
			}
			if !errors.Is(err, tt.err) {
				t.Errorf("MapDBError() should wrap the original error")
			}
		})
	}
}

func TestMapDBError_ForeignKeyMessage(t *testing.T) {
	err := MapDBError(&pgconn.PgError{
		Code:   pgerrcode.ForeignKeyViolation,
		Detail: `Key (student_id)=(abc) is not present in table "students".`,
	})
	var appErr *AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError, got %T", err)
	}
	if !strings.Contains(appErr.Message, "referenced student does not exist") {
		t.Errorf("unexpected message %q", appErr.Message)
	}
}

func TestMapDBError_PassThrough(t *testing.T) {
	orig := errors.New("boom")
	if err := MapDBError(orig); !errors.Is(err, orig) || CodeOf(err) != "" {
		t.Errorf("MapDBError() = %v, want original error", err)
	}
}
