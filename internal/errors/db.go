package errors

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// reKeyField extracts the column from "Key (field)=(value) already exists.".
	reKeyField = regexp.MustCompile(`Key \(([^)]+)\)=`)
	// reNotPresent extracts the parent table from "... is not present in table ...".
	reNotPresent = regexp.MustCompile(`is not present in table "?([^"]+)"?`)
)

// MapDBError maps database errors to AppError instances. Unrecognized errors are returned unchanged.
func MapDBError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &AppError{Code: ErrCodeTimeout, Message: "Request timed out. Please try again.", Cause: err}
	}
	if errors.Is(err, context.Canceled) {
		return &AppError{Code: ErrCodeCanceled, Message: "Request was canceled.", Cause: err}
	}
	if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
		return &AppError{Code: ErrCodeNotFound, Message: "Resource not found", Cause: err}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return mapPgError(pgErr)
	}
	return err
}

func mapPgError(pgErr *pgconn.PgError) error {
	switch pgErr.Code {
	case pgerrcode.UniqueViolation:
		field := pgErr.ColumnName
		if field == "" {
			if m := reKeyField.FindStringSubmatch(pgErr.Detail); len(m) == 2 {
				field = m[1]
			}
		}
		return &AppError{
			Code:    ErrCodeConflict,
			Message: "This value already exists.",
			Field:   field,
			Cause:   pgErr,
		}
	case pgerrcode.ForeignKeyViolation:
		message := "Cannot complete operation because a referenced record does not exist."
		if m := reNotPresent.FindStringSubmatch(pgErr.Detail); len(m) == 2 {
			message = "Cannot complete operation because the referenced " + tableToDomain(m[1]) + " does not exist."
		}
		return &AppError{Code: ErrCodeForeignKey, Message: message, Cause: pgErr}
	case pgerrcode.CheckViolation, pgerrcode.NotNullViolation:
		message := "Invalid data. Please check your input."
		if pgErr.ColumnName != "" {
			message = "This field has an invalid value."
		}
		return &AppError{Code: ErrCodeValidation, Message: message, Field: pgErr.ColumnName, Cause: pgErr}
	case pgerrcode.QueryCanceled:
		return &AppError{Code: ErrCodeCanceled, Message: "Request was canceled.", Cause: pgErr}
	default:
		return &AppError{Code: ErrCodeInternal, Message: "A database error occurred. Please try again.", Cause: pgErr}
	}
}

func tableToDomain(table string) string {
	switch strings.ToLower(strings.TrimSpace(table)) {
	case "students":
		return "student"
	case "staff":
		return "staff member"
	case "assessments":
		return "assessment"
	case "cases":
		return "case"
	case "appointments":
		return "appointment"
	default:
		return strings.ReplaceAll(table, "_", " ")
	}
}
