package app

import (
	"database/sql"
	"errors"
	"log"
	"net/http"

	"scrivono/api/internal/auth"
	"scrivono/api/internal/domain"
)

const genericFailure = "Something went wrong, please try again."

var kindCodes = map[domain.Kind]struct {
	status int
	code   string
}{
	domain.KindAuthentication: {http.StatusUnauthorized, "UNAUTHENTICATED"},
	domain.KindValidation:     {http.StatusBadRequest, "BAD_USER_INPUT"},
	domain.KindSelfFollow:     {http.StatusBadRequest, "BAD_USER_INPUT"},
	domain.KindDuplicateEdge:  {http.StatusBadRequest, "BAD_USER_INPUT"},
	domain.KindNoSuchEdge:     {http.StatusBadRequest, "BAD_USER_INPUT"},
	domain.KindNotFound:       {http.StatusNotFound, "NOT_FOUND"},
	domain.KindForbidden:      {http.StatusForbidden, "FORBIDDEN"},
	domain.KindConflict:       {http.StatusConflict, "CONFLICT"},
	domain.KindReconciliation: {http.StatusServiceUnavailable, "RECONCILIATION_FAILED"},
}

func mapError(err error) (status int, code, message string, details any) {
	if kind := domain.KindOf(err); kind != "" {
		mapped := kindCodes[kind]
		var detail any
		if kind != domain.KindValidation && kind != domain.KindNotFound {
			detail = string(kind)
		}
		return mapped.status, mapped.code, domain.Public(err), detail
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) {
		return http.StatusUnauthorized, "UNAUTHENTICATED", domain.ErrAuthentication.Message, nil
	}
	return http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", genericFailure, nil
}

// gqlError carries the API error code to the GraphQL response as extensions.code.
type gqlError struct {
	message    string
	extensions map[string]interface{}
}

func (e *gqlError) Error() string { return e.message }

func (e *gqlError) Extensions() map[string]interface{} { return e.extensions }

func toGraphQLError(op string, err error) error {
	if err == nil {
		return nil
	}
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		log.Printf("graphql: %s: %v", op, err)
	}
	extensions := map[string]interface{}{"code": code}
	if details != nil {
		extensions["kind"] = details
	}
	if domain.Retryable(err) {
		extensions["retryable"] = true
	}
	return &gqlError{message: message, extensions: extensions}
}
