package neo4j

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	neo4jv5 "github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/pnptcn/nuner/pkg/common"
)

// classify maps driver errors onto the engine's error taxonomy. Errors that
// already carry an engine sentinel pass through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	for _, sentinel := range []error{
		common.ErrAlreadyExists, common.ErrNotFound, common.ErrMissingEndpoint,
		common.ErrSchemaConflict, common.ErrBackendUnavailable,
	} {
		if errors.Is(err, sentinel) {
			return err
		}
	}

	var dbErr *neo4jv5.Neo4jError
	if errors.As(err, &dbErr) {
		code := dbErr.Code
		switch {
		case code == "Neo.ClientError.Schema.ConstraintValidationFailed":
			return fmt.Errorf("%w: %w", common.ErrAlreadyExists, err)
		case strings.HasPrefix(code, "Neo.TransientError."),
			strings.HasPrefix(code, "Neo.ClientError.Security."),
			code == "Neo.ClientError.Database.DatabaseNotFound":
			return common.Unavailable(err)
		case strings.HasPrefix(code, "Neo.ClientError.Schema."):
			return common.SchemaConflict(err)
		}
		return err
	}

	if neo4jv5.IsConnectivityError(err) || neo4jv5.IsTransactionExecutionLimit(err) {
		return common.Unavailable(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return common.Unavailable(err)
	}
	return err
}

// isConstraintViolation reports a uniqueness race on the node id constraint.
func isConstraintViolation(err error) bool {
	var dbErr *neo4jv5.Neo4jError
	return errors.As(err, &dbErr) && dbErr.Code == "Neo.ClientError.Schema.ConstraintValidationFailed"
}
