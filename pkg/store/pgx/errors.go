package pgx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pnptcn/nuner/pkg/common"
)

// classify maps driver errors onto the engine's error taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		code := strings.TrimSpace(pgErr.Code)
		switch {
		case code == "23505":
			return fmt.Errorf("%w: %w", common.ErrAlreadyExists, err) // unique_violation
		case strings.HasPrefix(code, "08"), // connection_exception
			code == "57P01", code == "57P02", code == "57P03", // admin/crash shutdown, cannot connect now
			code == "53300": // too_many_connections
			return common.Unavailable(err)
		case code == "42P01": // undefined_table: schema not migrated
			return common.Unavailable(err)
		}
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || pgconn.Timeout(err) {
		return common.Unavailable(err)
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return common.Unavailable(err)
	}
	if strings.Contains(err.Error(), "closed pool") || strings.Contains(err.Error(), "conn closed") {
		return common.Unavailable(err)
	}
	return err
}

// classifyEdge additionally reports foreign key violations on edge inserts
// as a missing endpoint.
func classifyEdge(err error, source, target string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		if strings.Contains(pgErr.ConstraintName, "target") {
			return fmt.Errorf("%w: %w", common.MissingEndpoint("target", target), err)
		}
		return fmt.Errorf("%w: %w", common.MissingEndpoint("source", source), err)
	}
	return classify(err)
}
