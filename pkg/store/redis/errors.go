package redis

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pnptcn/nuner/pkg/common"
)

var unavailablePrefixes = []string{"LOADING", "MASTERDOWN", "CLUSTERDOWN", "READONLY", "TRYAGAIN"}

// classify maps go-redis errors onto the engine's error taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, goredis.ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return common.Unavailable(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return common.Unavailable(err)
	}
	msg := err.Error()
	if strings.Contains(msg, "pool timeout") || strings.Contains(msg, "connection refused") {
		return common.Unavailable(err)
	}
	for _, p := range unavailablePrefixes {
		if strings.HasPrefix(msg, p) {
			return common.Unavailable(err)
		}
	}
	return err
}
