package handler

import (
	"context"
	"errors"

	"connectrpc.com/connect"

	"repoaudit/internal/gateway/run"
	"repoaudit/internal/repo"
	"repoaudit/internal/stats"
)

func connectError(err error) error {
	if err == nil {
		return nil
	}
	var code connect.Code
	switch {
	case errors.Is(err, repo.ErrInvalidReference):
		code = connect.CodeInvalidArgument
	case errors.Is(err, stats.ErrRateLimited):
		code = connect.CodeResourceExhausted
	case errors.Is(err, stats.ErrRepoNotFound), errors.Is(err, run.ErrRunNotFound):
		code = connect.CodeNotFound
	case errors.Is(err, stats.ErrMetadataFetch):
		code = connect.CodeUnavailable
	case errors.Is(err, context.Canceled):
		code = connect.CodeCanceled
	case errors.Is(err, context.DeadlineExceeded):
		code = connect.CodeDeadlineExceeded
	default:
		code = connect.CodeInternal
	}
	return connect.NewError(code, err)
}
