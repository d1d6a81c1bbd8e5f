package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/0xmhha/contract-explorer/internal/logger"
	apimiddleware "github.com/0xmhha/contract-explorer/pkg/api/middleware"
	"github.com/0xmhha/contract-explorer/pkg/explorer"
	"github.com/0xmhha/contract-explorer/pkg/types"
)

// InteractionsResponse is the body of a successful interactions request
type InteractionsResponse struct {
	*types.Result
	// Events are the operator-visible entries emitted during the run
	Events []logger.Event `json:"events"`
}

func (s *Server) handleInteractions(w http.ResponseWriter, r *http.Request) {
	q, err := parseInteractionsQuery(chi.URLParam(r, "address"), r.URL.Query())
	if err != nil {
		apimiddleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var events logger.Collector
	q.Sink = events.Sink()

	ctx := r.Context()
	if s.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.RequestTimeout)
		defer cancel()
	}

	result, err := s.explorer.Discover(ctx, q)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			s.logger.Warn("interactions request failed",
				zap.String("address", q.Address),
				zap.String("network", q.Network),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.Error(err))
		}
		apimiddleware.WriteError(w, status, err.Error())
		return
	}

	collected := events.Events()
	if collected == nil {
		collected = []logger.Event{}
	}
	writeJSON(w, http.StatusOK, InteractionsResponse{
		Result: result,
		Events: collected,
	})
}

// statusFor maps a discovery error onto an HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, explorer.ErrInvalidQuery), errors.Is(err, explorer.ErrUnknownNetwork):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// parseInteractionsQuery builds a query from the path address and the URL parameters.
// Range and paging checks beyond syntax are left to the explorer.
func parseInteractionsQuery(address string, v url.Values) (types.Query, error) {
	q := types.Query{
		Address: address,
		Network: v.Get("network"),
	}

	var err error
	if q.From, err = optionalInt64(v, "from"); err != nil {
		return q, err
	}
	if q.To, err = optionalInt64(v, "to"); err != nil {
		return q, err
	}
	if q.Page, err = optionalInt(v, "page"); err != nil {
		return q, err
	}
	if q.PageSize, err = optionalInt(v, "pageSize"); err != nil {
		return q, err
	}
	if q.TraceBudget, err = optionalInt(v, "traceBudget"); err != nil {
		return q, err
	}

	if raw := v.Get("kind"); raw != "" {
		kind, ok := types.ParseKind(raw)
		if !ok {
			return q, fmt.Errorf("invalid kind %q", raw)
		}
		q.Filters.Kind = kind
	}
	q.Filters.Method = v.Get("method")
	if raw := v.Get("status"); raw != "" {
		status, ok := types.ParseStatus(raw)
		if !ok {
			return q, fmt.Errorf("invalid status %q", raw)
		}
		q.Filters.Status = status
	}
	if raw := v.Get("minFee"); raw != "" {
		if q.Filters.MinFee, err = types.ParseFee(raw); err != nil {
			return q, err
		}
	}
	if raw := v.Get("maxFee"); raw != "" {
		if q.Filters.MaxFee, err = types.ParseFee(raw); err != nil {
			return q, err
		}
	}
	return q, nil
}

func optionalInt64(v url.Values, name string) (*int64, error) {
	raw := v.Get(name)
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q", name, raw)
	}
	return &n, nil
}

func optionalInt(v url.Values, name string) (int, error) {
	raw := v.Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return n, nil
}
