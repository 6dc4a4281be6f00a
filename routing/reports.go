package routing

import (
	"encoding/json"
	"net/http"

	"github.com/netcompare/transfer/data"
	"go.uber.org/zap"
)

type reportsRouter struct {
	results data.Results
	summary data.Summary
	logger  *zap.Logger

	definitions []*Definition
}

func NewReportsRouter(results data.Results, summary data.Summary, logger *zap.Logger) Router {
	rR := &reportsRouter{
		results:     results,
		summary:     summary,
		logger:      logger,
		definitions: make([]*Definition, 0),
	}
	rR.setup()

	return rR
}

func (r *reportsRouter) setup() {
	r.definitions =
		append(r.definitions,
			&Definition{
				Path:    "/reports",
				Handler: r.handleList,
			},
			&Definition{
				Path:    "/reports/summary",
				Handler: r.handleSummary,
			},
		)
}

func (r *reportsRouter) Get() []*Definition {
	return r.definitions
}

func (r *reportsRouter) handleList(w http.ResponseWriter, req *http.Request) {
	defer func() { _ = req.Body.Close() }()

	if req.Method != http.MethodGet {
		w.WriteHeader(406)
		return
	}
	if r.results == nil {
		w.WriteHeader(503)
		return
	}

	reports, err := r.results.List(req.URL.Query().Get("protocol"))
	if err != nil {
		w.WriteHeader(500)
		r.logger.Error("Report listing request is failed", zap.Error(err))
		return
	}

	if err := json.NewEncoder(w).Encode(reports); err != nil {
		w.WriteHeader(500)
		r.logger.Error("Response of report listing request is failed", zap.Error(err))
	}
}

func (r *reportsRouter) handleSummary(w http.ResponseWriter, req *http.Request) {
	defer func() { _ = req.Body.Close() }()

	if req.Method != http.MethodGet {
		w.WriteHeader(406)
		return
	}
	if r.summary == nil {
		w.WriteHeader(503)
		return
	}

	latest, err := r.summary.Latest()
	if err != nil {
		w.WriteHeader(500)
		r.logger.Error("Summary request is failed", zap.Error(err))
		return
	}

	if err := json.NewEncoder(w).Encode(latest); err != nil {
		w.WriteHeader(500)
		r.logger.Error("Response of summary request is failed", zap.Error(err))
	}
}

var _ Router = &reportsRouter{}
