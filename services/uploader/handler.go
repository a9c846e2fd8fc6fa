package uploader

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"

	"ojsbot-backend/internal/runner"
	"ojsbot-backend/lib/serviceutil"

	"connectrpc.com/connect"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	report_handler_report = "handler.report"
	report_handler_status = "handler.status"
)

type HandlerOptions struct {
	// AccessToken is the bearer token every request except /metrics and the
	// webhook must carry, empty disables authentication.
	AccessToken string
	// Gatherer is served at /metrics when not nil.
	Gatherer prometheus.Gatherer
	// Webhook is mounted at /telegram/webhook when not nil.
	Webhook      http.Handler
	Interceptors []connect.Interceptor
}

// NewHandler mounts the connect procedures and the plain http endpoints.
func NewHandler(s Service, opts HandlerOptions) http.Handler {
	interceptors := append([]connect.Interceptor{
		serviceutil.VerifyAccessTokenInterceptor(opts.AccessToken),
	}, opts.Interceptors...)
	handlerOpts := []connect.HandlerOption{
		connect.WithCodec(serviceutil.JsonCodec{}),
		connect.WithInterceptors(interceptors...),
	}

	mux := http.NewServeMux()
	mux.Handle(StartUploadProcedure, connect.NewUnaryHandler(StartUploadProcedure, s.StartUpload, handlerOpts...))
	mux.Handle(GetRunProcedure, connect.NewUnaryHandler(GetRunProcedure, s.GetRun, handlerOpts...))
	mux.Handle(ListRunsProcedure, connect.NewUnaryHandler(ListRunsProcedure, s.ListRuns, handlerOpts...))
	mux.Handle(AddJournalProcedure, connect.NewUnaryHandler(AddJournalProcedure, s.AddJournal, handlerOpts...))
	mux.Handle(UpdateJournalProcedure, connect.NewUnaryHandler(UpdateJournalProcedure, s.UpdateJournal, handlerOpts...))
	mux.Handle(DeleteJournalProcedure, connect.NewUnaryHandler(DeleteJournalProcedure, s.DeleteJournal, handlerOpts...))
	mux.Handle(ListJournalsProcedure, connect.NewUnaryHandler(ListJournalsProcedure, s.ListJournals, handlerOpts...))

	mux.Handle("GET /reports/{name}", serviceutil.VerifyAccessTokenHandler(opts.AccessToken, http.HandlerFunc(s.serveReport)))
	mux.Handle("GET /api/status", serviceutil.VerifyAccessTokenHandler(opts.AccessToken, http.HandlerFunc(s.serveStatus)))
	if opts.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}
	if opts.Webhook != nil {
		mux.Handle("POST /telegram/webhook", opts.Webhook)
	}
	return mux
}

func (s Service) serveReport(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	path, err := s.reporter.Path(name)
	if errors.Is(err, runner.ErrInvalidReportName) {
		http.Error(w, "invalid report name", http.StatusBadRequest)
		return
	}
	if err != nil {
		s.tel.ReportBroken(report_handler_report, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		http.Error(w, "report not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.tel.ReportBroken(report_handler_report, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		s.tel.ReportBroken(report_handler_report, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeContent(w, r, name, info.ModTime(), f)
}

func (s Service) serveStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(s.Status(r.Context()))
	if err != nil {
		s.tel.ReportWarning(report_handler_status, err)
	}
}
