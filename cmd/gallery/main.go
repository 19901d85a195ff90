// gallery serves the prompt-gallery JSON API.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"promptgallery/blobstore"
	"promptgallery/dblayer"
	"promptgallery/dbtypes"
	"promptgallery/healthz"
	"promptgallery/httpmetrics"
	"promptgallery/promptapi"
	"promptgallery/webui"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"
	cloudmetrics "github.com/GoogleCloudPlatform/opentelemetry-operations-go/exporter/metric"
	cloudtrace "github.com/GoogleCloudPlatform/opentelemetry-operations-go/exporter/trace"
	"github.com/golang/glog"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	googleopt "google.golang.org/api/option"
)

var (
	debugListen          = flag.String("debug-listen", "127.0.0.1:8001", "Server address:port for debug endpoint.")
	uiListen             = flag.String("ui-listen", "127.0.0.1:8000", "Server address:port for the API endpoint.")
	dataProject          = flag.String("data-project", "", "GCP project that contains the application state.")
	imagesBucket         = flag.String("images-bucket", "", "GCS bucket for execution image blobs.")
	promptAPIEndpoint    = flag.String("prompt-api-endpoint", "", "Base URL of the upstream prompt-template API.")
	googleOAuthClientID  = flag.String("google-oauth-client-id", "", "OAuth client ID expected as the audience of sign-in ID tokens.")
	adminUsers           = flag.String("admin-users", "", "Comma-separated user IDs allowed to run administrative operations.")
	monitoring           = flag.Bool("monitoring", false, "Enable monitoring?")
	monitoringProject    = flag.String("monitoring-project", "", "Override project used for monitoring integration.  If not specified, the project associated with Application Default Credentials is used.")
	monitoringTraceRatio = flag.Float64("monitoring-trace-ratio", 0.0001, "What ratio of traces should be exported?")
)

func main() {
	flag.Parse()

	glog.CopyStandardLogTo("INFO")

	glog.Infof("flags:")
	glog.Infof("debug-listen: %q", *debugListen)
	glog.Infof("ui-listen: %q", *uiListen)
	glog.Infof("data-project: %q", *dataProject)
	glog.Infof("images-bucket: %q", *imagesBucket)
	glog.Infof("prompt-api-endpoint: %q", *promptAPIEndpoint)
	glog.Infof("google-oauth-client-id: %q", *googleOAuthClientID)
	glog.Infof("admin-users: %q", *adminUsers)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := do(ctx); err != nil {
		glog.Exitf("Error: %v", err)
	}
}

func do(ctx context.Context) error {
	if *monitoring {
		metricsOpts := []cloudmetrics.Option{}
		traceOpts := []cloudtrace.Option{}
		if *monitoringProject != "" {
			metricsOpts = append(metricsOpts, cloudmetrics.WithProjectID(*monitoringProject))
			traceOpts = append(traceOpts, cloudtrace.WithProjectID(*monitoringProject))
		}

		_, traceShutdown, err := cloudtrace.InstallNewPipeline(traceOpts, sdktrace.WithSampler(sdktrace.TraceIDRatioBased(*monitoringTraceRatio)))
		if err != nil {
			return fmt.Errorf("while installing Cloud Trace OpenTelemetry trace pipeline: %w", err)
		}
		defer traceShutdown()

		pusher, err := cloudmetrics.InstallNewPipeline(metricsOpts)
		if err != nil {
			return fmt.Errorf("while installing Cloud Metrics OpenTelemetry meter pipeline: %w", err)
		}
		defer pusher.Stop(ctx)
	}

	fstore, err := firestore.NewClient(ctx, *dataProject)
	if err != nil {
		return fmt.Errorf("while creating Firestore client: %w", err)
	}

	gcs, err := storage.NewClient(ctx, googleopt.WithGRPCConnectionPool(1))
	if err != nil {
		return fmt.Errorf("while creating GCS client: %w", err)
	}

	upstream := promptapi.New(&http.Client{Timeout: 60 * time.Second}, *promptAPIEndpoint, os.Getenv("PROMPT_API_KEY"))
	blobs := blobstore.New(gcs, *imagesBucket)
	db := dblayer.New(fstore, upstream, blobs)

	ready := healthz.NewGated()
	debugServeMux := http.NewServeMux()
	debugServeMux.Handle("/healthz", healthz.New())
	debugServeMux.Handle("/readyz", ready)
	debugServeMux.HandleFunc("/debug/pprof/", pprof.Index)
	debugServeMux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	debugServeMux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	debugServeMux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	debugServeMux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	debugServer := &http.Server{
		Addr:    *debugListen,
		Handler: debugServeMux,

		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	var admins []string
	if *adminUsers != "" {
		admins = strings.Split(*adminUsers, ",")
	}

	ui := webui.New(db, *googleOAuthClientID, admins)
	uiServeMux := http.NewServeMux()
	ui.Register(uiServeMux)

	metricsWrapper := httpmetrics.New(uiServeMux)
	metricsWrapper.RegisterMetrics()

	uiServer := &http.Server{
		Addr:    *uiListen,
		Handler: metricsWrapper,

		ReadTimeout:    30 * time.Second,
		WriteTimeout:   120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	// Keep the tag registry warm in logs; the UI consumes the same stream
	// through Firestore snapshots directly.
	go func() {
		err := db.SubscribeTags(ctx, func(registry *dbtypes.TagRegistry) {
			glog.Infof("Tag registry updated: %d tags as of %v", len(registry.Tags), registry.LastUpdated)
		})
		if err != nil {
			glog.Errorf("Tag registry watch died: %v", err)
		}
	}()

	go func() {
		if err := debugServer.ListenAndServe(); err != nil {
			glog.Fatalf("Debug server died: %v", err)
		}
	}()

	go func() {
		if err := uiServer.ListenAndServe(); err != nil {
			glog.Fatalf("UI server died: %v", err)
		}
	}()

	ready.SetReady()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	<-signalCh

	glog.Flush()

	return nil
}
