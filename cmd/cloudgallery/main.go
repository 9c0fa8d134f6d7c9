// cloudgallery serves a research write-up and an image gallery kept in a
// Firebase Storage bucket.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloudgallery/config"
	"cloudgallery/gallery"
	"cloudgallery/healthz"
	"cloudgallery/httpmetrics"
	"cloudgallery/objstore"
	"cloudgallery/objstore/memstore"
	"cloudgallery/webui"

	"contrib.go.opencensus.io/exporter/stackdriver"
	cloudtrace "github.com/GoogleCloudPlatform/opentelemetry-operations-go/exporter/trace"
	"github.com/golang/glog"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

var (
	debugListen = flag.String("debug-listen", "127.0.0.1:8001", "Server address:port for debug endpoint.")
	uiListen    = flag.String("ui-listen", "127.0.0.1:8000", "Server address:port for ui endpoint.")
	stateDir    = flag.String("state-dir", "", "Directory holding the persisted gallery configuration.")

	backend         = flag.String("backend", "gcs", "Object store backend: gcs or memory.")
	credentialsFile = flag.String("credentials-file", "", "Service account key for the gcs backend.  If not specified, the configuration's apiKey or Application Default Credentials are used.")
	memoryBucket    = flag.String("memory-bucket", "demo.appspot.com", "Bucket name served by the memory backend.")

	monitoring           = flag.Bool("monitoring", false, "Enable monitoring?")
	monitoringProject    = flag.String("monitoring-project", "", "Override project used for monitoring integration.  If not specified, the project associated with Application Default Credentials is used.")
	monitoringTraceRatio = flag.Float64("monitoring-trace-ratio", 0.0001, "What ratio of traces should be exported?")
	enableMetrics        = flag.Bool("enable-metrics", false, "Export OpenCensus metrics to Cloud Monitoring?")
)

func main() {
	flag.Parse()

	glog.CopyStandardLogTo("INFO")

	glog.Infof("flags:")
	glog.Infof("debug-listen: %v", *debugListen)
	glog.Infof("ui-listen: %v", *uiListen)
	glog.Infof("state-dir: %v", *stateDir)

	glog.Infof("backend: %v", *backend)
	glog.Infof("credentials-file: %v", *credentialsFile)
	glog.Infof("memory-bucket: %v", *memoryBucket)

	glog.Infof("monitoring: %v", *monitoring)
	glog.Infof("monitoring-project: %v", *monitoringProject)
	glog.Infof("monitoring-trace-ratio: %v", *monitoringTraceRatio)
	glog.Infof("enable-metrics: %v", *enableMetrics)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *monitoring {
		traceOpts := []cloudtrace.Option{}
		if *monitoringProject != "" {
			traceOpts = append(traceOpts, cloudtrace.WithProjectID(*monitoringProject))
		}

		_, traceShutdown, err := cloudtrace.InstallNewPipeline(traceOpts, sdktrace.WithSampler(sdktrace.TraceIDRatioBased(*monitoringTraceRatio)))
		if err != nil {
			glog.Exitf("Failed to install Cloud Trace OpenTelemetry trace pipeline: %v", err)
		}
		defer traceShutdown()
	}

	if err := do(ctx); err != nil {
		glog.Exitf("Error: %v", err)
	}
}

func newDialer() (objstore.Dialer, error) {
	switch *backend {
	case "gcs":
		return &objstore.GCSDialer{CredentialsFile: *credentialsFile}, nil
	case "memory":
		b := memstore.New(*memoryBucket)
		b.Now = time.Now
		return memstore.NewDialer(b), nil
	}
	return nil, fmt.Errorf("unknown backend %q", *backend)
}

func do(ctx context.Context) error {
	if *stateDir == "" {
		return fmt.Errorf("-state-dir is required")
	}

	store, err := config.OpenStore(*stateDir)
	if err != nil {
		return fmt.Errorf("while opening configuration store: %w", err)
	}
	defer store.Close()

	dialer, err := newDialer()
	if err != nil {
		return fmt.Errorf("while creating object store dialer: %w", err)
	}

	ui := webui.New(ctx, store, dialer)
	defer ui.Close()

	debugServeMux := http.NewServeMux()
	debugServeMux.Handle("/healthz", healthz.New())
	debugServeMux.Handle("/readyz", healthz.NewReadiness(ui.Ready))
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

	uiServeMux := http.NewServeMux()
	ui.Register(uiServeMux)
	uiHandler := httpmetrics.New(uiServeMux, webui.Routes...)
	uiServer := &http.Server{
		Addr:    *uiListen,
		Handler: uiHandler,

		// Uploads are received and forwarded to the bucket within one request.
		ReadTimeout:    5 * time.Minute,
		WriteTimeout:   5 * time.Minute,
		MaxHeaderBytes: 1 << 20,
	}

	if *enableMetrics {
		if err := gallery.RegisterViews(); err != nil {
			return fmt.Errorf("while registering gallery views: %w", err)
		}
		if err := uiHandler.RegisterMetrics(); err != nil {
			return fmt.Errorf("while registering http views: %w", err)
		}

		exporter, err := stackdriver.NewExporter(stackdriver.Options{
			ProjectID:         *monitoringProject,
			MetricPrefix:      "cloudgallery",
			ReportingInterval: 60 * time.Second,
		})
		if err != nil {
			return fmt.Errorf("while creating Stackdriver exporter: %w", err)
		}
		if err := exporter.StartMetricsExporter(); err != nil {
			return fmt.Errorf("while starting metrics exporter: %w", err)
		}
		defer exporter.Flush()
		defer exporter.StopMetricsExporter()
	}

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

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	<-signalCh

	glog.Flush()

	return nil
}
