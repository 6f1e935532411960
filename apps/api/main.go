package main

import (
	"context"
	"expvar"
	"fmt"
	"log"
	"net"
	"net/http"
	_ "net/http/pprof"

	"github.com/jmoiron/sqlx"

	dig_container "github.com/trezcool/attendance/apps/api/di/dig"
	echoapi "github.com/trezcool/attendance/apps/api/echo"
	"github.com/trezcool/attendance/core"
	livesvc "github.com/trezcool/attendance/services/live"
	telemetrysvc "github.com/trezcool/attendance/services/telemetry"
)

func main() {
	c := dig_container.New()

	must(c.Invoke(func(
		conf *core.Config,
		apiLogger core.Logger,
		dbLoggerParam dig_container.DBLoggerParam,
		grpcLoggerParam dig_container.GRPCLoggerParam,
		db *sqlx.DB,
		server *echoapi.Server,
		telemetry *telemetrysvc.Server,
		hub *livesvc.Hub,
		jobs dig_container.Jobs,
	) {
		// =========================================================================
		// Initialize App

		apiLogger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))

		if err := core.ParseEmailTemplates(apiLogger); err != nil {
			apiLogger.Fatal(fmt.Sprintf("parsing email templates: %v", err), err)
		}

		dbLogger := dbLoggerParam.Logger
		defer func() {
			if err := db.Close(); err != nil {
				dbLogger.Fatal("Failed to close", err)
			}
		}()
		defer apiLogger.Info("Application stopped")

		// =========================================================================
		// Start Debug Service
		//
		// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
		// /debug/vars - Added to the default mux by importing the expvar package.

		expvar.NewString("build").Set(conf.Build)
		expvar.NewString("env").Set(conf.Env)

		go func() {
			if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
				apiLogger.Error(fmt.Sprintf("debug server closed: %v", err), err)
			}
		}()

		// =========================================================================
		// Start Telemetry Service

		grpcLogger := grpcLoggerParam.Logger
		lis, err := net.Listen("tcp", conf.Server.GRPCAddress)
		if err != nil {
			grpcLogger.Fatal(fmt.Sprintf("listening on %s: %v", conf.Server.GRPCAddress, err), err)
		}
		stopTelemetry := telemetrysvc.Serve(telemetrysvc.NewGRPCServer(telemetry), lis, grpcLogger)
		grpcLogger.Info(fmt.Sprintf("telemetry listening on %s", lis.Addr()))

		// =========================================================================
		// Start Background Jobs

		jobsCtx, stopJobs := context.WithCancel(context.Background())
		jobsDone := runJobs(jobsCtx, jobs)

		// =========================================================================
		// Start API Service

		go func() {
			server.Start()
		}()

		// =========================================================================
		// Shutdown

		select {
		case err := <-server.Errors():
			apiLogger.Error(fmt.Sprintf("server error: %v", err), err)

		case sig := <-server.ShutdownSignal():
			apiLogger.Info(fmt.Sprintf("%v: Start shutdown...", sig))
		}

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		stopJobs()
		hub.Close()

		// asking listener to shut down and shed load
		if err := server.Shutdown(ctx); err != nil {
			apiLogger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				apiLogger.Error(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
		if err := stopTelemetry(ctx); err != nil {
			grpcLogger.Error(fmt.Sprintf("could not stop telemetry gracefully: %v", err), err)
		}
		<-jobsDone
	}))
}

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}
