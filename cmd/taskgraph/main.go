package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go-taskgraph/internal/config"
	"go-taskgraph/internal/ctxlog"

	"github.com/alecthomas/kong"
)

var version = "dev"

type CLI struct {
	config.Logging `embed:""`

	Version kong.VersionFlag `help:"Print the version and exit."`

	Server ServerCmd `cmd:"" help:"Serve the task graph API and run the coordinator."`
	Worker WorkerCmd `cmd:"" help:"Execute released tasks."`
	Submit SubmitCmd `cmd:"" help:"Submit an HCL graph definition to the API."`
	Settle SettleCmd `cmd:"" help:"Release the ready tasks a failed submit left behind."`
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("taskgraph"),
		kong.Description("Dependency-resolving task graph scheduler."),
		kong.UsageOnError(),
		kong.Vars{"version": version},
	)

	logger := cli.NewLogger(os.Stderr)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = ctxlog.WithLogger(ctx, logger)

	kctx.BindTo(ctx, (*context.Context)(nil))
	kctx.Bind(logger)
	kctx.FatalIfErrorf(kctx.Run())
}
