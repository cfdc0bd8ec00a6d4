// Command pesajesctl is the operator console of the weighing register.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/chaquecarne/pesajes/internal/app"
	"github.com/chaquecarne/pesajes/internal/register"
)

// state is shared by every command once Before has loaded the config.
type state struct {
	cfg    *app.Config
	logger *slog.Logger
	out    io.Writer
	errOut io.Writer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args, os.Stdout, os.Stderr))
}

// run executes the console and returns the process exit code. Controller
// errors print only their operator message.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	err := newApp(stdout, stderr).RunContext(ctx, args)
	if err == nil {
		return 0
	}
	var ue *register.UserError
	if errors.As(err, &ue) {
		fmt.Fprintln(stderr, ue.Message)
	} else {
		fmt.Fprintln(stderr, err)
	}
	return 1
}

func newApp(stdout, stderr io.Writer) *cli.App {
	st := &state{out: stdout, errOut: stderr}
	return &cli.App{
		Name:      "pesajesctl",
		Usage:     "consola del registro de pesajes",
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "profile", Usage: "override DB_PROFILE (postgres, mysql, sqlite)", EnvVars: []string{"PESAJESCTL_PROFILE"}},
			&cli.StringFlag{Name: "sqlite", Usage: "override SQLITE_PATH"},
		},
		Before: func(c *cli.Context) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			if p := c.String("profile"); p != "" {
				cfg.DBProfile = p
			}
			if p := c.String("sqlite"); p != "" {
				cfg.SQLitePath = p
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			st.cfg = cfg
			st.logger = app.NewLoggerTo(cfg, st.errOut)
			return nil
		},
		Commands: []*cli.Command{
			st.decodeCommand(),
			st.encodeCommand(),
			st.scanCommand(),
			st.productCommand(),
			st.sellerCommand(),
			st.weighCommand(),
			st.recentCommand(),
			st.historyCommand(),
			st.statsCommand(),
			st.exportCommand(),
			st.migrateCommand(),
			st.seedCommand(),
			st.queueCommand(),
		},
	}
}

// withRuntime opens the store for the duration of one command.
func (st *state) withRuntime(c *cli.Context, fn func(rt *app.Runtime, out io.Writer) error) error {
	rt, err := app.Bootstrap(c.Context, st.cfg, st.logger, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			st.logger.Warn("close runtime", slog.Any("error", err))
		}
	}()
	return fn(rt, st.out)
}
