// Package cli implements the hweb command line interface.
package cli

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/headlessweb/hweb/browser"
	"github.com/headlessweb/hweb/engine/webkit"
	"github.com/headlessweb/hweb/log"
	"github.com/headlessweb/hweb/metrics"
	"github.com/headlessweb/hweb/trace"
)

// Exit codes. Conditions that were checked and found unmet exit with
// codeUnmet so scripts can branch without parsing output; hard failures
// (bad flags, engine unreachable) use codeError.
const (
	codeOK    = 0
	codeUnmet = 1
	codeError = 2
)

var (
	okMark   = color.New(color.FgGreen).SprintFunc()
	failMark = color.New(color.FgRed).SprintFunc()
	infoMark = color.New(color.FgCyan).SprintFunc()
)

// exitError carries an explicit exit code through RunE.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

func unmet(format string, args ...any) error {
	return &exitError{code: codeUnmet, msg: fmt.Sprintf(format, args...)}
}

// NewRootCommand builds the hweb command tree.
func NewRootCommand() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:           "hweb",
		Short:         "Event-driven headless browser automation",
		Long:          "hweb drives a headless WebKit engine over its remote socket,\nwaiting on real browser events instead of sleeps.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			if cfg := v.GetString("config"); cfg != "" {
				v.SetConfigFile(cfg)
				if err := v.ReadInConfig(); err != nil {
					return errors.Wrap(err, "reading config")
				}
			}
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "config file")
	flags.String("engine-url", "ws://127.0.0.1:9223/session", "engine websocket endpoint")
	flags.Duration("timeout", 10*time.Second, "default wait timeout")
	flags.String("log-level", "warning", "log level (trace, debug, info, warning, error)")
	flags.String("log-category", "", "regexp filtering log categories")
	flags.String("session-dir", defaultSessionDir(), "directory session records are stored in")
	flags.Bool("trace", false, "export trace spans to stderr")
	flags.Bool("metrics", false, "dump collected metrics to stderr on exit")

	v.SetEnvPrefix("HWEB")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root.AddCommand(
		newOpenCommand(v),
		newWaitCommand(v),
		newExistsCommand(v),
		newFillCommand(v),
		newClickCommand(v),
		newSessionCommand(v),
	)
	return root
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	err := NewRootCommand().Execute()
	if err == nil {
		return codeOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.msg != "" {
			fmt.Fprintln(os.Stderr, failMark("✗"), ee.msg)
		}
		return ee.code
	}
	fmt.Fprintln(os.Stderr, failMark("✗"), err)
	return codeError
}

func defaultSessionDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".hweb/sessions"
	}
	return home + "/.hweb/sessions"
}

func newLogger(v *viper.Viper) (*log.Logger, error) {
	ll := logrus.New()
	ll.SetOutput(os.Stderr)

	var filter *regexp.Regexp
	if pat := v.GetString("log-category"); pat != "" {
		re, err := regexp.Compile(pat)
		if err != nil {
			return nil, errors.Wrap(err, "invalid log category filter")
		}
		filter = re
	}
	logger := log.New(ll, false, filter)
	if err := logger.SetLevel(v.GetString("log-level")); err != nil {
		return nil, err
	}
	return logger, nil
}

// session holds everything a connected command needs.
type cliSession struct {
	logger  *log.Logger
	browser *browser.Browser
	tracer  *trace.Tracer
	metrics *metrics.Metrics
	timeout time.Duration

	shutdown []func()
}

func (s *cliSession) close() {
	for i := len(s.shutdown) - 1; i >= 0; i-- {
		s.shutdown[i]()
	}
}

// connect dials the engine and assembles a browser for one command
// invocation.
func connect(ctx context.Context, v *viper.Viper) (*cliSession, error) {
	logger, err := newLogger(v)
	if err != nil {
		return nil, err
	}

	s := &cliSession{logger: logger, timeout: v.GetDuration("timeout")}
	if s.timeout <= 0 {
		s.timeout = 10 * time.Second
	}

	provider := trace.NewNoopTraceProvider()
	if v.GetBool("trace") {
		provider, err = trace.NewTraceProvider(os.Stderr)
		if err != nil {
			return nil, err
		}
		s.shutdown = append(s.shutdown, func() {
			shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = provider.Shutdown(shCtx)
		})
	}
	s.tracer = trace.NewTracer(logger, provider, nil)

	registry := prometheus.NewRegistry()
	s.metrics = metrics.New(registry)
	if v.GetBool("metrics") {
		s.shutdown = append(s.shutdown, func() { dumpMetrics(registry) })
	}

	eng, err := webkit.Dial(ctx, webkit.Options{URL: v.GetString("engine-url")}, logger)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to engine")
	}
	s.browser = browser.New(eng, browser.Options{
		Logger:         logger,
		DefaultTimeout: s.timeout,
		EmitHook:       s.metrics.EmitHook(),
	})
	s.shutdown = append(s.shutdown, func() { _ = s.browser.Close() })
	return s, nil
}

func dumpMetrics(g prometheus.Gatherer) {
	families, err := g.Gather()
	if err != nil {
		fmt.Fprintln(os.Stderr, failMark("✗"), "gathering metrics:", err)
		return
	}
	enc := expfmt.NewEncoder(os.Stderr, expfmt.FmtText)
	for _, mf := range families {
		_ = enc.Encode(mf)
	}
}
