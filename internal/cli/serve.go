package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/ppiankov/counters/internal/counters"
	"github.com/ppiankov/counters/internal/fact"
	"github.com/ppiankov/counters/internal/factindex"
	"github.com/ppiankov/counters/internal/metrics"
	"github.com/ppiankov/counters/internal/notify"
	"github.com/ppiankov/counters/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var (
		input      string
		format     string
		save       bool
		metricsOn  bool
		notifyFlag bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Continuously match NDJSON facts against the counter catalogue",
		Long:  "Reads one JSON fact per line (from a file, or stdin if --input is unset), matches each against the counter catalogue as it arrives, and emits one result line per fact until EOF or SIGINT/SIGTERM.",
		RunE: func(cmd *cobra.Command, args []string) error {
			producer, err := buildProducer(cmd)
			if err != nil {
				return err
			}
			schema, err := loadIndexSchema(indexSchema)
			if err != nil {
				return fmt.Errorf("index schema: %w", err)
			}

			var st store.Store
			if save {
				s, err := buildStore(cmd.Context())
				if err != nil {
					return err
				}
				st = s
			}

			reg := prometheus.NewRegistry()
			m := metrics.New(reg)
			if metricsOn {
				addr := cfg.Metrics.ListenAddr
				if addr == "" {
					addr = ":9090"
				}
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
				srv := &http.Server{Addr: addr, Handler: mux}
				go func() { _ = srv.ListenAndServe() }()
				defer func() { _ = srv.Close() }()
			}

			var notifier *notify.Dispatcher
			if notifyFlag {
				n, err := buildNotifier(cmd)
				if err != nil {
					return err
				}
				notifier = n
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigCh
				cancel()
			}()

			s := &server{
				runID:    uuid.NewString(),
				producer: producer,
				schema:   schema,
				store:    st,
				metrics:  m,
				notifier: notifier,
				format:   format,
				cmd:      cmd,
			}
			return s.run(ctx, input)
		},
	}

	cmd.Flags().StringVar(&input, "input", "", "NDJSON fact file (default: stdin)")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format: text or json (NDJSON)")
	cmd.Flags().BoolVar(&save, "save", false, "persist each fact and its index entries to the configured store")
	cmd.Flags().BoolVar(&notifyFlag, "notify", false, "dispatch contributing/threshold_crossed events to configured notification channels")
	cmd.Flags().BoolVar(&metricsOn, "metrics", false, "expose Prometheus metrics on the configured listen address")

	return cmd
}

type server struct {
	runID    string
	producer *counters.Producer
	schema   []factindex.Rule
	store    store.Store
	metrics  *metrics.Metrics
	notifier *notify.Dispatcher
	format   string
	cmd      *cobra.Command
}

type serveEvent struct {
	RunID         string   `json:"runId"`
	Timestamp     string   `json:"timestamp"`
	FactID        string   `json:"factId"`
	Contributing  []string `json:"contributing"`
	AffectedCount int      `json:"affectedCount"`
}

func (s *server) run(ctx context.Context, inputPath string) error {
	stderr := s.cmd.ErrOrStderr()
	stdout := s.cmd.OutOrStdout()

	var in io.Reader = s.cmd.InOrStdin()
	if inputPath != "" {
		f, err := os.Open(inputPath)
		if err != nil {
			return fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		in = f
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	processed := 0
	errored := 0

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			goto shutdown
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var f fact.Fact
		if err := json.Unmarshal(line, &f); err != nil {
			errored++
			s.metrics.ObserveError("parse_fact")
			_, _ = fmt.Fprintf(stderr, "[%s] bad fact line: %v\n", time.Now().UTC().Format(time.RFC3339), err)
			continue
		}

		start := time.Now()
		result := s.producer.FactCounters(&f, nil)
		elapsed := time.Since(start)

		contributing := 0
		affected := 0
		if result != nil {
			contributing = len(result.Contributing)
			affected = result.AffectedCount
		}
		s.metrics.ObserveFact(contributing, affected, elapsed)
		processed++

		if s.store != nil {
			if err := s.store.SaveFact(ctx, &f); err != nil {
				s.metrics.ObserveError("save_fact")
				_, _ = fmt.Fprintf(stderr, "[%s] save fact %s: %v\n", time.Now().UTC().Format(time.RFC3339), f.ID, err)
			} else if entries := factindex.Build(&f, s.schema); len(entries) > 0 {
				if err := s.store.SaveFactIndexList(ctx, entries); err != nil {
					s.metrics.ObserveError("save_fact_index")
					_, _ = fmt.Fprintf(stderr, "[%s] save fact index %s: %v\n", time.Now().UTC().Format(time.RFC3339), f.ID, err)
				}
			}
		}

		if s.notifier != nil {
			events := notify.EventsFromMatch(&f, result, cfg.Notifications, time.Now())
			if len(events) > 0 {
				if err := s.notifier.Notify(ctx, events); err != nil {
					s.metrics.ObserveError("notify")
					_, _ = fmt.Fprintf(stderr, "[%s] notify fact %s: %v\n", time.Now().UTC().Format(time.RFC3339), f.ID, err)
				}
			}
		}

		s.emit(stdout, &f, result)
	}

shutdown:
	_, _ = fmt.Fprintf(stderr, "\nServe summary [run %s]: %d facts processed, %d errored\n", s.runID, processed, errored)
	return nil
}

func (s *server) emit(stdout io.Writer, f *fact.Fact, result *counters.MatchResult) {
	names := make([]string, 0)
	affected := 0
	if result != nil {
		affected = result.AffectedCount
		for _, d := range result.Contributing {
			names = append(names, d.Name)
		}
	}

	if s.format == "json" {
		data, _ := json.Marshal(&serveEvent{
			RunID:         s.runID,
			Timestamp:     time.Now().UTC().Format(time.RFC3339),
			FactID:        f.ID,
			Contributing:  names,
			AffectedCount: affected,
		})
		_, _ = stdout.Write(data)
		_, _ = stdout.Write([]byte("\n"))
		return
	}

	_, _ = fmt.Fprintf(stdout, "%s contributing=%v affected=%d\n", f.ID, names, affected)
}
