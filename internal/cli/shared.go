package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ppiankov/counters/internal/counters"
	"github.com/ppiankov/counters/internal/factindex"
	"github.com/ppiankov/counters/internal/fieldmap"
	"github.com/ppiankov/counters/internal/notify"
	"github.com/ppiankov/counters/internal/store"
	"github.com/spf13/cobra"
)

// buildProducer loads the name-map and catalogue named by the merged
// flag/config state and constructs a Producer from them.
func buildProducer(cmd *cobra.Command) (*counters.Producer, error) {
	warn := func(format string, args ...any) {
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), format+"\n", args...)
	}
	debugLog := func(string, ...any) {}
	if debugMode {
		debugLog = func(format string, args ...any) {
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "[debug] "+format+"\n", args...)
		}
	}

	rules, err := fieldmap.LoadRules(nameMapFile)
	if err != nil {
		warn("counters: name-map file %q not loaded: %v", nameMapFile, err)
	}
	nm := fieldmap.New(rules, cfg.UseShortNames, warn)

	p, err := counters.NewProducer(catalogue, counters.ProducerOptions{
		NameMap:              nm,
		MessageTypeField:     cfg.MessageTypeField,
		UndefinedFieldIsTrue: cfg.UndefinedFieldIsTrue,
		SplitIntervals:       cfg.SplitIntervals,
		DebugLog:             debugLog,
		Warn:                 warn,
	})
	if err != nil {
		return nil, fmt.Errorf("catalogue: %w", err)
	}
	return p, nil
}

// buildStore opens the storage backend named by the merged flag/config
// state. "memory" (the default) never fails; "mongo" dials the
// configured URI.
func buildStore(ctx context.Context) (store.Store, error) {
	driver := storeDriver
	if driver == "" {
		driver = "memory"
	}
	switch driver {
	case "memory":
		return store.NewMemoryStore(), nil
	case "mongo":
		if storeURI == "" {
			return nil, fmt.Errorf("store-uri is required for the mongo driver")
		}
		return store.NewMongoStore(ctx, storeURI, storeDatabase)
	default:
		return nil, fmt.Errorf("unknown store driver %q (want memory or mongo)", driver)
	}
}

// loadIndexSchema reads a JSON array of factindex.Rule from path. An
// empty path is not an error: it means no fact-index entries are built,
// only the match/store pipeline runs.
func loadIndexSchema(path string) ([]factindex.Rule, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var schema []factindex.Rule
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, err
	}
	return schema, nil
}

// buildNotifier constructs a notification dispatcher from the merged
// config state's Notifications list. A nil, nil return means no
// dispatcher is available: either no channels are configured, or the
// dispatcher could not be built (a warning is written to stderr). In
// both cases the caller should skip notification entirely rather than
// treat it as an error.
func buildNotifier(cmd *cobra.Command) (*notify.Dispatcher, error) {
	if len(cfg.Notifications) == 0 {
		return nil, nil
	}
	warn := func(format string, args ...any) {
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), format+"\n", args...)
	}
	d, err := notify.NewDispatcher(cfg.Notifications, notify.DispatcherOptions{
		Writer: cmd.ErrOrStderr(),
	})
	if err != nil {
		warn("counters: notifications not configured: %v", err)
		return nil, nil
	}
	return d, nil
}
