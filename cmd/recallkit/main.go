// Command recallkit is a development harness for the memory pipeline. It
// wires the SQLite store, the HTTP-delegated classification/extraction
// capability, the admission gate, and the engine, then runs one of:
//
//	(default)   read user messages from stdin, one per line, and run each
//	            through ProcessTurn, printing the per-turn write counts
//	-retrieve   rank stored memories against a query and print them
//	-stats      print the owner's aggregate stats
//	-clear      erase every record for the owner at both tiers
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/recallkit/recallkit/internal/config"
	"github.com/recallkit/recallkit/internal/engine"
	"github.com/recallkit/recallkit/internal/extract"
	"github.com/recallkit/recallkit/internal/gate"
	"github.com/recallkit/recallkit/internal/llm"
	"github.com/recallkit/recallkit/internal/storage/sqlite"
	"github.com/recallkit/recallkit/pkg/types"
)

var (
	configPath     = flag.String("config", "", "Path to YAML config file (optional, env vars by default)")
	dbPath         = flag.String("db", "recallkit.db", "Path to the SQLite database file")
	userID         = flag.String("user", "dev-user", "Owner ID for all operations")
	conversationID = flag.String("conversation", "dev-conversation", "Conversation scope ID")
	language       = flag.String("language", "en", "Conversation language hint")
	retrieveQuery  = flag.String("retrieve", "", "Retrieve memories relevant to this query and exit")
	statsCmd       = flag.Bool("stats", false, "Print owner stats and exit")
	clearCmd       = flag.Bool("clear", false, "Erase all records for the owner and exit")
)

func main() {
	flag.Parse()
	log.SetOutput(os.Stderr)
	log.SetPrefix("recallkit: ")

	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.LoadConfigFile(*configPath)
	} else {
		cfg, err = config.LoadConfig()
	}
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("failed to open database at %q: %v", *dbPath, err)
	}
	defer store.Close()

	client := llm.NewHTTPClient(llm.HTTPConfig{
		BaseURL:           cfg.LLM.BaseURL,
		Model:             cfg.LLM.Model,
		EmbeddingModel:    cfg.LLM.EmbeddingModel,
		Timeout:           cfg.LLM.Timeout,
		RequestsPerSecond: cfg.LLM.RequestsPerSecond,
	})

	g, err := gate.New(gate.Config{
		Mode:               cfg.Gate.Mode,
		EmbeddingThreshold: cfg.Gate.EmbeddingThreshold,
		CacheSize:          cfg.Gate.EmbeddingCacheSize,
		Verbose:            cfg.Verbose,
	}, client, client)
	if err != nil {
		log.Fatalf("failed to build gate: %v", err)
	}

	ex, err := extract.New(client, cfg.Verbose)
	if err != nil {
		log.Fatalf("failed to build extractor: %v", err)
	}

	eng, err := engine.New(cfg.Memory, engine.Deps{
		Conversation: store.Conversation(),
		User:         store.User(),
		Gate:         g,
		Extractor:    ex,
	}, cfg.Verbose)
	if err != nil {
		log.Fatalf("failed to build engine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	switch {
	case *clearCmd:
		if err := eng.ClearOwner(ctx, *userID); err != nil {
			log.Fatalf("clear failed: %v", err)
		}
		fmt.Printf("cleared all memories for %s\n", *userID)

	case *statsCmd:
		stats, err := eng.GetStats(ctx, *userID)
		if err != nil {
			log.Fatalf("stats failed: %v", err)
		}
		printJSON(stats)

	case *retrieveQuery != "":
		memories := eng.GetRelevant(ctx, *conversationID, *userID, *retrieveQuery, 0)
		for _, m := range memories {
			fmt.Printf("%.2f  [%s/%d]  %s\n", m.Salience, m.FactType, m.Importance, m.Content)
		}
		if len(memories) == 0 {
			fmt.Println("no relevant memories")
		}

	default:
		runTurnLoop(ctx, eng)
	}
}

// runTurnLoop feeds stdin lines through the pipeline as single-message turns.
func runTurnLoop(ctx context.Context, eng *engine.Engine) {
	fmt.Fprintln(os.Stderr, "reading messages from stdin; ^D to finish")
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := scanner.Text()
		if line == "" {
			continue
		}
		result := eng.ProcessTurn(ctx, *conversationID, *userID,
			[]types.Message{{Role: "user", Content: line}}, *language)
		fmt.Printf("conversation=%d user=%d extracted=%d\n",
			result.ConversationMemoriesWritten, result.UserMemoriesWritten, len(result.Extracted))
	}
	if err := scanner.Err(); err != nil {
		log.Printf("stdin read failed: %v", err)
	}
}

func printJSON(v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatalf("failed to encode output: %v", err)
	}
	fmt.Println(string(out))
}
