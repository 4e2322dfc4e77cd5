package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"

	"github.com/halcyonsec/quest/internal/models"
	"github.com/halcyonsec/quest/internal/types"
	"github.com/halcyonsec/quest/pkg/bank"
	cfgPkg "github.com/halcyonsec/quest/pkg/config"
	"github.com/halcyonsec/quest/pkg/llm"
	"github.com/halcyonsec/quest/pkg/loader"
	"github.com/halcyonsec/quest/pkg/orchestrator"
	"github.com/halcyonsec/quest/pkg/processor"
	"github.com/halcyonsec/quest/pkg/scraper"
	"github.com/halcyonsec/quest/pkg/sheet"
	"github.com/halcyonsec/quest/pkg/store"
	"github.com/halcyonsec/quest/server"
)

type Flags struct {
	ConfigPath string
	CorpusDir  string
	DBUrl      string
	Ingest     bool
	Questions  string
	Out        string
	BankImport string
	ServeAddr  string
	Threshold  int
}

func main() {
	flags := parseFlags()
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	if err := run(flags, logger); err != nil {
		logger.Fatal().Err(err).Msg("quest failed")
	}
}

func parseFlags() Flags {
	var flags Flags

	flag.StringVar(&flags.ConfigPath, "config", "", "Path to config file")
	flag.StringVar(&flags.CorpusDir, "corpus", "", "Corpus directory of policy documents")
	flag.StringVar(&flags.DBUrl, "db-url", "", "PostgreSQL connection string")
	flag.BoolVar(&flags.Ingest, "ingest", false, "Rebuild the vector index from the corpus directory")
	flag.StringVar(&flags.Questions, "questions", "", "Questionnaire file (.csv or .xlsx) with a Question column")
	flag.StringVar(&flags.Out, "out", "", "Output file for questionnaire responses")
	flag.StringVar(&flags.BankImport, "bank-import", "", "CSV file of verified answers to import into the answer bank")
	flag.StringVar(&flags.ServeAddr, "serve", "", "Start the WebSocket server on this address (e.g. :8080)")
	flag.IntVar(&flags.Threshold, "threshold", -1, "Answer bank fuzzy-match threshold (1-100)")
	flag.Parse()

	return flags
}

func run(flags Flags, logger zerolog.Logger) error {
	config, err := cfgPkg.LoadConfig(flags.ConfigPath)
	if err != nil {
		return err
	}
	if flags.CorpusDir != "" {
		config.Corpus.Dir = flags.CorpusDir
	}
	if flags.DBUrl != "" {
		config.Database.URL = flags.DBUrl
	}
	if flags.Threshold >= 0 {
		config.Bank.Threshold = flags.Threshold
	}

	if errs := config.Validate(); len(errs) > 0 {
		for _, e := range errs {
			logger.Error().Str("field", e.Field).Msg(e.Message)
		}
		return fmt.Errorf("invalid configuration")
	}

	// Operating mode is decided once here, never re-read mid-request. A
	// missing cloud credential downgrades the system to search-only.
	mode := operatingMode(config)
	logger.Info().Str("mode", mode.String()).Msg("starting")

	embedder, err := llm.NewEmbedder(llm.EmbedderConfig{
		APIKey:  config.LLM.APIKey,
		Model:   config.LLM.EmbedModel,
		BaseURL: config.LLM.BaseURL,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize embedder: %w", err)
	}

	vectorStore, err := store.NewWithConfig(store.VectorStoreConfig{
		ConnString: config.Database.URL,
		TableName:  config.Database.TableName,
		VectorDim:  config.Database.VectorDim,
		BatchSize:  config.Database.BatchSize,
	}, embedder)
	if err != nil {
		return fmt.Errorf("failed to initialize vector store: %w", err)
	}
	defer vectorStore.Close()

	ctx := context.Background()

	matcher, cleanup, err := loadBank(ctx, config, flags, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	var chatEngine types.ChatModel
	if mode == orchestrator.ModeFull {
		engine, err := llm.NewWithConfig(llm.ChatConfig{
			APIKey:    config.LLM.APIKey,
			Model:     config.LLM.Model,
			MaxTokens: config.LLM.MaxTokens,
			BaseURL:   config.LLM.BaseURL,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize chat engine: %w", err)
		}
		chatEngine = engine
	}

	orch := orchestrator.NewWithConfig(orchestrator.Config{
		Mode:      mode,
		Threshold: config.Bank.Threshold,
		TopK:      config.Retrieval.TopK,
		Logger:    logger,
	}, vectorStore, matcher, chatEngine)

	if flags.Ingest {
		if err := runIngest(ctx, config, vectorStore, logger); err != nil {
			return err
		}
		if flags.Questions == "" && flags.ServeAddr == "" {
			return nil
		}
	}

	// Self-healing: an absent index is rebuilt from the corpus when raw
	// documents exist, otherwise it is a hard failure.
	ready, err := vectorStore.Ready(ctx)
	if err != nil {
		return err
	}
	if !ready {
		if _, statErr := os.Stat(config.Corpus.Dir); statErr != nil {
			return fmt.Errorf("no vector index and no corpus directory at %s", config.Corpus.Dir)
		}
		color.Yellow("No index found. Building knowledge base from %s...", config.Corpus.Dir)
		if err := runIngest(ctx, config, vectorStore, logger); err != nil {
			return err
		}
	}

	if flags.Questions != "" {
		out := flags.Out
		if out == "" {
			out = sheet.OutputPath(flags.Questions)
		}
		return runBatch(ctx, orch, flags.Questions, out)
	}

	if flags.ServeAddr != "" {
		return server.NewWSServer(orch, logger).Serve(ctx, flags.ServeAddr)
	}

	return runChat(ctx, orch)
}

func operatingMode(config *cfgPkg.Config) orchestrator.OperatingMode {
	switch config.LLM.Provider {
	case "ollama":
		return orchestrator.ModeFull
	case "openai":
		if config.LLM.APIKey != "" {
			return orchestrator.ModeFull
		}
		return orchestrator.ModeSearchOnly
	}
	if config.LLM.APIKey != "" {
		return orchestrator.ModeFull
	}
	return orchestrator.ModeSearchOnly
}

func loadBank(ctx context.Context, config *cfgPkg.Config, flags Flags, logger zerolog.Logger) (types.Matcher, func(), error) {
	repo, err := bank.NewRepository(config.Database.URL)
	if err != nil {
		return nil, func() {}, fmt.Errorf("failed to open answer bank: %w", err)
	}

	seed := flags.BankImport
	if seed == "" {
		seed = config.Bank.SeedFile
	}
	if seed != "" {
		added, err := repo.ImportCSV(ctx, seed)
		if err != nil {
			repo.Close()
			return nil, func() {}, fmt.Errorf("failed to import answer bank: %w", err)
		}
		color.Green("✓ Imported %d answer bank entries", added)
	}

	matcher, err := repo.Matcher(ctx)
	if err != nil {
		repo.Close()
		return nil, func() {}, err
	}
	logger.Info().Int("entries", matcher.Len()).Msg("answer bank loaded")

	return matcher, repo.Close, nil
}

func runIngest(ctx context.Context, config *cfgPkg.Config, vectorStore *store.VectorStore, logger zerolog.Logger) error {
	color.Blue("\nLoading documents from %s", config.Corpus.Dir)

	s := scraper.NewWithConfig(scraper.ScraperConfig{
		MaxDepth:  config.Scraper.MaxDepth,
		RateLimit: config.Scraper.RateLimit,
		Logger:    logger,
	})
	l := loader.NewWithConfig(loader.LoaderConfig{
		URLsFile: config.Corpus.URLsFile,
		Scraper:  s,
		Logger:   logger,
	})

	docs, skipped, err := l.LoadDir(ctx, config.Corpus.Dir)
	if err != nil {
		return err
	}
	if skipped > 0 {
		color.Yellow("⚠ Skipped %d unreadable inputs", skipped)
	}
	if len(docs) == 0 {
		return fmt.Errorf("no documents found in %s", config.Corpus.Dir)
	}
	color.Green("✓ Loaded %d documents", len(docs))

	p := processor.NewWithConfig(processor.ProcessorConfig{
		ChunkSize:    config.Processor.ChunkSize,
		ChunkOverlap: config.Processor.ChunkOverlap,
	})
	chunks := p.Process(docs)
	color.Green("✓ Split into %d chunks", len(chunks))

	bar := getSpinner("💾 Embedding into vector database...")
	err = vectorStore.Build(ctx, chunks)
	bar.Finish()
	fmt.Println()
	if err != nil {
		return fmt.Errorf("failed to build index: %w", err)
	}

	color.Green("✓ Knowledge base built")
	return nil
}

func runBatch(ctx context.Context, orch *orchestrator.Orchestrator, in, out string) error {
	q, err := sheet.Read(in)
	if err != nil {
		return err
	}

	questions := q.Questions()
	color.Blue("\nProcessing %d questions from %s", len(questions), in)

	bar := getProgressBar(len(questions), "🤖 Answering questions...")
	responses := orch.ResolveAll(ctx, questions, func(int) {
		bar.Add(1)
	})
	bar.Finish()
	fmt.Println()

	if err := q.WriteResponses(out, responses); err != nil {
		return err
	}

	counts := make(map[models.Status]int)
	for _, r := range responses {
		counts[r.Status]++
	}
	color.Green("✓ Responses written to %s", out)
	for _, s := range []models.Status{
		models.StatusVerifiedBank,
		models.StatusAutoFilled,
		models.StatusSearchResult,
		models.StatusReviewRequired,
		models.StatusFailed,
	} {
		if counts[s] > 0 {
			fmt.Printf("  %s: %d\n", s, counts[s])
		}
	}
	return nil
}

func runChat(ctx context.Context, orch *orchestrator.Orchestrator) error {
	color.Cyan("\nAsk about your security policies (type 'exit' to quit)")

	scanner := bufio.NewScanner(os.Stdin)
	userPrompt := color.New(color.FgGreen).PrintfFunc()
	assistantPrompt := color.New(color.FgCyan).PrintfFunc()

	for {
		userPrompt("\nYou: ")
		if !scanner.Scan() {
			break
		}

		question := strings.TrimSpace(scanner.Text())
		if question == "" {
			continue
		}
		if strings.ToLower(question) == "exit" {
			break
		}

		spinner := getSpinner("🔍 Analyzing security artifacts...")
		resp := orch.Resolve(ctx, question)
		spinner.Finish()
		fmt.Print("\r")

		assistantPrompt("Assistant: %s\n", resp.Answer)
		switch resp.Status {
		case models.StatusFailed:
			color.Red("  [%s]", resp.Status)
		case models.StatusReviewRequired:
			color.Yellow("  [%s]", resp.Status)
		default:
			color.Green("  [%s]", resp.Status)
		}
		for _, e := range resp.Evidence {
			fmt.Printf("  • %s\n", e)
		}
	}

	return scanner.Err()
}

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("questions"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}
