package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tanpawarit/voice-order-agent/agent/agents/orchestrator"
	"github.com/tanpawarit/voice-order-agent/agent/backend"
	"github.com/tanpawarit/voice-order-agent/agent/classifier"
	contractx "github.com/tanpawarit/voice-order-agent/agent/contract"
	"github.com/tanpawarit/voice-order-agent/agent/llm"
	"github.com/tanpawarit/voice-order-agent/agent/prompt"
	"github.com/tanpawarit/voice-order-agent/agent/record"
	statex "github.com/tanpawarit/voice-order-agent/agent/state"
	"github.com/tanpawarit/voice-order-agent/agent/tool"
	"github.com/tanpawarit/voice-order-agent/agent/transport/webhook"
	configx "github.com/tanpawarit/voice-order-agent/pkg/config"
	_ "github.com/tanpawarit/voice-order-agent/pkg/logger/autoload"
	qstashx "github.com/tanpawarit/voice-order-agent/pkg/qstash"
)

const (
	sinkUpstash  = "upstash"
	sinkQStash   = "qstash"
	sinkKafka    = "kafka"
	sinkPostgres = "postgres"
)

type AppConfig struct {
	CompanyName string        `envconfig:"COMPANY_NAME" split_words:"true" default:"nuestra empresa"`
	TurnTimeout time.Duration `envconfig:"TURN_TIMEOUT" split_words:"true" default:"15s"`
	WelcomeSeed int64         `envconfig:"WELCOME_SEED" split_words:"true" default:"0"`
}

// RecordConfig selects where finished calls are written. Sinks is a comma
// separated list; an empty list only logs.
type RecordConfig struct {
	Sinks             []string      `envconfig:"SINKS" split_words:"true"`
	UpstashKeyPrefix  string        `envconfig:"UPSTASH_KEY_PREFIX" split_words:"true" default:"voice:call:"`
	QStashDestination string        `envconfig:"QSTASH_DESTINATION" split_words:"true"`
	QStashRetries     int           `envconfig:"QSTASH_RETRIES" split_words:"true" default:"3"`
	Timeout           time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"10s"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatal().Err(err).Msg("voice order agent stopped")
	}
}

func run(ctx context.Context) error {
	appCfg := configx.MustNew[AppConfig]("APP")
	httpCfg := configx.MustNew[webhook.Config]("HTTP")
	erpCfg := configx.MustNew[backend.Config]("ERP")
	llmCfg := configx.MustNew[llm.Config]("LLM")
	recordCfg := configx.MustNew[RecordConfig]("RECORD")

	be, err := newBackend(*erpCfg)
	if err != nil {
		return err
	}

	cls, err := newClassifier(ctx, *llmCfg, appCfg.CompanyName)
	if err != nil {
		return err
	}

	recorder, closers, err := newRecorder(ctx, *recordCfg)
	if err != nil {
		return err
	}
	defer closeAll(closers)

	orch, err := orchestrator.New(
		statex.NewMemoryStore(),
		be,
		cls,
		tool.NewDispatcher(tool.WithLogger(log.Logger)),
		orchestrator.WithLogger(log.Logger),
		orchestrator.WithTurnTimeout(appCfg.TurnTimeout),
		orchestrator.WithRecorder(recorder),
		orchestrator.WithRecordTimeout(recordCfg.Timeout),
		orchestrator.WithWelcome(prompt.NewTemplateSelector(appCfg.CompanyName, appCfg.WelcomeSeed)),
	)
	if err != nil {
		return fmt.Errorf("build orchestrator: %w", err)
	}

	e := webhook.NewServer(webhook.NewHandler(orch, log.Logger), log.Logger)
	runErr := webhook.Run(ctx, e, *httpCfg, log.Logger)

	flushCtx, cancel := context.WithTimeout(context.Background(), httpCfg.ShutdownTimeout)
	defer cancel()
	if err := orch.WaitRecords(flushCtx); err != nil {
		log.Warn().Err(err).Msg("pending call records not flushed")
	}
	return runErr
}

// newBackend uses the demo catalog when no ERP url is configured.
func newBackend(cfg backend.Config) (contractx.Backend, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		log.Warn().Msg("ERP_BASE_URL not set, using in-memory demo backend")
		return backend.NewDemoMemory(), nil
	}
	client, err := backend.NewClient(cfg, backend.WithLogger(log.Logger))
	if err != nil {
		return nil, fmt.Errorf("build erp client: %w", err)
	}
	return client, nil
}

func newClassifier(ctx context.Context, cfg llm.Config, company string) (contractx.Classifier, error) {
	if cfg.Kind() == llm.ClassifierRules {
		log.Info().Str("classifier", llm.ClassifierRules).Msg("classifier ready")
		return classifier.NewRuleClassifier(classifier.WithCompanyName(company)), nil
	}

	orCfg := cfg.OpenRouter()
	chatModel, err := orCfg.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("build chat model: %w", err)
	}
	cls, err := classifier.NewModelClassifier(ctx, chatModel, prompt.LoadPromptSet().Classifier, tool.Infos(),
		classifier.WithModelLogger(log.Logger),
		classifier.WithModelCompanyName(company),
		classifier.WithHistoryWindow(cfg.HistoryWindow),
		classifier.WithCatalogLimit(cfg.CatalogLimit),
	)
	if err != nil {
		return nil, fmt.Errorf("build model classifier: %w", err)
	}
	log.Info().Str("classifier", llm.ClassifierModel).Str("model", orCfg.Model).Msg("classifier ready")
	return cls, nil
}

// sinkFactory builds one call record sink. The closer may be nil.
type sinkFactory func(ctx context.Context, cfg RecordConfig) (contractx.CallRecorder, io.Closer, error)

var sinkFactories = map[string]sinkFactory{
	sinkUpstash:  newUpstashSink,
	sinkQStash:   newQStashSink,
	sinkKafka:    newKafkaSink,
	sinkPostgres: newPostgresSink,
}

func newRecorder(ctx context.Context, cfg RecordConfig) (contractx.CallRecorder, []io.Closer, error) {
	return buildRecorder(ctx, cfg, sinkFactories)
}

// buildRecorder closes every sink it already opened when a later one fails.
func buildRecorder(ctx context.Context, cfg RecordConfig, factories map[string]sinkFactory) (contractx.CallRecorder, []io.Closer, error) {
	var (
		sinks   record.Fanout
		closers []io.Closer
	)
	fail := func(err error) (contractx.CallRecorder, []io.Closer, error) {
		closeAll(closers)
		return nil, nil, err
	}

	for _, raw := range cfg.Sinks {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" {
			continue
		}
		factory, ok := factories[name]
		if !ok {
			return fail(errors.New("unknown call record sink " + raw))
		}
		sink, closer, err := factory(ctx, cfg)
		if err != nil {
			return fail(fmt.Errorf("%s sink: %w", name, err))
		}
		sinks = append(sinks, sink)
		if closer != nil {
			closers = append(closers, closer)
		}
	}

	log.Info().Int("sinks", len(sinks)).Strs("names", cfg.Sinks).Msg("call recorder ready")
	return record.Logged(sinks, log.Logger), closers, nil
}

func newUpstashSink(_ context.Context, cfg RecordConfig) (contractx.CallRecorder, io.Closer, error) {
	upCfg, err := configx.New[record.UpstashConfig]("UPSTASH_REDIS")
	if err != nil {
		return nil, nil, err
	}
	sink, err := record.NewUpstashSink(*upCfg, record.WithKeyPrefix(cfg.UpstashKeyPrefix))
	if err != nil {
		return nil, nil, err
	}
	return sink, nil, nil
}

func newQStashSink(_ context.Context, cfg RecordConfig) (contractx.CallRecorder, io.Closer, error) {
	qsCfg, err := configx.New[qstashx.Config]("QSTASH")
	if err != nil {
		return nil, nil, err
	}
	client, err := qstashx.NewClient(*qsCfg)
	if err != nil {
		return nil, nil, err
	}
	sink, err := record.NewQStashSink(client, cfg.QStashDestination, cfg.QStashRetries)
	if err != nil {
		return nil, nil, err
	}
	return sink, nil, nil
}

func newKafkaSink(_ context.Context, _ RecordConfig) (contractx.CallRecorder, io.Closer, error) {
	kCfg, err := configx.New[record.KafkaConfig]("KAFKA")
	if err != nil {
		return nil, nil, err
	}
	writer, err := record.NewKafkaWriter(*kCfg)
	if err != nil {
		return nil, nil, err
	}
	sink, err := record.NewKafkaSink(writer)
	if err != nil {
		_ = writer.Close()
		return nil, nil, err
	}
	return sink, sink, nil
}

func newPostgresSink(ctx context.Context, _ RecordConfig) (contractx.CallRecorder, io.Closer, error) {
	pgCfg, err := configx.New[record.PostgresConfig]("POSTGRES")
	if err != nil {
		return nil, nil, err
	}
	db, err := record.OpenPostgres(*pgCfg)
	if err != nil {
		return nil, nil, err
	}
	sink, err := record.NewPostgresSink(db)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	if err := sink.EnsureSchema(ctx); err != nil {
		_ = sink.Close()
		return nil, nil, fmt.Errorf("ensure schema: %w", err)
	}
	return sink, sink, nil
}

func closeAll(closers []io.Closer) {
	for _, c := range closers {
		if err := c.Close(); err != nil {
			log.Warn().Err(err).Msg("close call record sink")
		}
	}
}
