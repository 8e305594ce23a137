package report

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Mundokiir/email-reports/pkg/common"
	"github.com/Mundokiir/email-reports/pkg/config"
	"github.com/Mundokiir/email-reports/pkg/db"
	"github.com/Mundokiir/email-reports/pkg/logger"
	"github.com/Mundokiir/email-reports/pkg/mail"
	"github.com/Mundokiir/email-reports/pkg/render"
	"go.mongodb.org/mongo-driver/bson"
)

// SecretFetcher retrieves one named secret as key/value pairs
type SecretFetcher interface {
	Fetch(ctx context.Context, name string) (map[string]string, error)
}

// Finder runs the report query against an open connection
type Finder interface {
	Find(ctx context.Context, collection string, filter, projection bson.D) ([]common.Document, error)
	Close(ctx context.Context) error
}

// Connector opens a Finder for a connection URI and database
type Connector func(ctx context.Context, uri, database string) (Finder, error)

// Deps are the external capabilities a run needs
type Deps struct {
	Secrets SecretFetcher // unused when credentials are already configured
	Connect Connector
	Sender  mail.Sender // used for normal runs
	DryRun  mail.Sender // used when the config requests a dry run; defaults to stdout
}

// MongoConnector connects with the real driver
func MongoConnector(log *logger.Logger) Connector {
	return func(ctx context.Context, uri, database string) (Finder, error) {
		m, err := db.NewMongoDB(ctx, uri, database, log)
		if err != nil {
			return nil, err
		}
		return m, nil
	}
}

// Result is what a completed run produced
type Result struct {
	Rows    int
	CSV     []byte // nil when no CSV is attached
	HTML    string
	Message *mail.Message
	DryRun  bool
}

// Runner executes one report from secret lookup to delivery
type Runner struct {
	config *config.Config
	deps   Deps
	log    *logger.Logger
}

// NewRunner creates a new Runner
func NewRunner(cfg *config.Config, deps Deps, log *logger.Logger) *Runner {
	if deps.DryRun == nil {
		deps.DryRun = &mail.DrySender{Out: os.Stdout}
	}
	return &Runner{
		config: cfg,
		deps:   deps,
		log:    log,
	}
}

// Run executes the pipeline. Any failure aborts the run before delivery.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	startTime := time.Now()
	r.log.Infof("Starting report %q", r.config.Report.Name)

	cfg, err := r.resolveCredentials(ctx)
	if err != nil {
		return nil, err
	}

	docs, err := r.query(ctx, cfg)
	if err != nil {
		return nil, err
	}

	result, err := r.render(cfg, docs)
	if err != nil {
		return nil, err
	}

	if err := r.deliver(ctx, result); err != nil {
		return nil, err
	}

	r.log.Infof("Report %q completed in %.2f seconds", cfg.Report.Name, time.Since(startTime).Seconds())
	return result, nil
}

func (r *Runner) resolveCredentials(ctx context.Context) (*config.Config, error) {
	log := r.log.Stage("config")
	if r.config.HasCredentials() {
		log.Info("Using database credentials from the environment")
		return r.config, nil
	}
	if r.deps.Secrets == nil {
		return nil, errors.New("no database credentials configured and no secret store available")
	}

	log.Infof("Fetching database credentials from secret %s", r.config.Secret.Name)
	secret, err := r.deps.Secrets.Fetch(ctx, r.config.Secret.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch credentials: %w", err)
	}
	return r.config.WithCredentials(secret)
}

func (r *Runner) query(ctx context.Context, cfg *config.Config) ([]common.Document, error) {
	log := r.log.Stage("query")
	if r.deps.Connect == nil {
		return nil, errors.New("no database connector configured")
	}
	uri := db.BuildURI(cfg.Database)
	log.Infof("Connecting to MongoDB at %s", logger.RedactURI(uri))

	finder, err := r.deps.Connect(ctx, uri, cfg.Database.Database)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := finder.Close(ctx); err != nil {
			log.Errorf("Error closing MongoDB connection: %v", err)
		}
	}()

	docs, err := finder.Find(ctx, cfg.Database.Collection, db.Filter(cfg), db.Projection(cfg))
	if err != nil {
		return nil, err
	}
	log.Infof("Found %d documents in %s.%s", len(docs), cfg.Database.Database, cfg.Database.Collection)
	return docs, nil
}

func (r *Runner) render(cfg *config.Config, docs []common.Document) (*Result, error) {
	rc := cfg.Report
	result := &Result{Rows: len(docs), DryRun: cfg.DryRun}

	if rc.AttachCSV {
		result.CSV = render.CSV(rc.Columns, docs)
	}

	var err error
	if rc.ResultsInBody {
		result.HTML, err = render.HTML(rc.Name, rc.Columns, docs, rc.BodyRowLimit)
	} else {
		result.HTML, err = render.Summary(rc.Name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to render report: %w", err)
	}

	result.Message, err = mail.Build(mail.MessageSpec{
		From:        cfg.Email.From,
		To:          cfg.Email.To,
		Subject:     cfg.Email.Subject,
		Text:        render.PlainText(rc.Name),
		HTML:        result.HTML,
		CSV:         result.CSV,
		CSVFilename: rc.CSVFilename,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build message: %w", err)
	}
	return result, nil
}

func (r *Runner) deliver(ctx context.Context, result *Result) error {
	log := r.log.Stage("delivery")
	if result.DryRun {
		log.Info("Dry run: writing report instead of sending it")
		return r.deps.DryRun.Send(ctx, result.Message)
	}
	if r.deps.Sender == nil {
		return errors.New("no mail sender configured")
	}

	log.Infof("Sending report to %d recipients via %s", len(result.Message.To()), r.config.SMTP.Host)
	if err := r.deps.Sender.Send(ctx, result.Message); err != nil {
		return fmt.Errorf("failed to send report: %w", err)
	}
	return nil
}
