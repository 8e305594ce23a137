package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Mundokiir/email-reports/pkg/config"
	"github.com/Mundokiir/email-reports/pkg/logger"
	"github.com/Mundokiir/email-reports/pkg/mail"
	"github.com/Mundokiir/email-reports/pkg/report"
	"github.com/Mundokiir/email-reports/pkg/secrets"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-lambda-go/lambdacontext"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "report_config.yaml", "Path to configuration file (.json or .yaml)")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	dryRun := flag.Bool("dry-run", false, "Print the report instead of sending it")
	help := flag.Bool("help", false, "Display help information")
	flag.Parse()

	// Display help if requested
	if *help {
		displayUsage()
		os.Exit(0)
	}

	// Create logger
	log := logger.New()
	log.SetLevel(*logLevel)

	// Load configuration
	log.Info("Loading configuration...")
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *dryRun {
		cfg.DryRun = true
	}

	// Under Lambda each invocation is one report run
	if os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != "" {
		lambda.Start(func(ctx context.Context, event json.RawMessage) error {
			lc, _ := lambdacontext.FromContext(ctx)
			log.Infof("Received event: %s", string(event))
			if lc != nil {
				log.Infof("Received context: request %s, function %s", lc.AwsRequestID, lambdacontext.FunctionName)
			}
			return run(ctx, cfg, log)
		})
		return
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle interrupt signals
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signalChan
		log.Info("Received interrupt signal. Shutting down...")
		cancel()
	}()

	if err := run(ctx, cfg, log); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info("Report stopped due to user interrupt (Ctrl+C)")
			os.Exit(1)
		}
		log.Fatalf("Report failed: %v", err)
	}
}

// run wires the real dependencies and executes one report
func run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	deps := report.Deps{
		Connect: report.MongoConnector(log),
		Sender: mail.NewSMTPSender(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.HeloName,
			time.Duration(cfg.SMTP.TimeoutSeconds)*time.Second),
		DryRun: &mail.DrySender{Out: os.Stdout},
	}

	if !cfg.HasCredentials() {
		fetcher, err := secrets.NewFetcher(ctx, cfg.Secret.Region)
		if err != nil {
			return err
		}
		deps.Secrets = fetcher
	}

	result, err := report.NewRunner(cfg, deps, log).Run(ctx)
	if err != nil {
		return err
	}
	if result.DryRun {
		log.Infof("Dry run finished: %d rows rendered, nothing sent", result.Rows)
	} else {
		log.Infof("Report sent: %d rows", result.Rows)
	}
	return nil
}

// displayUsage displays usage information
func displayUsage() {
	fmt.Println("\nMongoDB Email Report")
	fmt.Println("====================")
	fmt.Println("Usage: report [options]")
	fmt.Println("Options:")
	fmt.Println("  -config string")
	fmt.Println("        Path to configuration file (default \"report_config.yaml\")")
	fmt.Println("  -log-level string")
	fmt.Println("        Log level: debug, info, warn, error (default \"info\")")
	fmt.Println("  -dry-run")
	fmt.Println("        Print the report instead of sending it")
	fmt.Println("  -help")
	fmt.Println("        Display this help information")
	fmt.Println("Environment:")
	fmt.Println("  REPORT_DB_USER, REPORT_DB_PASS   skip the secret store and use these credentials")
	fmt.Println("  REPORT_DRY_RUN                   same as -dry-run")
	fmt.Println("Examples:")
	fmt.Println("  report -config=weekly.yaml")
	fmt.Println("  report -config=weekly.yaml -dry-run -log-level=debug")
}
