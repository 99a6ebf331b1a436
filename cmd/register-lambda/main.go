// Package main provides the Lambda entry point for a single registration.
//
// The event names a place and the S3 prefix holding its prepared images.
// The handler downloads the batch to /tmp, reads the site login from SSM,
// drives headless Chrome through the entry form, archives failure
// diagnostics to S3 and records the run in the DynamoDB ledger.
//
// Container: Chrome (headless-shell base image)
// Memory: 2048 MB
// Timeout: 10 minutes
package main

import (
	"context"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/fpang/fc-registrar/internal/browser"
	"github.com/fpang/fc-registrar/internal/config"
	"github.com/fpang/fc-registrar/internal/lambdaboot"
	"github.com/fpang/fc-registrar/internal/logging"
	"github.com/fpang/fc-registrar/internal/registration"
	"github.com/rs/zerolog/log"
)

var commitHash = ""

// setup runs once per container. It lives outside init so the handler's
// tests do not need AWS.
func setup() *registrar {
	initStart := time.Now()
	logging.Init()

	cfg, _, err := config.Load(config.LoadOptions{})
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	// There is no display inside Lambda.
	cfg.Browser.Headless = true
	if path := os.Getenv("CHROME_PATH"); path != "" {
		cfg.Browser.ExecPath = path
	}

	aws := lambdaboot.InitAWS()
	s3c := lambdaboot.InitS3(aws.Config, "FC_BUCKET_NAME")
	runs := lambdaboot.InitDynamoOptional(aws.Config, "FC_RUN_TABLE")

	reg := &registrar{
		cfg:         cfg,
		s3:          s3c.Client,
		presigner:   s3c.Presigner,
		bucket:      s3c.Bucket,
		diagPrefix:  logging.EnvOrDefault("FC_DIAGNOSTICS_PREFIX", "diagnostics"),
		presignTTL:  24 * time.Hour,
		workDir:     os.TempDir(),
		credentials: cachedCredentials(aws.SSM),
		newSession: func(ctx context.Context) (browser.Session, error) {
			c, err := browser.NewChrome(ctx, cfg.Browser.Options())
			if err != nil {
				return nil, err
			}
			return c, nil
		},
	}
	if runs != nil {
		reg.runs = runs
	}

	lambdaboot.StartupLog("register-lambda", initStart).
		CommitHash(commitHash).
		Browser("headless", "true").
		Browser("execPath", cfg.Browser.ExecPath).
		S3Bucket("batches", s3c.Bucket).
		DynamoTable("runs", os.Getenv("FC_RUN_TABLE")).
		SSMParam("loginId", logging.EnvOrDefault("SSM_LOGIN_ID_PARAM", lambdaboot.DefaultLoginIDParam)).
		SSMParam("password", logging.EnvOrDefault("SSM_PASSWORD_PARAM", lambdaboot.DefaultPasswordParam)).
		Feature("ledger", runs != nil).
		Feature("metrics", true).
		Config("baseUrl", cfg.BaseURL).
		Config("diagnosticsPrefix", reg.diagPrefix).
		Log()
	return reg
}

// cachedCredentials reads the login once per container.
func cachedCredentials(client lambdaboot.ParameterAPI) func(context.Context) (registration.Credentials, error) {
	var cached *registration.Credentials
	return func(ctx context.Context) (registration.Credentials, error) {
		if cached != nil {
			return *cached, nil
		}
		creds, err := lambdaboot.LoadCredentials(ctx, client)
		if err != nil {
			return registration.Credentials{}, err
		}
		cached = &creds
		return creds, nil
	}
}

func main() {
	lambda.Start(setup().handle)
}
