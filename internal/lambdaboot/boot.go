// Package lambdaboot provides the Lambda cold-start bootstrap: AWS config,
// S3, the DynamoDB run ledger, site credentials from SSM, and startup
// logging. The Lambda's init() is a short composition of these helpers.
package lambdaboot

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/fpang/fc-registrar/internal/logging"
	"github.com/fpang/fc-registrar/internal/registration"
	"github.com/fpang/fc-registrar/internal/store"
)

// Default SSM parameter names for the site credentials.
const (
	DefaultLoginIDParam  = "/fc-registrar/prod/login-id"
	DefaultPasswordParam = "/fc-registrar/prod/password"
)

// AWSClients holds the core AWS SDK clients.
type AWSClients struct {
	Config aws.Config
	SSM    *ssm.Client
}

// S3Clients holds S3 client, presigner, and bucket name.
type S3Clients struct {
	Client    *s3.Client
	Presigner *s3.PresignClient
	Bucket    string
}

// InitAWS loads the default AWS config and returns it along with common clients.
func InitAWS() AWSClients {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load AWS config")
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return AWSClients{
		Config: cfg,
		SSM:    ssm.NewFromConfig(cfg),
	}
}

// InitS3 creates an S3 client, presigner, and reads the bucket name from the
// given environment variable. Fatals if the env var is empty.
func InitS3(cfg aws.Config, bucketEnvVar string) S3Clients {
	client := s3.NewFromConfig(cfg)
	bucket := os.Getenv(bucketEnvVar)
	if bucket == "" {
		log.Fatal().Str("envVar", bucketEnvVar).Msg("Bucket environment variable is required")
	}
	return S3Clients{
		Client:    client,
		Presigner: s3.NewPresignClient(client),
		Bucket:    bucket,
	}
}

// InitDynamoOptional creates the run ledger if the env var is set. Returns
// nil (with a warning) if not configured.
func InitDynamoOptional(cfg aws.Config, tableEnvVar string) *store.DynamoStore {
	tableName := os.Getenv(tableEnvVar)
	if tableName == "" {
		log.Warn().Str("envVar", tableEnvVar).Msg("DynamoDB table not set, run ledger disabled")
		return nil
	}
	return store.NewDynamoStore(dynamodb.NewFromConfig(cfg), tableName)
}

// ParameterAPI is the subset of *ssm.Client used to read credentials.
type ParameterAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// LoadCredentials returns the site credentials. FC_LOGIN_ID and FC_PASSWORD
// win when both are set; otherwise the SecureString parameters named by
// SSM_LOGIN_ID_PARAM and SSM_PASSWORD_PARAM (or the defaults) are read.
func LoadCredentials(ctx context.Context, client ParameterAPI) (registration.Credentials, error) {
	id, pw := os.Getenv("FC_LOGIN_ID"), os.Getenv("FC_PASSWORD")
	if id != "" && pw != "" {
		log.Debug().Msg("Site credentials loaded from environment")
		return registration.Credentials{LoginID: id, Password: pw}, nil
	}

	idParam := logging.EnvOrDefault("SSM_LOGIN_ID_PARAM", DefaultLoginIDParam)
	pwParam := logging.EnvOrDefault("SSM_PASSWORD_PARAM", DefaultPasswordParam)

	var err error
	if id, err = getParameter(ctx, client, idParam); err != nil {
		return registration.Credentials{}, err
	}
	if pw, err = getParameter(ctx, client, pwParam); err != nil {
		return registration.Credentials{}, err
	}
	return registration.Credentials{LoginID: id, Password: pw}, nil
}

func getParameter(ctx context.Context, client ParameterAPI, name string) (string, error) {
	start := time.Now()
	result, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("read SSM parameter %s: %w", name, err)
	}
	if result.Parameter == nil || result.Parameter.Value == nil || *result.Parameter.Value == "" {
		return "", fmt.Errorf("SSM parameter %s is empty", name)
	}
	log.Debug().Str("param", name).Dur("elapsed", time.Since(start)).Msg("Parameter loaded from SSM")
	return *result.Parameter.Value, nil
}

// StartupLog is a convenience wrapper for the startup logger.
func StartupLog(name string, initStart time.Time) *logging.StartupLogger {
	return logging.NewStartupLogger(name).InitDuration(time.Since(initStart))
}
