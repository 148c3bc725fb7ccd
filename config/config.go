// Copyright 2025 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/gorse-io/latent/dataset"
	"github.com/gorse-io/latent/model"
	"github.com/juju/errors"
	"github.com/spf13/viper"
)

const (
	BlobPOSIX = "posix"
	BlobS3    = "s3"
	BlobGCS   = "gcs"
	BlobAzure = "azure"
)

// Config is the configuration of training.
type Config struct {
	Model       ModelConfig       `mapstructure:"model"`
	Sampler     SamplerConfig     `mapstructure:"sampler"`
	Mapping     MappingConfig     `mapstructure:"mapping"`
	Correlation CorrelationConfig `mapstructure:"correlation"`
	Blob        BlobConfig        `mapstructure:"blob"`
}

// ModelConfig is the configuration of the factor model and its trainer.
type ModelConfig struct {
	Type            string   `mapstructure:"type" validate:"oneof=mf bpr"`
	NFactors        int      `mapstructure:"n_factors" validate:"gt=0"`
	NEpochs         int      `mapstructure:"n_epochs" validate:"gte=0"`
	Lr              float32  `mapstructure:"lr" validate:"gt=0"`
	Reg             float32  `mapstructure:"reg" validate:"gte=0"`
	RegU            *float32 `mapstructure:"reg_u" validate:"omitempty,gte=0"`
	RegI            *float32 `mapstructure:"reg_i" validate:"omitempty,gte=0"`
	RegJ            *float32 `mapstructure:"reg_j" validate:"omitempty,gte=0"`
	InitMean        float32  `mapstructure:"init_mean"`
	InitStdDev      float32  `mapstructure:"init_std" validate:"gte=0"`
	UseBias         bool     `mapstructure:"use_bias"`
	BoldDriver      bool     `mapstructure:"bold_driver"`
	RandomState     int64    `mapstructure:"random_state"`
	Tolerance       float32  `mapstructure:"tolerance" validate:"gte=0"`
	WithReplacement bool     `mapstructure:"with_replacement"`
	NJobs           int      `mapstructure:"n_jobs" validate:"gt=0"`
}

// SamplerConfig is the configuration of negative sampling.
type SamplerConfig struct {
	Type        string `mapstructure:"type" validate:"oneof=uniform_user uniform_pair frequency_user frequency_pair"`
	MaxAttempts int    `mapstructure:"max_attempts" validate:"gt=0"`
}

// MappingConfig is the configuration of the cold-start attribute mapper.
type MappingConfig struct {
	Type       string       `mapstructure:"type" validate:"oneof=optimal complex knn svr"`
	Side       dataset.Side `mapstructure:"side" validate:"oneof=user item"`
	NEpochs    int          `mapstructure:"n_epochs" validate:"gte=0"`
	Lr         float32      `mapstructure:"lr" validate:"gt=0"`
	Reg        float32      `mapstructure:"reg" validate:"gte=0"`
	InitStdDev float32      `mapstructure:"init_std" validate:"gte=0"`
	NHidden    int          `mapstructure:"n_hidden" validate:"gt=0"`
	NNeighbors int          `mapstructure:"n_neighbors" validate:"gt=0"`
	Ridge      float32      `mapstructure:"ridge" validate:"gte=0"`
}

// CorrelationConfig is the configuration of similarity matrices.
type CorrelationConfig struct {
	Shrinkage float32 `mapstructure:"shrinkage" validate:"gte=0"`
	Jobs      int     `mapstructure:"jobs" validate:"gt=0"`
}

// BlobConfig selects where models are stored.
type BlobConfig struct {
	Type  string          `mapstructure:"type" validate:"oneof=posix s3 gcs azure"`
	POSIX POSIXConfig     `mapstructure:"posix"`
	S3    S3Config        `mapstructure:"s3"`
	GCS   GCSConfig       `mapstructure:"gcs"`
	Azure AzureBlobConfig `mapstructure:"azure"`
}

type POSIXConfig struct {
	Dir string `mapstructure:"dir"`
}

type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Region          string `mapstructure:"region"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
}

type GCSConfig struct {
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	CredentialsFile string `mapstructure:"credentials_file"`
	AccessToken     string `mapstructure:"access_token"`
}

type AzureBlobConfig struct {
	ConnectionString string `mapstructure:"connection_string"`
	AccountName      string `mapstructure:"account_name"`
	AccountKey       string `mapstructure:"account_key"`
	Endpoint         string `mapstructure:"endpoint"`
	Container        string `mapstructure:"container"`
	Prefix           string `mapstructure:"prefix"`
}

func GetDefaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			Type:            "bpr",
			NFactors:        10,
			NEpochs:         100,
			Lr:              0.05,
			Reg:             0.01,
			InitStdDev:      0.1,
			UseBias:         true,
			WithReplacement: true,
			NJobs:           1,
		},
		Sampler: SamplerConfig{
			Type:        "uniform_user",
			MaxAttempts: 1000,
		},
		Mapping: MappingConfig{
			Type:       "optimal",
			Side:       dataset.ItemSide,
			NEpochs:    50,
			Lr:         0.01,
			Reg:        0.01,
			InitStdDev: 0.1,
			NHidden:    16,
			NNeighbors: 20,
			Ridge:      1,
		},
		Correlation: CorrelationConfig{
			Shrinkage: 100,
			Jobs:      1,
		},
		Blob: BlobConfig{
			Type:  BlobPOSIX,
			POSIX: POSIXConfig{Dir: "models"},
		},
	}
}

func setDefault(v *viper.Viper) {
	defaultConfig := GetDefaultConfig()
	// [model]
	v.SetDefault("model.type", defaultConfig.Model.Type)
	v.SetDefault("model.n_factors", defaultConfig.Model.NFactors)
	v.SetDefault("model.n_epochs", defaultConfig.Model.NEpochs)
	v.SetDefault("model.lr", defaultConfig.Model.Lr)
	v.SetDefault("model.reg", defaultConfig.Model.Reg)
	v.SetDefault("model.init_mean", defaultConfig.Model.InitMean)
	v.SetDefault("model.init_std", defaultConfig.Model.InitStdDev)
	v.SetDefault("model.use_bias", defaultConfig.Model.UseBias)
	v.SetDefault("model.bold_driver", defaultConfig.Model.BoldDriver)
	v.SetDefault("model.random_state", defaultConfig.Model.RandomState)
	v.SetDefault("model.tolerance", defaultConfig.Model.Tolerance)
	v.SetDefault("model.with_replacement", defaultConfig.Model.WithReplacement)
	v.SetDefault("model.n_jobs", defaultConfig.Model.NJobs)
	// [sampler]
	v.SetDefault("sampler.type", defaultConfig.Sampler.Type)
	v.SetDefault("sampler.max_attempts", defaultConfig.Sampler.MaxAttempts)
	// [mapping]
	v.SetDefault("mapping.type", defaultConfig.Mapping.Type)
	v.SetDefault("mapping.side", string(defaultConfig.Mapping.Side))
	v.SetDefault("mapping.n_epochs", defaultConfig.Mapping.NEpochs)
	v.SetDefault("mapping.lr", defaultConfig.Mapping.Lr)
	v.SetDefault("mapping.reg", defaultConfig.Mapping.Reg)
	v.SetDefault("mapping.init_std", defaultConfig.Mapping.InitStdDev)
	v.SetDefault("mapping.n_hidden", defaultConfig.Mapping.NHidden)
	v.SetDefault("mapping.n_neighbors", defaultConfig.Mapping.NNeighbors)
	v.SetDefault("mapping.ridge", defaultConfig.Mapping.Ridge)
	// [correlation]
	v.SetDefault("correlation.shrinkage", defaultConfig.Correlation.Shrinkage)
	v.SetDefault("correlation.jobs", defaultConfig.Correlation.Jobs)
	// [blob]
	v.SetDefault("blob.type", defaultConfig.Blob.Type)
	v.SetDefault("blob.posix.dir", defaultConfig.Blob.POSIX.Dir)
}

// Keys without defaults are not visited by AutomaticEnv.
var extraEnvKeys = []string{
	"model.reg_u", "model.reg_i", "model.reg_j",
	"blob.s3.endpoint", "blob.s3.access_key_id", "blob.s3.secret_access_key", "blob.s3.region",
	"blob.s3.use_ssl", "blob.s3.bucket", "blob.s3.prefix",
	"blob.gcs.bucket", "blob.gcs.prefix", "blob.gcs.credentials_file", "blob.gcs.access_token",
	"blob.azure.connection_string", "blob.azure.account_name", "blob.azure.account_key",
	"blob.azure.endpoint", "blob.azure.container", "blob.azure.prefix",
}

// LoadConfig reads a TOML file. Every key can be overridden by an environment
// variable, e.g. GORSE_MODEL_LR for model.lr. An empty path loads defaults.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefault(v)
	v.SetEnvPrefix("GORSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range extraEnvKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, errors.Trace(err)
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Trace(err)
		}
	}
	var conf Config
	if err := v.Unmarshal(&conf, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
	))); err != nil {
		return nil, errors.Trace(err)
	}
	if err := conf.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &conf, nil
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks values against their tags and the settings of the selected blob
// store.
func (config *Config) Validate() error {
	if err := getValidator().Struct(config); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) && len(validationErrors) > 0 {
			fieldError := validationErrors[0]
			return errors.NotValidf("%s = %v (%s %s)",
				fieldError.Namespace(), fieldError.Value(), fieldError.Tag(), fieldError.Param())
		}
		return errors.Trace(err)
	}
	switch config.Blob.Type {
	case BlobPOSIX:
		if config.Blob.POSIX.Dir == "" {
			return errors.NotValidf("empty blob.posix.dir")
		}
	case BlobS3:
		if config.Blob.S3.Endpoint == "" || config.Blob.S3.Bucket == "" {
			return errors.NotValidf("blob.s3 without endpoint or bucket")
		}
	case BlobGCS:
		if config.Blob.GCS.Bucket == "" {
			return errors.NotValidf("empty blob.gcs.bucket")
		}
	case BlobAzure:
		if config.Blob.Azure.Container == "" {
			return errors.NotValidf("empty blob.azure.container")
		}
		if config.Blob.Azure.ConnectionString == "" &&
			(config.Blob.Azure.AccountName == "" || config.Blob.Azure.AccountKey == "") {
			return errors.NotValidf("blob.azure without connection_string or account")
		}
	}
	return nil
}

// GetParams converts the configuration of the model and the sampler to
// hyper-parameters.
func (config *Config) GetParams() model.Params {
	params := model.Params{
		model.NFactors:        config.Model.NFactors,
		model.NEpochs:         config.Model.NEpochs,
		model.Lr:              config.Model.Lr,
		model.Reg:             config.Model.Reg,
		model.InitMean:        config.Model.InitMean,
		model.InitStdDev:      config.Model.InitStdDev,
		model.UseBias:         config.Model.UseBias,
		model.BoldDriver:      config.Model.BoldDriver,
		model.RandomState:     config.Model.RandomState,
		model.Tolerance:       config.Model.Tolerance,
		model.WithReplacement: config.Model.WithReplacement,
		model.NJobs:           config.Model.NJobs,
		model.SamplerName:     config.Sampler.Type,
		model.MaxAttempts:     config.Sampler.MaxAttempts,
	}
	if config.Model.RegU != nil {
		params[model.RegU] = *config.Model.RegU
	}
	if config.Model.RegI != nil {
		params[model.RegI] = *config.Model.RegI
	}
	if config.Model.RegJ != nil {
		params[model.RegJ] = *config.Model.RegJ
	}
	return params
}

// GetParams converts the configuration of the mapper to hyper-parameters. Mappers
// trained on triples share the sampler and the seed of the model.
func (config *MappingConfig) GetParams(sampler SamplerConfig, randomState int64, jobs int) model.Params {
	return model.Params{
		model.NEpochs:     config.NEpochs,
		model.Lr:          config.Lr,
		model.Reg:         config.Reg,
		model.InitStdDev:  config.InitStdDev,
		model.NHidden:     config.NHidden,
		model.NNeighbors:  config.NNeighbors,
		model.Ridge:       config.Ridge,
		model.SamplerName: sampler.Type,
		model.MaxAttempts: sampler.MaxAttempts,
		model.RandomState: randomState,
		model.NJobs:       jobs,
	}
}
