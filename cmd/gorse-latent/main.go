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

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/gorse-io/latent/base/log"
	"github.com/gorse-io/latent/base/progress"
	"github.com/gorse-io/latent/cmd/version"
	"github.com/gorse-io/latent/config"
	"github.com/gorse-io/latent/storage/blob"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rootCommand = &cobra.Command{
	Use:   "gorse-latent",
	Short: "Train latent factor models and map cold-start entities.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		debug, _ := cmd.Flags().GetBool("debug")
		log.SetLogger(cmd.Flags(), debug)
	},
	Run: func(cmd *cobra.Command, args []string) {
		if showVersion, _ := cmd.Flags().GetBool("version"); showVersion {
			fmt.Println(version.BuildInfo())
			return
		}
		_ = cmd.Help()
	},
}

func init() {
	log.AddFlags(rootCommand.PersistentFlags())
	rootCommand.PersistentFlags().Bool("debug", false, "use debug log mode")
	rootCommand.PersistentFlags().StringP("config", "c", "", "configuration file path")
	rootCommand.Flags().BoolP("version", "v", false, "gorse-latent version")
}

func main() {
	if err := rootCommand.Execute(); err != nil {
		log.Logger().Fatal("failed to execute", zap.Error(err))
	}
}

func loadConfig(cmd *cobra.Command) *config.Config {
	configPath, _ := cmd.Flags().GetString("config")
	log.Logger().Info("load config", zap.String("config", configPath))
	conf, err := config.LoadConfig(configPath)
	if err != nil {
		log.Logger().Fatal("failed to load config", zap.Error(err))
	}
	return conf
}

func openStore(conf *config.Config) blob.Store {
	var location string
	switch conf.Blob.Type {
	case config.BlobS3:
		location = conf.Blob.S3.Endpoint + "/" + conf.Blob.S3.Bucket
	case config.BlobGCS:
		location = conf.Blob.GCS.Bucket
	case config.BlobAzure:
		location = conf.Blob.Azure.ConnectionString
		if location == "" {
			location = conf.Blob.Azure.Endpoint
		}
	default:
		location = conf.Blob.POSIX.Dir
	}
	log.Logger().Info("open blob store", zap.String("type", conf.Blob.Type), zap.String("location", log.Redact(location)))
	store, err := blob.NewStore(conf.Blob)
	if err != nil {
		log.Logger().Fatal("failed to open blob store", zap.String("type", conf.Blob.Type), zap.Error(err))
	}
	return store
}

// serveMetrics exposes Prometheus metrics until the process exits.
func serveMetrics(address string) {
	if address == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		log.Logger().Info("start metrics server", zap.String("address", address))
		if err := http.ListenAndServe(address, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Logger().Error("failed to serve metrics", zap.Error(err))
		}
	}()
}

// startProgress renders spans of the returned context as a progress bar on stderr.
func startProgress(ctx context.Context, name string, visible bool) (context.Context, *progress.Span) {
	tracer := progress.NewTracer("gorse-latent")
	bar := progressbar.NewOptions(1,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(name),
		progressbar.OptionSetVisibility(visible),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish())
	tracer.OnProgress = func(p progress.Progress) {
		if p.Total > 0 {
			bar.ChangeMax(p.Total)
		}
		_ = bar.Set(p.Count)
		if p.Status != progress.StatusRunning {
			_ = bar.Finish()
		}
	}
	return tracer.Start(ctx, name, 1)
}
