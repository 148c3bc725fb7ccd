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
	"os"
	"os/signal"
	"time"

	"github.com/gorse-io/latent/base/log"
	"github.com/gorse-io/latent/dataset"
	"github.com/gorse-io/latent/model/mapping"
	"github.com/gorse-io/latent/model/mf"
	"github.com/gorse-io/latent/storage/blob"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var trainCommand = &cobra.Command{
	Use:   "train",
	Short: "Train a factor model and an optional cold-start mapping.",
	Run: func(cmd *cobra.Command, args []string) {
		conf := loadConfig(cmd)
		dataPath, _ := cmd.Flags().GetString("data")
		attributesPath, _ := cmd.Flags().GetString("attributes")
		modelName, _ := cmd.Flags().GetString("model-name")
		mappingName, _ := cmd.Flags().GetString("mapping-name")
		metricsAddress, _ := cmd.Flags().GetString("metrics")
		showProgress, _ := cmd.Flags().GetBool("progress")
		serveMetrics(metricsAddress)

		trainSet, err := dataset.LoadInteractionsFromFile(dataPath)
		if err != nil {
			log.Logger().Fatal("failed to load interactions", zap.String("path", dataPath), zap.Error(err))
		}
		// Entities that only appear in the attribute file are registered before training
		// so that the factor model reserves rows for them.
		var attributes *dataset.Attributes
		if attributesPath != "" {
			register := trainSet.AddItem
			if conf.Mapping.Side == dataset.UserSide {
				register = trainSet.AddUser
			}
			attributes, err = dataset.LoadAttributesFromFile(attributesPath, register)
			if err != nil {
				log.Logger().Fatal("failed to load attributes", zap.String("path", attributesPath), zap.Error(err))
			}
		}
		log.Logger().Info("load dataset",
			zap.Int("n_users", trainSet.CountUsers()),
			zap.Int("n_items", trainSet.CountItems()),
			zap.Int("n_feedback", trainSet.Count()),
			zap.Time("max_timestamp", trainSet.MaxTimestamp()))

		m, err := mf.NewModel(conf.Model.Type, conf.GetParams())
		if err != nil {
			log.Logger().Fatal("failed to create model", zap.Error(err))
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		store := openStore(conf)

		start := time.Now()
		trainCtx, span := startProgress(ctx, "train", showProgress)
		if err = m.Train(trainCtx, trainSet); err != nil {
			span.Fail(err)
			log.Logger().Fatal("failed to train model", zap.Error(err))
		}
		span.End()
		log.Logger().Info("train model done",
			zap.String("model", conf.Model.Type),
			zap.String("status", m.Status().String()),
			zap.Float32("fit", m.ComputeFit()),
			zap.Duration("elapsed", time.Since(start)))
		if err = blob.SaveModel(store, modelName, m); err != nil {
			log.Logger().Fatal("failed to save model", zap.String("name", modelName), zap.Error(err))
		}

		if attributes == nil {
			return
		}
		mapper, err := mapping.NewMapper(conf.Mapping.Type, conf.Mapping.Side,
			conf.Mapping.GetParams(conf.Sampler, conf.Model.RandomState, conf.Model.NJobs))
		if err != nil {
			log.Logger().Fatal("failed to create mapper", zap.Error(err))
		}
		start = time.Now()
		fitCtx, span := startProgress(ctx, "fit", showProgress)
		cached, err := mapper.Fit(fitCtx, trainSet, m.GetFactorModel(), attributes)
		if err != nil {
			span.Fail(err)
			log.Logger().Fatal("failed to fit mapping", zap.Error(err))
		}
		span.End()
		log.Logger().Info("fit mapping done",
			zap.String("mapping", conf.Mapping.Type),
			zap.String("side", string(conf.Mapping.Side)),
			zap.Float32("rmse", mapping.ComputeFit(cached, m.GetFactorModel(), conf.Mapping.Side)),
			zap.Duration("elapsed", time.Since(start)))
		if err = blob.SaveMapping(store, mappingName, cached); err != nil {
			log.Logger().Fatal("failed to save mapping", zap.String("name", mappingName), zap.Error(err))
		}
	},
}

func init() {
	rootCommand.AddCommand(trainCommand)
	trainCommand.Flags().String("data", "", "interactions file (user, item, rating, timestamp separated by tabs)")
	trainCommand.Flags().String("attributes", "", "attributes file (entity followed by attributes separated by tabs)")
	trainCommand.Flags().String("model-name", "model.bin", "name of the model in the blob store")
	trainCommand.Flags().String("mapping-name", "mapping.bin", "name of the mapping in the blob store")
	trainCommand.Flags().String("metrics", "", "address to serve Prometheus metrics")
	trainCommand.Flags().Bool("progress", true, "show progress bar")
	_ = trainCommand.MarkFlagRequired("data")
}
