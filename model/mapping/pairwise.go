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

package mapping

import (
	"context"
	"fmt"
	"time"

	"github.com/chewxy/math32"
	"github.com/gorse-io/latent/base/log"
	"github.com/gorse-io/latent/base/progress"
	"github.com/gorse-io/latent/common/floats"
	"github.com/gorse-io/latent/dataset"
	"github.com/gorse-io/latent/model"
	"github.com/gorse-io/latent/model/mf"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

// learner is a mapper whose weights follow the gradient of the pairwise objective with
// respect to the mapped vector of an entity.
type learner interface {
	Mapper
	backward(entity int32, grad []float32, lr, reg float32)
}

// pairwiseConfig holds the hyper-parameters shared by mappers trained on BPR triples.
type pairwiseConfig struct {
	nEpochs     int
	lr          float32
	reg         float32
	initMean    float32
	initStdDev  float32
	samplerName string
	maxAttempts int
}

func newPairwiseConfig(params model.Params) pairwiseConfig {
	return pairwiseConfig{
		nEpochs:     params.GetInt(model.NEpochs, 50),
		lr:          params.GetFloat32(model.Lr, 0.01),
		reg:         params.GetFloat32(model.Reg, 0.01),
		initMean:    params.GetFloat32(model.InitMean, 0),
		initStdDev:  params.GetFloat32(model.InitStdDev, 0.1),
		samplerName: params.GetString(model.SamplerName, mf.SamplerUniformUser),
		maxAttempts: params.GetInt(model.MaxAttempts, mf.DefaultMaxAttempts),
	}
}

// fitPairwise trains a learner on triples (u, i, j) drawn from the train set. The mapped
// vector of the mapped side replaces its trained factors in the BPR score.
func fitPairwise(ctx context.Context, name string, l learner, b *BaseMapper, config pairwiseConfig, trainSet *dataset.Dataset) error {
	sampler, err := mf.NewSampler(config.samplerName, trainSet, b.GetRandomGenerator().Split(), config.maxAttempts)
	if err != nil {
		return errors.Trace(err)
	}
	k := b.K()
	diff := make([]float32, k)
	grad := make([]float32, k)
	_, span := progress.Start(ctx, name+".Fit", config.nEpochs)
	defer span.End()
	for epoch := 1; epoch <= config.nEpochs; epoch++ {
		if err = ctx.Err(); err != nil {
			span.Fail(err)
			return errors.Trace(err)
		}
		fitStart := time.Now()
		for n := 0; n < trainSet.Count(); n++ {
			userIndex, positiveIndex, negativeIndex, err := sampler.NextTriple()
			if err != nil {
				span.Fail(err)
				return errors.Trace(err)
			}
			if b.Side == dataset.ItemSide {
				userFactor := b.Factors.UserFactor[userIndex]
				floats.SubTo(l.MapToFactors(positiveIndex), l.MapToFactors(negativeIndex), diff)
				sigmoid := 1 / (1 + math32.Exp(floats.Dot(userFactor, diff)))
				floats.MulConstTo(userFactor, sigmoid, grad)
				l.backward(positiveIndex, grad, config.lr, config.reg)
				floats.MulConstTo(userFactor, -sigmoid, grad)
				l.backward(negativeIndex, grad, config.lr, config.reg)
			} else {
				floats.SubTo(b.Factors.ItemFactor[positiveIndex], b.Factors.ItemFactor[negativeIndex], diff)
				sigmoid := 1 / (1 + math32.Exp(floats.Dot(l.MapToFactors(userIndex), diff)))
				floats.MulConstTo(diff, sigmoid, grad)
				l.backward(userIndex, grad, config.lr, config.reg)
			}
		}
		log.Logger().Debug(fmt.Sprintf("fit %s %v/%v", name, epoch, config.nEpochs),
			zap.String("fit_time", time.Since(fitStart).String()))
		span.Add(1)
	}
	return nil
}

// logFit reports the fit of a trained mapper.
func logFit(name string, mapper Mapper, b *BaseMapper) {
	log.Logger().Info(fmt.Sprintf("fit %s complete", name),
		zap.String("side", string(b.Side)),
		zap.Float32("rmse", ComputeFit(mapper, b.Factors, b.Side)))
}
