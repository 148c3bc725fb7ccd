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

package mf

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/chewxy/math32"
	"github.com/gorse-io/latent/base/log"
	"github.com/gorse-io/latent/base/progress"
	"github.com/gorse-io/latent/common/floats"
	"github.com/gorse-io/latent/common/parallel"
	"github.com/gorse-io/latent/dataset"
	"github.com/gorse-io/latent/model"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const (
	boldDriverDecay  = 0.5
	boldDriverGrowth = 1.1
)

// BPR means Bayesian Personal Ranking, is a pairwise learning algorithm for matrix factorization
// model with implicit feedback. The pairwise ranking between item i and j for user u is estimated
// by:
//
//	p(i >_u j) = \sigma( p_u^T (q_i - q_j) )
//
// Hyper-parameters:
//
//	 Reg 		- The regularization parameter of the cost function that is
//				  optimized. Default is 0.01.
//	 RegU, RegI, RegJ - Regularization of user, positive item and negative item
//				  factors. Default to Reg.
//	 Lr 		- The learning rate of SGD. Default is 0.05.
//	 NFactors	- The number of latent factors. Default is 10.
//	 NEpochs	- The number of iteration of the SGD procedure. Default is 100.
//	 InitMean	- The mean of initial random latent factors. Default is 0.
//	 InitStdDev	- The standard deviation of initial random latent factors. Default is 0.1.
//	 Sampler	- The negative sampling strategy. Default is uniform_user.
//	 WithReplacement - Draw triples from the sampler (true) or walk the shuffled log and
//				  draw only counter items (false). Default is true.
//	 BoldDriver	- Halve the learning rate if the loss increased after an epoch and
//				  grow it by 10% otherwise. Default is false.
//	 Tolerance	- Stop when the relative change of the loss is below it. Default is 0.
type BPR struct {
	BaseMatrixFactorization
	// Hyper parameters
	nFactors        int
	nEpochs         int
	lr              float32
	regU            float32
	regI            float32
	regJ            float32
	initMean        float32
	initStdDev      float32
	samplerName     string
	maxAttempts     int
	withReplacement bool
	boldDriver      bool
	tolerance       float32
	nJobs           int
	// Training state
	sampler       Sampler
	customSampler Sampler
	replay        *dataset.Replay
	currentLr     float32
	lastLoss      float32
	hasLoss       bool
	// Buffers
	userFactor         []float32
	positiveItemFactor []float32
	negativeItemFactor []float32
	temp               []float32
}

// NewBPR creates a BPR model.
func NewBPR(params model.Params) *BPR {
	bpr := new(BPR)
	bpr.SetParams(params)
	return bpr
}

// SetParams sets hyper-parameters of the BPR model.
func (bpr *BPR) SetParams(params model.Params) {
	bpr.BaseMatrixFactorization.SetParams(params)
	reg := bpr.Params.GetFloat32(model.Reg, 0.01)
	bpr.nFactors = bpr.Params.GetInt(model.NFactors, 10)
	bpr.nEpochs = bpr.Params.GetInt(model.NEpochs, 100)
	bpr.lr = bpr.Params.GetFloat32(model.Lr, 0.05)
	bpr.regU = bpr.Params.GetFloat32(model.RegU, reg)
	bpr.regI = bpr.Params.GetFloat32(model.RegI, reg)
	bpr.regJ = bpr.Params.GetFloat32(model.RegJ, reg)
	bpr.initMean = bpr.Params.GetFloat32(model.InitMean, 0)
	bpr.initStdDev = bpr.Params.GetFloat32(model.InitStdDev, 0.1)
	bpr.samplerName = bpr.Params.GetString(model.SamplerName, SamplerUniformUser)
	bpr.maxAttempts = bpr.Params.GetInt(model.MaxAttempts, DefaultMaxAttempts)
	bpr.withReplacement = bpr.Params.GetBool(model.WithReplacement, true)
	bpr.boldDriver = bpr.Params.GetBool(model.BoldDriver, false)
	bpr.tolerance = bpr.Params.GetFloat32(model.Tolerance, 0)
	bpr.nJobs = bpr.Params.GetInt(model.NJobs, 1)
	bpr.currentLr = bpr.lr
}

// SetSampler replaces the sampler created from hyper-parameters. It takes effect at
// the next Init.
func (bpr *BPR) SetSampler(sampler Sampler) {
	bpr.customSampler = sampler
}

// GetLearningRate returns the current learning rate, which the bold driver adapts.
func (bpr *BPR) GetLearningRate() float32 {
	return bpr.currentLr
}

// Init binds the train set, draws initial factors and creates the sampler. It fails
// with ErrNoEligibleUser if no training triple exists.
func (bpr *BPR) Init(trainSet *dataset.Dataset) error {
	bpr.init(trainSet, bpr.nFactors, bpr.initMean, bpr.initStdDev)
	bpr.currentLr = bpr.lr
	bpr.hasLoss = false
	bpr.lastLoss = 0
	rng := bpr.GetRandomGenerator()
	if bpr.customSampler != nil {
		bpr.sampler = bpr.customSampler
	} else {
		sampler, err := NewSampler(bpr.samplerName, trainSet, rng.Split(), bpr.maxAttempts)
		if err != nil {
			return errors.Trace(err)
		}
		bpr.sampler = sampler
	}
	bpr.replay = trainSet.ShuffledReplay(rng.Split())
	return nil
}

// Bind attaches a train set to a loaded model and creates its sampler.
func (bpr *BPR) Bind(trainSet *dataset.Dataset) error {
	if err := bpr.BaseMatrixFactorization.Bind(trainSet); err != nil {
		return errors.Trace(err)
	}
	sampler, err := NewSampler(bpr.samplerName, trainSet, bpr.GetRandomGenerator().Split(), bpr.maxAttempts)
	if err != nil {
		return errors.Trace(err)
	}
	bpr.sampler = sampler
	bpr.replay = trainSet.ShuffledReplay(bpr.GetRandomGenerator().Split())
	return nil
}

// Train the BPR model. Its task complexity is O(bpr.nEpochs).
func (bpr *BPR) Train(ctx context.Context, trainSet *dataset.Dataset) error {
	log.Logger().Info("fit bpr",
		zap.Int("n_users", trainSet.CountUsers()),
		zap.Int("n_items", trainSet.CountItems()),
		zap.Int("train_set_size", trainSet.Count()),
		zap.Any("params", bpr.GetParams()))
	if err := bpr.Init(trainSet); err != nil {
		bpr.setStatus(StatusAborted)
		return errors.Trace(err)
	}
	bpr.setStatus(StatusTraining)
	_, span := progress.Start(ctx, "BPR.Fit", bpr.nEpochs)
	defer span.End()
	for epoch := 1; epoch <= bpr.nEpochs; epoch++ {
		if err := ctx.Err(); err != nil {
			bpr.setStatus(StatusAborted)
			span.Fail(err)
			return errors.Trace(err)
		}
		fitStart := time.Now()
		previous, hadLoss := bpr.lastLoss, bpr.hasLoss
		if err := bpr.Iterate(ctx); err != nil {
			bpr.setStatus(StatusAborted)
			span.Fail(err)
			log.Logger().Error("failed to fit bpr", zap.Int("epoch", epoch), zap.Error(err))
			return errors.Trace(err)
		}
		fields := []zap.Field{
			zap.String("fit_time", time.Since(fitStart).String()),
			zap.Float32("lr", bpr.currentLr),
		}
		if bpr.tolerance > 0 && !bpr.boldDriver {
			bpr.lastLoss, bpr.hasLoss = bpr.ComputeLoss(), true
		}
		if bpr.hasLoss {
			fields = append(fields, zap.Float32("loss", bpr.lastLoss))
		}
		log.Logger().Debug(fmt.Sprintf("fit bpr %v/%v", epoch, bpr.nEpochs), fields...)
		span.Add(1)
		if hadLoss && converged(previous, bpr.lastLoss, bpr.tolerance) {
			bpr.setStatus(StatusConverged)
			break
		}
	}
	if bpr.Status() == StatusTraining {
		bpr.setStatus(StatusMaxIterReached)
	}
	log.Logger().Info("fit bpr complete",
		zap.Int("n_epochs", bpr.Epoch()),
		zap.Stringer("status", bpr.Status()))
	return nil
}

// Iterate runs one epoch, which draws as many triples as there are interactions. The
// only error is a sampler that cannot produce a valid triple.
func (bpr *BPR) Iterate(ctx context.Context) error {
	if err := bpr.checkTrainSet(); err != nil {
		return errors.Trace(err)
	}
	if bpr.sampler == nil {
		return errors.Trace(ErrNotInitialized)
	}
	if len(bpr.temp) != bpr.K {
		bpr.userFactor = make([]float32, bpr.K)
		bpr.positiveItemFactor = make([]float32, bpr.K)
		bpr.negativeItemFactor = make([]float32, bpr.K)
		bpr.temp = make([]float32, bpr.K)
	}
	trainSet := bpr.trainSet
	if bpr.withReplacement {
		for n := 0; n < trainSet.Count(); n++ {
			userIndex, positiveIndex, negativeIndex, err := bpr.sampler.NextTriple()
			if err != nil {
				return errors.Trace(err)
			}
			bpr.update(userIndex, positiveIndex, negativeIndex)
		}
	} else {
		bpr.replay.Restart()
		for {
			_, x, ok := bpr.replay.Next()
			if !ok {
				break
			}
			if !IsEligibleUser(trainSet, x.User) {
				continue
			}
			positiveIndex, negativeIndex, err := NextPair(bpr.sampler, x.User, x.Item)
			if err != nil {
				return errors.Trace(err)
			}
			bpr.update(x.User, positiveIndex, negativeIndex)
		}
	}
	bpr.epoch++
	if bpr.boldDriver {
		loss, _, err := bpr.pairwiseStats(ctx)
		if err != nil {
			// the learning rate stays as it is when the loss is unknown
			return errors.Trace(err)
		}
		if bpr.hasLoss {
			if loss > bpr.lastLoss {
				bpr.currentLr *= boldDriverDecay
			} else {
				bpr.currentLr *= boldDriverGrowth
			}
		}
		bpr.lastLoss, bpr.hasLoss = loss, true
	}
	if bpr.hasLoss {
		EpochLossVec.WithLabelValues("bpr").Set(float64(bpr.lastLoss))
	}
	LearningRateVec.WithLabelValues("bpr").Set(float64(bpr.currentLr))
	EpochsTotalVec.WithLabelValues("bpr").Inc()
	return nil
}

// update applies one SGD step for user u preferring item i over item j.
func (bpr *BPR) update(userIndex, positiveIndex, negativeIndex int32) {
	diff := bpr.InternalPredict(userIndex, positiveIndex) - bpr.InternalPredict(userIndex, negativeIndex)
	grad := 1 / (1 + math32.Exp(diff))
	lr := bpr.currentLr
	copy(bpr.userFactor, bpr.UserFactor[userIndex])
	copy(bpr.positiveItemFactor, bpr.ItemFactor[positiveIndex])
	copy(bpr.negativeItemFactor, bpr.ItemFactor[negativeIndex])
	// Update user latent factor: h_i-h_j
	floats.SubTo(bpr.positiveItemFactor, bpr.negativeItemFactor, bpr.temp)
	floats.MulConst(bpr.temp, grad)
	floats.MulConstAdd(bpr.userFactor, -bpr.regU, bpr.temp)
	floats.MulConstAdd(bpr.temp, lr, bpr.UserFactor[userIndex])
	// Update positive item latent factor: +w_u
	floats.MulConstTo(bpr.userFactor, grad, bpr.temp)
	floats.MulConstAdd(bpr.positiveItemFactor, -bpr.regI, bpr.temp)
	floats.MulConstAdd(bpr.temp, lr, bpr.ItemFactor[positiveIndex])
	// Update negative item latent factor: -w_u
	floats.MulConstTo(bpr.userFactor, -grad, bpr.temp)
	floats.MulConstAdd(bpr.negativeItemFactor, -bpr.regJ, bpr.temp)
	floats.MulConstAdd(bpr.temp, lr, bpr.ItemFactor[negativeIndex])
}

// ComputeLoss returns the BPR loss over every (user, positive, negative) triple plus
// the L2 penalty each triple contributes: reg_u on the user, reg_i on the positive
// item and reg_j on the negative item. Its cost is quadratic in the number of items
// per user.
func (bpr *BPR) ComputeLoss() float32 {
	loss, _, err := bpr.pairwiseStats(context.Background())
	if err != nil {
		log.Logger().Error("failed to compute bpr loss", zap.Error(err))
	}
	return loss
}

// ComputeFit returns the fraction of (user, positive, negative) triples ranked
// correctly.
func (bpr *BPR) ComputeFit() float32 {
	_, accuracy, err := bpr.pairwiseStats(context.Background())
	if err != nil {
		log.Logger().Error("failed to compute bpr fit", zap.Error(err))
	}
	return accuracy
}

func (bpr *BPR) pairwiseStats(ctx context.Context) (float32, float32, error) {
	if bpr.trainSet == nil || bpr.UserFactor == nil {
		return 0, 0, nil
	}
	trainSet := bpr.trainSet
	users := lo.Filter(lo.Range(trainSet.CountUsers()), func(userIndex int, _ int) bool {
		return IsEligibleUser(trainSet, int32(userIndex))
	})
	itemNorms := make([]float32, trainSet.CountItems())
	totalItemNorm := float32(0)
	for itemIndex := range itemNorms {
		itemNorms[itemIndex] = floats.Dot(bpr.ItemFactor[itemIndex], bpr.ItemFactor[itemIndex])
		totalItemNorm += itemNorms[itemIndex]
	}
	nJobs := max(bpr.nJobs, 1)
	losses := make([]float64, nJobs)
	penalties := make([]float64, nJobs)
	corrects := make([]int, nJobs)
	pairs := make([]int, nJobs)
	scores := make([][]float32, nJobs)
	for i := range scores {
		scores[i] = make([]float32, trainSet.CountItems())
	}
	err := parallel.Parallel(ctx, len(users), nJobs, func(workerId, jobId int) error {
		userIndex := int32(users[jobId])
		positives := trainSet.PositiveItems(userIndex)
		for itemIndex := range scores[workerId] {
			scores[workerId][itemIndex] = bpr.InternalPredict(userIndex, int32(itemIndex))
		}
		positiveNorm := float32(0)
		for _, positiveIndex := range positives.ToSlice() {
			positiveNorm += itemNorms[positiveIndex]
			for negativeIndex := int32(0); int(negativeIndex) < len(scores[workerId]); negativeIndex++ {
				if positives.Contains(negativeIndex) {
					continue
				}
				diff := scores[workerId][positiveIndex] - scores[workerId][negativeIndex]
				losses[workerId] += float64(math32.Log1p(math32.Exp(-diff)))
				if diff > 0 {
					corrects[workerId]++
				}
				pairs[workerId]++
			}
		}
		// every positive pairs with every negative
		numPositives := float32(positives.Cardinality())
		numNegatives := float32(len(scores[workerId])) - numPositives
		userFactor := bpr.UserFactor[userIndex]
		penalties[workerId] += float64(bpr.regU*numPositives*numNegatives*floats.Dot(userFactor, userFactor) +
			bpr.regI*numNegatives*positiveNorm +
			bpr.regJ*numPositives*(totalItemNorm-positiveNorm))
		return nil
	})
	if err != nil {
		return 0, 0, errors.Trace(err)
	}
	total := lo.Sum(pairs)
	if total == 0 {
		return 0, 0, nil
	}
	loss := lo.Sum(losses) + lo.Sum(penalties)/2
	return float32(loss), float32(lo.Sum(corrects)) / float32(total), nil
}

// Unmarshal model from byte stream.
func (bpr *BPR) Unmarshal(r io.Reader) error {
	if err := bpr.BaseMatrixFactorization.Unmarshal(r); err != nil {
		return errors.Trace(err)
	}
	params := bpr.Params
	bpr.SetParams(lo.Ternary(params == nil, model.Params{}, params))
	bpr.nFactors = bpr.K
	return nil
}
