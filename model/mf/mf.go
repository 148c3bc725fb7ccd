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
	"github.com/gorse-io/latent/dataset"
	"github.com/gorse-io/latent/model"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// MF is matrix factorization for rating prediction. The rating of user u for item i is
// estimated by
//
//	\hat r_{ui} = \mu + b_u + b_i + p_u^T q_i
//
// and the squared error is minimized by SGD over the shuffled log.
//
// Hyper-parameters:
//
//	 Reg 		- The regularization parameter of the cost function that is
//				  optimized. Default is 0.015.
//	 Lr 		- The learning rate of SGD. Default is 0.01.
//	 NFactors	- The number of latent factors. Default is 10.
//	 NEpochs	- The number of iteration of the SGD procedure. Default is 30.
//	 InitMean	- The mean of initial random latent factors. Default is 0.
//	 InitStdDev	- The standard deviation of initial random latent factors. Default is 0.1.
//	 UseBias	- Learn user and item biases. Default is true.
//	 Tolerance	- Stop when the relative change of the epoch RMSE is below it. Default is 0.
type MF struct {
	BaseMatrixFactorization
	// Hyper parameters
	nFactors   int
	nEpochs    int
	lr         float32
	reg        float32
	initMean   float32
	initStdDev float32
	useBias    bool
	tolerance  float32
	// RMSE accumulated during the last epoch
	lastEpochRMSE float32
	// Buffers
	userFactor []float32
	itemFactor []float32
	temp       []float32
}

// NewMF creates a MF model.
func NewMF(params model.Params) *MF {
	mf := new(MF)
	mf.SetParams(params)
	return mf
}

// SetParams sets hyper-parameters of the MF model.
func (mf *MF) SetParams(params model.Params) {
	mf.BaseMatrixFactorization.SetParams(params)
	mf.nFactors = mf.Params.GetInt(model.NFactors, 10)
	mf.nEpochs = mf.Params.GetInt(model.NEpochs, 30)
	mf.lr = mf.Params.GetFloat32(model.Lr, 0.01)
	mf.reg = mf.Params.GetFloat32(model.Reg, 0.015)
	mf.initMean = mf.Params.GetFloat32(model.InitMean, 0)
	mf.initStdDev = mf.Params.GetFloat32(model.InitStdDev, 0.1)
	mf.useBias = mf.Params.GetBool(model.UseBias, true)
	mf.tolerance = mf.Params.GetFloat32(model.Tolerance, 0)
}

// Init binds the train set and draws initial factors. The global bias starts at the
// mean rating.
func (mf *MF) Init(trainSet *dataset.Dataset) error {
	mf.init(trainSet, mf.nFactors, mf.initMean, mf.initStdDev)
	mf.GlobalBias = trainSet.GlobalMean()
	return nil
}

// Train the MF model. Its task complexity is O(mf.nEpochs).
func (mf *MF) Train(ctx context.Context, trainSet *dataset.Dataset) error {
	log.Logger().Info("fit mf",
		zap.Int("n_users", trainSet.CountUsers()),
		zap.Int("n_items", trainSet.CountItems()),
		zap.Int("train_set_size", trainSet.Count()),
		zap.Any("params", mf.GetParams()))
	if err := mf.Init(trainSet); err != nil {
		return errors.Trace(err)
	}
	mf.setStatus(StatusTraining)
	_, span := progress.Start(ctx, "MF.Fit", mf.nEpochs)
	defer span.End()
	var previous float32
	for epoch := 1; epoch <= mf.nEpochs; epoch++ {
		if err := ctx.Err(); err != nil {
			mf.setStatus(StatusAborted)
			span.Fail(err)
			return errors.Trace(err)
		}
		fitStart := time.Now()
		if err := mf.Iterate(ctx); err != nil {
			mf.setStatus(StatusAborted)
			span.Fail(err)
			return errors.Trace(err)
		}
		loss := mf.lastEpochRMSE
		log.Logger().Debug(fmt.Sprintf("fit mf %v/%v", epoch, mf.nEpochs),
			zap.String("fit_time", time.Since(fitStart).String()),
			zap.Float32("rmse", loss))
		span.Add(1)
		if converged(previous, loss, mf.tolerance) {
			mf.setStatus(StatusConverged)
			break
		}
		previous = loss
	}
	if mf.Status() == StatusTraining {
		mf.setStatus(StatusMaxIterReached)
	}
	log.Logger().Info("fit mf complete",
		zap.Int("n_epochs", mf.Epoch()),
		zap.Stringer("status", mf.Status()),
		zap.Float32("rmse", mf.lastEpochRMSE))
	return nil
}

// Iterate runs one epoch of SGD over a fresh permutation of the log.
func (mf *MF) Iterate(_ context.Context) error {
	if err := mf.checkTrainSet(); err != nil {
		return errors.Trace(err)
	}
	if len(mf.temp) != mf.K {
		mf.userFactor = make([]float32, mf.K)
		mf.itemFactor = make([]float32, mf.K)
		mf.temp = make([]float32, mf.K)
	}
	trainSet := mf.trainSet
	rng := mf.GetRandomGenerator()
	sum := float32(0)
	for _, index := range rng.Perm(trainSet.Count()) {
		x := trainSet.Get(index)
		// Compute error: e_{ui} = r - \hat r
		diff := x.Rating - mf.InternalPredict(x.User, x.Item)
		sum += diff * diff
		if mf.useBias {
			// b_u <- b_u + \gamma (e_{ui} - \lambda b_u)
			mf.UserBias[x.User] += mf.lr * (diff - mf.reg*mf.UserBias[x.User])
			// b_i <- b_i + \gamma (e_{ui} - \lambda b_i)
			mf.ItemBias[x.Item] += mf.lr * (diff - mf.reg*mf.ItemBias[x.Item])
		}
		copy(mf.userFactor, mf.UserFactor[x.User])
		copy(mf.itemFactor, mf.ItemFactor[x.Item])
		// p_u <- p_u + \gamma (e_{ui} q_i - \lambda p_u)
		floats.MulConstTo(mf.itemFactor, diff, mf.temp)
		floats.MulConstAdd(mf.userFactor, -mf.reg, mf.temp)
		floats.MulConstAdd(mf.temp, mf.lr, mf.UserFactor[x.User])
		// q_i <- q_i + \gamma (e_{ui} p_u - \lambda q_i)
		floats.MulConstTo(mf.userFactor, diff, mf.temp)
		floats.MulConstAdd(mf.itemFactor, -mf.reg, mf.temp)
		floats.MulConstAdd(mf.temp, mf.lr, mf.ItemFactor[x.Item])
	}
	mf.lastEpochRMSE = 0
	if trainSet.Count() > 0 {
		mf.lastEpochRMSE = math32.Sqrt(sum / float32(trainSet.Count()))
	}
	mf.epoch++
	EpochLossVec.WithLabelValues("mf").Set(float64(mf.lastEpochRMSE))
	LearningRateVec.WithLabelValues("mf").Set(float64(mf.lr))
	EpochsTotalVec.WithLabelValues("mf").Inc()
	return nil
}

// ComputeFit returns the RMSE on the train set.
func (mf *MF) ComputeFit() float32 {
	if mf.trainSet == nil || mf.trainSet.Count() == 0 {
		return 0
	}
	sum := float32(0)
	for i := 0; i < mf.trainSet.Count(); i++ {
		x := mf.trainSet.Get(i)
		diff := x.Rating - mf.Score(x.User, x.Item)
		sum += diff * diff
	}
	return math32.Sqrt(sum / float32(mf.trainSet.Count()))
}

// Unmarshal model from byte stream.
func (mf *MF) Unmarshal(r io.Reader) error {
	if err := mf.BaseMatrixFactorization.Unmarshal(r); err != nil {
		return errors.Trace(err)
	}
	params := mf.Params
	mf.SetParams(lo.Ternary(params == nil, model.Params{}, params))
	mf.nFactors = mf.K
	return nil
}
