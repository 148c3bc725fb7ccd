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
	"github.com/juju/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Regressor fits a real target from a sparse binary feature vector, given as the
// sorted indices of active features.
type Regressor interface {
	Fit(features [][]int32, targets []float64, numFeatures int) error
	Predict(features []int32) float64
}

// Ridge is least squares with an L2 penalty on coefficients:
//
//	min_w ||y - b - Xw||^2 + alpha ||w||^2
//
// The intercept b is not penalized.
type Ridge struct {
	alpha        float64
	Intercept    float64
	Coefficients []float64
}

func NewRidge(alpha float64) *Ridge {
	return &Ridge{alpha: alpha}
}

func (r *Ridge) Fit(features [][]int32, targets []float64, numFeatures int) error {
	if len(features) != len(targets) {
		return errors.Errorf("%d feature vectors but %d targets", len(features), len(targets))
	}
	r.Coefficients = make([]float64, numFeatures)
	r.Intercept = 0
	n := len(features)
	if n == 0 {
		return nil
	}
	r.Intercept = stat.Mean(targets, nil)
	if numFeatures == 0 {
		return nil
	}
	// center features and targets
	means := make([]float64, numFeatures)
	for _, row := range features {
		for _, j := range row {
			if int(j) >= numFeatures {
				return errors.NotValidf("feature %d of %d", j, numFeatures)
			}
			means[j] += 1 / float64(n)
		}
	}
	x := mat.NewDense(n, numFeatures, nil)
	y := mat.NewVecDense(n, nil)
	for i, row := range features {
		for j := range means {
			x.Set(i, j, -means[j])
		}
		for _, j := range row {
			x.Set(i, int(j), 1-means[j])
		}
		y.SetVec(i, targets[i]-r.Intercept)
	}
	var gram mat.SymDense
	gram.SymOuterK(1, x.T())
	for j := 0; j < numFeatures; j++ {
		gram.SetSym(j, j, gram.At(j, j)+r.alpha)
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(&gram); !ok {
		return errors.Errorf("ridge system with alpha %v is not positive definite", r.alpha)
	}
	var moment, w mat.VecDense
	moment.MulVec(x.T(), y)
	if err := chol.SolveVecTo(&w, &moment); err != nil {
		// an ill-conditioned solution is still usable
		var condition mat.Condition
		if !errors.As(err, &condition) {
			return errors.Trace(err)
		}
	}
	for j := range r.Coefficients {
		r.Coefficients[j] = w.AtVec(j)
		r.Intercept -= means[j] * r.Coefficients[j]
	}
	return nil
}

func (r *Ridge) Predict(features []int32) float64 {
	prediction := r.Intercept
	for _, j := range features {
		if int(j) < len(r.Coefficients) {
			prediction += r.Coefficients[j]
		}
	}
	return prediction
}
