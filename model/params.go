// Copyright 2020 gorse Project Authors
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

package model

import (
	"reflect"

	"github.com/gorse-io/latent/base/log"
	"go.uber.org/zap"
)

// ParamName is the type of hyper-parameter names.
type ParamName string

// Predefined hyper-parameter names
const (
	Lr              ParamName = "Lr"              // learning rate
	Reg             ParamName = "Reg"             // regularization strength
	RegU            ParamName = "RegU"            // regularization of user factors in BPR
	RegI            ParamName = "RegI"            // regularization of positive item factors in BPR
	RegJ            ParamName = "RegJ"            // regularization of negative item factors in BPR
	NEpochs         ParamName = "NEpochs"         // number of epochs
	NFactors        ParamName = "NFactors"        // number of factors
	RandomState     ParamName = "RandomState"     // random state (seed)
	InitMean        ParamName = "InitMean"        // mean of gaussian initial parameter
	InitStdDev      ParamName = "InitStdDev"      // standard deviation of gaussian initial parameter
	UseBias         ParamName = "UseBias"         // learn global, user and item biases
	BoldDriver      ParamName = "BoldDriver"      // adapt the learning rate after each epoch
	Tolerance       ParamName = "Tolerance"       // relative loss change to stop at
	WithReplacement ParamName = "WithReplacement" // draw BPR triples with replacement
	MaxAttempts     ParamName = "MaxAttempts"     // rejection sampling budget per draw
	SamplerName     ParamName = "Sampler"         // negative sampling strategy of BPR
	NJobs           ParamName = "NJobs"           // number of workers for full passes
	NHidden         ParamName = "NHidden"         // width of the hidden layer of a mapper
	NNeighbors      ParamName = "NNeighbors"      // number of neighbors
	Shrinkage       ParamName = "Shrinkage"       // shrinkage of similarity
	Ridge           ParamName = "Ridge"           // ridge penalty of the regressor
)

// Params stores hyper-parameters for an model. It is a map between strings
// (names) and interface{}s (values). For example, hyper-parameters for BPR
// is given by:
//
//	model.Params{
//		model.Lr:       0.05,
//		model.NEpochs:  100,
//		model.NFactors: 10,
//		model.Reg:      0.01,
//	}
type Params map[ParamName]interface{}

// Copy hyper-parameters.
func (parameters Params) Copy() Params {
	newParams := make(Params)
	for k, v := range parameters {
		newParams[k] = v
	}
	return newParams
}

// GetInt gets a integer parameter by name. Returns _default if not exists or type doesn't match.
func (parameters Params) GetInt(name ParamName, _default int) int {
	if val, exist := parameters[name]; exist {
		switch val := val.(type) {
		case int:
			return val
		default:
			log.Logger().Error("type mismatch", zap.String("param", string(name)),
				zap.String("expect", "int"), zap.Stringer("actual", reflect.TypeOf(val)))
		}
	}
	return _default
}

// GetInt64 gets a int64 parameter by name. Returns _default if not exists or type doesn't match. The
// type will be converted if given int.
func (parameters Params) GetInt64(name ParamName, _default int64) int64 {
	if val, exist := parameters[name]; exist {
		switch val := val.(type) {
		case int64:
			return val
		case int:
			return int64(val)
		default:
			log.Logger().Error("type mismatch", zap.String("param", string(name)),
				zap.String("expect", "int64"), zap.Stringer("actual", reflect.TypeOf(val)))
		}
	}
	return _default
}

// GetBool gets a bool parameter by name. Returns _default if not exists or type doesn't match.
func (parameters Params) GetBool(name ParamName, _default bool) bool {
	if val, exist := parameters[name]; exist {
		switch val := val.(type) {
		case bool:
			return val
		default:
			log.Logger().Error("type mismatch", zap.String("param", string(name)),
				zap.String("expect", "bool"), zap.Stringer("actual", reflect.TypeOf(val)))
		}
	}
	return _default
}

// GetFloat32 gets a float32 parameter by name. float64 and int values are converted.
func (parameters Params) GetFloat32(name ParamName, _default float32) float32 {
	if val, exist := parameters[name]; exist {
		switch val := val.(type) {
		case float32:
			return val
		case float64:
			return float32(val)
		case int:
			return float32(val)
		default:
			log.Logger().Error("type mismatch", zap.String("param", string(name)),
				zap.String("expect", "float32"), zap.Stringer("actual", reflect.TypeOf(val)))
		}
	}
	return _default
}

// GetString gets a string parameter. Returns _default if not exists or type doesn't match.
func (parameters Params) GetString(name ParamName, _default string) string {
	if val, exist := parameters[name]; exist {
		switch val := val.(type) {
		case string:
			return val
		default:
			log.Logger().Error("type mismatch", zap.String("param", string(name)),
				zap.String("expect", "string"), zap.Stringer("actual", reflect.TypeOf(val)))
		}
	}
	return _default
}

// Overwrite returns a copy of parameters updated by params.
func (parameters Params) Overwrite(params Params) Params {
	merged := make(Params)
	for k, v := range parameters {
		merged[k] = v
	}
	for k, v := range params {
		merged[k] = v
	}
	return merged
}

