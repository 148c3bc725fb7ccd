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
	"fmt"
	"os"

	"github.com/gorse-io/latent/base/log"
	"github.com/gorse-io/latent/common/heap"
	"github.com/gorse-io/latent/model/mapping"
	"github.com/gorse-io/latent/storage/blob"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var scoreCommand = &cobra.Command{
	Use:   "score <user> [items...]",
	Short: "Score items for a user. All items are ranked if none is given.",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		conf := loadConfig(cmd)
		modelName, _ := cmd.Flags().GetString("model-name")
		mappingName, _ := cmd.Flags().GetString("mapping-name")
		coldStart, _ := cmd.Flags().GetBool("cold-start")
		n, _ := cmd.Flags().GetInt("n")
		store := openStore(conf)

		m, err := blob.LoadModel(store, modelName, nil)
		if err != nil {
			log.Logger().Fatal("failed to load model", zap.String("name", modelName), zap.Error(err))
		}
		factors := m.GetFactorModel()
		scorer := mapping.NewScorer(factors, conf.Mapping.Side, nil)
		if coldStart {
			cached, err := blob.LoadMapping(store, mappingName)
			if err != nil {
				log.Logger().Fatal("failed to load mapping", zap.String("name", mappingName), zap.Error(err))
			}
			scorer.Mapper = cached
		}

		userIndex, ok := m.GetUserIndex().Lookup(args[0])
		if !ok {
			log.Logger().Fatal("unknown user", zap.String("user_id", args[0]))
		}
		var candidates []int32
		if len(args) > 1 {
			for _, itemId := range args[1:] {
				itemIndex, ok := m.GetItemIndex().Lookup(itemId)
				if !ok {
					log.Logger().Warn("skip unknown item", zap.String("item_id", itemId))
					continue
				}
				candidates = append(candidates, itemIndex)
			}
		} else {
			for i := 0; i < m.GetItemIndex().Count(); i++ {
				candidates = append(candidates, int32(i))
			}
		}
		if len(args) > 1 {
			n = len(candidates)
		}

		filter := heap.NewTopKFilter[int32, float32](n)
		for _, itemIndex := range candidates {
			if scorer.Mapper == nil && !factors.CanPredict(userIndex, itemIndex) {
				continue
			}
			filter.Push(itemIndex, scorer.Score(userIndex, itemIndex))
		}
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Rank", "Item", "Score", "Cold")
		for rank, elem := range filter.PopAll() {
			itemId, _ := m.GetItemIndex().String(elem.Value)
			cold := !factors.CanPredict(userIndex, elem.Value)
			if err = table.Append(fmt.Sprint(rank+1), itemId, fmt.Sprintf("%.4f", elem.Weight), fmt.Sprint(cold)); err != nil {
				log.Logger().Fatal("failed to append row", zap.Error(err))
			}
		}
		if err = table.Render(); err != nil {
			log.Logger().Fatal("failed to render table", zap.Error(err))
		}
	},
}

func init() {
	rootCommand.AddCommand(scoreCommand)
	scoreCommand.Flags().String("model-name", "model.bin", "name of the model in the blob store")
	scoreCommand.Flags().String("mapping-name", "mapping.bin", "name of the mapping in the blob store")
	scoreCommand.Flags().Bool("cold-start", false, "score cold entities with the trained mapping")
	scoreCommand.Flags().IntP("n", "n", 10, "number of items to show")
}
