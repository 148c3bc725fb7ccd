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
	"fmt"
	"os"

	"github.com/gorse-io/latent/base/log"
	"github.com/gorse-io/latent/dataset"
	"github.com/gorse-io/latent/model/correlation"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var neighborsCommand = &cobra.Command{
	Use:   "neighbors <id>",
	Short: "Show the most correlated users or items by shrunk Pearson correlation.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		conf := loadConfig(cmd)
		dataPath, _ := cmd.Flags().GetString("data")
		n, _ := cmd.Flags().GetInt("n")
		var side dataset.Side
		sideName, _ := cmd.Flags().GetString("side")
		if err := side.UnmarshalText([]byte(sideName)); err != nil {
			log.Logger().Fatal("invalid side", zap.Error(err))
		}

		trainSet, err := dataset.LoadInteractionsFromFile(dataPath)
		if err != nil {
			log.Logger().Fatal("failed to load interactions", zap.String("path", dataPath), zap.Error(err))
		}
		dict := trainSet.GetItemDict()
		if side == dataset.UserSide {
			dict = trainSet.GetUserDict()
		}
		index, ok := dict.Lookup(args[0])
		if !ok {
			log.Logger().Fatal("unknown entity", zap.String("side", string(side)), zap.String("id", args[0]))
		}
		similarity, err := correlation.NewPearson(context.Background(), trainSet, side,
			conf.Correlation.Shrinkage, conf.Correlation.Jobs)
		if err != nil {
			log.Logger().Fatal("failed to compute correlation", zap.Error(err))
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Rank", "Neighbor", "Similarity")
		for rank, elem := range similarity.Neighbors(index, n, nil) {
			id, _ := dict.String(elem.Value)
			if err = table.Append(fmt.Sprint(rank+1), id, fmt.Sprintf("%.4f", elem.Weight)); err != nil {
				log.Logger().Fatal("failed to append row", zap.Error(err))
			}
		}
		if err = table.Render(); err != nil {
			log.Logger().Fatal("failed to render table", zap.Error(err))
		}
	},
}

func init() {
	rootCommand.AddCommand(neighborsCommand)
	neighborsCommand.Flags().String("data", "", "interactions file (user, item, rating, timestamp separated by tabs)")
	neighborsCommand.Flags().String("side", string(dataset.ItemSide), "side of neighbors (user or item)")
	neighborsCommand.Flags().IntP("n", "n", 10, "number of neighbors to show")
	_ = neighborsCommand.MarkFlagRequired("data")
}
