// Copyright 2025 The packetd Authors
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

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/packetd/urgentd/common"
	"github.com/packetd/urgentd/confengine"
	"github.com/packetd/urgentd/controller"
	"github.com/packetd/urgentd/internal/sigs"
	"github.com/packetd/urgentd/logger"
)

// runController 启动 controller 并阻塞直至收到终止信号
//
// reload 不为空时 收到 SIGHUP 会调用 reload 获取新配置
func runController(cfg *confengine.Config, reload func() (*confengine.Config, error)) {
	ctr, err := controller.New(cfg, common.GetBuildInfo())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create controller: %v\n", err)
		os.Exit(1)
	}
	if err := ctr.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start controller: %v\n", err)
		os.Exit(1)
	}

	terminate := sigs.Terminate()
	reloadCh := sigs.Reload()
	for {
		select {
		case <-reloadCh:
			if reload == nil {
				continue
			}
			newCfg, err := reload()
			if err != nil {
				logger.Errorf("failed to reload config: %v", err)
				continue
			}
			if err := ctr.Reload(newCfg); err != nil {
				logger.Errorf("failed to reload controller: %v", err)
				continue
			}
			logger.Infof("config reloaded")

		case <-terminate:
			if err := ctr.Stop(); err != nil {
				fmt.Fprintf(os.Stderr, "failed to stop controller: %v\n", err)
				os.Exit(1)
			}
			return
		}
	}
}

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run " + common.App + " from a configuration file",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := confengine.LoadConfigPath(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
			os.Exit(1)
		}

		runController(cfg, func() (*confengine.Config, error) {
			return confengine.LoadConfigPath(configPath)
		})
	},
	Example: "# urgentd agent --config urgentd.yaml",
}

var configPath string

func init() {
	agentCmd.Flags().StringVar(&configPath, "config", common.App+".yaml", "Configuration file path")
	rootCmd.AddCommand(agentCmd)
}
