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
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/packetd/urgentd/common"
	"github.com/packetd/urgentd/internal/sigs"
	"github.com/packetd/urgentd/logger"
	"github.com/packetd/urgentd/sender"
)

var sendConfig sender.Config

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send test lines, Ctrl-C sends one urgent byte, Ctrl-\\ quits",
	Run: func(cmd *cobra.Command, args []string) {
		logger.SetOptions(logger.Options{Stdout: true, Level: string(logger.LevelInfo)})

		s, err := sender.New(sendConfig)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create sender: %v\n", err)
			os.Exit(1)
		}
		logger.Infof("OOB character: %q", s.OOB())

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		if err := s.Dial(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
			os.Exit(1)
		}
		defer s.Close()

		interrupt := sigs.Interrupt()
		quit := sigs.Quit()
		trigger := make(chan struct{}, 1)
		go func() {
			for {
				select {
				case <-interrupt:
					select {
					case trigger <- struct{}{}:
					default:
					}
				case <-quit:
					cancel()
					return
				case <-ctx.Done():
					return
				}
			}
		}()

		if err := s.Run(ctx, trigger); err != nil {
			fmt.Fprintf(os.Stderr, "sender failed: %v\n", err)
			os.Exit(1)
		}
	},
	Example: "# urgentd send --host localhost --port 4321 --oob '!'",
}

func init() {
	sendCmd.Flags().StringVar(&sendConfig.Host, "host", "localhost", "Server host")
	sendCmd.Flags().IntVar(&sendConfig.Port, "port", common.DefaultPort, "Server port")
	sendCmd.Flags().StringVar(&sendConfig.OOB, "oob", string(sender.DefaultOOB), "Urgent byte, a decimal number is taken as byte value")
	sendCmd.Flags().DurationVar(&sendConfig.Interval, "interval", time.Second, "Interval between lines")
	sendCmd.Flags().DurationVar(&sendConfig.Linger, "linger", time.Minute, "Keep the connection open after the last line")
	rootCmd.AddCommand(sendCmd)
}
