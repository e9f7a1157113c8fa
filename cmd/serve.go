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
	"bytes"
	"fmt"
	"os"
	"strings"
	"text/template"
	"time"

	"github.com/spf13/cobra"

	"github.com/packetd/urgentd/common"
	"github.com/packetd/urgentd/confengine"
)

type serveCmdConfig struct {
	Address      string
	MaxConns     int
	WorkDelay    time.Duration
	IdleTimeout  time.Duration
	Separator    string
	ReadSize     int
	MaxBuffered  int
	Inline       bool
	Poller       string
	Notify       string
	LogLevel     string
	LogFile      string
	EventsOn     bool
	EventsFrames bool
	EventsFile   string
	Console      bool
	AdminAddress string
	Pprof        bool
}

// yamlQuote 生成 yaml 单引号字符串 反斜杠保持原样交由 acceptor 反转义
func yamlQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

const serveTemplate = `
logger:
  stdout: {{ not .LogFile }}
  level: {{ .LogLevel }}
  filename: {{ quote .LogFile }}

acceptor:
  address: {{ quote .Address }}
  maxConns: {{ .MaxConns }}
  workDelay: {{ .WorkDelay }}
  idleTimeout: {{ .IdleTimeout }}

reader:
  separator: {{ quote .Separator }}
  readSize: {{ .ReadSize }}
  maxBuffered: {{ .MaxBuffered }}
  inline: {{ .Inline }}
  poller:
    mode: {{ .Poller }}
    notify: {{ .Notify }}

exporter:
  enabled: {{ .EventsOn }}
  frames: {{ .EventsFrames }}
  console: {{ .Console }}
  filename: {{ quote .EventsFile }}

server:
  enabled: {{ if .AdminAddress }}true{{ else }}false{{ end }}
  address: {{ quote .AdminAddress }}
  pprof: {{ .Pprof }}
`

func (c *serveCmdConfig) Yaml() ([]byte, error) {
	tpl, err := template.New("Config").Funcs(template.FuncMap{
		"quote": yamlQuote,
	}).Parse(serveTemplate)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := tpl.Execute(&buf, c); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var serveConfig serveCmdConfig

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Accept connections and print lines, resynchronizing on urgent data",
	Run: func(cmd *cobra.Command, args []string) {
		b, err := serveConfig.Yaml()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to render config: %v\n", err)
			os.Exit(1)
		}
		cfg, err := confengine.LoadContent(b)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
			os.Exit(1)
		}
		runController(cfg, nil)
	},
	Example: "# urgentd serve --address :4321 --work-delay 3s --events --console",
}

func init() {
	serveCmd.Flags().StringVar(&serveConfig.Address, "address", fmt.Sprintf(":%d", common.DefaultPort), "Listen address")
	serveCmd.Flags().IntVar(&serveConfig.MaxConns, "max-conns", 0, "Maximum concurrent connections, 0 for unlimited")
	serveCmd.Flags().DurationVar(&serveConfig.WorkDelay, "work-delay", 0, "Simulated processing time per line")
	serveCmd.Flags().DurationVar(&serveConfig.IdleTimeout, "idle-timeout", 0, "Close sessions idle for longer than this, 0 disables")
	serveCmd.Flags().StringVar(&serveConfig.Separator, "separator", `\n`, "Line separator, Go escape sequences supported")
	serveCmd.Flags().IntVar(&serveConfig.ReadSize, "read-size", common.ReadBlockSize, "Maximum bytes per read")
	serveCmd.Flags().IntVar(&serveConfig.MaxBuffered, "max-buffered", common.MaxPendingSize, "Maximum pending bytes per connection")
	serveCmd.Flags().BoolVar(&serveConfig.Inline, "inline", false, "Enable SO_OOBINLINE, urgent byte stays in the stream")
	serveCmd.Flags().StringVar(&serveConfig.Poller, "poller", "poll", "Readiness multiplexer [poll|select]")
	serveCmd.Flags().StringVar(&serveConfig.Notify, "notify", "poll", "Urgent data notification [poll|signal]")
	serveCmd.Flags().StringVar(&serveConfig.LogLevel, "log.level", "info", "Logger level [debug|info|warn|error]")
	serveCmd.Flags().StringVar(&serveConfig.LogFile, "log.file", "", "Logger file path, empty for stdout")
	serveCmd.Flags().BoolVar(&serveConfig.EventsOn, "events", false, "Export session events as JSON lines")
	serveCmd.Flags().BoolVar(&serveConfig.EventsFrames, "events.frames", false, "Export an event for every line")
	serveCmd.Flags().StringVar(&serveConfig.EventsFile, "events.file", common.App+".events", "Path to events file")
	serveCmd.Flags().BoolVar(&serveConfig.Console, "console", false, "Export events to stdout instead of file")
	serveCmd.Flags().StringVar(&serveConfig.AdminAddress, "admin.address", "", "Admin server address, empty disables")
	serveCmd.Flags().BoolVar(&serveConfig.Pprof, "admin.pprof", false, "Enable pprof routes on admin server")
	rootCmd.AddCommand(serveCmd)
}
